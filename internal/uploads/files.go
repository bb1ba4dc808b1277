package uploads

import (
	"context"
	"errors"
	"fmt"

	blobcore "mlsync/internal/blob/core"
	"mlsync/pkg/domain"
)

// FileFindingKind classifies a mismatch between attachments and stored files.
type FileFindingKind string

const (
	// FileMissing marks an attachment whose file is not in shared storage.
	FileMissing FileFindingKind = "missing_file"
	// FileUnreferenced marks a stored file no attachment of any site points at.
	FileUnreferenced FileFindingKind = "unreferenced_file"
)

// FileFinding is one mismatch reported by CheckFiles.
type FileFinding struct {
	Kind   FileFindingKind
	Site   domain.SiteID
	Entity int64
	Key    string
}

func (f FileFinding) String() string {
	if f.Kind == FileUnreferenced {
		return fmt.Sprintf("%s: %s", f.Kind, f.Key)
	}
	return fmt.Sprintf("%s: site %d entity %d: %s", f.Kind, f.Site, f.Entity, f.Key)
}

// SiteStores gives access to the store of every site.
type SiteStores interface {
	Sites() []domain.SiteID
	Store(site domain.SiteID) (domain.SiteStore, error)
}

// CheckFiles compares the attached files of every site's attachments with the
// contents of shared storage.
func (l *Library) CheckFiles(ctx context.Context, sites SiteStores) ([]FileFinding, error) {
	var findings []FileFinding
	referenced := map[string]bool{}
	for _, site := range sites.Sites() {
		store, err := sites.Store(site)
		if err != nil {
			return nil, err
		}
		attachments, err := store.ListEntities(ctx, domain.KindAttachment)
		if err != nil {
			return nil, fmt.Errorf("site %d: list attachments: %w", site, err)
		}
		for _, a := range attachments {
			key, ok, err := store.GetMeta(ctx, a.ID, domain.MetaAttachedFile)
			if err != nil {
				return nil, fmt.Errorf("site %d entity %d: %w", site, a.ID, err)
			}
			if !ok || key == "" {
				continue
			}
			if referenced[key] {
				continue
			}
			_, err = l.blobs.Head(ctx, key)
			switch {
			case errors.Is(err, blobcore.ErrNotFound):
				findings = append(findings, FileFinding{Kind: FileMissing, Site: site, Entity: a.ID, Key: key})
				continue
			case err != nil:
				return nil, fmt.Errorf("head %s: %w", key, err)
			}
			referenced[key] = true
		}
	}
	stored, err := l.blobs.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	for _, info := range stored {
		if !referenced[info.Key] {
			findings = append(findings, FileFinding{Kind: FileUnreferenced, Key: info.Key})
		}
	}
	return findings, nil
}

// Prune deletes the unreferenced files among findings and returns their keys.
func (l *Library) Prune(ctx context.Context, findings []FileFinding) ([]string, error) {
	var deleted []string
	for _, f := range findings {
		if f.Kind != FileUnreferenced {
			continue
		}
		existed, err := l.blobs.Delete(ctx, f.Key)
		if err != nil {
			return deleted, fmt.Errorf("delete %s: %w", f.Key, err)
		}
		if existed {
			deleted = append(deleted, f.Key)
			l.logger.Info("unreferenced file deleted", "key", f.Key)
		}
	}
	return deleted, nil
}
