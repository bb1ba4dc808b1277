package uploads

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	blobcore "mlsync/internal/blob/core"
	"mlsync/internal/core"
	"mlsync/internal/multisite"
	"mlsync/pkg/domain"
)

// MetaContentHash is the blob metadata key holding the hex SHA-256 of the content.
const MetaContentHash = "mlsync-sha256"

// maxNameAttempts bounds the search for a free name-N.ext key.
const maxNameAttempts = 1000

// AttachmentCreator inserts an attachment into the current site of ctx.
type AttachmentCreator interface {
	CreateAttachment(ctx context.Context, e domain.Entity, attachedFile string) (domain.Entity, error)
}

// Library stores uploaded files once and records them as attachments.
type Library struct {
	blobs   blobcore.Store
	sites   AttachmentCreator
	baseDir string
	baseURL string
	now     func() time.Time
	logger  core.Logger
}

// LibraryOption configures a Library.
type LibraryOption func(*Library)

// WithClock overrides the time used to pick the month directory.
func WithClock(now func() time.Time) LibraryOption {
	return func(l *Library) {
		if now != nil {
			l.now = now
		}
	}
}

// WithBase sets the upload root directory and public URL.
func WithBase(dir, url string) LibraryOption {
	return func(l *Library) {
		l.baseDir = dir
		l.baseURL = url
	}
}

// WithLogger sets the library logger.
func WithLogger(logger core.Logger) LibraryOption {
	return func(l *Library) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLibrary returns a library writing files to blobs and attachments to sites.
func NewLibrary(blobs blobcore.Store, sites AttachmentCreator, opts ...LibraryOption) *Library {
	l := &Library{
		blobs:   blobs,
		sites:   sites,
		baseDir: "/uploads",
		baseURL: "http://local.blob/uploads",
		now:     time.Now,
		logger:  core.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Upload writes r as name into the shared store and creates the attachment in
// site. A stored file with the same key and content is reused; different
// content under a taken key is stored as name-1.ext, name-2.ext and so on.
func (l *Library) Upload(ctx context.Context, site domain.SiteID, name string, r io.Reader, meta map[string]string) (domain.Entity, error) {
	name = path.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" {
		return domain.Entity{}, fmt.Errorf("invalid upload name %q", name)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("read %s: %w", name, err)
	}
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	dir := NormalizeDir(SiteDir(l.baseDir, l.baseURL, site, l.now()))
	ext := path.Ext(name)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	stored := blobcore.CloneMetadata(meta)
	if stored == nil {
		stored = map[string]string{}
	}
	stored[MetaContentHash] = hash

	info, file, err := l.store(ctx, dir.Subdir, name, body, hash, blobcore.PutOptions{ContentType: contentType, Metadata: stored})
	if err != nil {
		return domain.Entity{}, err
	}
	if info.ContentType != "" {
		contentType = info.ContentType
	}
	key := info.Key

	entity := domain.Entity{
		Kind:     domain.KindAttachment,
		Title:    strings.TrimSuffix(name, ext),
		Status:   "inherit",
		MimeType: contentType,
		GUID:     dir.URL + "/" + file,
		Path:     key,
		Extra:    blobcore.CloneMetadata(meta),
	}
	created, err := l.sites.CreateAttachment(multisite.WithSite(ctx, site), entity, key)
	if err != nil {
		return created, fmt.Errorf("site %d: create attachment: %w", site, err)
	}
	l.logger.Info("attachment uploaded", "site", site, "entity", created.ID, "key", key, "size", info.Size)
	return created, nil
}

// store puts body under the first free variant of name in subdir, reusing a
// variant that already holds the same content. It returns the blob and the
// file name used.
func (l *Library) store(ctx context.Context, subdir, name string, body []byte, hash string, opts blobcore.PutOptions) (blobcore.Info, string, error) {
	for i := 0; i < maxNameAttempts; i++ {
		file := uniqueName(name, i)
		key := strings.TrimPrefix(path.Join(subdir, file), "/")
		info, err := l.blobs.Put(ctx, key, bytes.NewReader(body), opts)
		switch {
		case err == nil:
			info.Key = key
			return info, file, nil
		case !errors.Is(err, blobcore.ErrExists):
			return blobcore.Info{}, "", fmt.Errorf("store %s: %w", key, err)
		}
		info, same, err := l.sameContent(ctx, key, hash)
		if err != nil {
			return blobcore.Info{}, "", err
		}
		if same {
			info.Key = key
			l.logger.Debug("upload reuses stored file", "key", key)
			return info, file, nil
		}
		l.logger.Debug("upload name taken by other content", "key", key)
	}
	return blobcore.Info{}, "", fmt.Errorf("store %s: no free name after %d attempts", name, maxNameAttempts)
}

// sameContent reports whether key holds content hashing to hash. Blobs stored
// without the hash in their metadata are read back and hashed.
func (l *Library) sameContent(ctx context.Context, key, hash string) (blobcore.Info, bool, error) {
	info, err := l.blobs.Head(ctx, key)
	if err != nil {
		return blobcore.Info{}, false, fmt.Errorf("head %s: %w", key, err)
	}
	if stored, ok := info.Metadata[MetaContentHash]; ok {
		return info, stored == hash, nil
	}
	_, rc, err := l.blobs.Get(ctx, key)
	if err != nil {
		return blobcore.Info{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	defer rc.Close()
	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return blobcore.Info{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	return info, hex.EncodeToString(h.Sum(nil)) == hash, nil
}

// uniqueName returns name for n == 0 and name-n.ext otherwise.
func uniqueName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}

// URL returns a time-limited download URL for key.
func (l *Library) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := l.blobs.PresignURL(ctx, key, blobcore.SignedURLOptions{Method: "GET", Expiry: expiry})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u, nil
}
