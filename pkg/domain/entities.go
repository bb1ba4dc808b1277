// Package domain defines the media-library records replicated between sites
// and the collaborator contracts the replication engine consumes.
package domain

import (
	"fmt"
	"strconv"
)

// SiteID identifies one site context of the network.
type SiteID int64

func (s SiteID) String() string { return strconv.FormatInt(int64(s), 10) }

// Kind classifies an entity. Only KindAttachment participates in metadata replication.
type Kind string

const (
	// KindAttachment marks media-library attachments.
	KindAttachment Kind = "attachment"
	// KindPost marks ordinary posts; present so stores can hold mixed content.
	KindPost Kind = "post"
)

// Reserved metadata keys.
const (
	// MetaSyncedID links a replica to the id of its canonical entity.
	MetaSyncedID = "_mls_synced_id"
	// MetaEditLock is a local editing lock and never crosses sites.
	MetaEditLock = "_edit_lock"
	// MetaAttachedFile holds the upload-relative path of the attachment's file.
	MetaAttachedFile = "_wp_attached_file"
)

// Entity is a site-local media record. ID is only meaningful inside the site
// that issued it.
type Entity struct {
	ID       int64             `json:"id"`
	Kind     Kind              `json:"kind"`
	Title    string            `json:"title,omitempty"`
	Status   string            `json:"status,omitempty"`
	MimeType string            `json:"mime_type,omitempty"`
	GUID     string            `json:"guid,omitempty"`
	Path     string            `json:"path,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	cp := e
	if e.Extra != nil {
		cp.Extra = make(map[string]string, len(e.Extra))
		for k, v := range e.Extra {
			cp.Extra[k] = v
		}
	}
	return cp
}

// WithID returns a copy of the entity carrying id. Zero strips the id.
func (e Entity) WithID(id int64) Entity {
	cp := e.Clone()
	cp.ID = id
	return cp
}

// MetaRow is a single (entity, key, value) metadata entry.
type MetaRow struct {
	ID       int64  `json:"id"`
	EntityID int64  `json:"entity_id"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

// Action names a replicated lifecycle operation.
type Action string

const (
	// ActionCreate replicates a newly created entity.
	ActionCreate Action = "create"
	// ActionUpdate replicates an entity or metadata change.
	ActionUpdate Action = "update"
	// ActionDelete replicates a removal.
	ActionDelete Action = "delete"
)

// ParseAction accepts the canonical action names and their lifecycle aliases.
func ParseAction(s string) (Action, error) {
	switch s {
	case "create", "add", "insert":
		return ActionCreate, nil
	case "update", "edit":
		return ActionUpdate, nil
	case "delete":
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// FormatLink renders a canonical id as stored in MetaSyncedID.
func FormatLink(id int64) string { return strconv.FormatInt(id, 10) }

// ParseLink parses a MetaSyncedID value.
func ParseLink(v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse link %q: %w", v, err)
	}
	return id, nil
}
