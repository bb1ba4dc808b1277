package core

import (
	"errors"

	"mlsync/pkg/domain"
)

// Report describes one replication pass.
type Report struct {
	Pass      string
	Operation string
	Action    domain.Action
	Origin    domain.SiteID
	EntityID  int64
	Canonical int64
	MetaID    int64
	Key       string
	// Skipped is set when the pass was deliberately not run.
	Skipped string
	Sites   []SiteResult
	// Deferred holds the attached-file pass that follows a create.
	Deferred *Report
}

// Failed returns the sites whose replay failed.
func (r Report) Failed() []SiteResult {
	var out []SiteResult
	for _, s := range r.Sites {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Replica returns the local id touched in site, if any.
func (r Report) Replica(site domain.SiteID) (int64, bool) {
	for _, s := range r.Sites {
		if s.Site == site && s.Err == nil {
			return s.Replica, true
		}
	}
	return 0, false
}

// Err joins all per-site failures, including those of the deferred pass.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Sites))
	for _, s := range r.Failed() {
		errs = append(errs, s.Err)
	}
	if r.Deferred != nil {
		errs = append(errs, r.Deferred.Err())
	}
	return errors.Join(errs...)
}
