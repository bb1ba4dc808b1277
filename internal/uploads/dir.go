// Package uploads places media files in the upload store shared by every site
// and records them as attachments.
package uploads

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"mlsync/pkg/domain"
)

// Dir is the upload location resolved for one site and month.
type Dir struct {
	Path    string `json:"path"`
	URL     string `json:"url"`
	Subdir  string `json:"subdir"`
	BaseDir string `json:"basedir"`
	BaseURL string `json:"baseurl"`
	Error   string `json:"error,omitempty"`
}

var sitesSegment = regexp.MustCompile(`(?i)/sites/\d+`)

// NormalizeDir removes the per-site "/sites/<n>" segment so every site of the
// network resolves to the same physical location.
func NormalizeDir(d Dir) Dir {
	d.Path = sitesSegment.ReplaceAllString(d.Path, "")
	d.URL = sitesSegment.ReplaceAllString(d.URL, "")
	d.BaseDir = sitesSegment.ReplaceAllString(d.BaseDir, "")
	d.BaseURL = sitesSegment.ReplaceAllString(d.BaseURL, "")
	return d
}

// SiteDir returns the per-site location a multisite network assigns to uploads
// made at t: the main site uses base directly, other sites get "/sites/<id>".
func SiteDir(baseDir, baseURL string, site domain.SiteID, t time.Time) Dir {
	baseDir = strings.TrimRight(baseDir, "/")
	baseURL = strings.TrimRight(baseURL, "/")
	if site > 1 {
		baseDir = fmt.Sprintf("%s/sites/%d", baseDir, site)
		baseURL = fmt.Sprintf("%s/sites/%d", baseURL, site)
	}
	subdir := t.UTC().Format("/2006/01")
	return Dir{
		Path:    baseDir + subdir,
		URL:     baseURL + subdir,
		Subdir:  subdir,
		BaseDir: baseDir,
		BaseURL: baseURL,
	}
}
