package uploads

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDirStripsSiteSegment(t *testing.T) {
	d := NormalizeDir(Dir{
		Path:    "/var/www/wp-content/uploads/sites/12/2024/05",
		URL:     "https://example.test/wp-content/uploads/SITES/12/2024/05",
		Subdir:  "/2024/05",
		BaseDir: "/var/www/wp-content/uploads/sites/12",
		BaseURL: "https://example.test/wp-content/uploads/Sites/3",
	})
	require.Equal(t, "/var/www/wp-content/uploads/2024/05", d.Path)
	require.Equal(t, "https://example.test/wp-content/uploads/2024/05", d.URL)
	require.Equal(t, "/2024/05", d.Subdir)
	require.Equal(t, "/var/www/wp-content/uploads", d.BaseDir)
	require.Equal(t, "https://example.test/wp-content/uploads", d.BaseURL)
}

func TestNormalizeDirLeavesOtherPathsAlone(t *testing.T) {
	in := Dir{Path: "/uploads/sitesx/2024", URL: "/uploads/sites/abc"}
	require.Equal(t, in, NormalizeDir(in))
}

func TestSiteDirLayout(t *testing.T) {
	at := time.Date(2024, time.May, 3, 10, 0, 0, 0, time.UTC)
	main := SiteDir("/uploads/", "http://cdn.test/uploads", 1, at)
	require.Equal(t, "/uploads/2024/05", main.Path)
	sub := SiteDir("/uploads", "http://cdn.test/uploads", 4, at)
	require.Equal(t, "/uploads/sites/4/2024/05", sub.Path)
	require.Equal(t, "http://cdn.test/uploads/sites/4/2024/05", sub.URL)
	require.Equal(t, main, NormalizeDir(sub))
}
