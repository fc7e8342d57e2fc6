// Package archiveurl parses and builds web.archive.org replay URLs.
package archiveurl

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

var replayRe = regexp.MustCompile(`web\.archive\.org/web/(\d{14})/(.+)`)

// IsArchiveURL reports whether a URL points at the Wayback replay service.
func IsArchiveURL(raw string) bool {
	return strings.Contains(raw, "web.archive.org") && strings.Contains(raw, "/web/")
}

// Build composes a replay URL from a 14-digit timestamp and an original URL.
func Build(timestamp, original string) string {
	return "https://web.archive.org/web/" + timestamp + "/" + original
}

// Parse extracts the timestamp and original URL from a replay URL. The
// original gets an https scheme if the replay path stripped it.
func Parse(archiveURL string) (timestamp, original string, ok bool) {
	if !IsArchiveURL(archiveURL) {
		return "", "", false
	}
	m := replayRe.FindStringSubmatch(archiveURL)
	if m == nil {
		return "", "", false
	}
	timestamp, original = m[1], m[2]
	if !strings.HasPrefix(original, "http://") && !strings.HasPrefix(original, "https://") {
		original = "https://" + original
	}
	return timestamp, original, true
}

// Domain returns the lowercased host of a URL, looking through replay URLs
// to the original they wrap.
func Domain(raw string) string {
	if IsArchiveURL(raw) {
		if _, original, ok := Parse(raw); ok {
			raw = original
		}
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SameDomain reports whether two URLs share a registrable domain.
func SameDomain(a, b string) bool {
	da, db := Domain(a), Domain(b)
	if da == "" || db == "" {
		return false
	}
	ra, err := publicsuffix.Domain(da)
	if err != nil {
		return false
	}
	rb, err := publicsuffix.Domain(db)
	if err != nil {
		return false
	}
	return ra == rb
}
