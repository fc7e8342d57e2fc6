// Package masterlist builds, deduplicates and persists the canonical URL
// list a resolution run works from.
package masterlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"

	"github.com/raylibre/WaybackMachine/pkg/snapshot"
)

var ErrMissing = errors.New("master list not found")

// Entry is one canonical URL worth resolving. Original is the only field the
// resolution engine reads; the rest is builder metadata.
type Entry struct {
	Original      string  `json:"original"`
	Timestamp     string  `json:"timestamp,omitempty"`
	Size          int64   `json:"size,omitempty"`
	PriorityScore float64 `json:"priority_score,omitempty"`
}

// Load reads a master list file. A missing file maps to ErrMissing so
// callers can tell the operator to rebuild the list first.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrMissing, path)
		}
		return nil, fmt.Errorf("reading master list %s: %w", path, err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing master list %s: %w", path, err)
	}
	return entries, nil
}

func Save(path string, entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// URLs extracts the original URLs in list order.
func URLs(entries []Entry) []string {
	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.Original
	}
	return urls
}

// Build collapses a CDX inventory into one entry per original URL, keeping
// the largest capture seen for each. First-seen order is preserved.
func Build(rows []snapshot.CaptureRow) []Entry {
	byURL := make(map[string]int)
	var entries []Entry

	for _, row := range rows {
		if row.Original == "" {
			continue
		}
		size, err := strconv.ParseInt(row.Length, 10, 64)
		if err != nil || size < 0 {
			continue
		}

		if i, ok := byURL[row.Original]; ok {
			if size > entries[i].Size {
				entries[i].Size = size
				entries[i].Timestamp = row.Timestamp
			}
			continue
		}
		byURL[row.Original] = len(entries)
		entries = append(entries, Entry{
			Original:  row.Original,
			Timestamp: row.Timestamp,
			Size:      size,
		})
	}
	return entries
}

var numericSuffixRe = regexp.MustCompile(`-\d+/?$`)

// Dedupe collapses near-duplicate URLs in two stages: first by protocol
// normalization (https preferred, then larger size), then by content key
// (numeric suffixes, query strings and fragments stripped; unnumbered URL
// preferred, then larger size). Survivors get a priority score and are
// returned highest first.
func Dedupe(entries []Entry) []Entry {
	stage1 := collapse(entries, normalizeURL, func(candidate, current Entry) bool {
		candHTTPS := strings.HasPrefix(candidate.Original, "https://")
		curHTTPS := strings.HasPrefix(current.Original, "https://")
		if candHTTPS != curHTTPS {
			return candHTTPS
		}
		return candidate.Size > current.Size
	})

	stage2 := collapse(stage1, contentKey, func(candidate, current Entry) bool {
		candNumbered := numericSuffixRe.MatchString(candidate.Original)
		curNumbered := numericSuffixRe.MatchString(current.Original)
		if candNumbered != curNumbered {
			return !candNumbered
		}
		return candidate.Size > current.Size
	})

	for i := range stage2 {
		stage2[i].PriorityScore = priorityScore(stage2[i])
	}
	sort.SliceStable(stage2, func(i, j int) bool {
		return stage2[i].PriorityScore > stage2[j].PriorityScore
	})
	return stage2
}

// collapse groups entries by key, letting replaces decide whether a later
// entry beats the current group representative.
func collapse(entries []Entry, key func(string) string, replaces func(candidate, current Entry) bool) []Entry {
	byKey := make(map[string]int)
	var out []Entry

	for _, e := range entries {
		k := key(e.Original)
		if i, ok := byKey[k]; ok {
			if replaces(e, out[i]) {
				out[i] = e
			}
			continue
		}
		byKey[k] = len(out)
		out = append(out, e)
	}
	return out
}

func normalizeURL(raw string) string {
	normalized := strings.Replace(raw, "http://", "https://", 1)
	normalized = strings.Replace(normalized, ":80/", "/", 1)
	if strings.HasSuffix(normalized, "/") && strings.Count(normalized, "/") > 3 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func contentKey(raw string) string {
	key := numericSuffixRe.ReplaceAllString(raw, "")
	key = strings.SplitN(key, "?", 2)[0]
	key = strings.SplitN(key, "#", 2)[0]
	return key
}

// priorityScore favors large, shallow, https, cleanly-encoded URLs.
func priorityScore(e Entry) float64 {
	var depth int
	parts := strings.Split(e.Original, "/")
	if len(parts) > 3 {
		for _, p := range parts[3:] {
			if p != "" {
				depth++
			}
		}
	}

	sizeScore := float64(e.Size) / 1000
	depthScore := float64(50 - depth*5)
	if depthScore < 0 {
		depthScore = 0
	}
	var httpsBonus float64
	if strings.HasPrefix(e.Original, "https://") {
		httpsBonus = 5
	}
	encodingPenalty := float64(strings.Count(e.Original, "%"))

	return sizeScore + depthScore + httpsBonus - encodingPenalty
}

// FilterMinSize drops entries below the minimum capture size. This runs at
// build time, upstream of the resolution engine.
func FilterMinSize(entries []Entry, min int64) []Entry {
	if min <= 0 {
		return entries
	}
	out := entries[:0:0]
	for _, e := range entries {
		if e.Size >= min {
			out = append(out, e)
		}
	}
	return out
}

// SameRegistrableDomain reports whether a URL belongs to the given domain,
// comparing registrable domains so subdomains and scheme differences don't
// matter.
func SameRegistrableDomain(rawURL, domain string) bool {
	host := rawURL
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil || u.Hostname() == "" {
		return false
	}

	urlDomain, err := publicsuffix.Domain(u.Hostname())
	if err != nil {
		return false
	}
	wantDomain, err := publicsuffix.Domain(strings.TrimPrefix(strings.TrimPrefix(domain, "http://"), "https://"))
	if err != nil {
		return false
	}
	return strings.EqualFold(urlDomain, wantDomain)
}
