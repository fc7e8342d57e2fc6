// Package download fetches the HTML content of resolved snapshots and lays
// it out on disk next to per-page metadata.
package download

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/raylibre/WaybackMachine/pkg/snapshot"
	"github.com/raylibre/WaybackMachine/pkg/whttp"
)

const DefaultConcurrency = 3

// Pacer gates requests against the archive. Injectable so tests run without
// real delays.
type Pacer interface {
	Wait()
}

type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}

// PageMeta is written next to every saved page.
type PageMeta struct {
	ArchiveURL    string    `json:"archive_url"`
	Original      string    `json:"original_url"`
	Timestamp     string    `json:"timestamp"`
	Title         string    `json:"title"`
	ContentLength int       `json:"content_length"`
	Links         int       `json:"links_found"`
	Images        int       `json:"images_found"`
	StatusCode    string    `json:"status_code"`
	SizeBytes     int64     `json:"size_bytes"`
	DaysDiff      int64     `json:"days_diff"`
	DownloadedAt  time.Time `json:"downloaded_at"`
}

// Summary reports one download run.
type Summary struct {
	Domain     string    `json:"domain"`
	TargetDate string    `json:"target_date"`
	Attempted  int       `json:"total_attempted"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped_existing"`
	TotalBytes int64     `json:"total_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

type Downloader struct {
	BaseDir     string
	Concurrency int  // defaults to 3 if <= 0
	Resume      bool // skip pages already on disk
	Client      *retryablehttp.Client
	Pacer       Pacer
	Log         Logger
}

// DownloadAll fetches every snapshot's HTML into
// <BaseDir>/snapshots/<domain>/<date>/ with a worker pool, then gives pages
// that failed one sequential retry pass. A manifest summarising the run is
// written alongside the pages.
func (d *Downloader) DownloadAll(ctx context.Context, domain, date string, snaps []snapshot.Snapshot) (*Summary, error) {
	log := d.Log
	if log == nil {
		log = nopLogger{}
	}
	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	dir := filepath.Join(d.BaseDir, "snapshots", domain, date)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	summary := &Summary{Domain: domain, TargetDate: date, Attempted: len(snaps), CreatedAt: time.Now().UTC()}

	pending := snaps
	if d.Resume {
		pending = pending[:0:0]
		for _, s := range snaps {
			if _, err := os.Stat(filepath.Join(dir, safeFilename(s.Original)+".html")); err == nil {
				summary.Skipped++
				continue
			}
			pending = append(pending, s)
		}
		if summary.Skipped > 0 {
			log.Infof("Resume: %d pages already saved, %d left", summary.Skipped, len(pending))
		}
	}

	var mu sync.Mutex
	var failures []snapshot.Snapshot

	work := make(chan snapshot.Snapshot, len(pending))
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range work {
				if ctx.Err() != nil {
					return
				}
				if d.Pacer != nil {
					d.Pacer.Wait()
				}
				size, err := d.downloadOne(dir, s)
				mu.Lock()
				if err != nil {
					log.Warnf("Download failed for %s: %v", s.ArchiveURL, err)
					failures = append(failures, s)
				} else {
					summary.Successful++
					summary.TotalBytes += size
				}
				mu.Unlock()
			}
		}()
	}
	for _, s := range pending {
		work <- s
	}
	close(work)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	// One sequential retry pass over the failures; the archive throttles
	// aggressive clients, so these go one at a time.
	if len(failures) > 0 {
		log.Infof("Retrying %d failed downloads", len(failures))
		for _, s := range failures {
			if d.Pacer != nil {
				d.Pacer.Wait()
			}
			size, err := d.downloadOne(dir, s)
			if err != nil {
				summary.Failed++
				continue
			}
			summary.Successful++
			summary.TotalBytes += size
		}
	}

	if err := writeJSON(filepath.Join(dir, "snapshot_manifest.json"), summary); err != nil {
		return summary, err
	}

	log.Infof("Downloaded %d/%d pages (%d skipped, %d failed)",
		summary.Successful, summary.Attempted, summary.Skipped, summary.Failed)
	return summary, nil
}

func (d *Downloader) downloadOne(dir string, s snapshot.Snapshot) (int64, error) {
	res, err := whttp.SendHTTPRequest(&whttp.WHTTPReq{Method: "GET", URL: s.ArchiveURL}, d.Client)
	if err != nil {
		return 0, err
	}
	if res.StatusCode != 200 {
		return 0, fmt.Errorf("HTTP %d", res.StatusCode)
	}

	meta := extractMeta(res.BodyString, s)

	base := filepath.Join(dir, safeFilename(s.Original))
	if err := os.WriteFile(base+".html", []byte(res.BodyString), 0644); err != nil {
		return 0, err
	}
	if err := writeJSON(base+".html.meta.json", meta); err != nil {
		return 0, err
	}
	return int64(len(res.BodyString)), nil
}

func extractMeta(body string, s snapshot.Snapshot) PageMeta {
	meta := PageMeta{
		ArchiveURL:    s.ArchiveURL,
		Original:      s.Original,
		Timestamp:     s.Timestamp,
		ContentLength: len(body),
		StatusCode:    s.StatusCode,
		SizeBytes:     s.SizeBytes,
		DaysDiff:      s.DaysDiff,
		DownloadedAt:  time.Now().UTC(),
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return meta
	}
	meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	meta.Links = doc.Find("a[href]").Length()
	meta.Images = doc.Find("img").Length()
	return meta
}

// safeFilename flattens a URL into a filesystem-safe name. Very long URLs
// are truncated with an md5 suffix to keep names unique.
func safeFilename(rawURL string) string {
	name := rawURL
	if i := strings.Index(name, "://"); i >= 0 {
		name = name[i+3:]
	}

	replacer := strings.NewReplacer(
		"/", "_", "?", "_", "&", "_", "=", "_",
		":", "_", "#", "_", "%", "_",
	)
	name = replacer.Replace(name)

	if len(name) > 150 {
		sum := md5.Sum([]byte(rawURL))
		name = name[:140] + "_" + hex.EncodeToString(sum[:])[:8]
	}
	return name
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
