package download

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/raylibre/WaybackMachine/pkg/snapshot"
)

func testHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 0
	c.Logger = log.New(io.Discard, "", 0)
	return c
}

func TestDownloadAllSavesPagesAndManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><head><title> Party News </title></head><body><a href="/x">x</a><img src="/i.png"></body></html>`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := &Downloader{BaseDir: dir, Concurrency: 2, Client: testHTTPClient()}

	snaps := []snapshot.Snapshot{
		{ArchiveURL: srv.URL + "/web/20191110000000/https://a.com/news", Original: "https://a.com/news", Timestamp: "20191110000000", DaysDiff: 5},
	}
	sum, err := d.DownloadAll(context.Background(), "a.com", "20191115", snaps)
	if err != nil {
		t.Fatalf("DownloadAll: %v", err)
	}
	if sum.Successful != 1 || sum.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	pageDir := filepath.Join(dir, "snapshots", "a.com", "20191115")
	html, err := os.ReadFile(filepath.Join(pageDir, "a.com_news.html"))
	if err != nil {
		t.Fatalf("saved page missing: %v", err)
	}
	if !strings.Contains(string(html), "Party News") {
		t.Fatal("saved HTML lost its content")
	}

	meta, err := os.ReadFile(filepath.Join(pageDir, "a.com_news.html.meta.json"))
	if err != nil {
		t.Fatalf("meta file missing: %v", err)
	}
	for _, want := range []string{`"title": "Party News"`, `"links_found": 1`, `"images_found": 1`, `"days_diff": 5`} {
		if !strings.Contains(string(meta), want) {
			t.Fatalf("meta missing %s:\n%s", want, meta)
		}
	}

	if _, err := os.Stat(filepath.Join(pageDir, "snapshot_manifest.json")); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
}

func TestDownloadAllResumeSkipsExisting(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		io.WriteString(w, "<html></html>")
	}))
	defer srv.Close()

	dir := t.TempDir()
	pageDir := filepath.Join(dir, "snapshots", "a.com", "20191115")
	if err := os.MkdirAll(pageDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pageDir, "a.com_done.html"), []byte("<html></html>"), 0644); err != nil {
		t.Fatal(err)
	}

	d := &Downloader{BaseDir: dir, Resume: true, Client: testHTTPClient()}
	snaps := []snapshot.Snapshot{
		{ArchiveURL: srv.URL + "/done", Original: "https://a.com/done"},
		{ArchiveURL: srv.URL + "/new", Original: "https://a.com/new"},
	}
	sum, err := d.DownloadAll(context.Background(), "a.com", "20191115", snaps)
	if err != nil {
		t.Fatalf("DownloadAll: %v", err)
	}
	if sum.Skipped != 1 || sum.Successful != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if hits != 1 {
		t.Fatalf("existing page must not be re-fetched, got %d hits", hits)
	}
}

func TestDownloadAllRetriesFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, "<html></html>")
	}))
	defer srv.Close()

	d := &Downloader{BaseDir: t.TempDir(), Concurrency: 1, Client: testHTTPClient()}
	snaps := []snapshot.Snapshot{
		{ArchiveURL: srv.URL + "/page", Original: "https://a.com/page"},
	}
	sum, err := d.DownloadAll(context.Background(), "a.com", "20191115", snaps)
	if err != nil {
		t.Fatalf("DownloadAll: %v", err)
	}
	if sum.Successful != 1 || sum.Failed != 0 {
		t.Fatalf("retry pass should have recovered the page: %+v", sum)
	}
	if hits != 2 {
		t.Fatalf("expected 2 attempts, got %d", hits)
	}
}

func TestSafeFilename(t *testing.T) {
	got := safeFilename("https://a.com/path?x=1&y=2#frag")
	if got != "a.com_path_x_1_y_2_frag" {
		t.Fatalf("unexpected name: %s", got)
	}

	long := "https://a.com/" + strings.Repeat("p/", 200)
	name := safeFilename(long)
	if len(name) != 149 {
		t.Fatalf("long names must truncate to 140+1+8 chars, got %d", len(name))
	}
}
