package resolver

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/raylibre/WaybackMachine/pkg/cdx"
	"github.com/raylibre/WaybackMachine/pkg/masterlist"
	"github.com/raylibre/WaybackMachine/pkg/snapshot"
)

type queryFunc func(ctx context.Context, pattern string, opts cdx.QueryOptions) ([]snapshot.CaptureRow, error)

func (f queryFunc) Query(ctx context.Context, pattern string, opts cdx.QueryOptions) ([]snapshot.CaptureRow, error) {
	return f(ctx, pattern, opts)
}

type countingPacer struct{ waits int }

func (p *countingPacer) Wait() { p.waits++ }

func entries(urls ...string) []masterlist.Entry {
	out := make([]masterlist.Entry, len(urls))
	for i, u := range urls {
		out[i] = masterlist.Entry{Original: u}
	}
	return out
}

func htmlRow(ts, original, length string) snapshot.CaptureRow {
	return snapshot.CaptureRow{
		Timestamp:  ts,
		Original:   original,
		StatusCode: "200",
		MimeType:   "text/html",
		Length:     length,
	}
}

func TestResolveInvalidDateBeforeAnyQuery(t *testing.T) {
	var calls int32
	q := queryFunc(func(ctx context.Context, pattern string, opts cdx.QueryOptions) ([]snapshot.CaptureRow, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})

	_, err := Resolve(context.Background(), entries("a.com/x"), Config{
		Domain:     "a.com",
		TargetDate: "2019-11-15",
		Querier:    q,
	})
	if !errors.Is(err, snapshot.ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("no network call may happen on a bad date, got %d", calls)
	}
}

func TestResolveSequentialUsesExactURLQueries(t *testing.T) {
	var patterns []string
	q := queryFunc(func(ctx context.Context, pattern string, opts cdx.QueryOptions) ([]snapshot.CaptureRow, error) {
		patterns = append(patterns, pattern)
		return []snapshot.CaptureRow{htmlRow("20191110000000", pattern, "6000")}, nil
	})
	pacer := &countingPacer{}

	master := entries("a.com/x", "a.com/y")
	res, err := Resolve(context.Background(), master, Config{
		Domain:              "a.com",
		TargetDate:          "20191115",
		SequentialThreshold: 5,
		Querier:             q,
		Pacer:               pacer,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if !reflect.DeepEqual(patterns, []string{"a.com/x", "a.com/y"}) {
		t.Fatalf("sequential path must query exact URLs in order, got %v", patterns)
	}
	if pacer.waits != 2 {
		t.Fatalf("pacer must gate every request, got %d waits", pacer.waits)
	}
	if len(res.Snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %#v", res.Snapshots)
	}
	if res.Snapshots[0].DaysDiff != 5 {
		t.Fatalf("expected days_diff 5, got %d", res.Snapshots[0].DaysDiff)
	}
}

func TestResolveSequentialQueryFailureIsFatal(t *testing.T) {
	q := queryFunc(func(ctx context.Context, pattern string, opts cdx.QueryOptions) ([]snapshot.CaptureRow, error) {
		if pattern == "a.com/y" {
			return nil, &cdx.QueryError{Pattern: pattern, Err: errors.New("boom")}
		}
		return []snapshot.CaptureRow{htmlRow("20191114000000", pattern, "100")}, nil
	})

	_, err := Resolve(context.Background(), entries("a.com/x", "a.com/y"), Config{
		Domain:              "a.com",
		TargetDate:          "20191115",
		SequentialThreshold: 5,
		Querier:             q,
	})
	var qerr *cdx.QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("sequential query failure must abort the run, got %v", err)
	}
}

func TestResolveBatchedPartitionsAndFilters(t *testing.T) {
	// 5 URLs, parallelism 2 -> batches of 3. Every batch gets the full
	// domain-wide row set; the allowed-URL filter must trim it so each URL
	// resolves exactly once.
	urls := []string{"a.com/1", "a.com/2", "a.com/3", "a.com/4", "a.com/5"}
	var rows []snapshot.CaptureRow
	for i, u := range urls {
		rows = append(rows, htmlRow(fmt.Sprintf("201911%02d000000", 10+i), u, "1000"))
	}

	var calls int32
	q := queryFunc(func(ctx context.Context, pattern string, opts cdx.QueryOptions) ([]snapshot.CaptureRow, error) {
		atomic.AddInt32(&calls, 1)
		if !strings.HasSuffix(pattern, "/*") {
			t.Errorf("batched path must issue domain-wide queries, got %q", pattern)
		}
		if opts.From != "20190817" || opts.To != "20200213" {
			t.Errorf("unexpected window %s..%s", opts.From, opts.To)
		}
		return rows, nil
	})

	res, err := Resolve(context.Background(), entries(urls...), Config{
		Domain:              "a.com",
		TargetDate:          "20191115",
		Parallelism:         2,
		SequentialThreshold: 2,
		Querier:             q,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected one query per batch (2), got %d", got)
	}
	if res.BatchesTotal != 2 || res.BatchesFailed != 0 {
		t.Fatalf("unexpected batch counts: %+v", res)
	}
	if len(res.Snapshots) != 5 {
		t.Fatalf("expected all 5 URLs resolved, got %d", len(res.Snapshots))
	}

	seen := make(map[string]bool)
	for _, s := range res.Snapshots {
		if seen[s.Original] {
			t.Fatalf("URL %s emitted twice", s.Original)
		}
		seen[s.Original] = true
	}
}

func TestResolveBatchFailureDegradesNotAborts(t *testing.T) {
	urls := []string{"a.com/1", "a.com/2", "a.com/3", "a.com/4"}
	rows := []snapshot.CaptureRow{
		htmlRow("20191114000000", "a.com/1", "100"),
		htmlRow("20191114000000", "a.com/2", "100"),
		htmlRow("20191114000000", "a.com/3", "100"),
		htmlRow("20191114000000", "a.com/4", "100"),
	}

	var calls int32
	q := queryFunc(func(ctx context.Context, pattern string, opts cdx.QueryOptions) ([]snapshot.CaptureRow, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, &cdx.QueryError{Pattern: pattern, Err: errors.New("timeout")}
		}
		return rows, nil
	})

	res, err := Resolve(context.Background(), entries(urls...), Config{
		Domain:              "a.com",
		TargetDate:          "20191115",
		Parallelism:         2,
		SequentialThreshold: 2,
		Querier:             q,
	})
	if err != nil {
		t.Fatalf("a failed batch must not abort the run: %v", err)
	}
	if res.BatchesFailed != 1 || res.BatchesTotal != 2 {
		t.Fatalf("expected 1/2 batches failed, got %d/%d", res.BatchesFailed, res.BatchesTotal)
	}
	// The surviving batch still resolves its own partition.
	if len(res.Snapshots) != 2 {
		t.Fatalf("expected the surviving batch's 2 URLs, got %d", len(res.Snapshots))
	}
}

func TestResolveNoMatchesIsEmptyResultNotError(t *testing.T) {
	q := queryFunc(func(ctx context.Context, pattern string, opts cdx.QueryOptions) ([]snapshot.CaptureRow, error) {
		return nil, nil
	})

	res, err := Resolve(context.Background(), entries("a.com/x"), Config{
		Domain:              "a.com",
		TargetDate:          "20191115",
		SequentialThreshold: 5,
		Querier:             q,
	})
	if err != nil {
		t.Fatalf("no matches is a valid outcome: %v", err)
	}
	if len(res.Snapshots) != 0 {
		t.Fatalf("expected empty result, got %#v", res.Snapshots)
	}
}

func TestResolveCountsDroppedRows(t *testing.T) {
	q := queryFunc(func(ctx context.Context, pattern string, opts cdx.QueryOptions) ([]snapshot.CaptureRow, error) {
		return []snapshot.CaptureRow{
			htmlRow("20191114000000", "a.com/x", "abc"),
			htmlRow("20191110000000", "a.com/x", "6000"),
		}, nil
	})

	res, err := Resolve(context.Background(), entries("a.com/x"), Config{
		Domain:              "a.com",
		TargetDate:          "20191115",
		SequentialThreshold: 5,
		Querier:             q,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.RowsDropped != 1 {
		t.Fatalf("expected 1 dropped row, got %d", res.RowsDropped)
	}
	if len(res.Snapshots) != 1 || res.Snapshots[0].Timestamp != "20191110000000" {
		t.Fatalf("valid row must still resolve: %#v", res.Snapshots)
	}
}

func TestPartition(t *testing.T) {
	batches := partition([]string{"a", "b", "c", "d", "e", "f", "g"}, 3)
	want := [][]string{{"a", "b", "c"}, {"d", "e", "f"}, {"g"}}
	if !reflect.DeepEqual(batches, want) {
		t.Fatalf("partition mismatch.\nwant: %v\ngot:  %v", want, batches)
	}

	if got := partition(nil, 4); got != nil {
		t.Fatalf("empty input must yield no batches, got %v", got)
	}
}
