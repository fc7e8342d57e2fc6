// Package resolver turns a master URL list and a target date into the
// closest archived snapshot per URL, querying the CDX index either in
// parallel domain-wide batches or sequentially per URL.
package resolver

import (
	"context"
	"sync"

	"github.com/raylibre/WaybackMachine/pkg/cdx"
	"github.com/raylibre/WaybackMachine/pkg/masterlist"
	"github.com/raylibre/WaybackMachine/pkg/snapshot"
)

const (
	DefaultParallelism         = 8
	DefaultSequentialThreshold = 20
)

// Querier issues one bounded index query. *cdx.Client implements it; tests
// substitute fakes.
type Querier interface {
	Query(ctx context.Context, pattern string, opts cdx.QueryOptions) ([]snapshot.CaptureRow, error)
}

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Config holds everything Resolve needs for a single run.
type Config struct {
	Domain     string
	TargetDate string // YYYYMMDD

	Parallelism int // batched path worker count; defaults to 8 if <= 0
	// SequentialThreshold is the master-list size at or below which the
	// per-URL sequential path is used instead of batched domain queries.
	SequentialThreshold int

	Querier Querier
	Pacer   Pacer  // sequential path only; nil = no pacing
	Log     Logger // optional; nil = no logging
}

// Result is the outcome of one resolution run. Zero snapshots with a nil
// error means the archive simply has nothing close to the target date.
type Result struct {
	Snapshots     []snapshot.Snapshot
	BatchesTotal  int
	BatchesFailed int
	RowsDropped   int
}

// Resolve validates inputs, picks a strategy by master-list size, and
// produces the ranked snapshot list. The target date is validated before any
// network call.
func Resolve(ctx context.Context, master []masterlist.Entry, cfg Config) (*Result, error) {
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}

	target, err := snapshot.TargetTimestamp(cfg.TargetDate)
	if err != nil {
		return nil, err
	}
	targetDate, err := cdx.ParseDate(cfg.TargetDate)
	if err != nil {
		return nil, err
	}
	from, to := cdx.Window(targetDate)

	if len(master) == 0 {
		return &Result{}, nil
	}

	threshold := cfg.SequentialThreshold
	if threshold <= 0 {
		threshold = DefaultSequentialThreshold
	}

	if len(master) <= threshold {
		log.Infof("Resolving %d URLs sequentially (window %s..%s)", len(master), from, to)
		return resolveSequential(ctx, master, target, from, to, cfg, log)
	}

	log.Infof("Resolving %d URLs in parallel batches (window %s..%s)", len(master), from, to)
	return resolveBatched(ctx, master, target, from, to, cfg, log)
}

// resolveBatched splits the master list into contiguous batches, runs one
// domain-wide windowed query per batch concurrently, and merges the
// per-batch indexes after all workers finish. Workers write only their own
// slice slot, so the merge order is the batch order, never goroutine
// interleaving, and no synchronization beyond the WaitGroup is needed.
func resolveBatched(ctx context.Context, master []masterlist.Entry, target int64, from, to string, cfg Config, log Logger) (*Result, error) {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	urls := masterlist.URLs(master)
	batches := partition(urls, parallelism)

	indexes := make([]snapshot.Index, len(batches))
	dropped := make([]int, len(batches))
	failed := make([]bool, len(batches))

	pattern := cfg.Domain + "/*"

	batchChan := make(chan int, len(batches))
	var wg sync.WaitGroup
	for w := 0; w < parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range batchChan {
				rows, err := cfg.Querier.Query(ctx, pattern, cdx.QueryOptions{From: from, To: to})
				if err != nil {
					// One failed batch only degrades coverage;
					// siblings keep running.
					log.Warnf("Batch %d query failed, continuing without it: %v", i, err)
					failed[i] = true
					continue
				}
				if len(rows) == 0 {
					log.Debugf("Batch %d: no captures in window", i)
					continue
				}
				indexes[i], dropped[i] = snapshot.BuildIndex(rows, target, allowedSet(batches[i]))
			}
		}()
	}
	for i := range batches {
		batchChan <- i
	}
	close(batchChan)
	wg.Wait()

	merged := snapshot.MergeIndexes(indexes...)

	result := &Result{
		Snapshots:    snapshot.Match(urls, merged),
		BatchesTotal: len(batches),
	}
	for i := range batches {
		if failed[i] {
			result.BatchesFailed++
		}
		result.RowsDropped += dropped[i]
	}

	if result.BatchesFailed > 0 {
		log.Warnf("%d/%d batches failed", result.BatchesFailed, result.BatchesTotal)
	}
	log.Infof("Resolved %d/%d URLs", len(result.Snapshots), len(master))
	return result, nil
}

// resolveSequential issues one narrow query per master entry, paced between
// requests. A query failure here is fatal: unlike the batched path there is
// no sibling coverage to fall back on.
func resolveSequential(ctx context.Context, master []masterlist.Entry, target int64, from, to string, cfg Config, log Logger) (*Result, error) {
	idx := make(snapshot.Index, len(master))
	result := &Result{}

	for _, entry := range master {
		if cfg.Pacer != nil {
			cfg.Pacer.Wait()
		}

		rows, err := cfg.Querier.Query(ctx, entry.Original, cdx.QueryOptions{From: from, To: to})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			log.Debugf("No captures for %s", entry.Original)
			continue
		}

		cand, dropped, ok := nearestCandidate(rows, target)
		result.RowsDropped += dropped
		if !ok {
			continue
		}
		// Key by the master URL: the index API may canonicalize the
		// original it echoes back.
		cand.Original = entry.Original
		idx[entry.Original] = cand
	}

	result.Snapshots = snapshot.Match(masterlist.URLs(master), idx)
	log.Infof("Resolved %d/%d URLs", len(result.Snapshots), len(master))
	return result, nil
}

// nearestCandidate picks the single closest valid row of a URL-scoped
// response, with the same selection and tie-break rules as BuildIndex.
func nearestCandidate(rows []snapshot.CaptureRow, target int64) (snapshot.Candidate, int, bool) {
	idx, dropped := snapshot.BuildIndex(rows, target, nil)

	var best snapshot.Candidate
	found := false
	for _, row := range rows {
		cand, ok := idx[row.Original]
		if !ok {
			continue
		}
		if !found || cand.TimeDistance < best.TimeDistance {
			best = cand
			found = true
		}
	}
	return best, dropped, found
}

// partition splits urls into at most p contiguous batches of ceil(n/p)
// entries, preserving order.
func partition(urls []string, p int) [][]string {
	if len(urls) == 0 {
		return nil
	}
	size := (len(urls) + p - 1) / p

	var batches [][]string
	for start := 0; start < len(urls); start += size {
		end := start + size
		if end > len(urls) {
			end = len(urls)
		}
		batches = append(batches, urls[start:end])
	}
	return batches
}

func allowedSet(urls []string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		allowed[u] = struct{}{}
	}
	return allowed
}
