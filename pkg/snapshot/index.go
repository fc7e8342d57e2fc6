package snapshot

import "strconv"

// Index maps an original URL to the closest capture seen for it.
type Index map[string]Candidate

// BuildIndex reduces raw capture rows to the best candidate per URL, ranked
// by absolute distance to the target timestamp. Replacement is strictly-less,
// so on equal distance the first row seen wins; this tie-break is an
// observable contract, don't change it.
//
// Structurally invalid rows (missing URL, non-numeric timestamp or size) are
// skipped without aborting the pass; the second return value counts them.
// When allowed is non-nil, rows for URLs outside the set are discarded,
// which batched callers use to trim domain-wide query noise.
func BuildIndex(rows []CaptureRow, target int64, allowed map[string]struct{}) (Index, int) {
	idx := make(Index)
	dropped := 0

	for _, row := range rows {
		if row.Original == "" || len(row.Timestamp) != timestampLen {
			dropped++
			continue
		}
		ts, err := strconv.ParseInt(row.Timestamp, 10, 64)
		if err != nil {
			dropped++
			continue
		}
		size, err := strconv.ParseInt(row.Length, 10, 64)
		if err != nil || size < 0 {
			dropped++
			continue
		}

		if allowed != nil {
			if _, ok := allowed[row.Original]; !ok {
				continue
			}
		}

		dist := timeDistance(ts, target)
		if existing, ok := idx[row.Original]; ok && existing.TimeDistance <= dist {
			continue
		}
		idx[row.Original] = Candidate{
			Original:     row.Original,
			Timestamp:    row.Timestamp,
			StatusCode:   row.StatusCode,
			SizeBytes:    size,
			TimeDistance: dist,
		}
	}

	return idx, dropped
}

// MergeIndexes folds per-batch indexes into one, keeping the minimal-distance
// candidate per URL across all of them. Indexes must be passed in batch
// order: on equal distance the earliest index wins, mirroring BuildIndex's
// first-seen rule. Merging an index with itself is a no-op.
func MergeIndexes(indexes ...Index) Index {
	merged := make(Index)
	for _, idx := range indexes {
		for url, cand := range idx {
			if existing, ok := merged[url]; ok && existing.TimeDistance <= cand.TimeDistance {
				continue
			}
			merged[url] = cand
		}
	}
	return merged
}
