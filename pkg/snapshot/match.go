package snapshot

import "sort"

// Match joins the master URL list against an index and returns one Snapshot
// per resolved URL, ordered by ascending day distance. URLs absent from the
// index are simply omitted; missing archive coverage is not an error.
//
// The sort is stable, so snapshots with equal DaysDiff keep the master list's
// traversal order. Each URL is emitted at most once even if the master list
// repeats it.
func Match(masterURLs []string, idx Index) []Snapshot {
	snaps := make([]Snapshot, 0, len(masterURLs))
	emitted := make(map[string]struct{}, len(masterURLs))

	for _, url := range masterURLs {
		if _, dup := emitted[url]; dup {
			continue
		}
		cand, ok := idx[url]
		if !ok {
			continue
		}
		emitted[url] = struct{}{}
		snaps = append(snaps, Snapshot{
			ArchiveURL: ArchiveURL(cand.Timestamp, cand.Original),
			Timestamp:  cand.Timestamp,
			Original:   cand.Original,
			StatusCode: cand.StatusCode,
			SizeBytes:  cand.SizeBytes,
			DaysDiff:   cand.TimeDistance / unitsPerDay,
		})
	}

	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].DaysDiff < snaps[j].DaysDiff
	})

	return snaps
}
