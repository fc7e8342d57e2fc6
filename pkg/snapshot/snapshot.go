package snapshot

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	// ArchiveBaseURL is the replay prefix of the Wayback Machine.
	ArchiveBaseURL = "https://web.archive.org/web"

	timestampLen = 14

	// unitsPerDay is the numeric span of one day in the 14-digit
	// YYYYMMDDhhmmss format (the hhmmss tail). Day distances are defined
	// as timestamp-distance / unitsPerDay, which is an approximation, not
	// calendar arithmetic. Downstream consumers rely on this exact value.
	unitsPerDay = 1_000_000
)

var ErrInvalidDate = errors.New("invalid target date, expected YYYYMMDD")

// CaptureRow is one record from the archive's CDX index. All fields arrive
// as strings on the wire; numeric validation happens in BuildIndex.
type CaptureRow struct {
	Timestamp  string
	Original   string
	StatusCode string
	MimeType   string
	Length     string
}

// Candidate is the best capture seen so far for one URL while an index is
// being built. It may be replaced by a closer capture for the same URL.
type Candidate struct {
	Original     string
	Timestamp    string
	StatusCode   string
	SizeBytes    int64
	TimeDistance int64
}

// Snapshot is the final resolved capture for one master-list URL. Immutable
// once emitted.
type Snapshot struct {
	ArchiveURL string `json:"archive_url"`
	Timestamp  string `json:"timestamp"`
	Original   string `json:"original_url"`
	StatusCode string `json:"status_code"`
	SizeBytes  int64  `json:"size_bytes"`
	DaysDiff   int64  `json:"days_diff"`
}

// TargetTimestamp expands a YYYYMMDD date to its numeric 14-digit timestamp
// at midnight. The date must be exactly eight digits and a real calendar day.
func TargetTimestamp(date string) (int64, error) {
	if len(date) != 8 {
		return 0, fmt.Errorf("%w, got %q", ErrInvalidDate, date)
	}
	if _, err := time.Parse("20060102", date); err != nil {
		return 0, fmt.Errorf("%w, got %q", ErrInvalidDate, date)
	}
	ts, err := strconv.ParseInt(date+"000000", 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w, got %q", ErrInvalidDate, date)
	}
	return ts, nil
}

// ArchiveURL composes the replay URL for a capture. The original URL is
// forwarded exactly as the index returned it, without further escaping.
func ArchiveURL(timestamp, original string) string {
	return ArchiveBaseURL + "/" + timestamp + "/" + original
}

func timeDistance(ts, target int64) int64 {
	d := ts - target
	if d < 0 {
		d = -d
	}
	return d
}
