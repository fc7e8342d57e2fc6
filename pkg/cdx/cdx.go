// Package cdx queries the Wayback Machine's CDX index for capture metadata.
package cdx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/raylibre/WaybackMachine/pkg/snapshot"
	"github.com/raylibre/WaybackMachine/pkg/whttp"
)

const (
	DefaultAPIURL = "https://web.archive.org/cdx/search/cdx"

	// DefaultLimit caps rows per query to bound worst-case memory.
	DefaultLimit = 100000

	// WindowDays is the search radius around the target date.
	WindowDays = 90
)

// QueryError wraps any transport or payload failure of a single index query.
// Whether it is fatal is the caller's call: a failed whole-domain query means
// no data at all, a failed batch only degrades coverage.
type QueryError struct {
	Pattern string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("cdx query for %q failed: %v", e.Pattern, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// QueryOptions bounds one index query. From/To are inclusive YYYYMMDD dates;
// both empty means the archive's full history. Limit <= 0 falls back to the
// client's limit.
type QueryOptions struct {
	From  string
	To    string
	Limit int
}

type Client struct {
	APIURL    string
	UserAgent string
	Limit     int
	HTTP      *retryablehttp.Client
}

func NewClient() *Client {
	return &Client{
		APIURL: DefaultAPIURL,
		Limit:  DefaultLimit,
		HTTP:   whttp.GetDefaultClient(),
	}
}

// Window computes the [target-90d, target+90d] query window as calendar
// dates. AddDate handles month and year rollover; the target is pinned to
// UTC so results don't depend on the host timezone.
func Window(target time.Time) (from, to string) {
	target = target.UTC()
	return target.AddDate(0, 0, -WindowDays).Format("20060102"),
		target.AddDate(0, 0, WindowDays).Format("20060102")
}

// ParseDate parses a YYYYMMDD date for window arithmetic.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse("20060102", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w, got %q", snapshot.ErrInvalidDate, date)
	}
	return t, nil
}

// Query runs one bounded index query and returns the raw capture rows.
// Results are pre-filtered server-side to successful HTML captures. A
// succeeding query with zero usable rows returns (nil, nil); every failure
// mode (transport, HTTP status, non-JSON or truncated payload) is a
// *QueryError.
func (c *Client) Query(ctx context.Context, pattern string, opts QueryOptions) ([]snapshot.CaptureRow, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = c.Limit
	}

	params := url.Values{}
	params.Set("url", pattern)
	params.Set("output", "json")
	params.Set("fl", "timestamp,original,statuscode,mimetype,length")
	params.Add("filter", "statuscode:200")
	params.Add("filter", "mimetype:text/html")
	params.Set("limit", strconv.Itoa(limit))
	if opts.From != "" {
		params.Set("from", opts.From)
	}
	if opts.To != "" {
		params.Set("to", opts.To)
	}

	body, err := c.get(ctx, c.APIURL+"?"+params.Encode())
	if err != nil {
		return nil, &QueryError{Pattern: pattern, Err: err}
	}

	rows, err := parseResponse(body)
	if err != nil {
		return nil, &QueryError{Pattern: pattern, Err: err}
	}
	return rows, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, err
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = whttp.GetDefaultClient()
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	return body, nil
}

// parseResponse decodes the CDX JSON format: an array whose first row lists
// column names and whose remaining rows are positional value arrays.
func parseResponse(body []byte) ([]snapshot.CaptureRow, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("response is not a JSON array")
	}

	raw := parsed.Array()
	if len(raw) <= 1 {
		// Header only or empty array: the window holds no captures.
		return nil, nil
	}

	rows := make([]snapshot.CaptureRow, 0, len(raw)-1)
	for _, entry := range raw[1:] {
		fields := entry.Array()
		rows = append(rows, snapshot.CaptureRow{
			Timestamp:  field(fields, 0),
			Original:   field(fields, 1),
			StatusCode: field(fields, 2),
			MimeType:   field(fields, 3),
			Length:     field(fields, 4),
		})
	}
	return rows, nil
}

func field(fields []gjson.Result, i int) string {
	if i >= len(fields) {
		return ""
	}
	return fields[i].String()
}
