// Package remote is a client for the document database API that backs sync.
//
// Every request goes through a shared ratelimit.Limiter, so callers never
// need to pace themselves. Failures are returned as *RemoteError.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kimhsiao/stashsync/internal/sync/ratelimit"
)

const (
	DefaultBaseURL       = "https://api.notion.com/v1"
	DefaultVersionHeader = "Notion-Version"
	DefaultVersion       = "2022-06-28"
	DefaultPageSize      = 100
	DefaultTimeout       = 30 * time.Second

	maxBodyBytes = 16 << 20
)

// Options configures a Client. Zero values select the defaults above.
type Options struct {
	BaseURL       string
	Token         string
	VersionHeader string
	Version       string
	PageSize      int
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Client talks to the remote API. It is safe for concurrent use.
type Client struct {
	baseURL       string
	token         string
	versionHeader string
	version       string
	pageSize      int
	http          *http.Client
	limiter       *ratelimit.Limiter
}

// New creates a Client. A nil limiter gets a private one with the default interval.
func New(opts Options, limiter *ratelimit.Limiter) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	c := &Client{
		baseURL:       base,
		token:         strings.TrimSpace(opts.Token),
		versionHeader: opts.VersionHeader,
		version:       opts.Version,
		pageSize:      opts.PageSize,
		http:          opts.HTTPClient,
		limiter:       limiter,
	}
	if c.versionHeader == "" {
		c.versionHeader = DefaultVersionHeader
	}
	if c.version == "" {
		c.version = DefaultVersion
	}
	if c.pageSize <= 0 || c.pageSize > DefaultPageSize {
		c.pageSize = DefaultPageSize
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New(ratelimit.DefaultInterval)
	}
	return c
}

// WithToken returns a copy of c using token. The copy shares the HTTP client
// and the limiter.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = strings.TrimSpace(token)
	return &cp
}

// Configured reports whether a token is set.
func (c *Client) Configured() bool {
	return c.token != ""
}

// Query fetches one page of records from a database.
func (c *Client) Query(ctx context.Context, databaseID string, req QueryRequest) (*QueryResponse, error) {
	if databaseID == "" {
		return nil, notConfigured("database id")
	}
	if req.PageSize <= 0 {
		req.PageSize = c.pageSize
	}
	var out QueryResponse
	if err := c.call(ctx, http.MethodPost, "/databases/"+databaseID+"/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryAll follows cursors until every page matching filter is fetched.
func (c *Client) QueryAll(ctx context.Context, databaseID string, filter *Filter) ([]Record, error) {
	var (
		records []Record
		cursor  string
	)
	for {
		page, err := c.Query(ctx, databaseID, QueryRequest{Filter: filter, StartCursor: cursor})
		if err != nil {
			return nil, err
		}
		records = append(records, page.Results...)
		if !page.HasMore || page.NextCursor == nil || *page.NextCursor == "" {
			return records, nil
		}
		cursor = *page.NextCursor
	}
}

// FetchAll returns every record in the database.
func (c *Client) FetchAll(ctx context.Context, databaseID string) ([]Record, error) {
	return c.QueryAll(ctx, databaseID, nil)
}

// FetchModifiedSince returns records edited at or after since.
// A zero since fetches everything.
func (c *Client) FetchModifiedSince(ctx context.Context, databaseID string, since time.Time) ([]Record, error) {
	if since.IsZero() {
		return c.FetchAll(ctx, databaseID)
	}
	return c.QueryAll(ctx, databaseID, EditedSince(since))
}

// FindByText returns the first live record whose rich_text column equals
// value, or nil.
func (c *Client) FindByText(ctx context.Context, databaseID, column, value string) (*Record, error) {
	page, err := c.Query(ctx, databaseID, QueryRequest{Filter: TextEquals(column, value), PageSize: 10})
	if err != nil {
		return nil, err
	}
	for i := range page.Results {
		if !page.Results[i].Removed() {
			return &page.Results[i], nil
		}
	}
	return nil, nil
}

// GetRecord fetches a single record.
func (c *Client) GetRecord(ctx context.Context, recordID string) (*Record, error) {
	var out Record
	if err := c.call(ctx, http.MethodGet, "/pages/"+recordID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRecord creates a record in the database.
func (c *Client) CreateRecord(ctx context.Context, databaseID string, props Properties) (*Record, error) {
	if databaseID == "" {
		return nil, notConfigured("database id")
	}
	var out Record
	body := createRequest{Parent: parent{DatabaseID: databaseID}, Properties: props}
	if err := c.call(ctx, http.MethodPost, "/pages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRecord overwrites the given properties of a record.
func (c *Client) UpdateRecord(ctx context.Context, recordID string, props Properties) (*Record, error) {
	var out Record
	if err := c.call(ctx, http.MethodPatch, "/pages/"+recordID, updateRequest{Properties: props}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ArchiveRecord archives a record. Archiving a record that no longer exists succeeds.
func (c *Client) ArchiveRecord(ctx context.Context, recordID string) error {
	archived := true
	err := c.call(ctx, http.MethodPatch, "/pages/"+recordID, updateRequest{Archived: &archived}, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// call performs one request through the limiter and decodes the JSON reply into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	if c.token == "" {
		return notConfigured("api token")
	}

	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	return c.limiter.Execute(ctx, func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set(c.versionHeader, c.version)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &RemoteError{Code: CodeNetwork, Message: err.Error()}
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return &RemoteError{Status: resp.StatusCode, Code: CodeNetwork, Message: err.Error()}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return decodeError(resp, raw)
		}
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return &RemoteError{Status: resp.StatusCode, Code: CodeDecode, Message: err.Error()}
		}
		return nil
	})
}

func decodeError(resp *http.Response, raw []byte) *RemoteError {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	re := &RemoteError{Status: resp.StatusCode}
	if err := json.Unmarshal(raw, &body); err == nil {
		re.Code = body.Code
		re.Message = body.Message
	}
	if re.Message == "" {
		re.Message = strings.TrimSpace(string(raw))
	}
	if re.Message == "" {
		re.Message = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if re.Code == "" {
			re.Code = CodeRateLimited
		}
		re.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return re
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return DefaultRetryAfter
}

// AsRemoteError extracts a *RemoteError from err.
func AsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	ok := errors.As(err, &re)
	return re, ok
}
