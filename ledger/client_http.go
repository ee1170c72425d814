package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxResponseBytes = 16 << 20

// Client performs row-level REST calls against the backend.
type Client struct {
	cfg       RemoteConfig
	base      *url.URL
	hc        *http.Client
	limiter   *rate.Limiter
	validator *rowValidator
	log       *slog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// WithClientLogger sets the logger used for rejected rows.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient builds a client. An empty BaseURL is allowed; every call then
// fails with ErrNotConfigured.
func NewClient(cfg RemoteConfig, opts ...ClientOption) (*Client, error) {
	to := cfg.Timeout
	if to == 0 {
		to = 15 * time.Second
	}
	var base *url.URL
	if trimmed := strings.TrimSpace(cfg.BaseURL); trimmed != "" {
		u, err := url.Parse(strings.TrimSuffix(trimmed, "/"))
		if err != nil {
			return nil, fmt.Errorf("parse base url %q: %w", cfg.BaseURL, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
		}
		base = u
	}
	validator, err := newRowValidator()
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if burst <= 0 {
			burst = 4
		}
	}

	c := &Client{
		cfg:       cfg,
		base:      base,
		hc:        &http.Client{Timeout: to},
		limiter:   rate.NewLimiter(limit, burst),
		validator: validator,
		log:       slog.Default().With("component", "remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Configured reports whether the client can reach a backend.
func (c *Client) Configured() bool {
	return c != nil && c.base != nil && c.cfg.Configured()
}

// Filter selects rows with a PostgREST-style operator, e.g. id=eq.7.
type Filter struct {
	Column string
	Op     string
	Value  string
}

// Eq builds an equality filter on a backend column.
func Eq(column, value string) Filter {
	return Filter{Column: column, Op: "eq", Value: value}
}

// FieldFilter builds an equality filter from an app field name.
func FieldFilter(c Collection, field, value string) (Filter, error) {
	col, ok := ColumnFor(c, field)
	if !ok {
		return Filter{}, &ValidationError{Collection: c, Problems: []string{"unknown field " + field}}
	}
	return Eq(col, value), nil
}

func (f Filter) apply(values url.Values) {
	values.Add(f.Column, f.Op+"."+f.Value)
}

// Query configures a GET.
type Query struct {
	Select  string
	Filters []Filter
	Order   string // column.asc or column.desc
	Limit   int
}

func (q Query) values() url.Values {
	values := url.Values{}
	sel := q.Select
	if sel == "" {
		sel = "*"
	}
	values.Set("select", sel)
	for _, f := range q.Filters {
		f.apply(values)
	}
	if q.Order != "" {
		values.Set("order", q.Order)
	}
	if q.Limit > 0 {
		values.Set("limit", fmt.Sprint(q.Limit))
	}
	return values
}

// PostOption adjusts a POST.
type PostOption func(url.Values, http.Header)

// Upsert merges on the given unique column instead of failing on conflict.
func Upsert(column string) PostOption {
	return func(v url.Values, h http.Header) {
		v.Set("on_conflict", column)
		h.Add("Prefer", "resolution=merge-duplicates")
	}
}

// Get fetches rows from a collection.
func (c *Client) Get(ctx context.Context, coll Collection, q Query) ([]json.RawMessage, error) {
	return c.do(ctx, "get", http.MethodGet, coll, q.values(), nil, nil)
}

// Post inserts a row and returns the created row(s).
func (c *Client) Post(ctx context.Context, coll Collection, body any, opts ...PostOption) ([]json.RawMessage, error) {
	values := url.Values{}
	header := http.Header{}
	header.Add("Prefer", "return=representation")
	for _, opt := range opts {
		opt(values, header)
	}
	return c.do(ctx, "post", http.MethodPost, coll, values, header, body)
}

// Patch updates rows matching f.
func (c *Client) Patch(ctx context.Context, coll Collection, f Filter, body any) ([]json.RawMessage, error) {
	values := url.Values{}
	f.apply(values)
	header := http.Header{}
	header.Add("Prefer", "return=representation")
	return c.do(ctx, "patch", http.MethodPatch, coll, values, header, body)
}

// Delete removes rows matching f.
func (c *Client) Delete(ctx context.Context, coll Collection, f Filter) error {
	values := url.Values{}
	f.apply(values)
	_, err := c.do(ctx, "delete", http.MethodDelete, coll, values, nil, nil)
	return err
}

func (c *Client) do(ctx context.Context, op, method string, coll Collection, values url.Values, header http.Header, body any) ([]json.RawMessage, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if !coll.Valid() {
		return nil, fmt.Errorf("unknown collection %q", coll)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + string(coll)
	u.RawQuery = values.Encode()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", op, coll, ErrNetworkUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w: %w", op, coll, ErrNetworkUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{
			Op:      op,
			Path:    "/" + string(coll),
			Status:  resp.StatusCode,
			Message: decodeErrorBody(resp.StatusCode, data),
		}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	rows, err := splitRows(data)
	if err != nil {
		return nil, fmt.Errorf("%s %s: decode response: %w", op, coll, err)
	}
	return rows, nil
}

func decodeErrorBody(status int, data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Hint    string `json:"hint"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		msg := body.Message
		if msg == "" {
			msg = body.Error
		}
		if msg != "" {
			if body.Hint != "" {
				msg += " (" + body.Hint + ")"
			}
			return msg
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" && len(text) < 512 {
		return text
	}
	return http.StatusText(status)
}
