package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	appLog "guardsched/internal/log"
	"guardsched/internal/metrics"
	"guardsched/internal/model"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "guardsched/0.1"
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	// Timeout bounds a whole request including the body read.
	Timeout time.Duration

	UserAgent string

	// Location is used to format the week path segment. If nil, time.Local
	// is used.
	Location *time.Location

	Metrics *metrics.Metrics

	// HTTPClient replaces the default client (tests use httptest clients).
	HTTPClient *http.Client
}

// Client issues the fixed set of remote API operations. It does not retry,
// cache or rate-limit; concurrent calls are independent.
type Client struct {
	baseURL   string
	userAgent string
	loc       *time.Location
	client    *http.Client
	metrics   *metrics.Metrics
	log       appLog.Logger
}

// New creates a Client for baseURL, e.g. "https://example.herokuapp.com".
// The URL is validated per request so a bad value surfaces as ErrInvalidURL
// from the first call.
func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = newHTTPClient(opts.Timeout)
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: opts.UserAgent,
		loc:       opts.Location,
		client:    hc,
		metrics:   opts.Metrics,
		log:       appLog.With("component", "api"),
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// Location returns the zone used for date path segments.
func (c *Client) Location() *time.Location {
	return c.loc
}

// Do performs op and returns the raw 2xx payload.
//
// Errors:
//   - ErrInvalidURL when the request URL cannot be built
//   - *NetworkError for transport failures
//   - *ServerError for any non-2xx status
func (c *Client) Do(ctx context.Context, op Operation) ([]byte, error) {
	kind := op.Kind()

	req, err := c.buildRequest(ctx, op)
	if err != nil {
		c.metrics.ObserveRequest(kind.String(), "invalid_url", 0)
		return nil, err
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(kind.String(), "network", time.Since(start))
		c.log.Error("api request failed", err, "op", kind, "method", req.Method, "path", req.URL.Path)
		return nil, &NetworkError{Op: kind, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.ObserveRequest(kind.String(), "network", time.Since(start))
		return nil, &NetworkError{Op: kind, Err: err}
	}

	elapsed := time.Since(start)
	c.metrics.ObserveRequest(kind.String(), statusClass(resp.StatusCode), elapsed)
	c.log.Debug("api request done",
		"op", kind,
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"bytes", len(body),
		"elapsed", elapsed,
		"request_id", req.Header.Get("X-Request-ID"),
	)

	if resp.StatusCode/100 != 2 {
		return nil, newServerError(kind, resp.StatusCode, body)
	}
	return body, nil
}

// buildRequest is the single place where an Operation becomes an
// *http.Request. Parameter placement comes from the routes table.
func (c *Client) buildRequest(ctx context.Context, op Operation) (*http.Request, error) {
	rt, ok := routes[op.Kind()]
	if !ok {
		return nil, fmt.Errorf("api: no route for operation %s", op.Kind())
	}

	params := op.params()

	raw := c.baseURL + op.path(c.loc)
	var body io.Reader
	switch rt.encoding {
	case encodeQuery:
		raw += queryString(params)
	case encodeBody:
		if params != nil {
			data, err := json.Marshal(params)
			if err != nil {
				return nil, fmt.Errorf("api: %s: encode body: %w", op.Kind(), err)
			}
			body = bytes.NewReader(data)
		}
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	req, err := http.NewRequestWithContext(ctx, rt.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func decode[T any](op Kind, data []byte) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return out, &DecodeError{Op: op, Err: err}
	}
	return out, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	data, err := c.Do(ctx, ListUsers{})
	if err != nil {
		return nil, err
	}
	users, err := decode[[]model.User](KindListUsers, data)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []model.User{}
	}
	return users, nil
}

func (c *Client) AddUser(ctx context.Context, u model.User) error {
	_, err := c.Do(ctx, AddUser{User: u})
	return err
}

func (c *Client) EditUser(ctx context.Context, id int, u model.User) error {
	_, err := c.Do(ctx, EditUser{ID: id, User: u})
	return err
}

func (c *Client) DeleteUser(ctx context.Context, id int) error {
	_, err := c.Do(ctx, DeleteUser{ID: id})
	return err
}

func (c *Client) Login(ctx context.Context, email, password string) (model.LoginResult, error) {
	data, err := c.Do(ctx, Login{Email: email, Password: password})
	if err != nil {
		return model.LoginResult{}, err
	}
	return decode[model.LoginResult](KindLogin, data)
}

// ListEvents returns the events of the week anchored at weekOf.
func (c *Client) ListEvents(ctx context.Context, weekOf time.Time) ([]model.Event, error) {
	data, err := c.Do(ctx, ListEvents{WeekOf: weekOf})
	if err != nil {
		return nil, err
	}
	events, err := decode[[]model.Event](KindListEvents, data)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, nil
}

func (c *Client) AddEvent(ctx context.Context, in model.EventInput) error {
	_, err := c.Do(ctx, AddEvent{Input: in})
	return err
}

func (c *Client) EditEvent(ctx context.Context, id int, in model.EventInput) error {
	_, err := c.Do(ctx, EditEvent{ID: id, Input: in})
	return err
}

func (c *Client) DeleteEvent(ctx context.Context, id int) error {
	_, err := c.Do(ctx, DeleteEvent{ID: id})
	return err
}
