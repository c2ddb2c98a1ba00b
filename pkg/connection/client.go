// Package connection implements the load-generating HTTP client every
// hatchling shares: a pooled transport, process-wide statistics
// accumulation, and the retry/backoff/classification policy of
// spec.md §4.3. It replaces the teacher's gRPC+mTLS client wrapper
// shape (pkg/client) with plain net/http, grounded instead on the
// corpus's HTTP load-generator shape (fortio's httprunner.go) for timed
// request execution.
package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arcombe012/zergswarm/pkg/log"
	"github.com/arcombe012/zergswarm/pkg/metrics"
	"github.com/arcombe012/zergswarm/pkg/report"
)

// sharedTransport is the process-wide connection pool described in
// spec.md §4.3: IPv4 only, a 600s DNS-cache-TTL approximation via
// IdleConnTimeout, a 10000-connection cap, and force-close after every
// request. It is built once and shared by every Client in the process,
// matching ConnectionMixin's class-scoped, non-owning connector.
var sharedTransport = &http.Transport{
	DialContext: (&net.Dialer{
		Timeout: 30 * time.Second,
	}).DialContext,
	MaxConnsPerHost:     10000,
	MaxIdleConnsPerHost: 10000,
	IdleConnTimeout:     600 * time.Second,
	DisableKeepAlives:   true,
	ForceAttemptHTTP2:   false,
}

func init() {
	// IPv4-only resolution, matching aiohttp's family=socket.AF_INET.
	sharedTransport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: 30 * time.Second}
		return dialer.DialContext(ctx, "tcp4", addr)
	}
}

// Method is an HTTP verb accepted by DoRequest, per spec.md §4.3.
type Method string

const (
	MethodPOST    Method = "POST"
	MethodGET     Method = "GET"
	MethodPUT     Method = "PUT"
	MethodPATCH   Method = "PATCH"
	MethodDELETE  Method = "DELETE"
	MethodHEAD    Method = "HEAD"
	MethodOPTIONS Method = "OPTIONS"
)

// Request describes one do_request call, matching spec.md §4.3's
// parameter set.
type Request struct {
	URL              string
	Name             string
	Method           Method
	Data             []byte
	JSONData         any
	NeedsAuth        bool
	Cookies          []*http.Cookie
	ErrorStatus      map[int]struct{}
	DetailedResponse bool
}

// Response is returned by DoRequest. Body is always populated on
// success or a monitored status; ContentType/Header/Cookies are only
// populated when DetailedResponse was requested.
type Response struct {
	Body        string
	ContentType string
	Header      http.Header
	Cookies     []*http.Cookie
}

// Client is the swarm's shared HTTP virtual-user base (ConnectionMixin).
// One Client is created per hatchling; all Clients in a process share
// the same underlying transport and report accumulator.
type Client struct {
	baseURL     string
	maxRetries  int
	retryDelay  time.Duration
	authHeaders http.Header

	http *http.Client
	acc  *report.Accumulator

	mu sync.Mutex

	logger zerolog.Logger
}

// New returns a Client bound to baseURL, sharing acc for telemetry
// (normally one Accumulator per colony process, per §4.3's "process-wide
// shared state").
func New(baseURL string, acc *report.Accumulator) *Client {
	return &Client{
		baseURL:    baseURL,
		maxRetries: 10,
		retryDelay: time.Second,
		http:       &http.Client{Transport: sharedTransport},
		acc:        acc,
		logger:     log.WithComponent("connection"),
	}
}

// WithRetryPolicy overrides the default max-retries/initial-delay pair.
func (c *Client) WithRetryPolicy(maxRetries int, retryDelay time.Duration) *Client {
	c.maxRetries = maxRetries
	c.retryDelay = retryDelay
	return c
}

// SetAuthHeaders installs headers sent when a request sets NeedsAuth.
func (c *Client) SetAuthHeaders(h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authHeaders = h
}

func (c *Client) hasAuth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.authHeaders) > 0
}

// DoRequest performs req, measuring, classifying, retrying, and
// reporting per spec.md §4.3. It returns (nil, nil) for any pre-check or
// classification outcome that isn't success or a monitored status — the
// Report accumulator, not the return value, is the record of what
// happened.
func (c *Client) DoRequest(ctx context.Context, req Request) (*Response, error) {
	name := req.Name
	if name == "" {
		name = req.URL
	}

	if req.Data != nil && req.JSONData != nil {
		return nil, nil
	}
	if req.NeedsAuth && !c.hasAuth() {
		c.acc.AddError(name, report.KindRequestError)
		return nil, nil
	}

	fullURL := req.URL
	if len(fullURL) > 0 && fullURL[0] == '/' {
		fullURL = c.baseURL + fullURL
	}

	var body []byte
	contentType := ""
	if req.JSONData != nil {
		b, err := json.Marshal(req.JSONData)
		if err != nil {
			return nil, fmt.Errorf("connection: encode json body: %w", err)
		}
		body = b
		contentType = "application/json"
	} else {
		body = req.Data
	}

	delay := c.retryDelay
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		start := time.Now()
		httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), fullURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("connection: build request: %w", err)
		}
		if contentType != "" {
			httpReq.Header.Set("Content-Type", contentType)
		}
		if req.NeedsAuth {
			c.mu.Lock()
			for k, vs := range c.authHeaders {
				for _, v := range vs {
					httpReq.Header.Add(k, v)
				}
			}
			c.mu.Unlock()
		}
		for _, cookie := range req.Cookies {
			httpReq.AddCookie(cookie)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			c.acc.AddError(name, report.KindOtherError)
			metrics.HatchlingRequestsTotal.WithLabelValues(name, report.SectionOtherErrors).Inc()
			c.logger.Error().Err(err).Str("url", fullURL).Int("attempt", attempt+1).Msg("request failed")
			if !c.retrySleep(ctx, name, &delay) {
				return nil, ctx.Err()
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			c.acc.AddError(name, report.KindOtherError)
			metrics.HatchlingRequestsTotal.WithLabelValues(name, report.SectionOtherErrors).Inc()
			if !c.retrySleep(ctx, name, &delay) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode < 400 {
			dur := time.Since(start)
			c.acc.AddSuccess(name, dur)
			metrics.HatchlingRequestsTotal.WithLabelValues(name, report.SectionSuccess).Inc()
			metrics.HatchlingRequestDuration.WithLabelValues(name).Observe(dur.Seconds())
			return buildResponse(string(respBody), resp, req.DetailedResponse), nil
		}

		if _, monitored := req.ErrorStatus[resp.StatusCode]; monitored {
			c.acc.AddError(name, report.KindMonitoredError)
			metrics.HatchlingRequestsTotal.WithLabelValues(name, report.SectionMonitoredErrors).Inc()
			return buildResponse(string(respBody), resp, req.DetailedResponse), nil
		}

		if resp.StatusCode >= 500 && resp.StatusCode < 600 {
			c.acc.AddError(name, report.KindRequestError)
			metrics.HatchlingRequestsTotal.WithLabelValues(name, report.SectionRequestErrors).Inc()
			if !c.retrySleep(ctx, name, &delay) {
				return nil, ctx.Err()
			}
			continue
		}

		// 4xx, not monitored: fatal for this call, no retry.
		c.acc.AddError(name, report.KindOtherError)
		metrics.HatchlingRequestsTotal.WithLabelValues(name, report.SectionOtherErrors).Inc()
		return nil, nil
	}
	return nil, nil
}

// retrySleep waits delay (reporting the retry to metrics), advances delay
// per nextDelay's backoff curve, and returns false if ctx was cancelled
// first.
func (c *Client) retrySleep(ctx context.Context, name string, delay *time.Duration) bool {
	metrics.ConnectionRetriesTotal.WithLabelValues(name).Inc()
	if !sleepWithContext(ctx, *delay) {
		return false
	}
	*delay = nextDelay(*delay)
	return true
}

// DoRequestJSON is DoRequest with the body JSON-decoded; it returns nil
// if the response content type is not application/json.
func (c *Client) DoRequestJSON(ctx context.Context, req Request) (map[string]any, error) {
	req.DetailedResponse = true
	resp, err := c.DoRequest(ctx, req)
	if err != nil || resp == nil {
		return nil, err
	}
	mediaType := resp.ContentType
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	if strings.TrimSpace(mediaType) != "application/json" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(resp.Body), &out); err != nil {
		return nil, nil
	}
	return out, nil
}

func buildResponse(body string, resp *http.Response, detailed bool) *Response {
	r := &Response{Body: body}
	if detailed {
		r.ContentType = resp.Header.Get("Content-Type")
		r.Header = resp.Header
		r.Cookies = resp.Cookies()
	}
	return r
}

// nextDelay implements spec.md §4.3's backoff curve: below 60s multiply
// by 1.5, below 120s add 5, otherwise hold (capped).
func nextDelay(d time.Duration) time.Duration {
	switch {
	case d < 60*time.Second:
		return time.Duration(float64(d) * 1.5)
	case d < 120*time.Second:
		return d + 5*time.Second
	default:
		return d
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
