package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/metrics"
)

// maxErrorBody caps how much of a failed response is kept in the error text.
const maxErrorBody = 2048

// Options configures an HTTP-backed venue client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client

	// Limiter, when set, gates every outbound request under the key
	// "venue:<name>". A limit <= 0 disables the check.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration

	Decimals Decimals
}

type requester struct {
	name    string
	baseURL string
	client  *http.Client
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
}

func newRequester(name string, opts Options) *requester {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &requester{
		name:    name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
		limiter: opts.Limiter,
		limit:   opts.RateLimit,
		window:  opts.RateWindow,
	}
}

// getJSON issues a GET and decodes the JSON response into out.
func (r *requester) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	return r.do(ctx, op, http.MethodGet, path, query, nil, out)
}

// postJSON issues a POST with a JSON body and decodes the response into out.
func (r *requester) postJSON(ctx context.Context, op, path string, body, out any) error {
	return r.do(ctx, op, http.MethodPost, path, nil, body, out)
}

func (r *requester) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if r.limiter != nil && r.limit > 0 {
		allowed, err := r.limiter.Allow(ctx, "venue:"+r.name, r.limit, r.window)
		if err != nil {
			return &Error{Venue: r.name, Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
		}
		if !allowed {
			metrics.VenueRequests.WithLabelValues(r.name, "throttled").Inc()
			return fmt.Errorf("%s: %s: %w", r.name, op, domain.ErrRateLimited)
		}
	}

	endpoint := r.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: %s: marshal request body: %w", r.name, op, err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: %s: create request: %w", r.name, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	metrics.VenueLatency.WithLabelValues(r.name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.VenueRequests.WithLabelValues(r.name, "error").Inc()
		return &Error{Venue: r.name, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.VenueRequests.WithLabelValues(r.name, "error").Inc()
		return &Error{Venue: r.name, Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.VenueRequests.WithLabelValues(r.name, "status").Inc()
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &Error{Venue: r.name, Op: op, Status: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		metrics.VenueRequests.WithLabelValues(r.name, "malformed").Inc()
		return &Error{Venue: r.name, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	metrics.VenueRequests.WithLabelValues(r.name, "ok").Inc()
	return nil
}
