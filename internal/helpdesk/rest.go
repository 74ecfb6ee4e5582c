package helpdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/helpdesk-query/internal/observability"
)

const (
	// defaultRetryAfter is used when a 429 carries no usable wait hint.
	defaultRetryAfter = 5 * time.Second
	// maxRetryAfter caps backend-provided waits.
	maxRetryAfter = 60 * time.Second
	// maxErrorBody bounds how much of an error body is kept in APIError.
	maxErrorBody = 512
)

// APIError is a non-2xx response from a helpdesk API. It unwraps to
// ErrNotFound for 404 and to ErrStoreUnavailable otherwise.
type APIError struct {
	Store  string
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s %s: status %d", e.Store, e.Method, e.Path, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap maps the HTTP status onto the package sentinels.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return ErrStoreUnavailable
}

// restClient is the JSON-over-HTTP transport shared by the adapters.
// It retries a request exactly once after a rate-limit response.
type restClient struct {
	store   string
	baseURL string
	http    *http.Client
	auth    func(*http.Request)
	headers map[string]string

	// limiter paces outbound requests when non-nil.
	limiter *rate.Limiter
	// sleep waits for d or until ctx is done; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func newRESTClient(store, baseURL string, hc *http.Client, rps float64) *restClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	var lim *rate.Limiter
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &restClient{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		headers: map[string]string{},
		limiter: lim,
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// do sends one logical request. body (if non-nil) is JSON-encoded; a 2xx
// response body is decoded into out (if non-nil). path may be absolute, as
// returned by pagination links.
func (c *restClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.store, err)
		}
		payload = b
	}

	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + path
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, c.store, err)
			}
		}
		resp, err := c.send(ctx, method, target, payload)
		if err != nil {
			return fmt.Errorf("%w: %s %s %s: %v", ErrStoreUnavailable, c.store, method, path, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			wait := c.retryAfter(resp.Header)
			drain(resp)
			zerolog.Ctx(ctx).Warn().
				Str("store", c.store).
				Str("method", method).
				Str("path", path).
				Dur("wait", wait).
				Msg("helpdesk rate limited; retrying once")
			if err := c.sleep(ctx, wait); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, c.store, err)
			}
			continue
		}
		return c.decode(resp, method, path, out)
	}
}

func (c *restClient) send(ctx context.Context, method, target string, payload []byte) (resp *http.Response, err error) {
	ctx, span := observability.StartHelpdeskCall(ctx, c.store, method, spanPath(target))
	defer func() {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		observability.EndHelpdeskCall(span, status, err)
	}()

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.auth != nil {
		c.auth(req)
	}
	return c.http.Do(req)
}

func (c *restClient) decode(resp *http.Response, method, path string, out any) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %v", ErrStoreUnavailable, c.store, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return &APIError{Store: c.store, Method: method, Path: path, Status: resp.StatusCode, Body: snippet}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrStoreUnavailable, c.store, err)
	}
	return nil
}

// retryAfter reads Retry-After (seconds or HTTP date), then Intercom's
// X-RateLimit-Reset (unix seconds), then falls back to defaultRetryAfter.
func (c *restClient) retryAfter(h http.Header) time.Duration {
	d := time.Duration(-1)
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			d = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(v); err == nil {
			d = at.Sub(c.now())
		}
	}
	if d < 0 {
		if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
			if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
				d = time.Unix(epoch, 0).Sub(c.now())
			}
		}
	}
	switch {
	case d < 0:
		return defaultRetryAfter
	case d > maxRetryAfter:
		return maxRetryAfter
	}
	return d
}

// spanPath strips scheme, host and query from target.
func spanPath(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Path == "" {
		return target
	}
	return u.Path
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
