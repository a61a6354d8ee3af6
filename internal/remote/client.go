package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Client defaults.
const (
	DefaultRequestTimeout = 60 * time.Second
	DefaultMaxRetries     = 3
	DefaultChunkSize      = 16 << 20
	DefaultRetryBackoff   = 500 * time.Millisecond

	profileCacheTTL = 30 * time.Minute
)

// Client is a platform API client. It is safe for concurrent use; all
// requests share one rate limiter.
type Client struct {
	baseURL    *url.URL
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	chunkSize  int64
	profiles   *cache.Cache
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithCredentials sets the HTTP basic auth credentials.
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRequestTimeout bounds each HTTP request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit throttles requests to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithMaxRetries sets how often throttled, failed or unreachable requests
// are repeated. Set to 0 to disable retries.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the base delay of the exponential retry backoff.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithChunkSize sets the loss data upload chunk size in bytes.
func WithChunkSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("remote: base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("remote: invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: base URL %q must include scheme and host", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultRetryBackoff,
		chunkSize:  DefaultChunkSize,
		profiles:   cache.New(profileCacheTTL, 2*profileCacheTTL),
		userAgent:  "batchupload",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ping checks that the platform is reachable and the credentials are valid.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodGet, "event_catalogs/?limit=0", nil, nil); err != nil {
		return fmt.Errorf("login check: %w", err)
	}
	return nil
}

// AnalysisProfile retrieves an analysis profile. Profiles are cached.
func (c *Client) AnalysisProfile(ctx context.Context, id string) (*AnalysisProfile, error) {
	if v, ok := c.profiles.Get(id); ok {
		p := v.(AnalysisProfile)
		return &p, nil
	}

	var p AnalysisProfile
	if err := c.doJSON(ctx, http.MethodGet, "analysis_profiles/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, fmt.Errorf("retrieve analysis profile %s: %w", id, err)
	}
	c.profiles.SetDefault(id, p)
	return &p, nil
}

// CreateLossSet saves a new loss set and returns it with its assigned id.
func (c *Client) CreateLossSet(ctx context.Context, ls *LossSet) (*LossSet, error) {
	var out LossSet
	if err := c.doJSON(ctx, http.MethodPost, "loss_sets/", ls, &out); err != nil {
		return nil, fmt.Errorf("create loss set %q: %w", ls.Description, err)
	}
	return &out, nil
}

// RetrieveLossSet fetches the current state of a loss set.
func (c *Client) RetrieveLossSet(ctx context.Context, id string) (*LossSet, error) {
	var out LossSet
	if err := c.doJSON(ctx, http.MethodGet, "loss_sets/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, fmt.Errorf("retrieve loss set %s: %w", id, err)
	}
	return &out, nil
}

// ReloadLossSet refreshes ls in place from the platform.
func (c *Client) ReloadLossSet(ctx context.Context, ls *LossSet) error {
	fresh, err := c.RetrieveLossSet(ctx, ls.ID)
	if err != nil {
		return err
	}
	*ls = *fresh
	return nil
}

// UploadLossSetData uploads loss data in chunks: the upload is opened, each
// chunk is sent with its Content-Range and the upload is committed. The
// platform then processes the data asynchronously.
func (c *Client) UploadLossSetData(ctx context.Context, id string, data []byte) error {
	path := "loss_sets/" + url.PathEscape(id) + "/data"

	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("open upload for loss set %s: %w", id, err)
	}

	total := int64(len(data))
	for start := int64(0); start < total; start += c.chunkSize {
		end := min(start+c.chunkSize, total)
		header := http.Header{}
		header.Set("Content-Type", "application/octet-stream")
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, total))
		if _, err := c.do(ctx, http.MethodPatch, path, data[start:end], header); err != nil {
			return fmt.Errorf("upload chunk %d-%d for loss set %s: %w", start, end-1, id, err)
		}
	}

	if err := c.doJSON(ctx, http.MethodPost, path+"/commit", nil, nil); err != nil {
		return fmt.Errorf("commit upload for loss set %s: %w", id, err)
	}
	slog.Debug("loss data uploaded", "loss_set", id, "bytes", total)
	return nil
}

// DownloadLossSetData returns the loss data stored for a loss set.
func (c *Client) DownloadLossSetData(ctx context.Context, id string) ([]byte, error) {
	body, err := c.do(ctx, http.MethodGet, "loss_sets/"+url.PathEscape(id)+"/data", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("download loss set %s data: %w", id, err)
	}
	return body, nil
}

// CreateLayer saves a new layer and returns it with its assigned id.
func (c *Client) CreateLayer(ctx context.Context, l *Layer) (*Layer, error) {
	var out Layer
	if err := c.doJSON(ctx, http.MethodPost, "layers/", l, &out); err != nil {
		return nil, fmt.Errorf("create layer %q: %w", l.Description, err)
	}
	return &out, nil
}

// RetrieveLayer fetches a layer.
func (c *Client) RetrieveLayer(ctx context.Context, id string) (*Layer, error) {
	var out Layer
	if err := c.doJSON(ctx, http.MethodGet, "layers/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, fmt.Errorf("retrieve layer %s: %w", id, err)
	}
	return &out, nil
}

// doJSON sends in as a JSON body (when non-nil) and decodes the response
// into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	header := http.Header{}
	header.Set("Accept", "application/json")
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = b
		header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(ctx, method, path, body, header)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// do sends one request, retrying throttled (429), server (5xx) and
// transport failures with exponential backoff and jitter.
func (c *Client) do(ctx context.Context, method, path string, body []byte, header http.Header) ([]byte, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	target := c.baseURL.ResolveReference(ref)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.retryDelay(attempt, lastErr)); err != nil {
				return nil, err
			}
			slog.Debug("retrying request", "method", method, "path", path, "attempt", attempt, "error", lastErr)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Method: method, Path: path, Err: err}
		}

		respBody, err := c.send(ctx, method, target.String(), path, body, header)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, method, target, path string, body []byte, header http.Header) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Body: string(respBody)}
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, &retryAfterError{APIError: apiErr, after: parseRetryAfter(resp.Header.Get("Retry-After"))}
		}
		return nil, apiErr
	}
	return respBody, nil
}

// retryAfterError carries the server's Retry-After hint with a 429.
type retryAfterError struct {
	*APIError
	after time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.APIError }

func (c *Client) retryDelay(attempt int, lastErr error) time.Duration {
	var ra *retryAfterError
	if errors.As(lastErr, &ra) && ra.after > 0 {
		return ra.after
	}
	d := c.backoff << (attempt - 1)
	return d + time.Duration(rand.Int63n(int64(c.backoff)))
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
