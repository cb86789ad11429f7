package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/gensync/internal/resilience"
)

// maxErrorBody caps how much of an error response is kept for diagnostics.
const maxErrorBody = 2048

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond throttles outgoing requests (0 = default of 5).
	RequestsPerSecond float64
	// Burst is the limiter burst size (0 = 1).
	Burst int
}

// HTTPFetcher implements Fetcher using net/http with a shared rate limiter.
// It performs exactly one attempt per call; retries are layered on top by the
// caller with resilience.DoVal.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "gensync/1.0"
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
	}
}

// Get fetches baseURL with query and returns the body of a 2xx response.
func (f *HTTPFetcher) Get(ctx context.Context, baseURL string, query url.Values) (io.ReadCloser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", baseURL)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		// Network-level failures are classified by resilience.IsTransient.
		return nil, eris.Wrapf(redactURL(err, u), "fetcher: GET %s", u.Host+u.Path)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()

	statusErr := eris.Errorf("fetcher: unexpected status %d from %s: %s", resp.StatusCode, u.Host+u.Path, string(body))
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		zap.L().Warn("fetcher: transient http status",
			zap.String("host", u.Host),
			zap.Int("status", resp.StatusCode),
		)
		return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
	}
	return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body), Err: statusErr}
}

// redactURL strips the query string, which carries the API token, from a
// transport error.
func redactURL(err error, u *url.URL) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = u.Scheme + "://" + u.Host + u.Path
	}
	return err
}

// StatusError is returned for non-retryable HTTP statuses.
type StatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}
