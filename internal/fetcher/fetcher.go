// Package fetcher performs the bounded HTTP retrieval step of the archival
// pipeline using a gocolly collector. Every connection is checked against the
// SSRF address rules at dial time, so redirect hops and DNS re-resolutions
// cannot escape into private ranges.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
	"github.com/steveclarke/link-radar-sub004/internal/validator"
)

// ErrBlockedAddress marks a dial attempt into a blocked address range.
var ErrBlockedAddress = errors.New("destination address is blocked")

// ErrorKind labels the permanent fetch failure modes.
type ErrorKind string

// Permanent fetch failure kinds.
const (
	KindBlocked          ErrorKind = "blocked"
	KindStatus           ErrorKind = "bad_status"
	KindTooLarge         ErrorKind = "content_too_large"
	KindTooManyRedirects ErrorKind = "too_many_redirects"
	KindNetwork          ErrorKind = "network_error"
)

// FetchError is a permanent fetch failure. Timeouts never surface as a
// FetchError; they are wrapped as archive.TransientError for the job runner
// to retry.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Detail     string
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch failed (%s, status %d): %s", e.Kind, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("fetch failed (%s): %s", e.Kind, e.Detail)
}

// State maps the failure kind onto the terminal archive state it produces.
func (e *FetchError) State() archive.State {
	if e.Kind == KindBlocked {
		return archive.StateBlocked
	}
	return archive.StateFailed
}

// DialGuard decides whether an already-resolved address may be dialed.
// Returning an error wrapping ErrBlockedAddress aborts the connection before
// any packet is sent.
type DialGuard func(ip net.IP) error

// SafeDialGuard applies the validator's address rules. Production wiring
// always uses this; tests substitute a guard that permits loopback so
// httptest servers stay reachable.
func SafeDialGuard() DialGuard {
	return func(ip net.IP) error {
		if reason := validator.BlockedIPReason(ip); reason != "" {
			return fmt.Errorf("%w: %s (%s)", ErrBlockedAddress, ip, reason)
		}
		return nil
	}
}

// Config controls fetch behavior. All limits must be positive.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRedirects   int
	MaxContentSize int64
	UserAgent      string
}

// Result is the success branch of a fetch.
type Result struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher retrieves URLs with the configured bounds.
type Fetcher struct {
	cfg       Config
	guard     DialGuard
	transport http.RoundTripper
	logger    *zap.Logger
}

// New builds a Fetcher. A nil guard defaults to SafeDialGuard.
func New(cfg Config, guard DialGuard, logger *zap.Logger) *Fetcher {
	if guard == nil {
		guard = SafeDialGuard()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{cfg: cfg, guard: guard, logger: logger}
	f.transport = f.newTransport()
	return f
}

func (f *Fetcher) newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout: f.cfg.ConnectTimeout,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return fmt.Errorf("split dial address %q: %w", address, err)
			}
			ip := net.ParseIP(host)
			if ip == nil {
				return fmt.Errorf("%w: unparseable dial address %q", ErrBlockedAddress, address)
			}
			return f.guard(ip)
		},
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          32,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: f.cfg.ReadTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// Fetch issues a single GET for rawURL. It returns a Result on 2xx, a
// *FetchError for permanent failures, and an archive.TransientError for
// timeouts. The download aborts once MaxContentSize bytes have been read.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	var (
		result   Result
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(rawURL, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL); err != nil {
		// OnError classifies with the response status attached; prefer it
		// over the bare Visit error when both fired.
		if fetchErr != nil {
			return Result{}, fetchErr
		}
		return Result{}, f.classify(err, 0)
	}
	if fetchErr != nil {
		return Result{}, fetchErr
	}
	if int64(len(result.Body)) > f.cfg.MaxContentSize {
		return Result{}, &FetchError{
			Kind:   KindTooLarge,
			Detail: fmt.Sprintf("body exceeds %d bytes", f.cfg.MaxContentSize),
		}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(rawURL string, start time.Time, result *Result, fetchErr *error) *colly.Collector {
	// MaxBodySize is one byte over the cap so a truncated read is
	// distinguishable from a body that exactly fits.
	collector := colly.NewCollector(
		colly.UserAgent(f.cfg.UserAgent),
		colly.MaxBodySize(int(f.cfg.MaxContentSize)+1),
		colly.IgnoreRobotsTxt(),
	)
	collector.WithTransport(f.transport)
	collector.SetRequestTimeout(f.cfg.ConnectTimeout + f.cfg.ReadTimeout)
	collector.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) > f.cfg.MaxRedirects {
			return &FetchError{
				Kind:   KindTooManyRedirects,
				Detail: fmt.Sprintf("more than %d redirects", f.cfg.MaxRedirects),
			}
		}
		f.logger.Debug("following redirect",
			zap.String("url", rawURL),
			zap.String("target", req.URL.String()),
			zap.Int("hop", len(via)),
		)
		return nil
	})

	collector.OnResponse(func(r *colly.Response) {
		*result = Result{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		*fetchErr = f.classify(err, status)
	})

	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// classify sorts an error from the HTTP layer into the pipeline's taxonomy.
// Only transport timeouts come back transient; everything else is permanent.
func (f *Fetcher) classify(err error, status int) error {
	if err == nil {
		return nil
	}

	var ferr *FetchError
	if errors.As(err, &ferr) {
		return ferr
	}
	if errors.Is(err, ErrBlockedAddress) {
		return &FetchError{Kind: KindBlocked, Detail: err.Error()}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return archive.Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return archive.Transient(err)
	}
	if errors.Is(err, context.Canceled) {
		return archive.Transient(err)
	}

	if status != 0 && (status < 200 || status > 299) {
		return &FetchError{
			Kind:       KindStatus,
			StatusCode: status,
			Detail:     http.StatusText(status),
		}
	}
	return &FetchError{Kind: KindNetwork, Detail: err.Error()}
}
