// Package netpool implements the bounded-concurrency HTTP transport pool
// shared by the Vision and REST clients: a semaphore-bounded in-flight
// limit, per-request timeouts, exponential backoff with jitter for
// transient errors, and explicit surfacing of rate-limit signals rather
// than silent retry, following the shape of the teacher's
// internal/net/client request wrapper (cache + budget + rate-limit +
// circuit-breaker composed around one RoundTripper).
package netpool

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/terrylica/kline-fcp/internal/netpool/circuit"
	"github.com/terrylica/kline-fcp/internal/netpool/ratelimit"
	"github.com/terrylica/kline-fcp/internal/stageerr"
)

// Config tunes one Pool instance.
type Config struct {
	MaxConcurrent  int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	TotalTimeout   time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// DefaultArchiveConfig matches the spec's default archive concurrency.
func DefaultArchiveConfig() Config {
	return Config{
		MaxConcurrent:  32,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    30 * time.Second,
		TotalTimeout:   60 * time.Second,
		MaxAttempts:    3,
		BackoffBase:    200 * time.Millisecond,
		BackoffMax:     5 * time.Second,
	}
}

// DefaultRESTConfig matches the spec's default REST concurrency.
func DefaultRESTConfig() Config {
	c := DefaultArchiveConfig()
	c.MaxConcurrent = 10
	return c
}

// Pool is a shared bounded-concurrency HTTP client.
type Pool struct {
	cfg      Config
	client   *http.Client
	sem      chan struct{}
	limiter  *ratelimit.Limiter
	breakers *circuit.Manager
}

// New constructs a Pool. limiter and breakers may be nil to disable those
// layers (tests commonly pass nil for both).
func New(cfg Config, limiter *ratelimit.Limiter, breakers *circuit.Manager) *Pool {
	return &Pool{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.TotalTimeout,
		},
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		limiter:  limiter,
		breakers: breakers,
	}
}

// Close waits briefly for in-flight operations to drain. The pool holds
// no other resources that need releasing; http.Client connections are
// reclaimed by the transport's idle-connection GC.
func (p *Pool) Close(ctx context.Context) error {
	deadline := time.Now().Add(5 * time.Second)
	for len(p.sem) > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

// Do executes req with retry/backoff for transient errors, surfacing
// RateLimited rather than retrying it. The caller owns interpreting the
// response body and must close it.
func (p *Pool) Do(ctx context.Context, req *http.Request, provider string) (*http.Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, req.URL.Host); err != nil {
			return nil, stageerr.Cancelled()
		}
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, stageerr.Cancelled()
	}
	defer func() { <-p.sem }()

	var lastErr error
	maxAttempts := p.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, stageerr.Cancelled()
		}
		if attempt > 0 {
			if err := p.sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		resp, err := p.execute(ctx, req, provider)
		if err != nil {
			var se *stageerr.Error
			if asStageErr(err, &se) && (se.Kind == stageerr.KindRateLimited || se.Kind == stageerr.KindCancelled) {
				return nil, err
			}
			lastErr = err
			log.Debug().Err(err).Str("provider", provider).Int("attempt", attempt+1).Msg("netpool: transient failure, retrying")
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, stageerr.RateLimited("rate limit signal from provider", retryAfter)
		}
		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = stageerr.Transient("server error", httpStatusError(resp.StatusCode))
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func (p *Pool) execute(ctx context.Context, req *http.Request, provider string) (*http.Response, error) {
	var result *http.Response
	var execErr error
	run := func() (any, error) {
		resp, err := p.client.Do(req.WithContext(ctx))
		if err != nil {
			return nil, stageerr.Transient("http request failed", err)
		}
		return resp, nil
	}
	if p.breakers != nil {
		v, err := p.breakers.Execute(provider, run)
		if err != nil {
			execErr = err
		} else {
			result = v.(*http.Response)
		}
	} else {
		v, err := run()
		if err != nil {
			execErr = err
		} else {
			result = v.(*http.Response)
		}
	}
	return result, execErr
}

func (p *Pool) sleepBackoff(ctx context.Context, attempt int) error {
	backoff := p.cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
	if backoff > p.cfg.BackoffMax {
		backoff = p.cfg.BackoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
	wait := backoff/2 + jitter/2
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return stageerr.Cancelled()
	}
}

func asStageErr(err error, out **stageerr.Error) bool {
	se, ok := err.(*stageerr.Error)
	if ok {
		*out = se
	}
	return ok
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := time.ParseDuration(header + "s"); err == nil {
		return secs
	}
	return 0
}

type httpStatusError int

func (e httpStatusError) Error() string {
	return http.StatusText(int(e))
}
