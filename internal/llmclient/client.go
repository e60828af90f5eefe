// internal/llmclient/client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client wraps a provider with request pacing, retries of transient
// failures and token accounting. It implements Gateway.
type Client struct {
	provider   provider
	limiter    *rate.Limiter
	usage      *UsageCounter
	timeout    time.Duration
	maxRetries int
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

var _ Gateway = (*Client)(nil)

// Option customises a Client.
type Option func(*Client)

// WithRequestsPerMinute paces calls. Zero or less disables pacing.
func WithRequestsPerMinute(rpm int) Option {
	return func(c *Client) {
		if rpm <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithAttemptTimeout bounds each individual attempt. Zero leaves it unbounded.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithUsageCounter shares a counter with the caller.
func WithUsageCounter(u *UsageCounter) Option {
	return func(c *Client) {
		if u != nil {
			c.usage = u
		}
	}
}

// WithBackOff replaces the retry schedule, mostly for tests.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = fn }
}

func newClient(p provider, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		provider:   p,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		usage:      NewUsageCounter(),
		maxRetries: 2,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = time.Minute
			return b
		},
		logger: logger.Named("llm_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Usage returns the counter every call reports into.
func (c *Client) Usage() *UsageCounter { return c.usage }

// Chat implements Gateway.
func (c *Client) Chat(ctx context.Context, req Request) (string, error) {
	return c.do(ctx, req, nil)
}

// ChatStream implements Gateway.
func (c *Client) ChatStream(ctx context.Context, req Request, onToken func(string)) (string, error) {
	return c.do(ctx, req, onToken)
}

func (c *Client) do(ctx context.Context, req Request, onToken func(string)) (string, error) {
	var (
		result   Completion
		attempt  int
		streamed bool
	)

	// Partial output already handed to the caller cannot be taken back, so a
	// stream that failed after its first token is not retried.
	var sink func(string)
	if onToken != nil {
		sink = func(tok string) {
			streamed = true
			onToken(tok)
		}
	}

	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		attemptCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		start := time.Now()
		out, err := c.provider.complete(attemptCtx, req, sink)
		if err != nil {
			if ctx.Err() != nil || streamed || !isRetryable(err) {
				return backoff.Permanent(err)
			}
			c.logger.Warn("Transient LLM failure, retrying...",
				zap.String("provider", c.provider.name()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		if out.Text == "" {
			return backoff.Permanent(ErrEmptyResponse)
		}

		c.logger.Debug("LLM generation complete",
			zap.String("provider", c.provider.name()),
			zap.String("model", out.Model),
			zap.Duration("duration", time.Since(start)),
			zap.Int("total_tokens", out.TotalTokens))
		result = out
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return "", err
	}

	c.usage.Add(result.TotalTokens)
	return result.Text, nil
}

// isRetryable treats network trouble, per-attempt timeouts and throttling or
// server-side statuses as transient.
func isRetryable(err error) bool {
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
