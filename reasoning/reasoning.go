// Package reasoning adapts an external natural-language reasoning service to a
// single call: evaluate instructions against content and return structured text.
//
// Calls that fail with a rate-limit or quota signal are retried with a short,
// bounded backoff; every other failure is returned immediately so callers can
// fall back to rule-based logic.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrTransient marks failures worth retrying later (rate limits, exhausted quota).
	ErrTransient = errors.New("reasoning service temporarily unavailable")
	// ErrPermanent marks failures that will not succeed on retry.
	ErrPermanent = errors.New("reasoning service failed")
	// ErrNoBackend is returned when no reasoning backend is configured.
	ErrNoBackend = errors.New("no reasoning backend configured")
	// ErrMalformedResponse is returned when the response does not parse as the expected record.
	ErrMalformedResponse = errors.New("malformed reasoning response")
)

// Kind classifies a Failure.
type Kind int

const (
	KindPermanent Kind = iota
	KindTransient
)

func (k Kind) String() string {
	if k == KindTransient {
		return "transient"
	}
	return "permanent"
}

// Failure is the typed error returned by Client.Evaluate.
// errors.Is matches both the kind sentinel and the underlying cause.
type Failure struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s reasoning failure after %d attempt(s): %v", f.Kind, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() []error {
	sentinel := ErrPermanent
	if f.Kind == KindTransient {
		sentinel = ErrTransient
	}
	return []error{sentinel, f.Err}
}

// Reasoner evaluates instructions against content.
type Reasoner interface {
	Evaluate(ctx context.Context, instructions, content string) (string, error)
}

// Backend performs one raw call to a reasoning provider.
type Backend interface {
	Generate(ctx context.Context, instructions, content string) (string, error)
	Model() string
}

// IsRateLimit reports whether err carries a transient overload signal.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit")
}

const (
	DefaultMaxAttempts = 2
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 5 * time.Second
)

// Client wraps a Backend with the bounded retry policy. It holds no per-call
// state and is safe for concurrent use by independent runs.
type Client struct {
	backend     Backend
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	timeout     time.Duration
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithMaxAttempts sets the total number of attempts (initial call included).
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay and the delay cap.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.baseDelay = base
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// WithTimeout bounds every backend call. Zero leaves calls unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a retrying client over backend. A nil backend yields a
// client whose every call fails permanently with ErrNoBackend.
func NewClient(backend Backend, options ...Option) *Client {
	c := &Client{
		backend:     backend,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		logger:      zap.NewNop(),
		sleep:       sleepContext,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Model returns the backend model name, or "rules" without a backend.
func (c *Client) Model() string {
	if c == nil || c.backend == nil {
		return "rules"
	}
	return c.backend.Model()
}

// Evaluate calls the backend, retrying only on rate-limit signals.
func (c *Client) Evaluate(ctx context.Context, instructions, content string) (string, error) {
	if c == nil || c.backend == nil {
		return "", &Failure{Kind: KindPermanent, Err: ErrNoBackend}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		text, err := c.generate(ctx, instructions, content)
		if err == nil {
			return text, nil
		}
		if !IsRateLimit(err) {
			return "", &Failure{Kind: KindPermanent, Attempts: attempt + 1, Err: err}
		}
		lastErr = err

		if attempt < c.maxAttempts-1 {
			delay := c.backoff(attempt)
			c.logger.Warn("reasoning service rate limited, retrying",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", c.maxAttempts),
				zap.Duration("delay", delay))
			if err := c.sleep(ctx, delay); err != nil {
				return "", &Failure{Kind: KindTransient, Attempts: attempt + 1, Err: err}
			}
		}
	}

	c.logger.Warn("reasoning service rate limited, giving up", zap.Int("attempts", c.maxAttempts))
	return "", &Failure{Kind: KindTransient, Attempts: c.maxAttempts, Err: lastErr}
}

func (c *Client) generate(ctx context.Context, instructions, content string) (string, error) {
	if c.timeout <= 0 {
		return c.backend.Generate(ctx, instructions, content)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.backend.Generate(ctx, instructions, content)
}

// backoff returns min(base * 2^attempt, max).
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.baseDelay << uint(attempt)
	if delay > c.maxDelay || delay <= 0 {
		return c.maxDelay
	}
	return delay
}

// sleepContext waits for d without blocking past ctx cancellation.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
