package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultQueryAttempts caps retries on the interactive query path.
	DefaultQueryAttempts = 3
	// DefaultIngestAttempts caps retries on bulk ingestion-adjacent calls,
	// where waiting out a rate limit is cheaper than failing the rebuild.
	DefaultIngestAttempts = 5
	// DefaultRetryBaseDelay is the backoff unit; attempt i waits i*base.
	DefaultRetryBaseDelay = 10 * time.Second
)

// ExhaustedError reports that all retry attempts failed on a transient
// error. It carries the last underlying failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("backend still failing after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsTransient reports whether err looks like a temporary backend condition
// (rate limiting, overload, refused connections) worth retrying. Anything
// else propagates immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway:
			return true
		}
	}
	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		switch oaiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway:
			return true
		}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "too many requests", "connection refused", "429"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retry runs fn up to attempts times, waiting i*base between transient
// failures. The wait respects ctx so a cancelled caller is not held
// hostage by backoff.
func retry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for i := 1; i <= attempts; i++ {
		last = fn()
		if last == nil {
			return nil
		}
		if !IsTransient(last) {
			return last
		}
		if i == attempts {
			break
		}
		wait := time.Duration(i) * base
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return &ExhaustedError{Attempts: attempts, Last: last}
}

// Gateway wraps a TextGenerator with per-call timeout enforcement and the
// transient-failure retry policy.
type Gateway struct {
	gen      TextGenerator
	attempts int
	base     time.Duration
	timeout  time.Duration
}

// NewGateway builds a gateway around gen. Zero values fall back to the
// package defaults.
func NewGateway(gen TextGenerator, attempts int, base, timeout time.Duration) *Gateway {
	if attempts <= 0 {
		attempts = DefaultQueryAttempts
	}
	if base <= 0 {
		base = DefaultRetryBaseDelay
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Gateway{gen: gen, attempts: attempts, base: base, timeout: timeout}
}

// GenerateText calls the underlying generator, retrying transient failures
// with linear backoff. Each attempt gets its own timeout.
func (g *Gateway) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var out string
	err := retry(ctx, g.attempts, g.base, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		text, err := g.gen.GenerateText(callCtx, systemPrompt, userPrompt)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// RetryingEmbedder decorates an Embedder with the ingestion retry policy.
// It preserves batch support when the wrapped embedder has it.
type RetryingEmbedder struct {
	inner    Embedder
	attempts int
	base     time.Duration
	timeout  time.Duration
}

// NewRetryingEmbedder wraps inner with retries.
func NewRetryingEmbedder(inner Embedder, attempts int, base, timeout time.Duration) *RetryingEmbedder {
	if attempts <= 0 {
		attempts = DefaultIngestAttempts
	}
	if base <= 0 {
		base = DefaultRetryBaseDelay
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &RetryingEmbedder{inner: inner, attempts: attempts, base: base, timeout: timeout}
}

// Model returns the wrapped embedder's model name.
func (e *RetryingEmbedder) Model() string { return e.inner.Model() }

// EmbedText embeds one text, retrying transient failures.
func (e *RetryingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := retry(ctx, e.attempts, e.base, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		vec, err := e.inner.EmbedText(callCtx, text)
		if err != nil {
			return err
		}
		out = vec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedTexts embeds a batch when the wrapped embedder supports it, falling
// back to per-text calls otherwise.
func (e *RetryingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	batch, ok := e.inner.(BatchEmbedder)
	if !ok {
		out := make([][]float32, 0, len(texts))
		for _, text := range texts {
			vec, err := e.EmbedText(ctx, text)
			if err != nil {
				return nil, err
			}
			out = append(out, vec)
		}
		return out, nil
	}
	var out [][]float32
	err := retry(ctx, e.attempts, e.base, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		vecs, err := batch.EmbedTexts(callCtx, texts)
		if err != nil {
			return err
		}
		out = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
