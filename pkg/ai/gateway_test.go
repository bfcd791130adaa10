package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedGenerator struct {
	calls int
	errs  []error
	text  string
}

func (g *scriptedGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	g.calls++
	if g.calls <= len(g.errs) {
		return "", g.errs[g.calls-1]
	}
	return g.text, nil
}

func TestGatewayRetriesTransientThenSucceeds(t *testing.T) {
	gen := &scriptedGenerator{
		errs: []error{
			&APIError{Status: http.StatusTooManyRequests, Message: "slow down"},
			&APIError{Status: http.StatusServiceUnavailable},
		},
		text: "grounded answer",
	}
	gw := NewGateway(gen, 3, time.Millisecond, time.Second)

	got, err := gw.GenerateText(context.Background(), "system", "question")
	require.NoError(t, err)
	require.Equal(t, "grounded answer", got)
	require.Equal(t, 3, gen.calls)
}

func TestGatewayNonTransientFailsImmediately(t *testing.T) {
	permanent := errors.New("model not found")
	gen := &scriptedGenerator{errs: []error{permanent, permanent, permanent}}
	gw := NewGateway(gen, 3, time.Millisecond, time.Second)

	_, err := gw.GenerateText(context.Background(), "system", "question")
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, gen.calls, "non-transient errors must not be retried")
}

func TestGatewayExhaustionCarriesLastError(t *testing.T) {
	last := &APIError{Status: http.StatusTooManyRequests, Message: "still limited"}
	gen := &scriptedGenerator{errs: []error{
		&APIError{Status: http.StatusTooManyRequests},
		&APIError{Status: http.StatusTooManyRequests},
		last,
	}}
	gw := NewGateway(gen, 3, time.Millisecond, time.Second)

	_, err := gw.GenerateText(context.Background(), "system", "question")
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.ErrorIs(t, err, last)
	require.Equal(t, 3, gen.calls)
}

func TestGatewayBackoffRespectsContext(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{
		&APIError{Status: http.StatusTooManyRequests},
		&APIError{Status: http.StatusTooManyRequests},
	}}
	gw := NewGateway(gen, 3, time.Hour, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := gw.GenerateText(ctx, "system", "question")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, gen.calls)
}

func TestIsTransientClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", &APIError{Status: http.StatusTooManyRequests}, true},
		{"http 503", &APIError{Status: http.StatusServiceUnavailable}, true},
		{"http 400", &APIError{Status: http.StatusBadRequest}, false},
		{"wrapped 429", fmt.Errorf("embed: %w", &APIError{Status: 429}), true},
		{"rate limit text", errors.New("Rate limit exceeded, retry later"), true},
		{"too many requests text", errors.New("too many requests"), true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), true},
		{"permanent", errors.New("invalid model name"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

type countingEmbedder struct {
	calls int
	fail  int
	dim   int
}

func (e *countingEmbedder) Model() string { return "test-embed" }

func (e *countingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.calls <= e.fail {
		return nil, &APIError{Status: http.StatusTooManyRequests}
	}
	return make([]float32, e.dim), nil
}

func TestRetryingEmbedderRetriesAndFallsBackPerText(t *testing.T) {
	inner := &countingEmbedder{fail: 2, dim: 4}
	emb := NewRetryingEmbedder(inner, 5, time.Millisecond, time.Second)

	vecs, err := emb.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Len(t, vecs[0], 4)
	// 2 transient failures on the first text, then one success per text.
	require.Equal(t, 4, inner.calls)
}
