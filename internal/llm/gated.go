package llm

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/canvas-chat/internal/ratelimit"
	"github.com/capitalize-ai/canvas-chat/pkg/metrics"
)

// Gated authorizes every provider call against a shared rate gate before
// delegating. Calls that the gate rejects never reach the provider.
type Gated struct {
	Client
	gate *ratelimit.Gate
}

// NewGated wraps client with gate.
func NewGated(client Client, gate *ratelimit.Gate) *Gated {
	return &Gated{Client: client, gate: gate}
}

// Complete authorizes and sends a completion request.
func (g *Gated) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := g.gate.Authorize(); err != nil {
		return nil, err
	}
	return g.Client.Complete(ctx, req)
}

// CompleteStream authorizes and sends a streaming completion request.
func (g *Gated) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	if err := g.gate.Authorize(); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := g.Client.CompleteStream(ctx, req, callback)
	if err != nil {
		status := "error"
		var rl *ratelimit.RateLimitedError
		if errors.As(err, &rl) {
			status = "rate_limited"
		}
		metrics.RecordLLMStream(req.Model, status, time.Since(start).Seconds(), 0, 0)
		return nil, err
	}

	metrics.RecordLLMStream(resp.Model, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	return resp, nil
}

// GenerateImage authorizes and delegates to the wrapped client when it can
// produce images.
func (g *Gated) GenerateImage(ctx context.Context, prompt string) (string, error) {
	gen, ok := g.Client.(ImageGenerator)
	if !ok {
		return "", errors.New(g.Client.Name() + " does not support image generation")
	}
	if err := g.gate.Authorize(); err != nil {
		return "", err
	}
	return gen.GenerateImage(ctx, prompt)
}
