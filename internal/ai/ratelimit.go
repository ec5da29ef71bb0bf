package ai

import (
	"context"

	"golang.org/x/time/rate"
)

// WrapRateLimitEmbedder throttles calls to the embedding backend. A
// non-positive rps disables the limit.
func WrapRateLimitEmbedder(e IEmbedder, rps float64, burst int) IEmbedder {
	if e == nil || rps <= 0 {
		return e
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedEmbedder{next: e, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

type rateLimitedEmbedder struct {
	next    IEmbedder
	limiter *rate.Limiter
}

func (r *rateLimitedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Embed(ctx, text, taskType)
}

func (r *rateLimitedEmbedder) ModelName() string {
	return r.next.ModelName()
}

func WrapRateLimitGenerator(g IGenerator, rps float64, burst int) IGenerator {
	if g == nil || rps <= 0 {
		return g
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedGenerator{next: g, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

type rateLimitedGenerator struct {
	next    IGenerator
	limiter *rate.Limiter
}

func (r *rateLimitedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.next.Generate(ctx, prompt)
}
