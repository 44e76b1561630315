package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// pacer spaces requests to one provider. Each rate_limit response halves the
// request rate down to an eighth of the configured rate. Successes then add
// back a tenth of the configured rate per call, never exceeding it. A breaker
// that recovers from open resets the pacer to the configured rate.
type pacer struct {
	provider string
	target   rate.Limit
	floor    rate.Limit
	step     rate.Limit

	mu        sync.Mutex
	limiter   *rate.Limiter
	throttled int
}

func newPacer(provider string, rps float64, burst int) *pacer {
	target := rate.Limit(rps)
	return &pacer{
		provider: provider,
		target:   target,
		floor:    target / 8,
		step:     target / 10,
		limiter:  rate.NewLimiter(target, burst),
	}
}

func (p *pacer) wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// observe adjusts the rate after a call. A nil category means success; only
// CategoryRateLimit slows the provider down.
func (p *pacer) observe(cat Category) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.limiter.Limit()
	switch cat {
	case "":
		p.throttled = 0
		if cur < p.target {
			p.limiter.SetLimit(min(cur+p.step, p.target))
		}
	case CategoryRateLimit:
		p.throttled++
		next := max(cur/2, p.floor)
		p.limiter.SetLimit(next)
		zap.L().Warn("gateway: provider throttled, slowing down",
			zap.String("provider", p.provider),
			zap.String("category", string(cat)),
			zap.Int("consecutive", p.throttled),
			zap.Float64("rps", float64(next)),
		)
	}
}

// reset restores the configured rate.
func (p *pacer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limiter.Limit() != p.target {
		zap.L().Info("gateway: provider recovered, restoring request rate",
			zap.String("provider", p.provider),
			zap.Float64("rps", float64(p.target)),
		)
	}
	p.throttled = 0
	p.limiter.SetLimit(p.target)
}

func (p *pacer) current() rate.Limit {
	return p.limiter.Limit()
}
