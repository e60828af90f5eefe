package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// router sends each request to the provider configured for its tier.
type router struct {
	logger    *zap.Logger
	providers map[Tier]provider
}

// newRouter requires a text provider; the vision tier falls back to it when nil.
func newRouter(logger *zap.Logger, text, vision provider) (*router, error) {
	if text == nil {
		return nil, fmt.Errorf("a text tier provider must be provided")
	}
	if vision == nil {
		vision = text
	}
	return &router{
		logger: logger.Named("llm_router"),
		providers: map[Tier]provider{
			TierText:   text,
			TierVision: vision,
		},
	}, nil
}

func (r *router) complete(ctx context.Context, req Request, onToken func(string)) (Completion, error) {
	tier := req.Tier
	if tier == "" {
		tier = TierText
	}
	p, ok := r.providers[tier]
	if !ok {
		return Completion{}, fmt.Errorf("no LLM provider configured for tier: %s", tier)
	}
	r.logger.Debug("Routing LLM request", zap.String("tier", string(tier)), zap.String("provider", p.name()))
	return p.complete(ctx, req, onToken)
}

func (r *router) name() string { return r.providers[TierText].name() }
