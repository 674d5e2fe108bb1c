package fallback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/courtline/policycore/internal/breaker"
	"github.com/courtline/policycore/internal/models"
)

// Provider is one model tier's scoring function. Implementations are
// external collaborators; the core treats them as opaque.
type Provider interface {
	ModelID() string
	Score(ctx context.Context, gameID string) (models.ModelOutput, models.TierInputs, error)
}

// Registry resolves model providers by id. Every lookup is
// circuit-breaker-protected and time-bounded so a slow or failing
// provider degrades to rejection rather than unbounded queuing.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	breakers      *breaker.Registry
	limiter       *rate.Limiter
	lookupTimeout time.Duration
	logger        zerolog.Logger
}

// NewRegistry creates a provider registry. lookupsPerSecond throttles
// aggregate provider calls across all tiers; lookupTimeout bounds each
// individual call.
func NewRegistry(breakers *breaker.Registry, lookupsPerSecond float64, burst int, lookupTimeout time.Duration, logger zerolog.Logger) *Registry {
	if lookupTimeout <= 0 {
		lookupTimeout = 5 * time.Second
	}
	if lookupsPerSecond <= 0 {
		lookupsPerSecond = 50
	}
	if burst <= 0 {
		burst = 10
	}
	return &Registry{
		providers:     make(map[string]Provider),
		breakers:      breakers,
		limiter:       rate.NewLimiter(rate.Limit(lookupsPerSecond), burst),
		lookupTimeout: lookupTimeout,
		logger:        logger.With().Str("component", "model_registry").Logger(),
	}
}

// Register installs a provider under its model id
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ModelID()] = p
}

// Fetch resolves modelID and scores gameID through the provider's
// circuit breaker. Breaker rejections and provider errors both surface
// as plain errors; the chain converts them into failed attempts.
func (r *Registry) Fetch(ctx context.Context, modelID, gameID string) (models.ModelOutput, models.TierInputs, error) {
	ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	if err := r.limiter.Wait(ctx); err != nil {
		return models.ModelOutput{}, models.TierInputs{}, fmt.Errorf("model lookup throttled: %w", err)
	}

	var (
		output models.ModelOutput
		inputs models.TierInputs
	)
	b := r.breakers.Get("model:" + modelID)
	err := b.Execute(ctx, func(ctx context.Context) error {
		r.mu.RLock()
		p, ok := r.providers[modelID]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("model %s not registered", modelID)
		}
		var scoreErr error
		output, inputs, scoreErr = p.Score(ctx, gameID)
		return scoreErr
	})
	if err != nil {
		return models.ModelOutput{}, models.TierInputs{}, err
	}
	return output, inputs, nil
}
