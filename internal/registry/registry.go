// Package registry holds the collateral basket and drives engine-wide
// iteration: refreshing every token and sweeping every reward program.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"collateralwatch/internal/collateral"
)

// RefreshResult reports one collateral's refresh outcome.
type RefreshResult struct {
	Collateral string
	Status     collateral.Status
	Err        error
}

// ClaimResult reports one collateral's reward sweep.
type ClaimResult struct {
	Collateral string
	Claims     []collateral.RewardClaim
	Err        error
}

// Registry is the iteration collaborator over the backing basket.
type Registry struct {
	logger zerolog.Logger

	mu          sync.RWMutex
	collaterals map[string]*collateral.Collateral
	order       []string
}

// New builds an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:      logger.With().Str("component", "registry").Logger(),
		collaterals: make(map[string]*collateral.Collateral),
	}
}

// Register adds a collateral to the basket. Names must be unique.
func (r *Registry) Register(c *collateral.Collateral) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if _, exists := r.collaterals[name]; exists {
		return fmt.Errorf("registry: collateral %q already registered", name)
	}
	r.collaterals[name] = c
	r.order = append(r.order, name)
	sort.Strings(r.order)
	return nil
}

// Get returns the named collateral.
func (r *Registry) Get(name string) (*collateral.Collateral, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collaterals[name]
	return c, ok
}

// Collaterals returns the basket in name order.
func (r *Registry) Collaterals() []*collateral.Collateral {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*collateral.Collateral, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.collaterals[name])
	}
	return out
}

// RefreshAll refreshes every collateral. One token's failure never blocks
// the rest of the basket; each failure is reported in its result.
func (r *Registry) RefreshAll(ctx context.Context) []RefreshResult {
	collaterals := r.Collaterals()
	results := make([]RefreshResult, 0, len(collaterals))
	for _, c := range collaterals {
		err := c.Refresh(ctx)
		if err != nil {
			r.logger.Error().Err(err).Str("collateral", c.Name()).Msg("refresh failed")
		}
		results = append(results, RefreshResult{
			Collateral: c.Name(),
			Status:     c.Status(),
			Err:        err,
		})
	}
	return results
}

// ClaimAll sweeps every collateral's reward program. Claimer-less tokens
// succeed with no claims; a failing sweep is isolated to its own result.
func (r *Registry) ClaimAll(ctx context.Context) []ClaimResult {
	collaterals := r.Collaterals()
	results := make([]ClaimResult, 0, len(collaterals))
	for _, c := range collaterals {
		claims, err := c.ClaimRewards(ctx)
		if err != nil {
			r.logger.Error().Err(err).Str("collateral", c.Name()).Msg("reward sweep failed")
		}
		results = append(results, ClaimResult{
			Collateral: c.Name(),
			Claims:     claims,
			Err:        err,
		})
	}
	return results
}
