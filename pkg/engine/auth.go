package engine

import (
	"context"

	"github.com/rs/zerolog"
)

// FallbackChain tries credential strategies in a fixed priority order until
// one authorizes for a target. Any strategy that authorizes is equally
// valid; the chosen strategy is recorded on the credential for diagnostics
// only.
type FallbackChain struct {
	strategies []CredentialStrategy
	logger     zerolog.Logger
}

// NewFallbackChain creates a chain that evaluates strategies in the order
// given.
func NewFallbackChain(strategies []CredentialStrategy, logger zerolog.Logger) *FallbackChain {
	return &FallbackChain{
		strategies: strategies,
		logger:     logger.With().Str("component", "auth-chain").Logger(),
	}
}

// Authenticate returns the first credential that authorizes for the target.
// When every strategy is exhausted it returns a permanent
// NO_AUTHORIZED_CREDENTIAL error, fatal for this target only.
func (c *FallbackChain) Authenticate(ctx context.Context, target Target) (*Credential, error) {
	if len(c.strategies) == 0 {
		return nil, NewPermanentError("no credential strategies configured", nil).
			WithCode(ErrCodeNoCredential).
			WithTarget(target.ID)
	}

	var lastErr error
	for _, strategy := range c.strategies {
		if err := ctx.Err(); err != nil {
			return nil, NewPermanentError("authentication cancelled", err).
				WithCode(ErrCodeCancelled).
				WithTarget(target.ID)
		}

		cred, err := strategy.Authorize(ctx, target)
		if err == nil {
			c.logger.Debug().
				Str("target_id", target.ID).
				Str("strategy", strategy.Name()).
				Msg("Credential strategy authorized")
			return cred, nil
		}

		lastErr = err
		c.logger.Debug().
			Err(err).
			Str("target_id", target.ID).
			Str("strategy", strategy.Name()).
			Msg("Credential strategy declined, trying next")
	}

	return nil, NewPermanentError("all credential strategies exhausted", lastErr).
		WithCode(ErrCodeNoCredential).
		WithTarget(target.ID).
		WithOperation("authenticate")
}
