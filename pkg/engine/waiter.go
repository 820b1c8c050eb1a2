package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CapabilityProber asks the control plane whether the active identity holds
// a capability on a target right now. It never mutates anything and never
// treats "not granted" as an error.
type CapabilityProber struct {
	api    CloudAPI
	logger zerolog.Logger
}

// NewCapabilityProber creates a prober backed by the provider API.
func NewCapabilityProber(api CloudAPI, logger zerolog.Logger) *CapabilityProber {
	return &CapabilityProber{
		api:    api,
		logger: logger.With().Str("component", "capability-prober").Logger(),
	}
}

// Check performs a single capability probe.
func (p *CapabilityProber) Check(ctx context.Context, cred *Credential, target Target, capability string) (*CapabilityCheckResult, error) {
	result, err := p.api.CheckCapability(ctx, cred, target, capability)
	if err != nil {
		return nil, err
	}
	p.logger.Trace().
		Str("target_id", target.ID).
		Str("capability", capability).
		Bool("granted", result.Granted).
		Msg("Capability probed")
	return result, nil
}

// PropagationWaiter polls the prober until a capability is granted or a
// bound elapses. IAM propagation delay is a known, bounded, transient
// condition; a timeout here is a signal to the caller, not an error.
type PropagationWaiter struct {
	prober *CapabilityProber
	logger zerolog.Logger
}

// NewPropagationWaiter creates a waiter around the prober.
func NewPropagationWaiter(prober *CapabilityProber, logger zerolog.Logger) *PropagationWaiter {
	return &PropagationWaiter{
		prober: prober,
		logger: logger.With().Str("component", "propagation-waiter").Logger(),
	}
}

// WaitUntilGranted polls at pollInterval until the capability is granted or
// maxWait elapses. It returns false (with a nil error) on timeout; callers
// decide whether to proceed optimistically or give up on the target. Probe
// errors are logged and counted as "not granted yet" so a flaky control
// plane cannot fail a target that only needs more time. Only context
// cancellation returns an error.
func (w *PropagationWaiter) WaitUntilGranted(
	ctx context.Context,
	cred *Credential,
	target Target,
	capability string,
	maxWait, pollInterval time.Duration,
) (bool, error) {
	deadline := time.Now().Add(maxWait)

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		result, err := w.prober.Check(ctx, cred, target, capability)
		if err != nil {
			w.logger.Warn().
				Err(err).
				Str("target_id", target.ID).
				Str("capability", capability).
				Msg("Capability probe failed, treating as not yet granted")
		} else if result.Granted {
			return true, nil
		}

		if time.Now().Add(pollInterval).After(deadline) {
			w.logger.Warn().
				Str("target_id", target.ID).
				Str("capability", capability).
				Dur("max_wait", maxWait).
				Msg("Capability not granted before timeout")
			return false, nil
		}

		if err := sleepCtx(ctx, pollInterval); err != nil {
			return false, err
		}
	}
}
