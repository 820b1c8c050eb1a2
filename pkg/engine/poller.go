package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// OperationPoller polls an asynchronous operation handle to a terminal
// status under a local timeout.
type OperationPoller struct {
	api    CloudAPI
	logger zerolog.Logger
}

// NewOperationPoller creates a poller backed by the provider API.
func NewOperationPoller(api CloudAPI, logger zerolog.Logger) *OperationPoller {
	return &OperationPoller{
		api:    api,
		logger: logger.With().Str("component", "operation-poller").Logger(),
	}
}

// Poll polls at interval until the operation reaches a provider-terminal
// status or timeout elapses locally. TimedOut means the poller gave up; the
// remote operation may still complete, so callers must not retry-create and
// must rely on the next run's confirmation check instead.
func (p *OperationPoller) Poll(
	ctx context.Context,
	cred *Credential,
	handle *OperationHandle,
	timeout, interval time.Duration,
) (OperationStatus, error) {
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return OperationStatusTimedOut, NewPermanentError("operation poll cancelled", err).
				WithCode(ErrCodeCancelled).
				WithOperation("poll")
		}

		status, err := p.api.PollOperation(ctx, cred, handle)
		if err != nil {
			// A failed status read is not a failed operation. Keep polling
			// until the local deadline.
			p.logger.Warn().
				Err(err).
				Str("operation_id", handle.ID).
				Msg("Operation status read failed")
		} else {
			handle.Status = status
			if status.IsTerminal() {
				p.logger.Debug().
					Str("operation_id", handle.ID).
					Str("status", string(status)).
					Msg("Operation reached terminal status")
				return status, nil
			}
		}

		if time.Now().Add(interval).After(deadline) {
			handle.Status = OperationStatusTimedOut
			p.logger.Warn().
				Str("operation_id", handle.ID).
				Dur("timeout", timeout).
				Msg("Operation did not reach terminal status before local timeout")
			return OperationStatusTimedOut, nil
		}

		if err := sleepCtx(ctx, interval); err != nil {
			return OperationStatusTimedOut, NewPermanentError("operation poll cancelled", err).
				WithCode(ErrCodeCancelled).
				WithOperation("poll")
		}
	}
}
