package onboarding

import (
	"context"
	"time"
)

// CallbackOutcome is the result of handling a payment redirect.
type CallbackOutcome string

const (
	// OutcomeAdvanced means the subscription was verified and the wizard
	// moved past the paywall.
	OutcomeAdvanced CallbackOutcome = "advanced"
	// OutcomePending means the subscription never reached the allowed set
	// within the retry budget (usually webhook lag); the caller shows a
	// persistent "verification pending" notice.
	OutcomePending CallbackOutcome = "pending"
	// OutcomeCanceled means the user backed out at the payment provider.
	OutcomeCanceled CallbackOutcome = "canceled"
	// OutcomeIgnored means no indicator applied (no parameter, or the
	// wizard is not at the paywall step).
	OutcomeIgnored CallbackOutcome = "ignored"
)

// CallbackHandler reacts to the redirect back from the payment provider.
// The re-check loop is bounded by an explicit attempt counter; an
// unconditioned self-rescheduling timer here would poll forever on a
// never-resolving subscription.
type CallbackHandler struct {
	attempts int
	delay    time.Duration
}

func NewCallbackHandler(attempts int, delay time.Duration) *CallbackHandler {
	if attempts <= 0 {
		attempts = 3
	}
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &CallbackHandler{attempts: attempts, delay: delay}
}

// HandleRedirect consumes the success/canceled indicators for the given
// wizard. On success it re-verifies the subscription by attempting the
// paywall transition, re-checking at most `attempts` times with a fixed
// delay between checks. The caller strips the indicators from the URL
// afterwards so a refresh does not re-trigger the handler.
func (h *CallbackHandler) HandleRedirect(ctx context.Context, ctrl *Controller, success, canceled bool) (CallbackOutcome, error) {
	if canceled {
		return OutcomeCanceled, nil
	}
	if !success {
		return OutcomeIgnored, nil
	}
	if ctrl.Completed() || ctrl.Step() != StepPlan {
		return OutcomeIgnored, nil
	}

	for attempt := 0; attempt < h.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return OutcomePending, ctx.Err()
			case <-time.After(h.delay):
			}
		}
		result, err := ctrl.Next(ctx)
		if err != nil {
			return OutcomePending, err
		}
		if result.Allowed {
			return OutcomeAdvanced, nil
		}
	}
	return OutcomePending, nil
}
