// Package onboarding implements the company onboarding wizard: a five-step,
// server-persisted flow that provisions a tenant on first load, captures the
// business profile, verifies the subscription at the paywall, and marks the
// tenant ready for use.
package onboarding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"relay/api/internal/store"
	"relay/api/internal/util"
)

var (
	// ErrCompleted is returned when a mutation is attempted on a session
	// that already reached the terminal state. Completion is one-way.
	ErrCompleted = errors.New("onboarding already completed")
	// ErrNotAtFinalStep is returned by Finish when the wizard has not
	// reached the last step.
	ErrNotAtFinalStep = errors.New("onboarding is not at the final step")
)

// SessionStore is the persistence contract for wizard progress. The write
// side is a tagged set of operations: Advance can never set the terminal
// status and Complete is the only operation that can.
type SessionStore interface {
	GetOnboardingSessionByUser(ctx context.Context, userID string) (store.OnboardingSession, error)
	CreateOnboardingSession(ctx context.Context, session store.OnboardingSession) error
	AdvanceOnboardingSession(ctx context.Context, sessionID string, step int, data map[string]any) error
	CompleteOnboardingSession(ctx context.Context, sessionID string, data map[string]any) error
}

// CompanyStore provisions and reads the tenant record.
type CompanyStore interface {
	EnsureCompanyForUser(ctx context.Context, userID, initialName string) (store.Company, error)
	GetCompany(ctx context.Context, companyID string) (store.Company, error)
	UpdateCompanyProfile(ctx context.Context, companyID, name, website string) error
}

// GateResult is the outcome of a Next attempt. A refused gate is a normal
// result, not an error: the step does not change and Reason explains why.
type GateResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Controller drives one user's wizard. It holds the in-memory step position,
// which can trail the persisted step after Previous: backing up is a local
// affordance only and a reload resumes at the last persisted step.
type Controller struct {
	sessions  SessionStore
	companies CompanyStore
	session   store.OnboardingSession
	step      int
	form      Form
}

// Load resolves the user's tenant (creating and linking one transactionally
// if absent), then reads or creates the onboarding session and replays its
// accumulated form data. There is at most one session per user: a repeat
// visit resumes, never restarts.
func Load(ctx context.Context, sessions SessionStore, companies CompanyStore, userID string) (*Controller, error) {
	company, err := companies.EnsureCompanyForUser(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("ensure company: %w", err)
	}

	session, err := sessions.GetOnboardingSessionByUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		companyID := company.ID
		session = store.OnboardingSession{
			ID:          util.NewID("onb"),
			UserID:      userID,
			CompanyID:   &companyID,
			CurrentStep: FirstStep,
			Status:      store.OnboardingInProgress,
			SessionData: map[string]any{},
		}
		if err := sessions.CreateOnboardingSession(ctx, session); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		// Re-read so a racing create resolves to the surviving row
		// (last write wins is acceptable: onboarding is single-actor).
		session, err = sessions.GetOnboardingSessionByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("reload session: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	form := make(Form, len(session.SessionData))
	for key, value := range session.SessionData {
		form[key] = value
	}

	return &Controller{
		sessions:  sessions,
		companies: companies,
		session:   session,
		step:      session.CurrentStep,
		form:      form,
	}, nil
}

// Step returns the in-memory step position.
func (c *Controller) Step() int { return c.step }

// Session returns the last known persisted session state.
func (c *Controller) Session() store.OnboardingSession { return c.session }

// Completed reports whether the session reached the terminal state.
func (c *Controller) Completed() bool { return c.session.Status == store.OnboardingCompleted }

// CompanyID returns the provisioned tenant id. Load guarantees it is set
// before any step beyond the first can be reached.
func (c *Controller) CompanyID() string {
	if c.session.CompanyID == nil {
		return ""
	}
	return *c.session.CompanyID
}

// SetFields merges step-local form input into the in-memory form state.
// Nothing is persisted until the next successful transition.
func (c *Controller) SetFields(fields map[string]any) {
	for key, value := range fields {
		c.form[key] = value
	}
}

// Field returns the current in-memory value of a form field.
func (c *Controller) Field(key string) any { return c.form[key] }

// Next evaluates the gate for the following step and, if allowed, persists
// the new step together with the merged form fields. On refusal neither the
// in-memory nor the persisted step changes.
func (c *Controller) Next(ctx context.Context) (GateResult, error) {
	if c.Completed() {
		return GateResult{}, ErrCompleted
	}
	if c.step >= FinalStep {
		return GateResult{Allowed: false, Reason: "already at the final step"}, nil
	}

	target := c.step + 1

	// The paywall gate needs a fresh subscription read: payment
	// confirmation happens out-of-band and must not be decided from a
	// cached snapshot.
	var subscriptionStatus string
	if target == StepDetails {
		company, err := c.companies.GetCompany(ctx, c.CompanyID())
		if err != nil {
			return GateResult{}, fmt.Errorf("read subscription status: %w", err)
		}
		subscriptionStatus = company.SubscriptionStatus
	}

	if !CanAdvance(target, c.form, subscriptionStatus) {
		return GateResult{Allowed: false, Reason: refusalReason(target)}, nil
	}

	if err := c.sessions.AdvanceOnboardingSession(ctx, c.session.ID, target, c.form); err != nil {
		return GateResult{}, fmt.Errorf("persist step %d: %w", target, err)
	}

	c.step = target
	c.session.CurrentStep = target
	for key, value := range c.form {
		c.session.SessionData[key] = value
	}
	return GateResult{Allowed: true}, nil
}

// Previous steps back in memory only. Deliberately not persisted: a page
// reload resumes at the last persisted step, which may be ahead of where the
// user stepped back to. This mirrors the shipped product behavior; confirm
// with product before changing it.
func (c *Controller) Previous() int {
	if c.step > FirstStep {
		c.step--
	}
	return c.step
}

// Finish performs the terminal transition from the final step, then writes
// the captured company name and website onto the tenant record as a
// best-effort enrichment: if that secondary write fails the session is still
// complete and the failure is only logged.
func (c *Controller) Finish(ctx context.Context) error {
	if c.Completed() {
		return ErrCompleted
	}
	if c.step != FinalStep {
		return ErrNotAtFinalStep
	}

	if err := c.sessions.CompleteOnboardingSession(ctx, c.session.ID, c.form); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	now := time.Now()
	c.session.Status = store.OnboardingCompleted
	c.session.CompletedAt = &now
	for key, value := range c.form {
		c.session.SessionData[key] = value
	}

	name := c.form.str(FieldCompanyName)
	website := c.form.str(FieldWebsite)
	if name != "" || website != "" {
		if err := c.companies.UpdateCompanyProfile(ctx, c.CompanyID(), name, website); err != nil {
			log.Printf("onboarding: company profile enrichment after completion failed: %v", err)
		}
	}
	return nil
}
