package onboarding

import "strings"

// Wizard steps, 1-indexed. Step 3 is the paywall; step 4 is the
// path-specific detail form; step 5 is review and finish.
const (
	StepProfile = 1
	StepPath    = 2
	StepPlan    = 3
	StepDetails = 4
	StepReview  = 5

	FirstStep = StepProfile
	FinalStep = StepReview
)

// The two mutually exclusive onboarding paths. The chosen path decides which
// detail form is shown at step 4 (the forms themselves are a client concern).
const (
	PathSelfService = "self_service"
	PathAssisted    = "assisted"
)

// Well-known sessionData keys. sessionData is an open map; these are the
// keys the gates look at.
const (
	FieldCompanyName = "companyName"
	FieldWebsite     = "website"
	FieldIndustry    = "industry"
	FieldDescription = "description"
	FieldPath        = "onboardingPath"
)

// Form is the accumulated wizard form state.
type Form map[string]any

func (f Form) str(key string) string {
	value, ok := f[key]
	if !ok {
		return ""
	}
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return s
}

// SubscriptionAllowed reports whether a subscription status clears the
// paywall. Trialing counts as paid.
func SubscriptionAllowed(status string) bool {
	return status == "active" || status == "trialing"
}

// CanAdvance decides whether the wizard may enter the target step.
// It is pure: the step-4 rule takes the subscription status as an argument,
// and the caller is responsible for fetching it fresh (never from a cached
// snapshot).
func CanAdvance(target int, form Form, subscriptionStatus string) bool {
	switch target {
	case StepPath:
		return strings.TrimSpace(form.str(FieldCompanyName)) != "" &&
			strings.TrimSpace(form.str(FieldWebsite)) != ""
	case StepPlan:
		path := form.str(FieldPath)
		return path == PathSelfService || path == PathAssisted
	case StepDetails:
		return SubscriptionAllowed(subscriptionStatus)
	case StepReview:
		// Step 4's path-specific form validates itself client-side.
		return true
	default:
		return false
	}
}

// refusalReason is the user-facing explanation for a gate refusal. Gate
// refusals are normal results, not errors; the HTTP layer returns them as
// 422 with this reason.
func refusalReason(target int) string {
	switch target {
	case StepPath:
		return "company name and website are required"
	case StepPlan:
		return "choose an onboarding path"
	case StepDetails:
		return "an active or trialing subscription is required"
	default:
		return "cannot advance"
	}
}
