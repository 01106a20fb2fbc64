package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"relay/api/internal/store"
)

func authedRequest(t *testing.T, svc *Service, method, path, body string) *http.Request {
	t.Helper()
	return authedAs(t, svc, "usr_1", method, path, body)
}

func authedAs(t *testing.T, svc *Service, userID, method, path, body string) *http.Request {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+session.Token)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func doJSON(t *testing.T, server *HTTPServer, req *http.Request, wantStatus int) map[string]any {
	t.Helper()
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d body=%s", req.Method, req.URL.Path, wantStatus, rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	return payload
}

func TestOnboardingWizardOverHTTP(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "usr_1", "Avery", "owner")
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	// First load provisions the tenant and starts at step 1.
	state := doJSON(t, server, authedRequest(t, svc, http.MethodGet, "/api/onboarding", ""), http.StatusOK)
	if state["step"] != float64(1) {
		t.Fatalf("expected step 1, got %v", state["step"])
	}
	if state["companyId"] == "" {
		t.Fatal("expected a provisioned company id")
	}

	// Profile step requires name and website.
	refusal := doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/onboarding/advance", `{"fields":{"companyName":"Acme"}}`),
		http.StatusUnprocessableEntity)
	if refusal["code"] != "CANNOT_ADVANCE" {
		t.Fatalf("expected CANNOT_ADVANCE, got %v", refusal["code"])
	}

	state = doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/onboarding/advance", `{"fields":{"companyName":"Acme","website":"acme.com"}}`),
		http.StatusOK)
	if state["step"] != float64(2) {
		t.Fatalf("expected step 2, got %v", state["step"])
	}

	state = doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/onboarding/advance", `{"fields":{"onboardingPath":"self_service"}}`),
		http.StatusOK)
	if state["step"] != float64(3) {
		t.Fatalf("expected step 3, got %v", state["step"])
	}

	// Paywall: no subscription yet.
	refusal = doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/onboarding/advance", `{}`),
		http.StatusUnprocessableEntity)
	if refusal["code"] != "CANNOT_ADVANCE" {
		t.Fatalf("expected CANNOT_ADVANCE at paywall, got %v", refusal["code"])
	}

	// The provider redirect lands after the webhook activated the plan.
	fs.mu.Lock()
	fs.subscriptionStatus = store.SubscriptionActive
	fs.mu.Unlock()

	state = doJSON(t, server,
		authedRequest(t, svc, http.MethodGet, "/api/onboarding/payment-callback?success=true", ""),
		http.StatusOK)
	if state["outcome"] != "advanced" {
		t.Fatalf("expected advanced outcome, got %v", state["outcome"])
	}
	if state["step"] != float64(4) {
		t.Fatalf("expected step 4, got %v", state["step"])
	}

	state = doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/onboarding/advance", `{"fields":{"teamSize":"10"}}`),
		http.StatusOK)
	if state["step"] != float64(5) {
		t.Fatalf("expected step 5, got %v", state["step"])
	}

	// Previous is request-local: a fresh load resumes at the persisted step.
	state = doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/onboarding/previous", ""), http.StatusOK)
	if state["step"] != float64(4) {
		t.Fatalf("expected step 4 after previous, got %v", state["step"])
	}
	state = doJSON(t, server, authedRequest(t, svc, http.MethodGet, "/api/onboarding", ""), http.StatusOK)
	if state["step"] != float64(5) {
		t.Fatalf("expected reload to resume at step 5, got %v", state["step"])
	}

	state = doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/onboarding/finish", ""), http.StatusOK)
	if state["completed"] != true {
		t.Fatalf("expected completed wizard, got %v", state["completed"])
	}

	// Completion is one-way.
	conflict := doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/onboarding/advance", `{}`), http.StatusConflict)
	if conflict["code"] != "ONBOARDING_COMPLETED" {
		t.Fatalf("expected ONBOARDING_COMPLETED, got %v", conflict["code"])
	}

	// The captured profile was written onto the tenant record.
	company := doJSON(t, server, authedRequest(t, svc, http.MethodGet, "/api/company", ""), http.StatusOK)
	if company["name"] != "Acme" || company["website"] != "acme.com" {
		t.Fatalf("expected enriched company profile, got %+v", company)
	}
}

func TestPaymentCallbackPendingOverHTTP(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "usr_1", "Avery", "owner")
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/onboarding/advance", `{"fields":{"companyName":"Acme","website":"acme.com"}}`),
		http.StatusOK)
	doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/onboarding/advance", `{"fields":{"onboardingPath":"assisted"}}`),
		http.StatusOK)

	// Subscription never activates: the bounded re-check gives up.
	state := doJSON(t, server,
		authedRequest(t, svc, http.MethodGet, "/api/onboarding/payment-callback?success=true", ""),
		http.StatusOK)
	if state["outcome"] != "pending" {
		t.Fatalf("expected pending outcome, got %v", state["outcome"])
	}
	if state["step"] != float64(3) {
		t.Fatalf("expected wizard to stay at the paywall, got %v", state["step"])
	}
}

func TestPaymentCallbackCanceledOverHTTP(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "usr_1", "Avery", "owner")
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	state := doJSON(t, server,
		authedRequest(t, svc, http.MethodGet, "/api/onboarding/payment-callback?canceled=true", ""),
		http.StatusOK)
	if state["outcome"] != "canceled" {
		t.Fatalf("expected canceled outcome, got %v", state["outcome"])
	}
}

func TestFinishBeforeFinalStepOverHTTP(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "usr_1", "Avery", "owner")
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	refusal := doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/onboarding/finish", ""),
		http.StatusUnprocessableEntity)
	if refusal["code"] != "NOT_AT_FINAL_STEP" {
		t.Fatalf("expected NOT_AT_FINAL_STEP, got %v", refusal["code"])
	}
}
