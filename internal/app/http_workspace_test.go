package app

import (
	"context"
	"net/http"
	"testing"

	"relay/api/internal/knowledge"
	"relay/api/internal/store"
	"relay/api/internal/util"
)

func seedUserWithCompany(fs *fakeStore, userID, name, role string) string {
	user := seedUser(fs, userID, name, role)
	company := store.Company{ID: util.NewID("co"), Name: "Acme", SubscriptionStatus: store.SubscriptionActive}
	fs.mu.Lock()
	fs.companies[company.ID] = company
	fs.userCompany[userID] = company.ID
	user.CompanyID = &company.ID
	fs.users[userID] = user
	fs.mu.Unlock()
	return company.ID
}

func TestAgentLifecycleOverHTTP(t *testing.T) {
	fs := newFakeStore()
	seedUserWithCompany(fs, "usr_1", "Avery", "owner")
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	created := doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/agents",
			`{"name":"Support Bot","temperature":0.4,"instructions":"<h1>Tone</h1><p>Be <strong>concise</strong>.</p>"}`),
		http.StatusCreated)
	agentID, _ := created["id"].(string)
	if agentID == "" {
		t.Fatal("expected agent id")
	}
	if created["status"] != "draft" {
		t.Errorf("new agents default to draft, got %v", created["status"])
	}
	instructions, _ := created["instructions"].(string)
	if instructions != "# Tone\nBe **concise**." {
		t.Errorf("instructions were not converted to markdown: %q", instructions)
	}

	list := doJSON(t, server, authedRequest(t, svc, http.MethodGet, "/api/agents", ""), http.StatusOK)
	agents, _ := list["agents"].([]any)
	if len(agents) != 1 {
		t.Fatalf("expected one agent, got %d", len(agents))
	}

	updated := doJSON(t, server,
		authedRequest(t, svc, http.MethodPut, "/api/agents/"+agentID,
			`{"name":"Support Bot","temperature":0.7,"status":"active","instructions":"Be concise."}`),
		http.StatusOK)
	if updated["status"] != "active" {
		t.Errorf("expected active status, got %v", updated["status"])
	}

	doJSON(t, server, authedRequest(t, svc, http.MethodGet, "/api/agents/"+agentID, ""), http.StatusOK)
	doJSON(t, server, authedRequest(t, svc, http.MethodDelete, "/api/agents/"+agentID, ""), http.StatusOK)

	rrPayload := doJSON(t, server,
		authedRequest(t, svc, http.MethodGet, "/api/agents/"+agentID, ""), http.StatusNotFound)
	if rrPayload["code"] != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND after delete, got %v", rrPayload["code"])
	}
}

func TestAgentValidationOverHTTP(t *testing.T) {
	fs := newFakeStore()
	seedUserWithCompany(fs, "usr_1", "Avery", "owner")
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	refusal := doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/agents", `{"name":"Bot","temperature":3}`),
		http.StatusUnprocessableEntity)
	if refusal["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", refusal["code"])
	}

	doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/agents", `{"name":"  "}`),
		http.StatusUnprocessableEntity)
	doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/agents", `{"name":"Bot","status":"sleeping"}`),
		http.StatusUnprocessableEntity)
}

func TestWorkspaceRequiresCompany(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "usr_1", "Avery", "member")
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	refusal := doJSON(t, server,
		authedRequest(t, svc, http.MethodGet, "/api/agents", ""), http.StatusConflict)
	if refusal["code"] != "ONBOARDING_REQUIRED" {
		t.Fatalf("expected ONBOARDING_REQUIRED, got %v", refusal["code"])
	}
}

func TestMemberCannotManage(t *testing.T) {
	fs := newFakeStore()
	companyID := seedUserWithCompany(fs, "usr_1", "Avery", "member")
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	forbidden := doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/invitations", `{"email":"new@example.com","role":"member"}`),
		http.StatusForbidden)
	if forbidden["code"] != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", forbidden["code"])
	}

	fs.mu.Lock()
	fs.agents["agt_1"] = store.Agent{ID: "agt_1", CompanyID: companyID, Name: "Bot"}
	fs.mu.Unlock()
	doJSON(t, server,
		authedRequest(t, svc, http.MethodDelete, "/api/agents/agt_1", ""), http.StatusForbidden)

	// Members can still read and write.
	doJSON(t, server, authedRequest(t, svc, http.MethodGet, "/api/agents", ""), http.StatusOK)
}

func TestInvitationFlowOverHTTP(t *testing.T) {
	fs := newFakeStore()
	companyID := seedUserWithCompany(fs, "usr_1", "Avery", "owner")
	seedUser(fs, "usr_2", "Blake", "member")
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	invited := doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/invitations", `{"email":"Blake@Example.com","role":"admin"}`),
		http.StatusCreated)
	if invited["email"] != "blake@example.com" {
		t.Errorf("invitation email must be normalized, got %v", invited["email"])
	}
	token, _ := invited["devInviteToken"].(string)
	if token == "" {
		t.Fatal("expected dev invite token when SMTP is unconfigured")
	}

	accepted := doJSON(t, server,
		authedAs(t, svc, "usr_2", http.MethodPost, "/api/invitations/accept", `{"token":"`+token+`"}`),
		http.StatusOK)
	if accepted["companyId"] != companyID {
		t.Errorf("expected company %s, got %v", companyID, accepted["companyId"])
	}
	if accepted["role"] != "admin" {
		t.Errorf("expected admin role, got %v", accepted["role"])
	}

	list := doJSON(t, server,
		authedRequest(t, svc, http.MethodGet, "/api/invitations", ""), http.StatusOK)
	invitations, _ := list["invitations"].([]any)
	if len(invitations) != 1 {
		t.Fatalf("expected one invitation, got %d", len(invitations))
	}
	first, _ := invitations[0].(map[string]any)
	if first["accepted"] != true {
		t.Errorf("expected accepted invitation, got %v", first["accepted"])
	}

	// A used token cannot be replayed.
	doJSON(t, server,
		authedAs(t, svc, "usr_2", http.MethodPost, "/api/invitations/accept", `{"token":"`+token+`"}`),
		http.StatusNotFound)
}

func TestInviteOwnerIsRefused(t *testing.T) {
	fs := newFakeStore()
	seedUserWithCompany(fs, "usr_1", "Avery", "owner")
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/invitations", `{"email":"new@example.com","role":"owner"}`),
		http.StatusUnprocessableEntity)
}

func TestIntegrationsLifecycleOverHTTP(t *testing.T) {
	fs := newFakeStore()
	seedUserWithCompany(fs, "usr_1", "Avery", "owner")
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/integrations", `{"provider":"slack"}`),
		http.StatusCreated)
	doJSON(t, server,
		authedRequest(t, svc, http.MethodPost, "/api/integrations", `{"provider":"teleporter"}`),
		http.StatusUnprocessableEntity)

	list := doJSON(t, server,
		authedRequest(t, svc, http.MethodGet, "/api/integrations", ""), http.StatusOK)
	integrations, _ := list["integrations"].([]any)
	if len(integrations) != 1 {
		t.Fatalf("expected one integration, got %d", len(integrations))
	}

	doJSON(t, server,
		authedRequest(t, svc, http.MethodDelete, "/api/integrations/slack", ""), http.StatusOK)
	doJSON(t, server,
		authedRequest(t, svc, http.MethodDelete, "/api/integrations/slack", ""), http.StatusNotFound)
}

// fakeKnowledge satisfies the service's knowledge surface without MinIO or
// Meilisearch behind it.
type fakeKnowledge struct {
	enabled bool
	docs    []store.KnowledgeDocument
}

func (f *fakeKnowledge) UploadsEnabled() bool { return f.enabled }

func (f *fakeKnowledge) Upload(_ context.Context, req knowledge.UploadRequest) (store.KnowledgeDocument, error) {
	doc := store.KnowledgeDocument{
		ID:        util.NewID("doc"),
		CompanyID: req.CompanyID,
		FileName:  req.Filename,
		SizeBytes: req.Size,
		Status:    store.DocumentUploaded,
	}
	f.docs = append(f.docs, doc)
	return doc, nil
}

func (f *fakeKnowledge) List(_ context.Context, companyID string) ([]store.KnowledgeDocument, error) {
	var out []store.KnowledgeDocument
	for _, doc := range f.docs {
		if doc.CompanyID == companyID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeKnowledge) DownloadURL(_ context.Context, companyID, docID string) (string, error) {
	return "https://objects.local/" + companyID + "/" + docID, nil
}

func (f *fakeKnowledge) Search(_ context.Context, companyID, query string, _ int) ([]knowledge.SearchHit, error) {
	return []knowledge.SearchHit{{ID: "doc_1", Filename: "handbook.pdf", Snippet: query}}, nil
}

func TestDocumentsUnavailableWithoutStorage(t *testing.T) {
	fs := newFakeStore()
	seedUserWithCompany(fs, "usr_1", "Avery", "owner")
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	refusal := doJSON(t, server,
		authedRequest(t, svc, http.MethodGet, "/api/documents/doc_1/download", ""),
		http.StatusServiceUnavailable)
	if refusal["code"] != "UPLOADS_UNAVAILABLE" {
		t.Fatalf("expected UPLOADS_UNAVAILABLE, got %v", refusal["code"])
	}
}

func TestDocumentSearchOverHTTP(t *testing.T) {
	fs := newFakeStore()
	seedUserWithCompany(fs, "usr_1", "Avery", "owner")
	svc := newTestService(fs)
	svc.knowledge = &fakeKnowledge{enabled: true}
	server := NewHTTPServer(svc, "*")

	doJSON(t, server,
		authedRequest(t, svc, http.MethodGet, "/api/documents/search", ""),
		http.StatusUnprocessableEntity)

	result := doJSON(t, server,
		authedRequest(t, svc, http.MethodGet, "/api/documents/search?q=refund+policy", ""),
		http.StatusOK)
	hits, _ := result["hits"].([]any)
	if len(hits) != 1 {
		t.Fatalf("expected one hit, got %d", len(hits))
	}
}
