package app

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"relay/api/internal/config"
	"relay/api/internal/onboarding"
	"relay/api/internal/rbac"
	"relay/api/internal/store"
	"relay/api/internal/util"
)

// fakeStore is an in-memory stand-in for the Postgres store. Behavior can be
// overridden per test through the closure fields.
type fakeStore struct {
	mu           sync.Mutex
	users        map[string]store.User
	companies    map[string]store.Company
	userCompany  map[string]string
	sessions     map[string]store.OnboardingSession
	agents       map[string]store.Agent
	invitations  map[string]store.Invitation
	integrations map[string]store.Integration
	revokedJTIs  map[string]bool
	resets       map[string]string

	subscriptionStatus string

	pingFn       func(context.Context) error
	getCompanyFn func(companyID string) (store.Company, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:              map[string]store.User{},
		companies:          map[string]store.Company{},
		userCompany:        map[string]string{},
		sessions:           map[string]store.OnboardingSession{},
		agents:             map[string]store.Agent{},
		invitations:        map[string]store.Invitation{},
		integrations:       map[string]store.Integration{},
		revokedJTIs:        map[string]bool{},
		resets:             map[string]string{},
		subscriptionStatus: store.SubscriptionNone,
	}
}

func (f *fakeStore) addUser(user store.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.VerificationToken = token
	f.users[userID] = user
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if user.VerificationToken == token && token != "" {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) EnsureCompanyForUser(_ context.Context, userID, initialName string) (store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if companyID, ok := f.userCompany[userID]; ok {
		return f.companies[companyID], nil
	}
	company := store.Company{
		ID:                 util.NewID("co"),
		Name:               initialName,
		SubscriptionStatus: f.subscriptionStatus,
	}
	f.companies[company.ID] = company
	f.userCompany[userID] = company.ID
	if user, ok := f.users[userID]; ok {
		companyID := company.ID
		user.CompanyID = &companyID
		if user.Role == "" || user.Role == "member" {
			user.Role = "owner"
		}
		f.users[userID] = user
	}
	return company, nil
}

func (f *fakeStore) GetCompany(_ context.Context, companyID string) (store.Company, error) {
	if f.getCompanyFn != nil {
		return f.getCompanyFn(companyID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	company, ok := f.companies[companyID]
	if !ok {
		return store.Company{}, sql.ErrNoRows
	}
	company.SubscriptionStatus = f.subscriptionStatus
	return company, nil
}

func (f *fakeStore) UpdateCompanyProfile(_ context.Context, companyID, name, website string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	company, ok := f.companies[companyID]
	if !ok {
		return sql.ErrNoRows
	}
	if name != "" {
		company.Name = name
	}
	if website != "" {
		company.Website = website
	}
	f.companies[companyID] = company
	return nil
}

func (f *fakeStore) GetOnboardingSessionByUser(_ context.Context, userID string) (store.OnboardingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[userID]
	if !ok {
		return store.OnboardingSession{}, sql.ErrNoRows
	}
	return session, nil
}

func (f *fakeStore) CreateOnboardingSession(_ context.Context, session store.OnboardingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[session.UserID]; ok {
		return nil
	}
	f.sessions[session.UserID] = session
	return nil
}

func (f *fakeStore) AdvanceOnboardingSession(_ context.Context, sessionID string, step int, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for userID, session := range f.sessions {
		if session.ID != sessionID {
			continue
		}
		if session.Status == store.OnboardingCompleted {
			return sql.ErrNoRows
		}
		session.CurrentStep = step
		merged := make(map[string]any, len(session.SessionData)+len(data))
		for k, v := range session.SessionData {
			merged[k] = v
		}
		for k, v := range data {
			merged[k] = v
		}
		session.SessionData = merged
		f.sessions[userID] = session
		return nil
	}
	return sql.ErrNoRows
}

func (f *fakeStore) CompleteOnboardingSession(_ context.Context, sessionID string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for userID, session := range f.sessions {
		if session.ID != sessionID {
			continue
		}
		if session.Status == store.OnboardingCompleted {
			return sql.ErrNoRows
		}
		now := time.Now()
		session.Status = store.OnboardingCompleted
		session.CompletedAt = &now
		merged := make(map[string]any, len(session.SessionData)+len(data))
		for k, v := range session.SessionData {
			merged[k] = v
		}
		for k, v := range data {
			merged[k] = v
		}
		session.SessionData = merged
		f.sessions[userID] = session
		return nil
	}
	return sql.ErrNoRows
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedJTIs[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedJTIs[jti], nil
}

func (f *fakeStore) ListAgents(_ context.Context, companyID string) ([]store.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Agent
	for _, agent := range f.agents {
		if agent.CompanyID == companyID {
			out = append(out, agent)
		}
	}
	return out, nil
}

func (f *fakeStore) GetAgent(_ context.Context, companyID, agentID string) (store.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent, ok := f.agents[agentID]
	if !ok || agent.CompanyID != companyID {
		return store.Agent{}, sql.ErrNoRows
	}
	return agent, nil
}

func (f *fakeStore) InsertAgent(_ context.Context, item store.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[item.ID] = item
	return nil
}

func (f *fakeStore) UpdateAgent(_ context.Context, item store.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.agents[item.ID]; !ok {
		return sql.ErrNoRows
	}
	f.agents[item.ID] = item
	return nil
}

func (f *fakeStore) DeleteAgent(_ context.Context, companyID, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent, ok := f.agents[agentID]
	if !ok || agent.CompanyID != companyID {
		return sql.ErrNoRows
	}
	delete(f.agents, agentID)
	return nil
}

func (f *fakeStore) InsertInvitation(_ context.Context, item store.Invitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invitations[item.ID] = item
	return nil
}

func (f *fakeStore) ListInvitations(_ context.Context, companyID string) ([]store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Invitation
	for _, inv := range f.invitations {
		if inv.CompanyID == companyID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (f *fakeStore) GetInvitationByToken(_ context.Context, token string) (store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.Token == token && inv.AcceptedAt == nil && inv.ExpiresAt.After(time.Now()) {
			return inv, nil
		}
	}
	return store.Invitation{}, sql.ErrNoRows
}

func (f *fakeStore) AcceptInvitation(_ context.Context, invitationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invitations[invitationID]
	if !ok || inv.AcceptedAt != nil {
		return sql.ErrNoRows
	}
	now := time.Now()
	inv.AcceptedAt = &now
	f.invitations[invitationID] = inv
	if user, ok := f.users[userID]; ok {
		companyID := inv.CompanyID
		user.CompanyID = &companyID
		user.Role = inv.Role
		f.users[userID] = user
		f.userCompany[userID] = companyID
	}
	return nil
}

func (f *fakeStore) UpsertIntegration(_ context.Context, item store.Integration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.integrations[item.CompanyID+"/"+item.Provider] = item
	return nil
}

func (f *fakeStore) ListIntegrations(_ context.Context, companyID string) ([]store.Integration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Integration
	for _, integration := range f.integrations {
		if integration.CompanyID == companyID {
			out = append(out, integration)
		}
	}
	return out, nil
}

func (f *fakeStore) DisconnectIntegration(_ context.Context, companyID, provider string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := companyID + "/" + provider
	if _, ok := f.integrations[key]; !ok {
		return sql.ErrNoRows
	}
	delete(f.integrations, key)
	return nil
}

// fakeSessions is an in-memory refresh session store.
type fakeSessions struct {
	mu    sync.Mutex
	items map[string]store.User
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{items: map[string]store.User{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[tokenHash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.items[tokenHash]
	if !ok {
		return store.User{}, errors.New("refresh session not found")
	}
	return user, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, tokenHash)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
			AppBaseURL: "http://localhost:5173",
		},
		store:    fs,
		sessions: newFakeSessions(),
		payments: onboarding.NewCallbackHandler(2, time.Millisecond),
	}
}

func seedUser(fs *fakeStore, id, name, role string) store.User {
	user := store.User{
		ID:              id,
		DisplayName:     name,
		Email:           id + "@example.com",
		Role:            role,
		IsEmailVerified: true,
	}
	fs.addUser(user)
	return user
}

func TestSessionLifecycle(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "usr_1", "Avery", "owner")
	svc := newTestService(fs)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "usr_1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if session.Role != "owner" {
		t.Errorf("expected owner role, got %q", session.Role)
	}

	parsed, err := svc.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	if parsed.UserID != "usr_1" || parsed.UserName != "Avery" {
		t.Errorf("unexpected session %+v", parsed)
	}

	rotated, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if rotated.RefreshToken == session.RefreshToken {
		t.Error("refresh token must rotate")
	}
	if _, err := svc.Refresh(ctx, session.RefreshToken); err == nil {
		t.Error("used refresh token must be rejected")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "usr_1", "Avery", "member")
	svc := newTestService(fs)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "usr_1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := svc.Logout(ctx, session, session.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, session.Token); err == nil {
		t.Error("revoked access token must be rejected")
	}
	if _, err := svc.Refresh(ctx, session.RefreshToken); err == nil {
		t.Error("revoked refresh token must be rejected")
	}
}

func TestSessionCarriesCompanyAfterProvisioning(t *testing.T) {
	fs := newFakeStore()
	seedUser(fs, "usr_1", "Avery", "member")
	svc := newTestService(fs)
	ctx := context.Background()

	if _, err := svc.OnboardingState(ctx, "usr_1"); err != nil {
		t.Fatalf("OnboardingState failed: %v", err)
	}

	session, err := svc.CreateSession(ctx, "usr_1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.CompanyID == "" {
		t.Error("session must carry the provisioned company id")
	}
}

func TestCanDelegatesToRoles(t *testing.T) {
	svc := newTestService(newFakeStore())
	if !svc.Can("owner", rbac.ActionBilling) {
		t.Error("owner must be allowed billing")
	}
	if svc.Can("member", rbac.ActionManage) {
		t.Error("member must not manage")
	}
	if !svc.Can("unknown", rbac.ActionRead) {
		t.Error("unknown roles normalize to member and can read")
	}
}
