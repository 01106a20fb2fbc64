package app

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"relay/api/internal/auth"
	"relay/api/internal/authpw"
	"relay/api/internal/config"
	"relay/api/internal/knowledge"
	"relay/api/internal/markdown"
	"relay/api/internal/onboarding"
	"relay/api/internal/rbac"
	"relay/api/internal/store"
	"relay/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	CompanyID    string
	JTI          string
	ExpiresAt    time.Time
}

type AgentInput struct {
	Name         string  `json:"name"`
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	Status       string  `json:"status"`
	Instructions string  `json:"instructions"`
}

var allowedAgentStatus = map[string]struct{}{
	"draft":  {},
	"active": {},
	"paused": {},
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	EnsureCompanyForUser(ctx context.Context, userID, initialName string) (store.Company, error)
	GetCompany(ctx context.Context, companyID string) (store.Company, error)
	UpdateCompanyProfile(ctx context.Context, companyID, name, website string) error
	GetOnboardingSessionByUser(ctx context.Context, userID string) (store.OnboardingSession, error)
	CreateOnboardingSession(ctx context.Context, session store.OnboardingSession) error
	AdvanceOnboardingSession(ctx context.Context, sessionID string, step int, data map[string]any) error
	CompleteOnboardingSession(ctx context.Context, sessionID string, data map[string]any) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	ListAgents(ctx context.Context, companyID string) ([]store.Agent, error)
	GetAgent(ctx context.Context, companyID, agentID string) (store.Agent, error)
	InsertAgent(ctx context.Context, item store.Agent) error
	UpdateAgent(ctx context.Context, item store.Agent) error
	DeleteAgent(ctx context.Context, companyID, agentID string) error
	InsertInvitation(ctx context.Context, item store.Invitation) error
	ListInvitations(ctx context.Context, companyID string) ([]store.Invitation, error)
	GetInvitationByToken(ctx context.Context, token string) (store.Invitation, error)
	AcceptInvitation(ctx context.Context, invitationID, userID string) error
	UpsertIntegration(ctx context.Context, item store.Integration) error
	ListIntegrations(ctx context.Context, companyID string) ([]store.Integration, error)
	DisconnectIntegration(ctx context.Context, companyID, provider string) error
	Ping(ctx context.Context) error
}

// refreshStore holds refresh sessions. Redis-backed in production, with the
// PostgreSQL store as fallback when Redis is not configured.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type promptService interface {
	EnsureAgentRepo(agentID, instructions, author string) error
	CommitInstructions(agentID, instructions, author, message string) (store.RevisionInfo, error)
	Head(agentID string) (string, store.RevisionInfo, error)
	History(agentID string, limit int) ([]store.RevisionInfo, error)
	GetByHash(agentID, hash string) (string, store.RevisionInfo, error)
}

type knowledgeService interface {
	UploadsEnabled() bool
	Upload(ctx context.Context, req knowledge.UploadRequest) (store.KnowledgeDocument, error)
	List(ctx context.Context, companyID string) ([]store.KnowledgeDocument, error)
	DownloadURL(ctx context.Context, companyID, docID string) (string, error)
	Search(ctx context.Context, companyID, query string, limit int) ([]knowledge.SearchHit, error)
}

type mailer interface {
	IsConfigured() bool
	SendInvitationEmail(to, inviterName, companyName, inviteURL string) error
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

type captureService interface {
	Available() bool
	CaptureText(ctx context.Context, url string) (string, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	prompts   promptService
	knowledge knowledgeService
	email     mailer
	authpw    *authpw.Service
	payments  *onboarding.CallbackHandler
	capture   captureService
}

type Deps struct {
	Sessions  refreshStore
	Prompts   promptService
	Knowledge knowledgeService
	Email     mailer
	AuthPW    *authpw.Service
	Capture   captureService
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Deps) *Service {
	sessions := deps.Sessions
	if sessions == nil {
		sessions = dataStore
	}
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		prompts:   deps.Prompts,
		knowledge: deps.Knowledge,
		email:     deps.Email,
		authpw:    deps.AuthPW,
		payments:  onboarding.NewCallbackHandler(cfg.PaymentVerifyAttempts, cfg.PaymentVerifyDelay),
		capture:   deps.Capture,
	}
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateSession issues access and refresh tokens for an authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	companyID := ""
	if user.CompanyID != nil {
		companyID = *user.CompanyID
	}

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:       user.ID,
		Name:      user.DisplayName,
		Role:      user.Role,
		CompanyID: companyID,
		JTI:       jti,
		Exp:       expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		CompanyID:    companyID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	// Role and tenant come from the database, not the token, so a
	// mid-session role change or onboarding completion is visible
	// immediately.
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	companyID := ""
	if user.CompanyID != nil {
		companyID = *user.CompanyID
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		CompanyID: companyID,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// SendVerificationEmail delivers the email verification link. Best-effort:
// the dev bypass token covers unconfigured environments.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	verifyURL := fmt.Sprintf("%s/verify-email?token=%s", strings.TrimRight(s.cfg.AppBaseURL, "/"), token)
	if err := s.email.SendVerificationEmail(to, userName, verifyURL); err != nil {
		log.Printf("app: send verification email to %s: %v", to, err)
	}
}

// SendPasswordResetEmail delivers the password reset link. Best-effort.
func (s *Service) SendPasswordResetEmail(to, token string) {
	if !s.SMTPConfigured() {
		return
	}
	resetURL := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimRight(s.cfg.AppBaseURL, "/"), token)
	if err := s.email.SendPasswordResetEmail(to, "", resetURL); err != nil {
		log.Printf("app: send password reset email to %s: %v", to, err)
	}
}

// --- Onboarding ---

func (s *Service) loadOnboarding(ctx context.Context, userID string) (*onboarding.Controller, error) {
	return onboarding.Load(ctx, s.store, s.store, userID)
}

// OnboardingState provisions the tenant if needed and returns the wizard's
// resume point.
func (s *Service) OnboardingState(ctx context.Context, userID string) (map[string]any, error) {
	ctrl, err := s.loadOnboarding(ctx, userID)
	if err != nil {
		return nil, err
	}
	return onboardingPayload(ctrl), nil
}

// AdvanceOnboarding merges step input and attempts the forward transition.
// A refused gate returns a 422 with the reason; nothing is persisted.
func (s *Service) AdvanceOnboarding(ctx context.Context, userID string, fields map[string]any) (map[string]any, error) {
	ctrl, err := s.loadOnboarding(ctx, userID)
	if err != nil {
		return nil, err
	}
	ctrl.SetFields(fields)

	result, err := ctrl.Next(ctx)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return nil, domainError(422, "CANNOT_ADVANCE", result.Reason, nil)
	}
	return onboardingPayload(ctrl), nil
}

// PreviousOnboarding steps the wizard back for the current request only. The
// persisted step is untouched; a reload resumes ahead of this position.
func (s *Service) PreviousOnboarding(ctx context.Context, userID string) (map[string]any, error) {
	ctrl, err := s.loadOnboarding(ctx, userID)
	if err != nil {
		return nil, err
	}
	ctrl.Previous()
	return onboardingPayload(ctrl), nil
}

// FinishOnboarding completes the wizard and, in the background, seeds the
// knowledge base with a snapshot of the company website.
func (s *Service) FinishOnboarding(ctx context.Context, userID string) (map[string]any, error) {
	ctrl, err := s.loadOnboarding(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := ctrl.Finish(ctx); err != nil {
		return nil, err
	}

	if website, _ := ctrl.Field(onboarding.FieldWebsite).(string); website != "" {
		go s.seedWebsiteSnapshot(ctrl.CompanyID(), website)
	}

	return onboardingPayload(ctrl), nil
}

// PaymentCallback consumes the redirect indicators from the payment provider
// and re-verifies the subscription with a bounded number of checks.
func (s *Service) PaymentCallback(ctx context.Context, userID string, success, canceled bool) (map[string]any, error) {
	ctrl, err := s.loadOnboarding(ctx, userID)
	if err != nil {
		return nil, err
	}
	outcome, err := s.payments.HandleRedirect(ctx, ctrl, success, canceled)
	if err != nil && outcome != onboarding.OutcomePending {
		return nil, err
	}
	payload := onboardingPayload(ctrl)
	payload["outcome"] = string(outcome)
	return payload, nil
}

// seedWebsiteSnapshot captures the company website's text and uploads it as
// the first knowledge document. Best-effort: onboarding already completed.
func (s *Service) seedWebsiteSnapshot(companyID, website string) {
	if s.capture == nil || !s.capture.Available() {
		return
	}
	if s.knowledge == nil || !s.knowledge.UploadsEnabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	text, err := s.capture.CaptureText(ctx, website)
	if err != nil {
		log.Printf("app: website snapshot for %s: %v", companyID, err)
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	body := []byte(text)
	if _, err := s.knowledge.Upload(ctx, knowledge.UploadRequest{
		CompanyID:  companyID,
		Filename:   "website-snapshot.md",
		Size:       int64(len(body)),
		Body:       bytes.NewReader(body),
		UploadedBy: "system",
		Text:       text,
	}); err != nil {
		log.Printf("app: seed website snapshot for %s: %v", companyID, err)
	}
}

func onboardingPayload(ctrl *onboarding.Controller) map[string]any {
	session := ctrl.Session()
	payload := map[string]any{
		"sessionId":   session.ID,
		"companyId":   ctrl.CompanyID(),
		"step":        ctrl.Step(),
		"status":      session.Status,
		"completed":   ctrl.Completed(),
		"sessionData": session.SessionData,
	}
	if session.CompletedAt != nil {
		payload["completedAt"] = session.CompletedAt.Unix()
	}
	return payload
}

// --- Company ---

func (s *Service) GetCompanyProfile(ctx context.Context, session Session) (map[string]any, error) {
	if session.CompanyID == "" {
		return nil, notFoundError("No company for this user")
	}
	company, err := s.store.GetCompany(ctx, session.CompanyID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":                 company.ID,
		"name":               company.Name,
		"website":            company.Website,
		"industry":           company.Industry,
		"subscriptionStatus": company.SubscriptionStatus,
	}, nil
}

func (s *Service) UpdateCompanyProfile(ctx context.Context, session Session, name, website string) (map[string]any, error) {
	if session.CompanyID == "" {
		return nil, notFoundError("No company for this user")
	}
	name = strings.TrimSpace(name)
	website = strings.TrimSpace(website)
	if name == "" && website == "" {
		return nil, validationError("name or website is required")
	}
	if err := s.store.UpdateCompanyProfile(ctx, session.CompanyID, name, website); err != nil {
		return nil, err
	}
	return s.GetCompanyProfile(ctx, session)
}

// --- Agents ---

func (s *Service) requireCompany(session Session) (string, error) {
	if session.CompanyID == "" {
		return "", conflictError("ONBOARDING_REQUIRED", "Complete onboarding before using the workspace")
	}
	return session.CompanyID, nil
}

func validateAgentInput(input AgentInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return validationError("agent name is required")
	}
	if input.Temperature < 0 || input.Temperature > 2 {
		return validationError("temperature must be between 0 and 2")
	}
	if input.Status != "" {
		if _, ok := allowedAgentStatus[input.Status]; !ok {
			return validationError("status must be draft, active, or paused")
		}
	}
	return nil
}

func (s *Service) CreateAgent(ctx context.Context, session Session, input AgentInput) (map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	if err := validateAgentInput(input); err != nil {
		return nil, err
	}

	status := input.Status
	if status == "" {
		status = "draft"
	}
	model := input.Model
	if model == "" {
		model = "default"
	}
	instructions := markdown.Convert(input.Instructions)

	agent := store.Agent{
		ID:           util.NewID("agt"),
		CompanyID:    companyID,
		Name:         strings.TrimSpace(input.Name),
		Model:        model,
		Temperature:  input.Temperature,
		Status:       status,
		Instructions: instructions,
		CreatedBy:    session.UserName,
	}
	if err := s.store.InsertAgent(ctx, agent); err != nil {
		return nil, err
	}

	if s.prompts != nil {
		if err := s.prompts.EnsureAgentRepo(agent.ID, instructions, session.UserName); err != nil {
			log.Printf("app: init instruction history for %s: %v", agent.ID, err)
		}
	}

	return agentToMap(agent), nil
}

func (s *Service) ListAgents(ctx context.Context, session Session) ([]map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	agents, err := s.store.ListAgents(ctx, companyID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(agents))
	for _, agent := range agents {
		items = append(items, agentToMap(agent))
	}
	return items, nil
}

func (s *Service) GetAgent(ctx context.Context, session Session, agentID string) (map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	agent, err := s.store.GetAgent(ctx, companyID, agentID)
	if err != nil {
		return nil, err
	}
	payload := agentToMap(agent)
	if s.prompts != nil {
		if _, rev, err := s.prompts.Head(agentID); err == nil {
			payload["revision"] = revisionToMap(rev)
		}
	}
	return payload, nil
}

func (s *Service) UpdateAgent(ctx context.Context, session Session, agentID string, input AgentInput) (map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	if err := validateAgentInput(input); err != nil {
		return nil, err
	}

	agent, err := s.store.GetAgent(ctx, companyID, agentID)
	if err != nil {
		return nil, err
	}

	instructionsChanged := false
	agent.Name = strings.TrimSpace(input.Name)
	if input.Model != "" {
		agent.Model = input.Model
	}
	agent.Temperature = input.Temperature
	if input.Status != "" {
		agent.Status = input.Status
	}
	if converted := markdown.Convert(input.Instructions); converted != agent.Instructions {
		agent.Instructions = converted
		instructionsChanged = true
	}

	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return nil, err
	}

	payload := agentToMap(agent)
	if instructionsChanged && s.prompts != nil {
		if err := s.prompts.EnsureAgentRepo(agent.ID, agent.Instructions, session.UserName); err != nil {
			log.Printf("app: ensure instruction history for %s: %v", agent.ID, err)
		}
		rev, err := s.prompts.CommitInstructions(agent.ID, agent.Instructions, session.UserName, "Update agent instructions")
		if err != nil {
			log.Printf("app: commit instructions for %s: %v", agent.ID, err)
		} else {
			payload["revision"] = revisionToMap(rev)
		}
	}
	return payload, nil
}

func (s *Service) DeleteAgent(ctx context.Context, session Session, agentID string) error {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return err
	}
	return s.store.DeleteAgent(ctx, companyID, agentID)
}

func (s *Service) AgentHistory(ctx context.Context, session Session, agentID string, limit int) (map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetAgent(ctx, companyID, agentID); err != nil {
		return nil, err
	}
	if s.prompts == nil {
		return map[string]any{"revisions": []any{}}, nil
	}
	revisions, err := s.prompts.History(agentID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(revisions))
	for _, rev := range revisions {
		items = append(items, revisionToMap(rev))
	}
	return map[string]any{"revisions": items}, nil
}

func (s *Service) AgentRevision(ctx context.Context, session Session, agentID, hash string) (map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetAgent(ctx, companyID, agentID); err != nil {
		return nil, err
	}
	if s.prompts == nil {
		return nil, notFoundError("Instruction history unavailable")
	}
	instructions, rev, err := s.prompts.GetByHash(agentID, hash)
	if err != nil {
		return nil, notFoundError("Revision not found")
	}
	payload := revisionToMap(rev)
	payload["instructions"] = instructions
	return payload, nil
}

// --- Knowledge ---

func (s *Service) UploadDocument(ctx context.Context, session Session, req knowledge.UploadRequest) (map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	if s.knowledge == nil || !s.knowledge.UploadsEnabled() {
		return nil, domainError(503, "UPLOADS_UNAVAILABLE", "Document uploads are not configured", nil)
	}
	req.CompanyID = companyID
	req.UploadedBy = session.UserName
	doc, err := s.knowledge.Upload(ctx, req)
	if err != nil {
		return nil, validationError(err.Error())
	}
	return documentToMap(doc), nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session) ([]map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	if s.knowledge == nil {
		return []map[string]any{}, nil
	}
	docs, err := s.knowledge.List(ctx, companyID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, documentToMap(doc))
	}
	return items, nil
}

func (s *Service) DocumentDownloadURL(ctx context.Context, session Session, docID string) (map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	if s.knowledge == nil || !s.knowledge.UploadsEnabled() {
		return nil, domainError(503, "UPLOADS_UNAVAILABLE", "Document storage is not configured", nil)
	}
	url, err := s.knowledge.DownloadURL(ctx, companyID, docID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": url}, nil
}

func (s *Service) SearchKnowledge(ctx context.Context, session Session, query string, limit int) (map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, validationError("q is required")
	}
	if s.knowledge == nil {
		return nil, domainError(503, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	hits, err := s.knowledge.Search(ctx, companyID, query, limit)
	if err != nil {
		return nil, domainError(503, "SEARCH_UNAVAILABLE", "Search is temporarily unavailable", nil)
	}
	return map[string]any{"hits": hits}, nil
}

// --- Invitations ---

func (s *Service) InviteTeamMember(ctx context.Context, session Session, emailAddr, role string) (map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if emailAddr == "" || !strings.Contains(emailAddr, "@") {
		return nil, validationError("a valid email is required")
	}
	normalizedRole := rbac.Normalize(role)
	if normalizedRole == rbac.RoleOwner {
		return nil, validationError("cannot invite an owner")
	}

	invitation := store.Invitation{
		ID:        util.NewID("inv"),
		CompanyID: companyID,
		Email:     emailAddr,
		Role:      string(normalizedRole),
		Token:     util.NewToken(),
		InvitedBy: session.UserName,
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}
	if err := s.store.InsertInvitation(ctx, invitation); err != nil {
		return nil, err
	}

	inviteURL := fmt.Sprintf("%s/invite?token=%s", strings.TrimRight(s.cfg.AppBaseURL, "/"), invitation.Token)

	payload := map[string]any{
		"id":        invitation.ID,
		"email":     invitation.Email,
		"role":      invitation.Role,
		"expiresAt": invitation.ExpiresAt.Unix(),
	}

	if s.SMTPConfigured() {
		company, err := s.store.GetCompany(ctx, companyID)
		companyName := "your team"
		if err == nil {
			companyName = company.Name
		}
		if err := s.email.SendInvitationEmail(invitation.Email, session.UserName, companyName, inviteURL); err != nil {
			log.Printf("app: send invitation email to %s: %v", invitation.Email, err)
		}
	} else {
		// Dev bypass: surface the token when email is not configured.
		payload["devInviteToken"] = invitation.Token
	}

	return payload, nil
}

func (s *Service) ListInvitations(ctx context.Context, session Session) ([]map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	invitations, err := s.store.ListInvitations(ctx, companyID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(invitations))
	for _, inv := range invitations {
		item := map[string]any{
			"id":        inv.ID,
			"email":     inv.Email,
			"role":      inv.Role,
			"invitedBy": inv.InvitedBy,
			"expiresAt": inv.ExpiresAt.Unix(),
			"accepted":  inv.AcceptedAt != nil,
		}
		items = append(items, item)
	}
	return items, nil
}

// AcceptInvitation joins the calling user to the inviting company with the
// invited role. Expired or already accepted tokens are rejected.
func (s *Service) AcceptInvitation(ctx context.Context, userID, token string) (map[string]any, error) {
	if strings.TrimSpace(token) == "" {
		return nil, validationError("invitation token is required")
	}
	invitation, err := s.store.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, notFoundError("Invitation not found or expired")
	}
	if err := s.store.AcceptInvitation(ctx, invitation.ID, userID); err != nil {
		return nil, err
	}
	return map[string]any{
		"companyId": invitation.CompanyID,
		"role":      invitation.Role,
	}, nil
}

// --- Integrations ---

var allowedProviders = map[string]struct{}{
	"slack":      {},
	"zendesk":    {},
	"salesforce": {},
	"hubspot":    {},
}

func (s *Service) ConnectIntegration(ctx context.Context, session Session, provider string) (map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if _, ok := allowedProviders[provider]; !ok {
		return nil, validationError("unknown integration provider")
	}
	item := store.Integration{
		ID:          util.NewID("int"),
		CompanyID:   companyID,
		Provider:    provider,
		Status:      "connected",
		ConnectedBy: session.UserName,
	}
	if err := s.store.UpsertIntegration(ctx, item); err != nil {
		return nil, err
	}
	return map[string]any{"provider": provider, "status": "connected"}, nil
}

func (s *Service) ListIntegrations(ctx context.Context, session Session) ([]map[string]any, error) {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return nil, err
	}
	integrations, err := s.store.ListIntegrations(ctx, companyID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(integrations))
	for _, integration := range integrations {
		items = append(items, map[string]any{
			"provider":    integration.Provider,
			"status":      integration.Status,
			"connectedBy": integration.ConnectedBy,
		})
	}
	return items, nil
}

func (s *Service) DisconnectIntegration(ctx context.Context, session Session, provider string) error {
	companyID, err := s.requireCompany(session)
	if err != nil {
		return err
	}
	return s.store.DisconnectIntegration(ctx, companyID, provider)
}

// --- payload helpers ---

func agentToMap(agent store.Agent) map[string]any {
	return map[string]any{
		"id":           agent.ID,
		"name":         agent.Name,
		"model":        agent.Model,
		"temperature":  agent.Temperature,
		"status":       agent.Status,
		"instructions": agent.Instructions,
		"createdBy":    agent.CreatedBy,
	}
}

func documentToMap(doc store.KnowledgeDocument) map[string]any {
	payload := map[string]any{
		"id":          doc.ID,
		"filename":    doc.FileName,
		"contentType": doc.ContentType,
		"sizeBytes":   doc.SizeBytes,
		"status":      doc.Status,
		"uploadedBy":  doc.UploadedBy,
	}
	if doc.AgentID != nil {
		payload["agentId"] = *doc.AgentID
	}
	return payload
}

func revisionToMap(rev store.RevisionInfo) map[string]any {
	return map[string]any{
		"hash":      rev.Hash,
		"message":   strings.TrimSpace(rev.Message),
		"author":    rev.Author,
		"createdAt": rev.CreatedAt.Unix(),
	}
}
