package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"relay/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- Users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, company_id, is_email_verified
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CompanyID, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, company_id, is_email_verified
		FROM users WHERE email=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CompanyID, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- Companies ----

// EnsureCompanyForUser returns the user's company, creating and linking one
// in a single transaction if the user has none yet. The row lock on the user
// keeps a duplicate create from slipping in between the read and the insert.
func (s *PostgresStore) EnsureCompanyForUser(ctx context.Context, userID, initialName string) (Company, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Company{}, fmt.Errorf("begin ensure company tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var companyID *string
	if err := tx.QueryRowContext(ctx, `SELECT company_id FROM users WHERE id=$1 FOR UPDATE`, userID).Scan(&companyID); err != nil {
		return Company{}, fmt.Errorf("lookup user company: %w", err)
	}

	if companyID != nil {
		company, err := scanCompany(tx.QueryRowContext(ctx, companySelect+` WHERE id=$1`, *companyID))
		if err != nil {
			return Company{}, fmt.Errorf("load existing company: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return Company{}, fmt.Errorf("commit ensure company tx: %w", err)
		}
		return company, nil
	}

	name := initialName
	if name == "" {
		name = "Untitled company"
	}
	company := Company{
		ID:                 util.NewID("co"),
		Name:               name,
		SubscriptionStatus: SubscriptionNone,
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO companies (id, name, subscription_status)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, company.ID, company.Name, company.SubscriptionStatus).Scan(&company.CreatedAt, &company.UpdatedAt); err != nil {
		return Company{}, fmt.Errorf("insert company: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET company_id=$2, role='owner', updated_at=NOW() WHERE id=$1
	`, userID, company.ID); err != nil {
		return Company{}, fmt.Errorf("link user to company: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Company{}, fmt.Errorf("commit ensure company tx: %w", err)
	}
	return company, nil
}

const companySelect = `SELECT id, name, website, industry, subscription_status, created_at, updated_at FROM companies`

func scanCompany(row *sql.Row) (Company, error) {
	var company Company
	err := row.Scan(&company.ID, &company.Name, &company.Website, &company.Industry, &company.SubscriptionStatus, &company.CreatedAt, &company.UpdatedAt)
	if err != nil {
		return Company{}, err
	}
	return company, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (Company, error) {
	return scanCompany(s.db.QueryRowContext(ctx, companySelect+` WHERE id=$1`, companyID))
}

func (s *PostgresStore) UpdateCompanyProfile(ctx context.Context, companyID, name, website string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE companies SET name=$2, website=$3, updated_at=NOW() WHERE id=$1
	`, companyID, name, website)
	if err != nil {
		return fmt.Errorf("update company profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) LinkUserToCompany(ctx context.Context, userID, companyID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET company_id=$2, role=$3, updated_at=NOW() WHERE id=$1
	`, userID, companyID, role)
	if err != nil {
		return fmt.Errorf("link user to company: %w", err)
	}
	return nil
}

// ---- Onboarding sessions ----
//
// The session write contract is deliberately a tagged set of operations
// rather than a generic row update: CreateOnboardingSession starts a session,
// AdvanceOnboardingSession moves the step and merges form data, and only
// CompleteOnboardingSession can set the terminal status. Nothing can unset it.

func (s *PostgresStore) GetOnboardingSessionByUser(ctx context.Context, userID string) (OnboardingSession, error) {
	var session OnboardingSession
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, company_id, current_step, status, session_data, completed_at, created_at, updated_at
		FROM onboarding_sessions WHERE user_id=$1
	`, userID).Scan(&session.ID, &session.UserID, &session.CompanyID, &session.CurrentStep, &session.Status, &raw, &session.CompletedAt, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return OnboardingSession{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &session.SessionData); err != nil {
			return OnboardingSession{}, fmt.Errorf("decode session data: %w", err)
		}
	}
	if session.SessionData == nil {
		session.SessionData = map[string]any{}
	}
	return session, nil
}

func (s *PostgresStore) CreateOnboardingSession(ctx context.Context, session OnboardingSession) error {
	raw, err := json.Marshal(session.SessionData)
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}
	if len(session.SessionData) == 0 {
		raw = []byte(`{}`)
	}
	// At-most-one-active-session-per-user: user_id carries a unique
	// constraint, so a racing second create resolves to the existing row.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO onboarding_sessions (id, user_id, company_id, current_step, status, session_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING
	`, session.ID, session.UserID, session.CompanyID, session.CurrentStep, session.Status, raw)
	if err != nil {
		return fmt.Errorf("insert onboarding session: %w", err)
	}
	return nil
}

// AdvanceOnboardingSession sets the step and shallow-merges data into
// session_data (new keys override, absent keys are preserved). It never
// touches status or completed_at.
func (s *PostgresStore) AdvanceOnboardingSession(ctx context.Context, sessionID string, step int, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}
	if data == nil {
		raw = []byte(`{}`)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE onboarding_sessions
		SET current_step=$2, session_data = session_data || $3::jsonb, updated_at=NOW()
		WHERE id=$1
	`, sessionID, step, raw)
	if err != nil {
		return fmt.Errorf("advance onboarding session: %w", err)
	}
	return nil
}

// CompleteOnboardingSession is the only operation that can set the terminal
// status, and it refuses to run twice.
func (s *PostgresStore) CompleteOnboardingSession(ctx context.Context, sessionID string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}
	if data == nil {
		raw = []byte(`{}`)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE onboarding_sessions
		SET status=$2, session_data = session_data || $3::jsonb, completed_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status <> $2
	`, sessionID, OnboardingCompleted, raw)
	if err != nil {
		return fmt.Errorf("complete onboarding session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete onboarding session rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- Refresh sessions / token revocation (PostgreSQL fallback) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role, u.company_id, u.is_email_verified
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CompanyID, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- Agents ----

const agentSelect = `SELECT id, company_id, name, model, temperature, status, instructions, created_by_name, created_at, updated_at FROM agents`

func (s *PostgresStore) ListAgents(ctx context.Context, companyID string) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, agentSelect+` WHERE company_id=$1 ORDER BY updated_at DESC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	items := make([]Agent, 0)
	for rows.Next() {
		var item Agent
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.Name, &item.Model, &item.Temperature, &item.Status, &item.Instructions, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, companyID, agentID string) (Agent, error) {
	var item Agent
	err := s.db.QueryRowContext(ctx, agentSelect+` WHERE id=$1 AND company_id=$2`, agentID, companyID).
		Scan(&item.ID, &item.CompanyID, &item.Name, &item.Model, &item.Temperature, &item.Status, &item.Instructions, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Agent{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertAgent(ctx context.Context, item Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, company_id, name, model, temperature, status, instructions, created_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.CompanyID, item.Name, item.Model, item.Temperature, item.Status, item.Instructions, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, item Agent) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET name=$3, model=$4, temperature=$5, status=$6, instructions=$7, updated_at=NOW()
		WHERE id=$1 AND company_id=$2
	`, item.ID, item.CompanyID, item.Name, item.Model, item.Temperature, item.Status, item.Instructions)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agent rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, companyID, agentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id=$1 AND company_id=$2`, agentID, companyID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete agent rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- Knowledge documents ----

func (s *PostgresStore) InsertKnowledgeDocument(ctx context.Context, item KnowledgeDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_documents (id, company_id, agent_id, file_name, object_key, content_type, size_bytes, status, uploaded_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.CompanyID, item.AgentID, item.FileName, item.ObjectKey, item.ContentType, item.SizeBytes, item.Status, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert knowledge document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListKnowledgeDocuments(ctx context.Context, companyID string) ([]KnowledgeDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, agent_id, file_name, object_key, content_type, size_bytes, status, uploaded_by_name, created_at
		FROM knowledge_documents
		WHERE company_id=$1
		ORDER BY created_at DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge documents: %w", err)
	}
	defer rows.Close()

	items := make([]KnowledgeDocument, 0)
	for rows.Next() {
		var item KnowledgeDocument
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.AgentID, &item.FileName, &item.ObjectKey, &item.ContentType, &item.SizeBytes, &item.Status, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetKnowledgeDocument(ctx context.Context, companyID, documentID string) (KnowledgeDocument, error) {
	var item KnowledgeDocument
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, agent_id, file_name, object_key, content_type, size_bytes, status, uploaded_by_name, created_at
		FROM knowledge_documents
		WHERE id=$1 AND company_id=$2
	`, documentID, companyID).Scan(&item.ID, &item.CompanyID, &item.AgentID, &item.FileName, &item.ObjectKey, &item.ContentType, &item.SizeBytes, &item.Status, &item.UploadedBy, &item.CreatedAt)
	if err != nil {
		return KnowledgeDocument{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateKnowledgeDocumentStatus(ctx context.Context, documentID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE knowledge_documents SET status=$2 WHERE id=$1`, documentID, status)
	if err != nil {
		return fmt.Errorf("update knowledge document status: %w", err)
	}
	return nil
}

// ---- Invitations ----

func (s *PostgresStore) InsertInvitation(ctx context.Context, item Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, company_id, email, role, token, invited_by_name, expires_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7)
	`, item.ID, item.CompanyID, item.Email, item.Role, item.Token, item.InvitedBy, item.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListInvitations(ctx context.Context, companyID string) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, email, role, token, invited_by_name, expires_at, accepted_at, created_at
		FROM invitations
		WHERE company_id=$1
		ORDER BY created_at DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	items := make([]Invitation, 0)
	for rows.Next() {
		var item Invitation
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.Email, &item.Role, &item.Token, &item.InvitedBy, &item.ExpiresAt, &item.AcceptedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetInvitationByToken(ctx context.Context, token string) (Invitation, error) {
	var item Invitation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, email, role, token, invited_by_name, expires_at, accepted_at, created_at
		FROM invitations
		WHERE token=$1 AND accepted_at IS NULL AND expires_at > NOW()
	`, token).Scan(&item.ID, &item.CompanyID, &item.Email, &item.Role, &item.Token, &item.InvitedBy, &item.ExpiresAt, &item.AcceptedAt, &item.CreatedAt)
	if err != nil {
		return Invitation{}, err
	}
	return item, nil
}

// AcceptInvitation marks the invitation used and moves the accepting user
// into the inviting company in one transaction.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, invitationID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin accept invitation tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var companyID, role string
	err = tx.QueryRowContext(ctx, `
		UPDATE invitations SET accepted_at=NOW()
		WHERE id=$1 AND accepted_at IS NULL AND expires_at > NOW()
		RETURNING company_id, role
	`, invitationID).Scan(&companyID, &role)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET company_id=$2, role=$3, updated_at=NOW() WHERE id=$1
	`, userID, companyID, role); err != nil {
		return fmt.Errorf("attach invited user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit accept invitation tx: %w", err)
	}
	return nil
}

// ---- Integrations ----

func (s *PostgresStore) UpsertIntegration(ctx context.Context, item Integration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations (id, company_id, provider, status, connected_by_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (company_id, provider) DO UPDATE SET status=EXCLUDED.status, connected_by_name=EXCLUDED.connected_by_name, updated_at=NOW()
	`, item.ID, item.CompanyID, item.Provider, item.Status, item.ConnectedBy)
	if err != nil {
		return fmt.Errorf("upsert integration: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListIntegrations(ctx context.Context, companyID string) ([]Integration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, provider, status, connected_by_name, created_at, updated_at
		FROM integrations
		WHERE company_id=$1
		ORDER BY provider
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	items := make([]Integration, 0)
	for rows.Next() {
		var item Integration
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.Provider, &item.Status, &item.ConnectedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate integrations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DisconnectIntegration(ctx context.Context, companyID, provider string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE integrations SET status='disconnected', updated_at=NOW()
		WHERE company_id=$1 AND provider=$2
	`, companyID, provider)
	if err != nil {
		return fmt.Errorf("disconnect integration: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("disconnect integration rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
