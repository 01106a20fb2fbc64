package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	CompanyID             *string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Company is the tenant record. The onboarding controller reads
// SubscriptionStatus but never writes it; subscription transitions belong to
// the payment provider's webhook pipeline.
type Company struct {
	ID                 string
	Name               string
	Website            string
	Industry           string
	SubscriptionStatus string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const (
	SubscriptionNone     = "none"
	SubscriptionTrialing = "trialing"
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// OnboardingSession is the persisted wizard progress record, one per user.
// SessionData is the shallow union of all form fields written so far;
// CompletedAt is set exactly once, at the terminal transition.
type OnboardingSession struct {
	ID          string
	UserID      string
	CompanyID   *string
	CurrentStep int
	Status      string
	SessionData map[string]any
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	OnboardingInProgress = "in_progress"
	OnboardingCompleted  = "completed"
)

type Agent struct {
	ID           string
	CompanyID    string
	Name         string
	Model        string
	Temperature  float64
	Status       string
	Instructions string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type KnowledgeDocument struct {
	ID          string
	CompanyID   string
	AgentID     *string
	FileName    string
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	Status      string
	UploadedBy  string
	CreatedAt   time.Time
}

const (
	DocumentUploaded         = "uploaded"
	DocumentIndexed          = "indexed"
	DocumentProcessingFailed = "processing_failed"
)

type Invitation struct {
	ID         string
	CompanyID  string
	Email      string
	Role       string
	Token      string
	InvitedBy  string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	CreatedAt  time.Time
}

type Integration struct {
	ID          string
	CompanyID   string
	Provider    string
	Status      string
	ConnectedBy string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RevisionInfo describes one commit in an agent's instruction history.
type RevisionInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
