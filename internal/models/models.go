package models

import "time"

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

// Application is a submitted membership request awaiting an admin decision.
// ProcessedAt, Username and RejectionReason stay nil while Status is pending;
// after a decision exactly one of Username/RejectionReason is set, matching
// the terminal status.
type Application struct {
	ID                  string            `json:"id"`
	FullName            string            `json:"full_name"`
	Email               string            `json:"email"`
	Phone               string            `json:"phone"`
	Position            string            `json:"position"`
	School              string            `json:"school"`
	RegionalUnit        string            `json:"regional_unit"`
	BranchUnit          string            `json:"branch_unit"`
	Education           string            `json:"education"`
	Experience          string            `json:"experience"`
	Status              ApplicationStatus `json:"status"`
	SubmittedAt         time.Time         `json:"submitted_at"`
	ProcessedAt         *time.Time        `json:"processed_at,omitempty"`
	Username            *string           `json:"username,omitempty"`
	RejectionReason     *string           `json:"rejection_reason,omitempty"`
	NeedsReconciliation bool              `json:"needs_reconciliation"`
	// Source records which store last accepted a write for this record:
	// "remote" when the upstream backend confirmed it, "local" when the
	// decision only exists in the fallback store.
	Source string `json:"source"`
}

type User struct {
	ID             string     `json:"id"`
	FullName       string     `json:"full_name"`
	Email          string     `json:"email"`
	Username       string     `json:"username"`
	PasswordHash   string     `json:"-"`
	Role           string     `json:"role"`
	Status         UserStatus `json:"status"`
	DirectoryState string     `json:"directory_state"`
	DirectoryError *string    `json:"directory_error,omitempty"`
	DownloadCount  int64      `json:"download_count"`
	LastDownloadAt *time.Time `json:"last_download_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
}

type Certificate struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	StoredName    string    `json:"-"`
	OriginalName  string    `json:"original_name"`
	ContentType   string    `json:"content_type"`
	SizeBytes     int64     `json:"size_bytes"`
	UploadedAt    time.Time `json:"uploaded_at"`
	DownloadCount int64     `json:"download_count"`
}

type CertificateDownload struct {
	ID            string    `json:"id"`
	CertificateID string    `json:"certificate_id"`
	UserID        string    `json:"user_id"`
	DownloadedAt  time.Time `json:"downloaded_at"`
}

type Session struct {
	ID            string
	UserID        string
	TokenHash     string
	IPHint        string
	UserAgentHash string
	ExpiresAt     time.Time
	IdleExpiresAt time.Time
	CreatedAt     time.Time
	LastSeenAt    time.Time
	RevokedAt     *time.Time
}

type AuditEntry struct {
	ID           string    `json:"id"`
	ActorUserID  string    `json:"actor_user_id"`
	Action       string    `json:"action"`
	Target       string    `json:"target"`
	MetadataJSON string    `json:"metadata_json"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewApplication is the submission payload before persistence assigns
// identity, status and timestamps.
type NewApplication struct {
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Position     string `json:"position"`
	School       string `json:"school"`
	RegionalUnit string `json:"regional_unit"`
	BranchUnit   string `json:"branch_unit"`
	Education    string `json:"education"`
	Experience   string `json:"experience"`
}
