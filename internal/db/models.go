package db

import (
	"time"
)

// Claim states for a ledger job. Owner is non-null exactly when the state
// is owned; the jobs table enforces this with a CHECK constraint.
const (
	ClaimOwned     = "owned"
	ClaimUnclaimed = "unclaimed"
	ClaimExpired   = "expired"
)

// Spooler states mirrored from CUPS on every reconciliation pass.
const (
	SpoolPending    = "pending"
	SpoolHeld       = "held"
	SpoolProcessing = "processing"
	SpoolCompleted  = "completed"
	SpoolCanceled   = "canceled"
	SpoolError      = "error"
)

// Submission channels recorded on job creation.
const (
	ViaIPP   = "ipp"
	ViaWeb   = "web"
	ViaAPI   = "api"
	ViaEmail = "email"
)

type Job struct {
	JobID            int64      `json:"job_id"`
	RawSubmitter     string     `json:"raw_submitter"`
	Owner            *string    `json:"owner"`
	ClaimState       string     `json:"claim_state"`
	SpoolerState     string     `json:"spooler_state"`
	Title            string     `json:"title"`
	SizeKB           int64      `json:"size_kb"`
	SubmittedVia     string     `json:"submitted_via"`
	OriginalFilename *string    `json:"original_filename,omitempty"`
	ClaimedAt        *time.Time `json:"claimed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	LastSeenAt       time.Time  `json:"last_seen_at"`
	MissingSince     *time.Time `json:"missing_since,omitempty"`
	Terminal         bool       `json:"terminal"`
}

type DeviceMapping struct {
	ID           int64     `json:"id"`
	RawSubmitter string    `json:"raw_submitter"`
	Account      string    `json:"account"`
	AutoMatch    bool      `json:"auto_match"`
	CreatedAt    time.Time `json:"created_at"`
}

type EmailMapping struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Account   string    `json:"account"`
	CreatedAt time.Time `json:"created_at"`
}

type ApiKey struct {
	ID           int64      `json:"id"`
	KeyHash      string     `json:"-"`
	KeyPrefix    string     `json:"key_prefix"`
	Name         string     `json:"name"`
	Owner        string     `json:"owner"`
	ScopesJSON   string     `json:"scopes"`
	RateLimit    int        `json:"rate_limit"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	RequestCount int64      `json:"request_count"`
	Revoked      bool       `json:"revoked"`
}

type KioskDevice struct {
	ID           int64      `json:"id"`
	TokenHash    string     `json:"-"`
	Name         string     `json:"name"`
	BoundIP      *string    `json:"bound_ip,omitempty"`
	Revoked      bool       `json:"revoked"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Encrypted bool      `json:"encrypted"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AuditLog struct {
	ID          int64     `json:"id"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entity_type"`
	EntityID    int64     `json:"entity_id"`
	Actor       string    `json:"actor"`
	DetailsJSON string    `json:"details_json"`
	IPAddress   string    `json:"ip_address"`
	CreatedAt   time.Time `json:"created_at"`
}

type Webhook struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Secret     string    `json:"-"`
	EventsJSON string    `json:"events"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

type ArchiveJob struct {
	ID            int64     `json:"id"`
	OriginalJobID int64     `json:"original_job_id"`
	ArchiveFile   string    `json:"archive_file"`
	ArchivedAt    time.Time `json:"archived_at"`
}
