package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type identityRecord struct {
	bun.BaseModel `bun:"table:gatekeeper_identities,alias:gi"`

	ID              string    `bun:"id,pk"`
	ExternalSubject string    `bun:"external_subject,notnull"`
	Email           string    `bun:"email,notnull"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type courseRecord struct {
	bun.BaseModel `bun:"table:gatekeeper_courses,alias:gc"`

	ID         string    `bun:"id,pk"`
	Title      string    `bun:"title,notnull"`
	PriceCents int64     `bun:"price_cents,notnull"`
	Currency   string    `bun:"currency,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type enrollmentRecord struct {
	bun.BaseModel `bun:"table:gatekeeper_enrollments,alias:ge"`

	ID               string    `bun:"id,pk"`
	UserID           string    `bun:"user_id,notnull"`
	CourseID         string    `bun:"course_id,notnull"`
	PaymentStatus    string    `bun:"payment_status,notnull"`
	PaymentReference string    `bun:"payment_reference,notnull"`
	AmountCents      int64     `bun:"amount_cents,notnull"`
	Currency         string    `bun:"currency,notnull"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type fulfillmentRecord struct {
	bun.BaseModel `bun:"table:gatekeeper_fulfillment_records,alias:gfr"`

	EventID      string    `bun:"event_id,pk"`
	EventType    string    `bun:"event_type,notnull"`
	EnrollmentID *string   `bun:"enrollment_id"`
	Outcome      string    `bun:"outcome,notnull"`
	Reason       string    `bun:"reason,notnull"`
	ProcessedAt  time.Time `bun:"processed_at,nullzero,notnull"`
}

type paymentEventRecord struct {
	bun.BaseModel `bun:"table:gatekeeper_payment_events,alias:gpe"`

	ID               string     `bun:"id,pk"`
	EventID          string     `bun:"event_id,notnull"`
	EventType        string     `bun:"event_type,notnull"`
	Status           string     `bun:"status,notnull"`
	Attempts         int        `bun:"attempts,notnull"`
	LastError        string     `bun:"last_error,notnull"`
	FlaggedForReview bool       `bun:"flagged_for_review,notnull"`
	Payload          []byte     `bun:"payload"`
	ReceivedAt       time.Time  `bun:"received_at,nullzero,notnull"`
	ProcessedAt      *time.Time `bun:"processed_at,nullzero"`
	UpdatedAt        time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type jobRecord struct {
	bun.BaseModel `bun:"table:gatekeeper_jobs,alias:gj"`

	ID             string         `bun:"id,pk"`
	JobID          string         `bun:"job_id,notnull"`
	ScriptPath     string         `bun:"script_path,notnull"`
	Parameters     map[string]any `bun:"parameters,type:jsonb,notnull"`
	IdempotencyKey string         `bun:"idempotency_key,notnull"`
	DedupPolicy    string         `bun:"dedup_policy,notnull"`
	Status         string         `bun:"status,notnull"`
	Attempts       int            `bun:"attempts,notnull"`
	LastError      string         `bun:"last_error,notnull"`
	AvailableAt    time.Time      `bun:"available_at,nullzero,notnull"`
	LockedUntil    time.Time      `bun:"locked_until,nullzero"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
