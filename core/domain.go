package core

import (
	"crypto"
	"slices"
	"strings"
	"time"
)

// SigningKey is one provider verification key. Keys are replaced wholesale
// when the key set is refreshed and never mutated in place.
type SigningKey struct {
	KeyID     string
	Algorithm string
	PublicKey crypto.PublicKey
	FetchedAt time.Time
}

// VerifiedClaims are produced per verification call and never persisted.
type VerifiedClaims struct {
	Subject   string
	Audience  []string
	Issuer    string
	ExpiresAt time.Time
	Email     string
}

func (c VerifiedClaims) HasAudience(audience string) bool {
	return slices.Contains(c.Audience, audience)
}

type LocalIdentity struct {
	ID              string
	ExternalSubject string
	Email           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CreateIdentityInput struct {
	ExternalSubject string
	Email           string
}

type PaymentEvent struct {
	EventID    string
	Type       string
	Payload    []byte
	ReceivedAt time.Time
}

func (e PaymentEvent) Normalized() PaymentEvent {
	e.EventID = strings.TrimSpace(e.EventID)
	e.Type = strings.TrimSpace(e.Type)
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	return e
}

type OutcomeStatus string

const (
	OutcomeProcessed        OutcomeStatus = "processed"
	OutcomeIgnored          OutcomeStatus = "ignored"
	OutcomeReferentialError OutcomeStatus = "referential_error"
	OutcomeFlagged          OutcomeStatus = "flagged"
)

// Outcome is the result of dispatching one payment event. Replayed is set
// when the outcome was read back from an existing fulfillment record.
type Outcome struct {
	EventID      string
	EventType    string
	Status       OutcomeStatus
	EnrollmentID string
	Replayed     bool
	Reason       string
}

// FulfillmentRecord marks an event as processed. The unique event id is the
// exactly-once boundary for payment events.
type FulfillmentRecord struct {
	EventID      string
	EventType    string
	EnrollmentID string
	Outcome      OutcomeStatus
	Reason       string
	ProcessedAt  time.Time
}

func (r FulfillmentRecord) ToOutcome() Outcome {
	return Outcome{
		EventID:      r.EventID,
		EventType:    r.EventType,
		Status:       r.Outcome,
		EnrollmentID: r.EnrollmentID,
		Reason:       r.Reason,
	}
}

type Enrollment struct {
	ID               string
	UserID           string
	CourseID         string
	PaymentStatus    PaymentStatus
	PaymentReference string
	AmountCents      int64
	Currency         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type UserRef struct {
	ID    string
	Email string
}

type CourseRef struct {
	ID         string
	Title      string
	PriceCents int64
	Currency   string
}

type PaymentEventStatus string

const (
	PaymentEventReceived  PaymentEventStatus = "received"
	PaymentEventProcessed PaymentEventStatus = "processed"
	PaymentEventIgnored   PaymentEventStatus = "ignored"
	PaymentEventFlagged   PaymentEventStatus = "flagged"
	PaymentEventFailed    PaymentEventStatus = "failed"
)

// PaymentEventRecord is the delivery ledger row kept for audit and operator
// review. It does not gate processing.
type PaymentEventRecord struct {
	ID               string
	EventID          string
	EventType        string
	Status           PaymentEventStatus
	Attempts         int
	LastError        string
	FlaggedForReview bool
	Payload          []byte
	ReceivedAt       time.Time
	ProcessedAt      *time.Time
	UpdatedAt        time.Time
}

type NotificationKind string

const (
	NotificationWelcome                NotificationKind = "welcome"
	NotificationEnrollmentConfirmation NotificationKind = "enrollment_confirmation"
	NotificationPaymentReceipt         NotificationKind = "payment_receipt"
)

type InboundRequest struct {
	Body       []byte
	Headers    map[string]string
	ReceivedAt time.Time
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Outcome    Outcome
	Metadata   map[string]any
}
