package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type KeySource interface {
	GetKey(ctx context.Context, kid string) (SigningKey, error)
}

type TokenVerifier interface {
	Verify(ctx context.Context, token string, expectedAudience string) (VerifiedClaims, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, claims VerifiedClaims) (LocalIdentity, error)
}

// IdentityStore persists local identities. Create must return an error
// matching ErrIdentityConflict when the external subject already exists.
type IdentityStore interface {
	GetBySubject(ctx context.Context, subject string) (LocalIdentity, error)
	Create(ctx context.Context, in CreateIdentityInput) (LocalIdentity, error)
	UpdateEmail(ctx context.Context, id string, email string) (LocalIdentity, error)
}

// Catalog resolves the users and courses referenced by payment events.
// Missing entries return ErrUserNotFound or ErrCourseNotFound.
type Catalog interface {
	LookupUser(ctx context.Context, userID string) (UserRef, error)
	LookupCourse(ctx context.Context, courseID string) (CourseRef, error)
}

// FulfillmentTx is the unit of work used while applying a payment event.
// InsertFulfillment must return an error matching ErrDuplicateFulfillment
// when the event id was already recorded.
type FulfillmentTx interface {
	Catalog
	GetEnrollment(ctx context.Context, userID string, courseID string) (Enrollment, error)
	CreateEnrollment(ctx context.Context, enrollment Enrollment) (Enrollment, error)
	UpdateEnrollmentStatus(ctx context.Context, id string, from PaymentStatus, to PaymentStatus, reference string) (Enrollment, error)
	InsertFulfillment(ctx context.Context, record FulfillmentRecord) error
}

type FulfillmentStore interface {
	GetFulfillment(ctx context.Context, eventID string) (FulfillmentRecord, error)
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx FulfillmentTx) error) error
}

type PaymentEventLedger interface {
	Record(ctx context.Context, event PaymentEvent) (PaymentEventRecord, error)
	MarkOutcome(ctx context.Context, eventID string, outcome Outcome) error
	MarkFailed(ctx context.Context, eventID string, cause error) error
}

// Notifier delivers templated messages. Failures are reported through the
// return value and must never be propagated to callers as errors.
type Notifier interface {
	Send(ctx context.Context, kind NotificationKind, recipient string, data map[string]any) bool
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, event PaymentEvent) (Outcome, error)
}

// JobNackOptions is the retry decision for a failed job. Requeue and
// DeadLetter are mutually exclusive; neither means the job fails terminally.
type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}
