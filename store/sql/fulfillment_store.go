package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// FulfillmentStore applies payment events transactionally. The primary key on
// gatekeeper_fulfillment_records.event_id and the (user_id, course_id)
// unique index on enrollments are what make fulfillment exactly-once.
type FulfillmentStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewFulfillmentStore(db *bun.DB) (*FulfillmentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &FulfillmentStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *FulfillmentStore) GetFulfillment(ctx context.Context, eventID string) (core.FulfillmentRecord, error) {
	if s == nil || s.db == nil {
		return core.FulfillmentRecord{}, fmt.Errorf("sqlstore: fulfillment store is not configured")
	}
	record := &fulfillmentRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.FulfillmentRecord{}, fmt.Errorf("sqlstore: fulfillment %q: %w", eventID, core.ErrFulfillmentNotFound)
		}
		return core.FulfillmentRecord{}, err
	}
	return record.toDomain(), nil
}

// GetEnrollment reads the enrollment outside of any fulfillment transaction.
func (s *FulfillmentStore) GetEnrollment(ctx context.Context, userID string, courseID string) (core.Enrollment, error) {
	if s == nil || s.db == nil {
		return core.Enrollment{}, fmt.Errorf("sqlstore: fulfillment store is not configured")
	}
	return selectEnrollment(ctx, s.db, userID, courseID)
}

func (s *FulfillmentStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx core.FulfillmentTx) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: fulfillment store is not configured")
	}
	if fn == nil {
		return fmt.Errorf("sqlstore: fulfillment tx callback is required")
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &fulfillmentTx{tx: tx, now: s.now})
	})
}

type fulfillmentTx struct {
	tx  bun.Tx
	now func() time.Time
}

func (t *fulfillmentTx) LookupUser(ctx context.Context, userID string) (core.UserRef, error) {
	return lookupUser(ctx, t.tx, userID)
}

func (t *fulfillmentTx) LookupCourse(ctx context.Context, courseID string) (core.CourseRef, error) {
	return lookupCourse(ctx, t.tx, courseID)
}

func (t *fulfillmentTx) GetEnrollment(ctx context.Context, userID string, courseID string) (core.Enrollment, error) {
	return selectEnrollment(ctx, t.tx, userID, courseID)
}

func (t *fulfillmentTx) CreateEnrollment(ctx context.Context, enrollment core.Enrollment) (core.Enrollment, error) {
	now := t.now()
	record := &enrollmentRecord{
		ID:               strings.TrimSpace(enrollment.ID),
		UserID:           strings.TrimSpace(enrollment.UserID),
		CourseID:         strings.TrimSpace(enrollment.CourseID),
		PaymentStatus:    string(enrollment.PaymentStatus),
		PaymentReference: strings.TrimSpace(enrollment.PaymentReference),
		AmountCents:      enrollment.AmountCents,
		Currency:         strings.TrimSpace(enrollment.Currency),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.PaymentStatus == "" {
		record.PaymentStatus = string(core.PaymentStatusPending)
	}
	if _, err := t.tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.Enrollment{}, fmt.Errorf("sqlstore: enrollment %s/%s: %w", record.UserID, record.CourseID, core.ErrEnrollmentConflict)
		}
		return core.Enrollment{}, err
	}
	return record.toDomain(), nil
}

// UpdateEnrollmentStatus is a compare-and-set on payment_status. A row that
// moved away from `from` since it was read yields core.ErrEnrollmentConflict.
func (t *fulfillmentTx) UpdateEnrollmentStatus(ctx context.Context, id string, from core.PaymentStatus, to core.PaymentStatus, reference string) (core.Enrollment, error) {
	id = strings.TrimSpace(id)
	query := t.tx.NewUpdate().
		Model((*enrollmentRecord)(nil)).
		Set("payment_status = ?", string(to)).
		Set("updated_at = ?", t.now())
	if reference = strings.TrimSpace(reference); reference != "" {
		query = query.Set("payment_reference = ?", reference)
	}
	res, err := query.
		Where("id = ?", id).
		Where("payment_status = ?", string(from)).
		Exec(ctx)
	if err != nil {
		return core.Enrollment{}, err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		exists, err := t.tx.NewSelect().Model((*enrollmentRecord)(nil)).Where("?TableAlias.id = ?", id).Exists(ctx)
		if err != nil {
			return core.Enrollment{}, err
		}
		if exists {
			return core.Enrollment{}, fmt.Errorf("sqlstore: enrollment %q left %s: %w", id, from, core.ErrEnrollmentConflict)
		}
		return core.Enrollment{}, fmt.Errorf("sqlstore: enrollment %q: %w", id, core.ErrEnrollmentNotFound)
	}
	record := &enrollmentRecord{}
	if err := t.tx.NewSelect().Model(record).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx); err != nil {
		return core.Enrollment{}, err
	}
	return record.toDomain(), nil
}

func (t *fulfillmentTx) InsertFulfillment(ctx context.Context, record core.FulfillmentRecord) error {
	row := &fulfillmentRecord{
		EventID:     strings.TrimSpace(record.EventID),
		EventType:   strings.TrimSpace(record.EventType),
		Outcome:     string(record.Outcome),
		Reason:      record.Reason,
		ProcessedAt: record.ProcessedAt.UTC(),
	}
	if row.ProcessedAt.IsZero() {
		row.ProcessedAt = t.now()
	}
	if enrollmentID := strings.TrimSpace(record.EnrollmentID); enrollmentID != "" {
		row.EnrollmentID = &enrollmentID
	}
	if _, err := t.tx.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlstore: fulfillment %q: %w", row.EventID, core.ErrDuplicateFulfillment)
		}
		return err
	}
	return nil
}

func selectEnrollment(ctx context.Context, db bun.IDB, userID string, courseID string) (core.Enrollment, error) {
	record := &enrollmentRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Where("?TableAlias.course_id = ?", strings.TrimSpace(courseID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Enrollment{}, fmt.Errorf("sqlstore: enrollment %s/%s: %w", userID, courseID, core.ErrEnrollmentNotFound)
		}
		return core.Enrollment{}, err
	}
	return record.toDomain(), nil
}

func (r *enrollmentRecord) toDomain() core.Enrollment {
	if r == nil {
		return core.Enrollment{}
	}
	return core.Enrollment{
		ID:               r.ID,
		UserID:           r.UserID,
		CourseID:         r.CourseID,
		PaymentStatus:    core.PaymentStatus(r.PaymentStatus),
		PaymentReference: r.PaymentReference,
		AmountCents:      r.AmountCents,
		Currency:         r.Currency,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (r *fulfillmentRecord) toDomain() core.FulfillmentRecord {
	if r == nil {
		return core.FulfillmentRecord{}
	}
	out := core.FulfillmentRecord{
		EventID:     r.EventID,
		EventType:   r.EventType,
		Outcome:     core.OutcomeStatus(r.Outcome),
		Reason:      r.Reason,
		ProcessedAt: r.ProcessedAt,
	}
	if r.EnrollmentID != nil {
		out.EnrollmentID = *r.EnrollmentID
	}
	return out
}

var _ core.FulfillmentTx = (*fulfillmentTx)(nil)
