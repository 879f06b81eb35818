package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goliatone/go-gatekeeper/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const maxLedgerErrorLength = 1024

// PaymentEventStore is the delivery ledger. Every delivery is recorded, and
// redeliveries of the same event id bump attempts on the existing row.
type PaymentEventStore struct {
	db   *bun.DB
	repo repository.Repository[*paymentEventRecord]
	now  func() time.Time
}

func NewPaymentEventStore(db *bun.DB) (*PaymentEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*paymentEventRecord](db, paymentEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid payment event repository wiring: %w", err)
		}
	}
	return &PaymentEventStore{db: db, repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *PaymentEventStore) Record(ctx context.Context, event core.PaymentEvent) (core.PaymentEventRecord, error) {
	if s == nil || s.repo == nil {
		return core.PaymentEventRecord{}, fmt.Errorf("sqlstore: payment event store is not configured")
	}
	event = event.Normalized()
	if event.EventID == "" {
		return core.PaymentEventRecord{}, fmt.Errorf("sqlstore: payment event id is required")
	}
	now := s.now()
	record := &paymentEventRecord{
		ID:         uuid.NewString(),
		EventID:    event.EventID,
		EventType:  event.Type,
		Status:     string(core.PaymentEventReceived),
		Attempts:   1,
		Payload:    append([]byte(nil), event.Payload...),
		ReceivedAt: event.ReceivedAt.UTC(),
		UpdatedAt:  now,
	}
	created, err := s.repo.Create(ctx, record)
	if err == nil {
		return created.toDomain(), nil
	}
	if !isUniqueViolation(err) {
		return core.PaymentEventRecord{}, err
	}

	_, err = s.db.NewUpdate().
		Model((*paymentEventRecord)(nil)).
		Set("attempts = attempts + 1").
		Set("updated_at = ?", now).
		Where("event_id = ?", event.EventID).
		Exec(ctx)
	if err != nil {
		return core.PaymentEventRecord{}, err
	}
	return s.Get(ctx, event.EventID)
}

func (s *PaymentEventStore) Get(ctx context.Context, eventID string) (core.PaymentEventRecord, error) {
	if s == nil || s.db == nil {
		return core.PaymentEventRecord{}, fmt.Errorf("sqlstore: payment event store is not configured")
	}
	record := &paymentEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.PaymentEventRecord{}, fmt.Errorf("sqlstore: payment event %q: %w", eventID, core.ErrPaymentEventNotFound)
		}
		return core.PaymentEventRecord{}, err
	}
	return record.toDomain(), nil
}

// MarkOutcome records the dispatch result. Referential errors and flagged
// outcomes are kept for operator review with the reason as last_error.
func (s *PaymentEventStore) MarkOutcome(ctx context.Context, eventID string, outcome core.Outcome) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: payment event store is not configured")
	}
	now := s.now()
	query := s.db.NewUpdate().
		Model((*paymentEventRecord)(nil)).
		Set("processed_at = ?", now).
		Set("updated_at = ?", now)
	switch outcome.Status {
	case core.OutcomeProcessed:
		query = query.Set("status = ?", string(core.PaymentEventProcessed)).Set("last_error = ?", "")
	case core.OutcomeIgnored:
		query = query.Set("status = ?", string(core.PaymentEventIgnored)).Set("last_error = ?", "")
	case core.OutcomeReferentialError, core.OutcomeFlagged:
		reason := strings.TrimSpace(outcome.Reason)
		if reason == "" {
			reason = string(outcome.Status)
		}
		query = query.
			Set("status = ?", string(core.PaymentEventFlagged)).
			Set("flagged_for_review = ?", true).
			Set("last_error = ?", truncate(reason, maxLedgerErrorLength))
	default:
		return fmt.Errorf("sqlstore: unsupported outcome status %q", outcome.Status)
	}
	return s.execForEvent(ctx, query, eventID)
}

func (s *PaymentEventStore) MarkFailed(ctx context.Context, eventID string, cause error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: payment event store is not configured")
	}
	message := "unknown failure"
	if cause != nil {
		message = cause.Error()
	}
	query := s.db.NewUpdate().
		Model((*paymentEventRecord)(nil)).
		Set("status = ?", string(core.PaymentEventFailed)).
		Set("last_error = ?", truncate(message, maxLedgerErrorLength)).
		Set("updated_at = ?", s.now())
	return s.execForEvent(ctx, query, eventID)
}

// ListFlagged returns events awaiting operator review, newest first.
func (s *PaymentEventStore) ListFlagged(ctx context.Context, limit int) ([]core.PaymentEventRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: payment event store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.flagged_for_review = ?", true)
		}),
		repository.OrderBy("received_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.PaymentEventRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *PaymentEventStore) execForEvent(ctx context.Context, query *bun.UpdateQuery, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	res, err := query.Where("event_id = ?", eventID).Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("sqlstore: payment event %q: %w", eventID, core.ErrPaymentEventNotFound)
	}
	return nil
}

// truncate caps value at limit bytes without splitting a UTF-8 sequence.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

func (r *paymentEventRecord) toDomain() core.PaymentEventRecord {
	if r == nil {
		return core.PaymentEventRecord{}
	}
	return core.PaymentEventRecord{
		ID:               r.ID,
		EventID:          r.EventID,
		EventType:        r.EventType,
		Status:           core.PaymentEventStatus(r.Status),
		Attempts:         r.Attempts,
		LastError:        r.LastError,
		FlaggedForReview: r.FlaggedForReview,
		Payload:          append([]byte(nil), r.Payload...),
		ReceivedAt:       r.ReceivedAt,
		ProcessedAt:      r.ProcessedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}
