package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrNoJobs is returned by Dequeue when no job is ready to run.
var ErrNoJobs = errors.New("sqlstore: no jobs available")

const (
	jobStatusPending  = "pending"
	jobStatusRunning  = "running"
	jobStatusDone     = "done"
	jobStatusDead     = "dead"
	jobStatusFailed   = "failed"
	jobStatusCanceled = "canceled"

	claimAttempts       = 3
	defaultJobLeaseTime = 5 * time.Minute
)

type JobQueueOption func(*JobQueue)

// WithJobLease sets how long a claimed job stays invisible before another
// worker may reclaim it.
func WithJobLease(lease time.Duration) JobQueueOption {
	return func(q *JobQueue) {
		if lease > 0 {
			q.lease = lease
		}
	}
}

func WithJobClock(now func() time.Time) JobQueueOption {
	return func(q *JobQueue) {
		if now != nil {
			q.now = func() time.Time { return now().UTC() }
		}
	}
}

// JobQueue is a go-job queue backed by gatekeeper_jobs. Workers claim jobs
// with a compare-and-set on status and attempts, so concurrent dequeuers never
// share one. A claim holds a lease; a running job whose lease expired is
// claimed again by the next Dequeue.
type JobQueue struct {
	db    *bun.DB
	now   func() time.Time
	lease time.Duration
}

func NewJobQueue(db *bun.DB, opts ...JobQueueOption) (*JobQueue, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	q := &JobQueue{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		lease: defaultJobLeaseTime,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q, nil
}

func (q *JobQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	if q == nil || q.db == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("sqlstore: job queue is not configured")
	}
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return queue.EnqueueReceipt{}, fmt.Errorf("sqlstore: job id is required")
	}
	now := q.now()
	record := &jobRecord{
		ID:             uuid.NewString(),
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     msg.Parameters,
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
		Status:         jobStatusPending,
		AvailableAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if record.Parameters == nil {
		record.Parameters = map[string]any{}
	}
	if _, err := q.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			if job.DeduplicationPolicy(record.DedupPolicy) == job.DedupPolicyDrop {
				return q.existingReceipt(ctx, record.IdempotencyKey)
			}
			return queue.EnqueueReceipt{}, fmt.Errorf("sqlstore: job %q already enqueued: %w", record.IdempotencyKey, err)
		}
		return queue.EnqueueReceipt{}, err
	}
	return queue.EnqueueReceipt{DispatchID: record.ID, EnqueuedAt: now}, nil
}

func (q *JobQueue) existingReceipt(ctx context.Context, idempotencyKey string) (queue.EnqueueReceipt, error) {
	record := &jobRecord{}
	err := q.db.NewSelect().
		Model(record).
		Column("id", "created_at").
		Where("?TableAlias.idempotency_key = ?", idempotencyKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return queue.EnqueueReceipt{}, err
	}
	return queue.EnqueueReceipt{DispatchID: record.ID, EnqueuedAt: record.CreatedAt}, nil
}

func (q *JobQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil || q.db == nil {
		return nil, fmt.Errorf("sqlstore: job queue is not configured")
	}
	for range claimAttempts {
		now := q.now()
		record := &jobRecord{}
		err := q.db.NewSelect().
			Model(record).
			WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
				return sq.Where("?TableAlias.status = ?", jobStatusPending).
					Where("?TableAlias.available_at <= ?", now)
			}).
			WhereGroup(" OR ", func(sq *bun.SelectQuery) *bun.SelectQuery {
				return sq.Where("?TableAlias.status = ?", jobStatusRunning).
					Where("?TableAlias.locked_until <= ?", now)
			}).
			OrderExpr("?TableAlias.available_at ASC").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNoJobs
			}
			return nil, err
		}

		lockedUntil := now.Add(q.lease)
		res, err := q.db.NewUpdate().
			Model((*jobRecord)(nil)).
			Set("status = ?", jobStatusRunning).
			Set("attempts = attempts + 1").
			Set("locked_until = ?", lockedUntil).
			Set("updated_at = ?", now).
			Where("id = ?", record.ID).
			Where("status = ?", record.Status).
			Where("attempts = ?", record.Attempts).
			Exec(ctx)
		if err != nil {
			return nil, err
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			continue
		}
		record.Status = jobStatusRunning
		record.Attempts++
		record.LockedUntil = lockedUntil
		return &jobDelivery{queue: q, record: record}, nil
	}
	return nil, ErrNoJobs
}

// Pending counts jobs waiting to be claimed, including delayed retries.
func (q *JobQueue) Pending(ctx context.Context) (int, error) {
	if q == nil || q.db == nil {
		return 0, fmt.Errorf("sqlstore: job queue is not configured")
	}
	return q.db.NewSelect().
		Model((*jobRecord)(nil)).
		Where("?TableAlias.status = ?", jobStatusPending).
		Count(ctx)
}

// ErrJobLeaseLost is returned when a delivery is settled after its lease
// expired and another worker claimed the job.
var ErrJobLeaseLost = errors.New("sqlstore: job lease lost")

func (q *JobQueue) settle(ctx context.Context, record *jobRecord, status string, availableAt time.Time, lastError string) error {
	query := q.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", status).
		Set("last_error = ?", truncate(lastError, maxLedgerErrorLength)).
		Set("locked_until = NULL").
		Set("updated_at = ?", q.now())
	if !availableAt.IsZero() {
		query = query.Set("available_at = ?", availableAt)
	}
	res, err := query.
		Where("id = ?", record.ID).
		Where("status = ?", jobStatusRunning).
		Where("attempts = ?", record.Attempts).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrJobLeaseLost
	}
	return nil
}

type jobDelivery struct {
	queue  *JobQueue
	record *jobRecord
}

func (d *jobDelivery) Message() *job.ExecutionMessage {
	if d == nil || d.record == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          d.record.JobID,
		ScriptPath:     d.record.ScriptPath,
		Parameters:     d.record.Parameters,
		IdempotencyKey: d.record.IdempotencyKey,
		DedupPolicy:    job.DeduplicationPolicy(d.record.DedupPolicy),
	}
}

func (d *jobDelivery) Ack(ctx context.Context) error {
	return d.queue.settle(ctx, d.record, jobStatusDone, time.Time{}, "")
}

func (d *jobDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	switch opts.Disposition {
	case queue.NackDispositionRetry:
		delay := max(opts.Delay, 0)
		return d.queue.settle(ctx, d.record, jobStatusPending, d.queue.now().Add(delay), opts.Reason)
	case queue.NackDispositionDeadLetter:
		return d.queue.settle(ctx, d.record, jobStatusDead, time.Time{}, opts.Reason)
	case queue.NackDispositionCanceled:
		return d.queue.settle(ctx, d.record, jobStatusCanceled, time.Time{}, opts.Reason)
	default:
		return d.queue.settle(ctx, d.record, jobStatusFailed, time.Time{}, opts.Reason)
	}
}

// ExtendLease pushes the claim forward for handlers that outlive the lease.
func (d *jobDelivery) ExtendLease(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("sqlstore: lease ttl must be positive")
	}
	lockedUntil := d.queue.now().Add(ttl)
	res, err := d.queue.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("locked_until = ?", lockedUntil).
		Set("updated_at = ?", d.queue.now()).
		Where("id = ?", d.record.ID).
		Where("status = ?", jobStatusRunning).
		Where("attempts = ?", d.record.Attempts).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrJobLeaseLost
	}
	d.record.LockedUntil = lockedUntil
	return nil
}

var (
	_ queue.Enqueuer      = (*JobQueue)(nil)
	_ queue.Dequeuer      = (*JobQueue)(nil)
	_ queue.Delivery      = (*jobDelivery)(nil)
	_ queue.LeaseExtender = (*jobDelivery)(nil)
)
