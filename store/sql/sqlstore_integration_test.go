package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	gkgojob "github.com/goliatone/go-gatekeeper/adapters/gojob"
	"github.com/goliatone/go-gatekeeper/core"
	"github.com/goliatone/go-gatekeeper/fulfillment"
	"github.com/goliatone/go-gatekeeper/inbound"
	gkmigrations "github.com/goliatone/go-gatekeeper/migrations"
	sqlstore "github.com/goliatone/go-gatekeeper/store/sql"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-gatekeeper-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"gatekeeper_fulfillment_records",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "gatekeeper_fulfillment_records" {
		t.Fatalf("expected gatekeeper_fulfillment_records table, got %q", tableName)
	}
}

func TestIdentityStore_CreateConflictAndUpdate(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.IdentityStore()

	created, err := store.Create(ctx, core.CreateIdentityInput{ExternalSubject: "sub-1", Email: "ada@example.org"})
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if created.ID == "" || created.ExternalSubject != "sub-1" {
		t.Fatalf("unexpected identity %+v", created)
	}

	if _, err := store.Create(ctx, core.CreateIdentityInput{ExternalSubject: "sub-1"}); !errors.Is(err, core.ErrIdentityConflict) {
		t.Fatalf("expected ErrIdentityConflict, got %v", err)
	}

	found, err := store.GetBySubject(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get by subject: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("expected %s, got %s", created.ID, found.ID)
	}

	if _, err := store.GetBySubject(ctx, "sub-missing"); !errors.Is(err, core.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}

	updated, err := store.UpdateEmail(ctx, created.ID, "lovelace@example.org")
	if err != nil {
		t.Fatalf("update email: %v", err)
	}
	if updated.Email != "lovelace@example.org" {
		t.Fatalf("expected updated email, got %q", updated.Email)
	}
}

func TestCatalogStore_LookupsAndUpsert(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	user := seedIdentity(t, factory, "sub-catalog", "ada@example.org")
	catalog := factory.CatalogStore()

	ref, err := catalog.LookupUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	if ref.Email != "ada@example.org" {
		t.Fatalf("unexpected user ref %+v", ref)
	}
	if _, err := catalog.LookupUser(ctx, "missing"); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := catalog.LookupCourse(ctx, "missing"); !errors.Is(err, core.ErrCourseNotFound) {
		t.Fatalf("expected ErrCourseNotFound, got %v", err)
	}

	if _, err := catalog.UpsertCourse(ctx, core.CourseRef{ID: "go-101", Title: "Intro", PriceCents: 4900, Currency: "USD"}); err != nil {
		t.Fatalf("insert course: %v", err)
	}
	course, err := catalog.UpsertCourse(ctx, core.CourseRef{ID: "go-101", Title: "Intro to Go", PriceCents: 5900, Currency: "usd"})
	if err != nil {
		t.Fatalf("update course: %v", err)
	}
	if course.Title != "Intro to Go" || course.PriceCents != 5900 || course.Currency != "usd" {
		t.Fatalf("unexpected course %+v", course)
	}

	courses, err := catalog.ListCourses(ctx)
	if err != nil {
		t.Fatalf("list courses: %v", err)
	}
	if len(courses) != 1 {
		t.Fatalf("expected 1 course, got %d", len(courses))
	}
}

func TestFulfillmentStore_DuplicateInsertRollsBackTransaction(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	first := seedIdentity(t, factory, "sub-a", "a@example.org")
	second := seedIdentity(t, factory, "sub-b", "b@example.org")
	seedCourse(t, factory, "go-101")
	store := factory.FulfillmentStore()

	err := store.WithinTx(ctx, func(ctx context.Context, tx core.FulfillmentTx) error {
		enrollment, err := tx.CreateEnrollment(ctx, core.Enrollment{UserID: first.ID, CourseID: "go-101", PaymentStatus: core.PaymentStatusCompleted})
		if err != nil {
			return err
		}
		return tx.InsertFulfillment(ctx, core.FulfillmentRecord{
			EventID:      "evt_1",
			EventType:    "checkout.session.completed",
			EnrollmentID: enrollment.ID,
			Outcome:      core.OutcomeProcessed,
		})
	})
	if err != nil {
		t.Fatalf("first transaction: %v", err)
	}

	err = store.WithinTx(ctx, func(ctx context.Context, tx core.FulfillmentTx) error {
		if _, err := tx.CreateEnrollment(ctx, core.Enrollment{UserID: second.ID, CourseID: "go-101", PaymentStatus: core.PaymentStatusCompleted}); err != nil {
			return err
		}
		return tx.InsertFulfillment(ctx, core.FulfillmentRecord{
			EventID:   "evt_1",
			EventType: "checkout.session.completed",
			Outcome:   core.OutcomeProcessed,
		})
	})
	if !errors.Is(err, core.ErrDuplicateFulfillment) {
		t.Fatalf("expected ErrDuplicateFulfillment, got %v", err)
	}
	if _, err := store.GetEnrollment(ctx, second.ID, "go-101"); !errors.Is(err, core.ErrEnrollmentNotFound) {
		t.Fatalf("expected rolled back enrollment to be absent, got %v", err)
	}

	record, err := store.GetFulfillment(ctx, "evt_1")
	if err != nil {
		t.Fatalf("get fulfillment: %v", err)
	}
	if record.Outcome != core.OutcomeProcessed || record.EnrollmentID == "" {
		t.Fatalf("unexpected fulfillment record %+v", record)
	}
	if _, err := store.GetFulfillment(ctx, "evt_missing"); !errors.Is(err, core.ErrFulfillmentNotFound) {
		t.Fatalf("expected ErrFulfillmentNotFound, got %v", err)
	}
}

func TestFulfillmentStore_EnrollmentConstraintsAndCompareAndSet(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	user := seedIdentity(t, factory, "sub-cas", "a@example.org")
	seedCourse(t, factory, "go-101")
	store := factory.FulfillmentStore()

	var created core.Enrollment
	err := store.WithinTx(ctx, func(ctx context.Context, tx core.FulfillmentTx) error {
		var err error
		created, err = tx.CreateEnrollment(ctx, core.Enrollment{UserID: user.ID, CourseID: "go-101", PaymentStatus: core.PaymentStatusPending})
		return err
	})
	if err != nil {
		t.Fatalf("create enrollment: %v", err)
	}

	err = store.WithinTx(ctx, func(ctx context.Context, tx core.FulfillmentTx) error {
		_, err := tx.CreateEnrollment(ctx, core.Enrollment{UserID: user.ID, CourseID: "go-101", PaymentStatus: core.PaymentStatusPending})
		return err
	})
	if !errors.Is(err, core.ErrEnrollmentConflict) {
		t.Fatalf("expected ErrEnrollmentConflict for duplicate enrollment, got %v", err)
	}

	var updated core.Enrollment
	err = store.WithinTx(ctx, func(ctx context.Context, tx core.FulfillmentTx) error {
		var err error
		updated, err = tx.UpdateEnrollmentStatus(ctx, created.ID, core.PaymentStatusPending, core.PaymentStatusCompleted, "pi_123")
		return err
	})
	if err != nil {
		t.Fatalf("update enrollment: %v", err)
	}
	if updated.PaymentStatus != core.PaymentStatusCompleted || updated.PaymentReference != "pi_123" {
		t.Fatalf("unexpected enrollment %+v", updated)
	}

	err = store.WithinTx(ctx, func(ctx context.Context, tx core.FulfillmentTx) error {
		_, err := tx.UpdateEnrollmentStatus(ctx, created.ID, core.PaymentStatusPending, core.PaymentStatusFailed, "")
		return err
	})
	if !errors.Is(err, core.ErrEnrollmentConflict) {
		t.Fatalf("expected ErrEnrollmentConflict for stale status, got %v", err)
	}

	err = store.WithinTx(ctx, func(ctx context.Context, tx core.FulfillmentTx) error {
		_, err := tx.UpdateEnrollmentStatus(ctx, "missing", core.PaymentStatusPending, core.PaymentStatusFailed, "")
		return err
	})
	if !errors.Is(err, core.ErrEnrollmentNotFound) {
		t.Fatalf("expected ErrEnrollmentNotFound, got %v", err)
	}
}

func TestFulfillmentEngine_AppliesOnceOverSQLite(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	user := seedIdentity(t, factory, "sub-engine", "ada@example.org")
	seedCourse(t, factory, "go-101")

	notifier := &countingNotifier{}
	engine, err := fulfillment.NewEngine(fulfillment.Config{
		Store:    factory.FulfillmentStore(),
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	dispatcher := inbound.NewDispatcher(factory.FulfillmentStore())
	if err := engine.Register(dispatcher); err != nil {
		t.Fatalf("register engine: %v", err)
	}

	event := checkoutEvent("evt_engine_1", user.ID, "go-101")
	first, err := dispatcher.Dispatch(ctx, event)
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if first.Status != core.OutcomeProcessed || first.EnrollmentID == "" || first.Replayed {
		t.Fatalf("unexpected first outcome %+v", first)
	}
	second, err := dispatcher.Dispatch(ctx, event)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if !second.Replayed || second.EnrollmentID != first.EnrollmentID {
		t.Fatalf("expected replay of %+v, got %+v", first, second)
	}
	if got := notifier.count(); got != 2 {
		t.Fatalf("expected confirmation and receipt once, got %d notifications", got)
	}

	enrollment, err := factory.FulfillmentStore().GetEnrollment(ctx, user.ID, "go-101")
	if err != nil {
		t.Fatalf("get enrollment: %v", err)
	}
	if enrollment.PaymentStatus != core.PaymentStatusCompleted || enrollment.AmountCents != 4900 {
		t.Fatalf("unexpected enrollment %+v", enrollment)
	}

	missing := checkoutEvent("evt_engine_2", "missing-user", "go-101")
	outcome, err := dispatcher.Dispatch(ctx, missing)
	if err != nil {
		t.Fatalf("dispatch with missing user: %v", err)
	}
	if outcome.Status != core.OutcomeReferentialError {
		t.Fatalf("expected referential outcome for missing user, got %+v", outcome)
	}
}

func TestPaymentEventStore_RecordsAttemptsAndFlags(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	ledger := factory.PaymentEventStore()

	event := core.PaymentEvent{EventID: "evt_ledger_1", Type: "charge.refunded", Payload: []byte(`{"id":"evt_ledger_1"}`)}
	first, err := ledger.Record(ctx, event)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.Attempts != 1 || first.Status != core.PaymentEventReceived {
		t.Fatalf("unexpected first record %+v", first)
	}
	second, err := ledger.Record(ctx, event)
	if err != nil {
		t.Fatalf("record redelivery: %v", err)
	}
	if second.Attempts != 2 || second.ID != first.ID {
		t.Fatalf("expected attempts to increase on the same row, got %+v", second)
	}

	if err := ledger.MarkOutcome(ctx, event.EventID, core.Outcome{
		EventID: event.EventID,
		Status:  core.OutcomeFlagged,
		Reason:  "refund for a course without an enrollment",
	}); err != nil {
		t.Fatalf("mark outcome: %v", err)
	}

	processed := core.PaymentEvent{EventID: "evt_ledger_2", Type: "checkout.session.completed"}
	if _, err := ledger.Record(ctx, processed); err != nil {
		t.Fatalf("record processed: %v", err)
	}
	if err := ledger.MarkOutcome(ctx, processed.EventID, core.Outcome{Status: core.OutcomeProcessed}); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	flagged, err := ledger.ListFlagged(ctx, 10)
	if err != nil {
		t.Fatalf("list flagged: %v", err)
	}
	if len(flagged) != 1 || flagged[0].EventID != event.EventID {
		t.Fatalf("expected only the flagged event, got %+v", flagged)
	}
	if flagged[0].Status != core.PaymentEventFlagged || !flagged[0].FlaggedForReview || flagged[0].ProcessedAt == nil {
		t.Fatalf("unexpected flagged record %+v", flagged[0])
	}
	if flagged[0].LastError != "refund for a course without an enrollment" {
		t.Fatalf("expected flag reason, got %q", flagged[0].LastError)
	}

	if err := ledger.MarkFailed(ctx, processed.EventID, errors.New("db unavailable")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	failed, err := ledger.Get(ctx, processed.EventID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if failed.Status != core.PaymentEventFailed || failed.LastError != "db unavailable" {
		t.Fatalf("unexpected failed record %+v", failed)
	}

	if err := ledger.MarkFailed(ctx, "evt_missing", errors.New("x")); !errors.Is(err, core.ErrPaymentEventNotFound) {
		t.Fatalf("expected ErrPaymentEventNotFound, got %v", err)
	}
}

func TestPaymentEventStore_TruncatesErrorsOnRuneBoundary(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	ledger := factory.PaymentEventStore()

	event := core.PaymentEvent{EventID: "evt_long_error", Type: "payment_intent.succeeded"}
	if _, err := ledger.Record(ctx, event); err != nil {
		t.Fatalf("record: %v", err)
	}
	cause := errors.New("x" + strings.Repeat("é", 600))
	if err := ledger.MarkFailed(ctx, event.EventID, cause); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, err := ledger.Get(ctx, event.EventID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !utf8.ValidString(got.LastError) {
		t.Fatalf("expected valid UTF-8 after truncation")
	}
	if len(got.LastError) != 1023 {
		t.Fatalf("expected truncation to back off to a rune start, got %d bytes", len(got.LastError))
	}
}

func TestJobQueue_DedupClaimAndSettle(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	jobs := factory.JobQueue()

	msg := gkgojob.NotificationMessage(core.NotificationPaymentReceipt, "billing@example.org", map[string]any{"event_id": "evt_1"})
	first, err := jobs.Enqueue(ctx, msg)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if first.DispatchID == "" || first.EnqueuedAt.IsZero() {
		t.Fatalf("expected enqueue receipt, got %+v", first)
	}
	second, err := jobs.Enqueue(ctx, msg)
	if err != nil {
		t.Fatalf("enqueue duplicate with drop policy: %v", err)
	}
	if second.DispatchID != first.DispatchID {
		t.Fatalf("expected duplicate to report dispatch %q, got %q", first.DispatchID, second.DispatchID)
	}
	assertPending(t, jobs, 1)

	delivery, err := jobs.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got := delivery.Message(); got.JobID != gkgojob.JobIDNotificationSend || got.IdempotencyKey != msg.IdempotencyKey {
		t.Fatalf("unexpected message %+v", got)
	}
	if _, err := jobs.Dequeue(ctx); !errors.Is(err, sqlstore.ErrNoJobs) {
		t.Fatalf("expected claimed job to be invisible, got %v", err)
	}

	if err := delivery.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionRetry, Reason: "smtp down"}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	assertPending(t, jobs, 1)

	delivery, err = jobs.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue after requeue: %v", err)
	}
	if err := delivery.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionRetry, Delay: time.Hour}); err != nil {
		t.Fatalf("delayed nack: %v", err)
	}
	if _, err := jobs.Dequeue(ctx); !errors.Is(err, sqlstore.ErrNoJobs) {
		t.Fatalf("expected delayed job to be invisible, got %v", err)
	}

	other := &job.ExecutionMessage{JobID: "gatekeeper.other", Parameters: map[string]any{"k": "v"}}
	if _, err := jobs.Enqueue(ctx, other); err != nil {
		t.Fatalf("enqueue other: %v", err)
	}
	delivery, err = jobs.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue other: %v", err)
	}
	if delivery.Message().Parameters["k"] != "v" {
		t.Fatalf("expected parameters to round-trip, got %+v", delivery.Message().Parameters)
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	assertPending(t, jobs, 1)
}

func TestJobQueue_ReclaimsExpiredLeases(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	jobs, err := sqlstore.NewJobQueue(factory.DB(),
		sqlstore.WithJobLease(time.Minute),
		sqlstore.WithJobClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new job queue: %v", err)
	}

	msg := gkgojob.NotificationMessage(core.NotificationWelcome, "ada@example.org", map[string]any{"identity_id": "id-1"})
	if _, err := jobs.Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	stale, err := jobs.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	now = now.Add(30 * time.Second)
	if _, err := jobs.Dequeue(ctx); !errors.Is(err, sqlstore.ErrNoJobs) {
		t.Fatalf("expected job to stay leased, got %v", err)
	}

	now = now.Add(time.Minute)
	reclaimed, err := jobs.Dequeue(ctx)
	if err != nil {
		t.Fatalf("expected expired lease to be reclaimed: %v", err)
	}
	if reclaimed.Message().IdempotencyKey != msg.IdempotencyKey {
		t.Fatalf("unexpected reclaimed message %+v", reclaimed.Message())
	}

	if err := stale.Ack(ctx); !errors.Is(err, sqlstore.ErrJobLeaseLost) {
		t.Fatalf("expected stale ack to lose the lease, got %v", err)
	}
	extender, ok := reclaimed.(queue.LeaseExtender)
	if !ok {
		t.Fatalf("expected delivery to support lease extension")
	}
	if err := extender.ExtendLease(ctx, time.Hour); err != nil {
		t.Fatalf("extend lease: %v", err)
	}
	now = now.Add(30 * time.Minute)
	if _, err := jobs.Dequeue(ctx); !errors.Is(err, sqlstore.ErrNoJobs) {
		t.Fatalf("expected extended lease to hold, got %v", err)
	}
	if err := reclaimed.Nack(ctx, queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: "bounced"}); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := jobs.Dequeue(ctx); !errors.Is(err, sqlstore.ErrNoJobs) {
		t.Fatalf("expected dead-lettered job to stay settled, got %v", err)
	}
	assertPending(t, jobs, 0)
}

func TestJobQueue_DrivesNotificationWorker(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	jobs := factory.JobQueue()
	notifier := &countingNotifier{}

	enqueuer := gkgojob.NewNotificationEnqueuer(jobs, core.Observer{})
	if !enqueuer.Send(ctx, core.NotificationWelcome, "ada@example.org", map[string]any{"identity_id": "id-1"}) {
		t.Fatalf("expected enqueue to succeed")
	}
	if !enqueuer.Send(ctx, core.NotificationWelcome, "ada@example.org", map[string]any{"identity_id": "id-1"}) {
		t.Fatalf("expected duplicate enqueue to be dropped quietly")
	}

	worker, err := gkgojob.NewNotificationWorker(jobs, notifier)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := worker.ProcessNext(ctx); err != nil {
		t.Fatalf("process next: %v", err)
	}
	if got := notifier.count(); got != 1 {
		t.Fatalf("expected one delivered notification, got %d", got)
	}
	if err := worker.ProcessNext(ctx); !errors.Is(err, sqlstore.ErrNoJobs) {
		t.Fatalf("expected empty queue, got %v", err)
	}
	assertPending(t, jobs, 0)
}

type countingNotifier struct {
	mu   sync.Mutex
	sent int
}

func (n *countingNotifier) Send(context.Context, core.NotificationKind, string, map[string]any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent++
	return true
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent
}

func checkoutEvent(id string, userID string, courseID string) core.PaymentEvent {
	payload := fmt.Sprintf(`{
		"id": %q,
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"amount_total": 4900,
			"currency": "usd",
			"customer_details": {"email": "billing@example.org"},
			"payment_intent": "pi_123",
			"metadata": {"user_id": %q, "course_id": %q}
		}}
	}`, id, userID, courseID)
	return core.PaymentEvent{EventID: id, Type: "checkout.session.completed", Payload: []byte(payload)}
}

func assertPending(t *testing.T, jobs *sqlstore.JobQueue, want int) {
	t.Helper()
	got, err := jobs.Pending(context.Background())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if got != want {
		t.Fatalf("expected %d pending jobs, got %d", want, got)
	}
}

func seedIdentity(t *testing.T, factory *sqlstore.RepositoryFactory, subject string, email string) core.LocalIdentity {
	t.Helper()
	identity, err := factory.IdentityStore().Create(context.Background(), core.CreateIdentityInput{ExternalSubject: subject, Email: email})
	if err != nil {
		t.Fatalf("seed identity: %v", err)
	}
	return identity
}

func seedCourse(t *testing.T, factory *sqlstore.RepositoryFactory, id string) {
	t.Helper()
	if _, err := factory.CatalogStore().UpsertCourse(context.Background(), core.CourseRef{
		ID:         id,
		Title:      "Intro to Go",
		PriceCents: 4900,
		Currency:   "usd",
	}); err != nil {
		t.Fatalf("seed course: %v", err)
	}
}

func newFactory(t *testing.T) *sqlstore.RepositoryFactory {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:gatekeeper-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	if err := gkmigrations.Register(client, gkmigrations.SQLite); err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
