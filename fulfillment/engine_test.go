package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
	"github.com/goliatone/go-gatekeeper/inbound"
)

type sentNotification struct {
	kind      core.NotificationKind
	recipient string
	data      map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Send(_ context.Context, kind core.NotificationKind, recipient string, data map[string]any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{kind: kind, recipient: recipient, data: data})
	return true
}

func (n *recordingNotifier) snapshot() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotification(nil), n.sent...)
}

type harness struct {
	store      *memoryStore
	notifier   *recordingNotifier
	engine     *Engine
	dispatcher *inbound.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemoryStore()
	store.users["u-1"] = core.UserRef{ID: "u-1", Email: "ada@example.org"}
	store.users["u-placeholder"] = core.UserRef{ID: "u-placeholder", Email: "sub-9@example.com"}
	store.courses["c-1"] = core.CourseRef{ID: "c-1", Title: "Intro to Go", PriceCents: 4900, Currency: "USD"}

	notifier := &recordingNotifier{}
	engine, err := NewEngine(Config{
		Store:    store,
		Notifier: notifier,
		Now:      func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	dispatcher := inbound.NewDispatcher(store)
	if err := engine.Register(dispatcher); err != nil {
		t.Fatalf("register engine: %v", err)
	}
	return &harness{store: store, notifier: notifier, engine: engine, dispatcher: dispatcher}
}

func (h *harness) seedEnrollment(t *testing.T, status core.PaymentStatus) core.Enrollment {
	t.Helper()
	var created core.Enrollment
	err := h.store.WithinTx(context.Background(), func(ctx context.Context, tx core.FulfillmentTx) error {
		var err error
		created, err = tx.CreateEnrollment(ctx, core.Enrollment{UserID: "u-1", CourseID: "c-1", PaymentStatus: status})
		return err
	})
	if err != nil {
		t.Fatalf("seed enrollment: %v", err)
	}
	return created
}

func paymentEvent(id string, eventType string, userID string, courseID string) core.PaymentEvent {
	payload := fmt.Sprintf(`{
		"id": %q,
		"type": %q,
		"data": {"object": {
			"id": "cs_test_1",
			"amount_total": 4900,
			"currency": "usd",
			"customer_details": {"email": "billing@example.org"},
			"payment_intent": "pi_123",
			"metadata": {"user_id": %q, "course_id": %q}
		}}
	}`, id, eventType, userID, courseID)
	return core.PaymentEvent{EventID: id, Type: eventType, Payload: []byte(payload)}
}

func TestEngine_SucceededCreatesCompletedEnrollment(t *testing.T) {
	h := newHarness(t)

	outcome, err := h.dispatcher.Dispatch(context.Background(), paymentEvent("evt_1", EventCheckoutSessionCompleted, "u-1", "c-1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != core.OutcomeProcessed || outcome.EnrollmentID == "" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	enrollment, ok := h.store.enrollment("u-1", "c-1")
	if !ok {
		t.Fatalf("expected enrollment to exist")
	}
	if enrollment.PaymentStatus != core.PaymentStatusCompleted || enrollment.PaymentReference != "pi_123" {
		t.Fatalf("unexpected enrollment: %+v", enrollment)
	}
	if enrollment.AmountCents != 4900 || enrollment.Currency != "usd" {
		t.Fatalf("unexpected amount: %+v", enrollment)
	}

	sent := h.notifier.snapshot()
	if len(sent) != 2 {
		t.Fatalf("expected confirmation and receipt, got %d notifications", len(sent))
	}
	if sent[0].kind != core.NotificationEnrollmentConfirmation || sent[0].recipient != "ada@example.org" {
		t.Fatalf("unexpected confirmation: %+v", sent[0])
	}
	if sent[1].kind != core.NotificationPaymentReceipt || sent[1].recipient != "billing@example.org" {
		t.Fatalf("unexpected receipt: %+v", sent[1])
	}
	if sent[0].data["course_title"] != "Intro to Go" {
		t.Fatalf("expected course title in notification data: %+v", sent[0].data)
	}
}

func TestEngine_RedeliveryReplaysWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	event := paymentEvent("evt_1", EventPaymentIntentSucceeded, "u-1", "c-1")

	first, err := h.dispatcher.Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	second, err := h.dispatcher.Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if !second.Replayed || second.EnrollmentID != first.EnrollmentID || second.Status != first.Status {
		t.Fatalf("expected replay of %+v, got %+v", first, second)
	}
	if got := len(h.notifier.snapshot()); got != 2 {
		t.Fatalf("redelivery must not notify again, got %d notifications", got)
	}
	if got := h.store.recordCount(); got != 1 {
		t.Fatalf("expected one fulfillment record, got %d", got)
	}
}

func TestEngine_ConcurrentRedeliveryAppliesOnce(t *testing.T) {
	h := newHarness(t)
	event := paymentEvent("evt_race", EventCheckoutSessionCompleted, "u-1", "c-1")

	const deliveries = 12
	outcomes := make(chan core.Outcome, deliveries)
	var wg sync.WaitGroup
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := h.dispatcher.Dispatch(context.Background(), event)
			if err != nil {
				t.Errorf("dispatch: %v", err)
				return
			}
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	fresh := 0
	for outcome := range outcomes {
		if outcome.Status != core.OutcomeProcessed {
			t.Fatalf("unexpected outcome: %+v", outcome)
		}
		if !outcome.Replayed {
			fresh++
		}
	}
	if fresh != 1 {
		t.Fatalf("expected exactly one non-replayed outcome, got %d", fresh)
	}
	if got := len(h.notifier.snapshot()); got != 2 {
		t.Fatalf("expected one confirmation and one receipt, got %d", got)
	}
}

func TestEngine_PendingBecomesCompleted(t *testing.T) {
	h := newHarness(t)
	seeded := h.seedEnrollment(t, core.PaymentStatusPending)

	outcome, err := h.dispatcher.Dispatch(context.Background(), paymentEvent("evt_2", EventPaymentIntentSucceeded, "u-1", "c-1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.EnrollmentID != seeded.ID {
		t.Fatalf("expected existing enrollment to be updated, got %+v", outcome)
	}
	enrollment, _ := h.store.enrollment("u-1", "c-1")
	if enrollment.PaymentStatus != core.PaymentStatusCompleted || enrollment.PaymentReference != "cs_test_1" {
		t.Fatalf("unexpected enrollment: %+v", enrollment)
	}
	if got := len(h.notifier.snapshot()); got != 2 {
		t.Fatalf("expected notifications for the transition, got %d", got)
	}
}

func TestEngine_CompletedSucceededIsNoop(t *testing.T) {
	h := newHarness(t)
	h.seedEnrollment(t, core.PaymentStatusCompleted)

	outcome, err := h.dispatcher.Dispatch(context.Background(), paymentEvent("evt_3", EventCheckoutSessionCompleted, "u-1", "c-1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != core.OutcomeProcessed || outcome.Reason == "" {
		t.Fatalf("expected processed no-op with reason, got %+v", outcome)
	}
	if got := len(h.notifier.snapshot()); got != 0 {
		t.Fatalf("no-op must not notify, got %d", got)
	}
	if got := h.store.recordCount(); got != 1 {
		t.Fatalf("no-op must still record the event, got %d records", got)
	}
}

func TestEngine_TerminalStatusesAreFlagged(t *testing.T) {
	cases := []struct {
		name    string
		seed    core.PaymentStatus
		event   string
		want    core.PaymentStatus
		outcome core.OutcomeStatus
	}{
		{name: "succeeded after refund", seed: core.PaymentStatusRefunded, event: EventCheckoutSessionCompleted, want: core.PaymentStatusRefunded, outcome: core.OutcomeFlagged},
		{name: "succeeded after failure", seed: core.PaymentStatusFailed, event: EventPaymentIntentSucceeded, want: core.PaymentStatusFailed, outcome: core.OutcomeFlagged},
		{name: "failed after refund", seed: core.PaymentStatusRefunded, event: EventPaymentIntentFailed, want: core.PaymentStatusRefunded, outcome: core.OutcomeFlagged},
		{name: "refund of pending", seed: core.PaymentStatusPending, event: EventChargeRefunded, want: core.PaymentStatusPending, outcome: core.OutcomeFlagged},
		{name: "refund of completed", seed: core.PaymentStatusCompleted, event: EventChargeRefunded, want: core.PaymentStatusRefunded, outcome: core.OutcomeProcessed},
		{name: "failure of completed", seed: core.PaymentStatusCompleted, event: EventPaymentIntentFailed, want: core.PaymentStatusFailed, outcome: core.OutcomeProcessed},
		{name: "failure of pending", seed: core.PaymentStatusPending, event: EventPaymentIntentFailed, want: core.PaymentStatusFailed, outcome: core.OutcomeProcessed},
		{name: "repeat refund", seed: core.PaymentStatusRefunded, event: EventChargeRefunded, want: core.PaymentStatusRefunded, outcome: core.OutcomeProcessed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.seedEnrollment(t, tc.seed)

			event := paymentEvent("evt_case", tc.event, "u-1", "c-1")
			outcome, err := h.dispatcher.Dispatch(context.Background(), event)
			if err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			if outcome.Status != tc.outcome {
				t.Fatalf("expected outcome %s, got %+v", tc.outcome, outcome)
			}
			enrollment, _ := h.store.enrollment("u-1", "c-1")
			if enrollment.PaymentStatus != tc.want {
				t.Fatalf("expected status %s, got %s", tc.want, enrollment.PaymentStatus)
			}
			if got := len(h.notifier.snapshot()); got != 0 {
				t.Fatalf("expected no notifications, got %d", got)
			}

			replay, err := h.dispatcher.Dispatch(context.Background(), event)
			if err != nil {
				t.Fatalf("redeliver: %v", err)
			}
			if !replay.Replayed || replay.Status != tc.outcome {
				t.Fatalf("expected replay of %s, got %+v", tc.outcome, replay)
			}
		})
	}
}

func TestEngine_MissingEnrollment(t *testing.T) {
	h := newHarness(t)

	outcome, err := h.dispatcher.Dispatch(context.Background(), paymentEvent("evt_refund", EventChargeRefunded, "u-1", "c-1"))
	if err != nil {
		t.Fatalf("dispatch refund: %v", err)
	}
	if outcome.Status != core.OutcomeFlagged {
		t.Fatalf("expected refund without enrollment to be flagged, got %+v", outcome)
	}
	if _, ok := h.store.enrollment("u-1", "c-1"); ok {
		t.Fatalf("refund must not create an enrollment")
	}

	outcome, err = h.dispatcher.Dispatch(context.Background(), paymentEvent("evt_fail", EventPaymentIntentFailed, "u-1", "c-1"))
	if err != nil {
		t.Fatalf("dispatch failure: %v", err)
	}
	if outcome.Status != core.OutcomeIgnored || outcome.EnrollmentID != "" {
		t.Fatalf("expected failure without enrollment to be acknowledged without state, got %+v", outcome)
	}
	if _, ok := h.store.enrollment("u-1", "c-1"); ok {
		t.Fatalf("payment failure must not create an enrollment")
	}
}

func TestEngine_DeclineThenSuccessfulRetryEnrolls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.dispatcher.Dispatch(ctx, paymentEvent("evt_decline", EventPaymentIntentFailed, "u-1", "c-1")); err != nil {
		t.Fatalf("dispatch decline: %v", err)
	}
	outcome, err := h.dispatcher.Dispatch(ctx, paymentEvent("evt_retry", EventPaymentIntentSucceeded, "u-1", "c-1"))
	if err != nil {
		t.Fatalf("dispatch retry: %v", err)
	}
	if outcome.Status != core.OutcomeProcessed {
		t.Fatalf("expected successful retry to be processed, got %+v", outcome)
	}
	enrollment, ok := h.store.enrollment("u-1", "c-1")
	if !ok || enrollment.PaymentStatus != core.PaymentStatusCompleted || outcome.EnrollmentID != enrollment.ID {
		t.Fatalf("expected completed enrollment after retry, got %+v (outcome %+v)", enrollment, outcome)
	}

	replay, err := h.dispatcher.Dispatch(ctx, paymentEvent("evt_decline", EventPaymentIntentFailed, "u-1", "c-1"))
	if err != nil {
		t.Fatalf("replay decline: %v", err)
	}
	if replay.Status != core.OutcomeIgnored {
		t.Fatalf("expected redelivered decline to replay its outcome, got %+v", replay)
	}
	if enrollment, _ := h.store.enrollment("u-1", "c-1"); enrollment.PaymentStatus != core.PaymentStatusCompleted {
		t.Fatalf("redelivered decline must not touch the enrollment, got %s", enrollment.PaymentStatus)
	}
}

func TestEngine_ReferentialErrors(t *testing.T) {
	cases := map[string]core.PaymentEvent{
		"unknown user":     paymentEvent("evt_ref", EventCheckoutSessionCompleted, "u-ghost", "c-1"),
		"unknown course":   paymentEvent("evt_ref", EventCheckoutSessionCompleted, "u-1", "c-ghost"),
		"missing metadata": paymentEvent("evt_ref", EventCheckoutSessionCompleted, "", "c-1"),
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)

			_, err := h.engine.HandleSucceeded(context.Background(), event)
			var referential *core.ReferentialError
			if !errors.As(err, &referential) || !errors.Is(err, core.ErrReferential) {
				t.Fatalf("expected referential error, got %v", err)
			}

			outcome, err := h.dispatcher.Dispatch(context.Background(), event)
			if err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			if outcome.Status != core.OutcomeReferentialError {
				t.Fatalf("unexpected outcome: %+v", outcome)
			}
			if h.store.recordCount() != 0 {
				t.Fatalf("referential failures must not write a fulfillment record")
			}
			if _, ok := h.store.enrollment("u-1", "c-1"); ok {
				t.Fatalf("referential failures must not create an enrollment")
			}
		})
	}
}

func TestEngine_TransactionFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.store.failInsert = errInjected

	_, err := h.dispatcher.Dispatch(context.Background(), paymentEvent("evt_tx", EventCheckoutSessionCompleted, "u-1", "c-1"))
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure to propagate, got %v", err)
	}
	if _, ok := h.store.enrollment("u-1", "c-1"); ok {
		t.Fatalf("enrollment must be rolled back with the failed transaction")
	}
	if got := len(h.notifier.snapshot()); got != 0 {
		t.Fatalf("rolled back transactions must not notify, got %d", got)
	}
}

func TestEngine_PlaceholderRecipientsAreSkipped(t *testing.T) {
	h := newHarness(t)
	payload := `{"id":"evt_ph","type":"payment_intent.succeeded","data":{"object":{"id":"pi_9","amount":1500,"currency":"eur","metadata":{"user_id":"u-placeholder","course_id":"c-1"}}}}`

	outcome, err := h.dispatcher.Dispatch(context.Background(), core.PaymentEvent{EventID: "evt_ph", Type: EventPaymentIntentSucceeded, Payload: []byte(payload)})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != core.OutcomeProcessed {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if got := len(h.notifier.snapshot()); got != 0 {
		t.Fatalf("placeholder addresses must not be mailed, got %d", got)
	}
	enrollment, _ := h.store.enrollment("u-placeholder", "c-1")
	if enrollment.AmountCents != 1500 || enrollment.Currency != "eur" || enrollment.PaymentReference != "pi_9" {
		t.Fatalf("unexpected enrollment: %+v", enrollment)
	}
}

func TestEngine_MalformedPayloadIsBadInput(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.HandleRefunded(context.Background(), core.PaymentEvent{EventID: "evt_bad", Type: EventChargeRefunded, Payload: []byte(`{"data":`)})
	if !core.IsBadInput(err) {
		t.Fatalf("expected bad input, got %v", err)
	}
}
