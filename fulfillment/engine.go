package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
	"github.com/goliatone/go-gatekeeper/identity"
	"github.com/goliatone/go-gatekeeper/inbound"
)

var errMissingMetadata = errors.New("payment metadata is missing user_id or course_id")

type Config struct {
	Store             core.FulfillmentStore
	Notifier          core.Notifier
	Observer          core.Observer
	PlaceholderDomain string
	Now               func() time.Time
}

type Engine struct {
	store             core.FulfillmentStore
	notifier          core.Notifier
	observer          core.Observer
	placeholderDomain string
	now               func() time.Time
}

// Registrar is satisfied by *inbound.Dispatcher.
type Registrar interface {
	Register(eventType string, handler inbound.Handler) error
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("fulfillment: store is required")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = core.NopNotifier{}
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:             cfg.Store,
		notifier:          notifier,
		observer:          cfg.Observer,
		placeholderDomain: cfg.PlaceholderDomain,
		now:               now,
	}, nil
}

// Register binds the engine's handlers to the processor event types.
func (e *Engine) Register(registrar Registrar) error {
	if e == nil || registrar == nil {
		return fmt.Errorf("fulfillment: engine and registrar are required")
	}
	bindings := []struct {
		eventType string
		handler   inbound.HandlerFunc
	}{
		{EventCheckoutSessionCompleted, e.HandleSucceeded},
		{EventPaymentIntentSucceeded, e.HandleSucceeded},
		{EventPaymentIntentFailed, e.HandleFailed},
		{EventChargeRefunded, e.HandleRefunded},
	}
	for _, binding := range bindings {
		if err := registrar.Register(binding.eventType, binding.handler); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) HandleSucceeded(ctx context.Context, event core.PaymentEvent) (core.Outcome, error) {
	return e.apply(ctx, event, core.PaymentStatusCompleted)
}

func (e *Engine) HandleFailed(ctx context.Context, event core.PaymentEvent) (core.Outcome, error) {
	return e.apply(ctx, event, core.PaymentStatusFailed)
}

func (e *Engine) HandleRefunded(ctx context.Context, event core.PaymentEvent) (core.Outcome, error) {
	return e.apply(ctx, event, core.PaymentStatusRefunded)
}

type applied struct {
	outcome    core.Outcome
	user       core.UserRef
	course     core.CourseRef
	enrollment core.Enrollment
	completed  bool
}

func (e *Engine) apply(ctx context.Context, event core.PaymentEvent, target core.PaymentStatus) (outcome core.Outcome, err error) {
	if e == nil {
		return core.Outcome{}, fmt.Errorf("fulfillment: engine is not configured")
	}
	startedAt := time.Now()
	defer func() {
		fields := map[string]any{
			"event_id":   event.EventID,
			"event_type": event.Type,
			"target":     string(target),
		}
		if outcome.Status != "" {
			fields["outcome"] = string(outcome.Status)
		}
		e.observer.Observe(ctx, startedAt, "fulfillment.apply", err, fields)
	}()

	pay, err := decodePayment(event)
	if err != nil {
		return core.Outcome{}, err
	}
	if pay.UserID == "" || pay.CourseID == "" {
		return core.Outcome{}, &core.ReferentialError{
			EventID:  event.EventID,
			UserID:   pay.UserID,
			CourseID: pay.CourseID,
			Cause:    errMissingMetadata,
		}
	}

	var result applied
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx core.FulfillmentTx) error {
		var txErr error
		result, txErr = e.applyInTx(ctx, tx, event, pay, target)
		return txErr
	})
	if err != nil {
		return core.Outcome{}, err
	}

	if result.completed {
		e.notifyCompleted(ctx, event, pay, result)
	}
	return result.outcome, nil
}

func (e *Engine) applyInTx(
	ctx context.Context,
	tx core.FulfillmentTx,
	event core.PaymentEvent,
	pay payment,
	target core.PaymentStatus,
) (applied, error) {
	user, err := tx.LookupUser(ctx, pay.UserID)
	if err != nil {
		return applied{}, referentialOr(err, core.ErrUserNotFound, event, pay)
	}
	course, err := tx.LookupCourse(ctx, pay.CourseID)
	if err != nil {
		return applied{}, referentialOr(err, core.ErrCourseNotFound, event, pay)
	}

	result := applied{user: user, course: course}
	status := core.OutcomeProcessed
	reason := ""

	enrollment, err := tx.GetEnrollment(ctx, pay.UserID, pay.CourseID)
	switch {
	case errors.Is(err, core.ErrEnrollmentNotFound):
		if target == core.PaymentStatusRefunded {
			status = core.OutcomeFlagged
			reason = "refund for a course without an enrollment"
			break
		}
		// A declined attempt leaves nothing to record; the buyer's next
		// successful payment must still be able to create the enrollment.
		if target == core.PaymentStatusFailed {
			status = core.OutcomeIgnored
			reason = "payment failed before any enrollment existed"
			break
		}
		enrollment, err = tx.CreateEnrollment(ctx, e.newEnrollment(pay, course, target))
		if err != nil {
			return applied{}, err
		}
		result.completed = target == core.PaymentStatusCompleted
	case err != nil:
		return applied{}, err
	case enrollment.PaymentStatus == target:
		reason = "enrollment already " + string(target)
	case enrollment.PaymentStatus.CanTransitionTo(target):
		enrollment, err = tx.UpdateEnrollmentStatus(ctx, enrollment.ID, enrollment.PaymentStatus, target, pay.Reference)
		if err != nil {
			return applied{}, err
		}
		result.completed = target == core.PaymentStatusCompleted
	default:
		status = core.OutcomeFlagged
		reason = fmt.Sprintf("enrollment is %s, refusing transition to %s", enrollment.PaymentStatus, target)
	}
	result.enrollment = enrollment

	if status == core.OutcomeFlagged {
		e.observer.Warn(ctx, "fulfillment: payment event flagged for review", map[string]any{
			"event_id":      event.EventID,
			"event_type":    event.Type,
			"user_id":       pay.UserID,
			"course_id":     pay.CourseID,
			"enrollment_id": enrollment.ID,
			"reason":        reason,
		})
	}

	record := core.FulfillmentRecord{
		EventID:      event.EventID,
		EventType:    event.Type,
		EnrollmentID: enrollment.ID,
		Outcome:      status,
		Reason:       reason,
		ProcessedAt:  e.now(),
	}
	if err := tx.InsertFulfillment(ctx, record); err != nil {
		return applied{}, err
	}
	result.outcome = core.Outcome{
		EventID:      event.EventID,
		EventType:    event.Type,
		Status:       status,
		EnrollmentID: enrollment.ID,
		Reason:       reason,
	}
	return result, nil
}

func (e *Engine) newEnrollment(pay payment, course core.CourseRef, status core.PaymentStatus) core.Enrollment {
	amount := pay.AmountCents
	if amount <= 0 {
		amount = course.PriceCents
	}
	currency := pay.Currency
	if currency == "" {
		currency = strings.ToLower(course.Currency)
	}
	now := e.now()
	return core.Enrollment{
		UserID:           pay.UserID,
		CourseID:         pay.CourseID,
		PaymentStatus:    status,
		PaymentReference: pay.Reference,
		AmountCents:      amount,
		Currency:         currency,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (e *Engine) notifyCompleted(ctx context.Context, event core.PaymentEvent, pay payment, result applied) {
	data := map[string]any{
		"event_id":          event.EventID,
		"user_id":           result.user.ID,
		"course_id":         result.course.ID,
		"course_title":      result.course.Title,
		"enrollment_id":     result.enrollment.ID,
		"amount_cents":      result.enrollment.AmountCents,
		"currency":          result.enrollment.Currency,
		"payment_reference": result.enrollment.PaymentReference,
	}
	e.send(ctx, core.NotificationEnrollmentConfirmation, result.user.Email, data)
	e.send(ctx, core.NotificationPaymentReceipt, firstNonEmpty(pay.ReceiptEmail, result.user.Email), data)
}

func (e *Engine) send(ctx context.Context, kind core.NotificationKind, recipient string, data map[string]any) {
	if recipient == "" || identity.IsPlaceholderEmail(recipient, e.placeholderDomain) {
		e.observer.Debug(ctx, "fulfillment: no deliverable recipient", map[string]any{
			"kind":          string(kind),
			"enrollment_id": data["enrollment_id"],
		})
		return
	}
	if !e.notifier.Send(ctx, kind, recipient, data) {
		e.observer.Warn(ctx, "fulfillment: notification not delivered", map[string]any{
			"kind":          string(kind),
			"enrollment_id": data["enrollment_id"],
		})
	}
}

func referentialOr(err error, sentinel error, event core.PaymentEvent, pay payment) error {
	if !errors.Is(err, sentinel) {
		return err
	}
	return &core.ReferentialError{
		EventID:  event.EventID,
		UserID:   pay.UserID,
		CourseID: pay.CourseID,
		Cause:    err,
	}
}
