package inbound

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-gatekeeper/core"
)

type Handler interface {
	Handle(ctx context.Context, event core.PaymentEvent) (core.Outcome, error)
}

type HandlerFunc func(ctx context.Context, event core.PaymentEvent) (core.Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, event core.PaymentEvent) (core.Outcome, error) {
	return f(ctx, event)
}

type Dispatcher struct {
	Store    core.FulfillmentStore
	Observer core.Observer

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher(store core.FulfillmentStore) *Dispatcher {
	return &Dispatcher{
		Store:    store,
		handlers: map[string]Handler{},
	}
}

func (d *Dispatcher) Register(eventType string, handler Handler) error {
	if d == nil {
		return inboundInternal("inbound: dispatcher is nil", nil)
	}
	if handler == nil {
		return inboundBadInput("inbound: handler is nil", nil)
	}
	eventType = normalizeEventType(eventType)
	if eventType == "" {
		return inboundBadInput("inbound: event type is required", nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = map[string]Handler{}
	}
	if _, exists := d.handlers[eventType]; exists {
		return inboundError(
			fmt.Sprintf("inbound: handler already registered for event type %q", eventType),
			goerrors.CategoryConflict,
			http.StatusConflict,
			core.ErrorConflict,
			map[string]any{"event_type": eventType},
		)
	}
	d.handlers[eventType] = handler
	return nil
}

// Dispatch applies event at most once. Errors returned here are transient
// and the caller should let the processor redeliver; referential failures
// and duplicates resolve to an acknowledged outcome instead.
func (d *Dispatcher) Dispatch(ctx context.Context, event core.PaymentEvent) (outcome core.Outcome, err error) {
	if d == nil || d.Store == nil {
		return core.Outcome{}, inboundInternal("inbound: dispatcher requires a fulfillment store", nil)
	}
	event = event.Normalized()
	if event.EventID == "" {
		return core.Outcome{}, inboundBadInput("inbound: event id is required", map[string]any{
			"event_type": event.Type,
		})
	}

	startedAt := time.Now()
	defer func() {
		fields := map[string]any{
			"event_id":   event.EventID,
			"event_type": event.Type,
		}
		if outcome.Status != "" {
			fields["outcome"] = string(outcome.Status)
			fields["replayed"] = outcome.Replayed
		}
		d.Observer.Observe(ctx, startedAt, "inbound.dispatch", err, fields)
	}()

	if replay, found, readErr := d.replay(ctx, event.EventID); readErr != nil {
		return core.Outcome{}, readErr
	} else if found {
		return replay, nil
	}

	handler := d.handlerFor(event.Type)
	if handler == nil {
		return core.Outcome{
			EventID:   event.EventID,
			EventType: event.Type,
			Status:    core.OutcomeIgnored,
			Reason:    "unhandled event type",
		}, nil
	}

	outcome, err = handler.Handle(ctx, event)
	if err == nil {
		outcome.EventID = event.EventID
		outcome.EventType = event.Type
		return outcome, nil
	}

	var referential *core.ReferentialError
	switch {
	case errors.Is(err, core.ErrDuplicateFulfillment):
		replay, found, readErr := d.replay(ctx, event.EventID)
		if readErr != nil {
			return core.Outcome{}, readErr
		}
		if !found {
			return core.Outcome{}, inboundInternal("inbound: duplicate fulfillment without record", map[string]any{
				"event_id": event.EventID,
			})
		}
		return replay, nil
	case errors.As(err, &referential):
		d.Observer.Error(ctx, "inbound: payment event references missing entity", map[string]any{
			"event_id":   event.EventID,
			"event_type": event.Type,
			"user_id":    referential.UserID,
			"course_id":  referential.CourseID,
			"error":      err.Error(),
		})
		return core.Outcome{
			EventID:   event.EventID,
			EventType: event.Type,
			Status:    core.OutcomeReferentialError,
			Reason:    referential.Error(),
		}, nil
	case core.IsBadInput(err):
		return core.Outcome{}, err
	case errors.Is(err, core.ErrEnrollmentConflict):
		// A concurrent delivery of the same event may have committed first.
		if replay, found, readErr := d.replay(ctx, event.EventID); readErr == nil && found {
			return replay, nil
		}
		return core.Outcome{}, inboundWrapError(
			err,
			goerrors.CategoryConflict,
			"inbound: enrollment changed concurrently",
			http.StatusInternalServerError,
			core.ErrorConflict,
			map[string]any{"event_id": event.EventID, "event_type": event.Type},
		)
	default:
		return core.Outcome{}, inboundWrapError(
			err,
			goerrors.CategoryOperation,
			"inbound: handler execution failed",
			http.StatusInternalServerError,
			core.ErrorInternal,
			map[string]any{"event_id": event.EventID, "event_type": event.Type},
		)
	}
}

func (d *Dispatcher) replay(ctx context.Context, eventID string) (core.Outcome, bool, error) {
	record, err := d.Store.GetFulfillment(ctx, eventID)
	if errors.Is(err, core.ErrFulfillmentNotFound) {
		return core.Outcome{}, false, nil
	}
	if err != nil {
		return core.Outcome{}, false, inboundWrapError(
			err,
			goerrors.CategoryOperation,
			"inbound: read fulfillment record",
			http.StatusInternalServerError,
			core.ErrorInternal,
			map[string]any{"event_id": eventID},
		)
	}
	outcome := record.ToOutcome()
	outcome.Replayed = true
	return outcome, true, nil
}

func (d *Dispatcher) handlerFor(eventType string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[normalizeEventType(eventType)]
}

func normalizeEventType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

var _ core.EventDispatcher = (*Dispatcher)(nil)
