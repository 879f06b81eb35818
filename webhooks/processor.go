package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
)

type Processor struct {
	Verifier   Verifier
	Ledger     core.PaymentEventLedger
	Dispatcher core.EventDispatcher
	Decode     EventDecoder
	Observer   core.Observer
	Now        func() time.Time
}

func NewProcessor(verifier Verifier, ledger core.PaymentEventLedger, dispatcher core.EventDispatcher) *Processor {
	return &Processor{
		Verifier:   verifier,
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Decode:     DecodeEvent,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process authenticates and dispatches one callback. Accepted results
// (including replays and ignored types) answer 200. Signature and payload
// failures answer 400; dispatch failures answer 500 so the processor retries.
func (p *Processor) Process(ctx context.Context, req core.InboundRequest) (result core.InboundResult, err error) {
	if p == nil || p.Dispatcher == nil {
		return core.InboundResult{}, fmt.Errorf("webhooks: processor requires a dispatcher")
	}
	if p.Verifier == nil {
		return core.InboundResult{}, fmt.Errorf("webhooks: processor requires a signature verifier")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := time.Now()
	fields := map[string]any{}
	defer func() {
		if result.Outcome.Status != "" {
			fields["outcome"] = string(result.Outcome.Status)
		}
		p.Observer.Observe(ctx, startedAt, "webhook.process", err, fields)
	}()

	if err := p.Verifier.Verify(ctx, req); err != nil {
		fields["reason"] = "signature_invalid"
		return rejected(http.StatusBadRequest), err
	}

	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}
	decode := p.Decode
	if decode == nil {
		decode = DecodeEvent
	}
	event, err := decode(req.Body, receivedAt)
	if err != nil {
		fields["reason"] = "malformed_payload"
		return rejected(http.StatusBadRequest), err
	}
	fields["event_type"] = event.Type
	fields["event_id"] = event.EventID

	if p.Ledger != nil {
		if _, ledgerErr := p.Ledger.Record(ctx, event); ledgerErr != nil {
			p.Observer.Warn(ctx, "webhooks: ledger record failed", map[string]any{
				"event_id": event.EventID,
				"error":    ledgerErr.Error(),
			})
		}
	}

	outcome, err := p.Dispatcher.Dispatch(ctx, event)
	if err != nil {
		if p.Ledger != nil {
			if markErr := p.Ledger.MarkFailed(ctx, event.EventID, err); markErr != nil {
				p.Observer.Warn(ctx, "webhooks: ledger mark failed", map[string]any{
					"event_id": event.EventID,
					"error":    markErr.Error(),
				})
			}
		}
		status := http.StatusInternalServerError
		if core.IsBadInput(err) {
			status = http.StatusBadRequest
		}
		return rejected(status), err
	}

	if p.Ledger != nil && !outcome.Replayed {
		if markErr := p.Ledger.MarkOutcome(ctx, event.EventID, outcome); markErr != nil {
			p.Observer.Warn(ctx, "webhooks: ledger outcome failed", map[string]any{
				"event_id": event.EventID,
				"error":    markErr.Error(),
			})
		}
	}

	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Outcome:    outcome,
		Metadata: map[string]any{
			"event_id":   event.EventID,
			"event_type": event.Type,
			"outcome":    string(outcome.Status),
			"replayed":   outcome.Replayed,
		},
	}, nil
}

// IsRejection reports whether err came from signature or payload validation
// rather than from processing.
func IsRejection(err error) bool {
	return errors.Is(err, core.ErrWebhookSignatureInvalid) || core.IsBadInput(err)
}

func rejected(status int) core.InboundResult {
	return core.InboundResult{Accepted: false, StatusCode: status}
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
