package fulfillment

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
)

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
	EventChargeRefunded           = "charge.refunded"
)

type processorEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object paymentObject `json:"object"`
	} `json:"data"`
}

type paymentObject struct {
	ID              string            `json:"id"`
	Amount          int64             `json:"amount"`
	AmountTotal     int64             `json:"amount_total"`
	AmountRefunded  int64             `json:"amount_refunded"`
	Currency        string            `json:"currency"`
	ReceiptEmail    string            `json:"receipt_email"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails *customerDetails  `json:"customer_details"`
	PaymentIntent   json.RawMessage   `json:"payment_intent"`
	Metadata        map[string]string `json:"metadata"`
}

type customerDetails struct {
	Email string `json:"email"`
}

// payment is the processor-neutral view of the fields fulfillment needs.
type payment struct {
	UserID       string
	CourseID     string
	Reference    string
	AmountCents  int64
	Currency     string
	ReceiptEmail string
}

func decodePayment(event core.PaymentEvent) (payment, error) {
	var envelope processorEvent
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return payment{}, core.BadInput("payment event payload is not valid json", map[string]any{
			"event_id": event.EventID,
			"error":    err.Error(),
		})
	}
	object := envelope.Data.Object

	out := payment{
		UserID:      strings.TrimSpace(object.Metadata["user_id"]),
		CourseID:    strings.TrimSpace(object.Metadata["course_id"]),
		AmountCents: object.Amount,
		Currency:    strings.ToLower(strings.TrimSpace(object.Currency)),
	}
	if object.AmountTotal > 0 {
		out.AmountCents = object.AmountTotal
	}

	intentID := paymentIntentID(object.PaymentIntent)
	switch event.Type {
	case EventPaymentIntentSucceeded, EventPaymentIntentFailed:
		out.Reference = strings.TrimSpace(object.ID)
	default:
		out.Reference = firstNonEmpty(intentID, object.ID)
	}
	if event.Type == EventChargeRefunded && object.AmountRefunded > 0 {
		out.AmountCents = object.AmountRefunded
	}

	var detailsEmail string
	if object.CustomerDetails != nil {
		detailsEmail = object.CustomerDetails.Email
	}
	out.ReceiptEmail = firstNonEmpty(object.ReceiptEmail, object.CustomerEmail, detailsEmail)
	return out, nil
}

// paymentIntentID accepts either an id string or an expanded object.
func paymentIntentID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &expanded); err == nil {
		return strings.TrimSpace(expanded.ID)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
