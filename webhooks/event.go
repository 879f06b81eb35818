package webhooks

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
)

type EventDecoder func(body []byte, receivedAt time.Time) (core.PaymentEvent, error)

type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
}

// DecodeEvent reads the id and type of a processor event. The raw body is
// kept as the payload so handlers can decode their own object shapes.
func DecodeEvent(body []byte, receivedAt time.Time) (core.PaymentEvent, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return core.PaymentEvent{}, core.BadInput("payment event is not valid json", map[string]any{
			"error": err.Error(),
		})
	}
	if strings.TrimSpace(envelope.ID) == "" {
		return core.PaymentEvent{}, core.BadInput("payment event id is required", nil)
	}
	if strings.TrimSpace(envelope.Type) == "" {
		return core.PaymentEvent{}, core.BadInput("payment event type is required", map[string]any{
			"event_id": envelope.ID,
		})
	}
	payload := make([]byte, len(body))
	copy(payload, body)
	return core.PaymentEvent{
		EventID:    envelope.ID,
		Type:       envelope.Type,
		Payload:    payload,
		ReceivedAt: receivedAt,
	}.Normalized(), nil
}
