package httptransport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
)

const defaultMaxWebhookBytes int64 = 1 << 20

// WebhookProcessor is satisfied by *webhooks.Processor and by the
// command-bus adapter.
type WebhookProcessor interface {
	Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

type webhookResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Replayed bool   `json:"replayed,omitempty"`
}

// WebhookHandler reads the raw body, hands it to the processor and answers
// with the processor's status code: 200 for accepted events, 400 for
// signature or payload failures, 500 when the provider should retry.
func WebhookHandler(processor WebhookProcessor, maxBytes int64, observer core.Observer) http.Handler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxWebhookBytes
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if processor == nil {
			writeStatusError(w, http.StatusServiceUnavailable, core.ErrorInternal, "webhook processing is not configured")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeStatusError(w, http.StatusRequestEntityTooLarge, core.ErrorBadInput, "payload too large")
				return
			}
			writeStatusError(w, http.StatusBadRequest, core.ErrorBadInput, "unreadable payload")
			return
		}

		result, err := processor.Process(ctx, core.InboundRequest{
			Body:       body,
			Headers:    flattenHeaders(r.Header),
			ReceivedAt: time.Now().UTC(),
		})
		if err != nil {
			observer.Warn(ctx, "http: webhook rejected", map[string]any{
				"status": result.StatusCode,
				"error":  err.Error(),
			})
			if result.StatusCode >= http.StatusBadRequest {
				mapped := core.MapError(err)
				code := core.ErrorInternal
				message := "An unexpected error occurred"
				if mapped != nil && result.StatusCode < http.StatusInternalServerError {
					code = mapped.TextCode
					message = mapped.Message
				}
				writeStatusError(w, result.StatusCode, code, message)
				return
			}
			writeError(w, err)
			return
		}

		status := result.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, webhookResponse{
			Received: result.Accepted,
			EventID:  result.Outcome.EventID,
			Outcome:  string(result.Outcome.Status),
			Replayed: result.Outcome.Replayed,
		})
	})
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}
