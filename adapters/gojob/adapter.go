package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-gatekeeper/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const (
	JobIDNotificationSend = "gatekeeper.notification.send"
	notificationScript    = "gatekeeper.notification.send"

	paramKind      = "kind"
	paramRecipient = "recipient"
	paramData      = "data"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
		return out
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToNackOptions maps a retry decision onto a go-job nack disposition.
func ToNackOptions(opts core.JobNackOptions) queue.NackOptions {
	disposition := queue.NackDispositionFailed
	switch {
	case opts.DeadLetter:
		disposition = queue.NackDispositionDeadLetter
	case opts.Requeue:
		disposition = queue.NackDispositionRetry
	}
	out := queue.NackOptions{Disposition: disposition, Reason: opts.Reason}
	if disposition == queue.NackDispositionRetry {
		out.Delay = opts.Delay
	}
	return out
}

// FromNackOptions is the inverse of ToNackOptions. Canceled deliveries map to
// a terminal failure.
func FromNackOptions(opts queue.NackOptions) core.JobNackOptions {
	out := core.JobNackOptions{Reason: opts.Reason}
	switch opts.Disposition {
	case queue.NackDispositionRetry:
		out.Requeue = true
		out.Delay = opts.Delay
	case queue.NackDispositionDeadLetter:
		out.DeadLetter = true
	}
	return out
}

// Backoff doubles BaseDelay per attempt, bounded by MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// NotificationMessage maps a notification onto a go-job execution message.
// Redelivered webhook events share an idempotency key so the queue can drop
// the duplicate send.
func NotificationMessage(kind core.NotificationKind, recipient string, data map[string]any) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:      JobIDNotificationSend,
		ScriptPath: notificationScript,
		Parameters: map[string]any{
			paramKind:      string(kind),
			paramRecipient: strings.TrimSpace(recipient),
			paramData:      copyAnyMap(data),
		},
		IdempotencyKey: notificationKey(kind, recipient, data),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// ParseNotificationMessage is the inverse of NotificationMessage.
func ParseNotificationMessage(msg *job.ExecutionMessage) (core.NotificationKind, string, map[string]any, error) {
	if msg == nil {
		return "", "", nil, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDNotificationSend {
		return "", "", nil, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	kind, _ := msg.Parameters[paramKind].(string)
	recipient, _ := msg.Parameters[paramRecipient].(string)
	kind = strings.TrimSpace(kind)
	recipient = strings.TrimSpace(recipient)
	if kind == "" || recipient == "" {
		return "", "", nil, fmt.Errorf("gojob: notification kind and recipient are required")
	}
	data, _ := msg.Parameters[paramData].(map[string]any)
	return core.NotificationKind(kind), recipient, copyAnyMap(data), nil
}

func notificationKey(kind core.NotificationKind, recipient string, data map[string]any) string {
	parts := []string{string(kind), strings.ToLower(strings.TrimSpace(recipient))}
	for _, key := range []string{"event_id", "identity_id"} {
		if value, ok := data[key]; ok && value != nil {
			parts = append(parts, fmt.Sprint(value))
			break
		}
	}
	return strings.Join(parts, ":")
}

// NotificationEnqueuer implements core.Notifier by handing notifications to
// a go-job queue. A successful Send means the job was accepted, not that the
// mail was delivered.
type NotificationEnqueuer struct {
	enqueuer queue.Enqueuer
	observer core.Observer
}

func NewNotificationEnqueuer(enqueuer queue.Enqueuer, observer core.Observer) *NotificationEnqueuer {
	return &NotificationEnqueuer{enqueuer: enqueuer, observer: observer}
}

func (n *NotificationEnqueuer) Send(ctx context.Context, kind core.NotificationKind, recipient string, data map[string]any) bool {
	if n == nil || n.enqueuer == nil {
		return false
	}
	startedAt := time.Now()
	msg := NotificationMessage(kind, recipient, data)
	receipt, err := n.enqueuer.Enqueue(ctx, msg)
	fields := map[string]any{
		"kind":            string(kind),
		"idempotency_key": msg.IdempotencyKey,
	}
	if receipt.DispatchID != "" {
		fields["dispatch_id"] = receipt.DispatchID
	}
	n.observer.Observe(ctx, startedAt, "notification.enqueue", err, fields)
	return err == nil
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ core.Notifier = (*NotificationEnqueuer)(nil)
