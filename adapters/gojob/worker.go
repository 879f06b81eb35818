package gojob

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-gatekeeper/core"

	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const defaultPollInterval = time.Second

type WorkerOption func(*NotificationWorker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *NotificationWorker) {
		w.policy = policy
	}
}

func WithHook(hook worker.Hook) WorkerOption {
	return func(w *NotificationWorker) {
		if hook != nil {
			w.hook = hook
		}
	}
}

func WithPollInterval(interval time.Duration) WorkerOption {
	return func(w *NotificationWorker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// NotificationWorker drains notification jobs and delivers them through the
// wrapped notifier, nacking failed sends under the retry policy.
type NotificationWorker struct {
	dequeuer     queue.Dequeuer
	notifier     core.Notifier
	policy       RetryPolicy
	hook         worker.Hook
	pollInterval time.Duration

	mu       sync.Mutex
	attempts map[string]int
}

func NewNotificationWorker(dequeuer queue.Dequeuer, notifier core.Notifier, opts ...WorkerOption) (*NotificationWorker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("gojob: notifier is required")
	}
	w := &NotificationWorker{
		dequeuer:     dequeuer,
		notifier:     notifier,
		policy:       RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute, DeadLetterOnMax: true},
		hook:         ObserverHook{},
		pollInterval: defaultPollInterval,
		attempts:     map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// ProcessNext handles a single delivery.
func (w *NotificationWorker) ProcessNext(ctx context.Context) error {
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}

	msg := delivery.Message()
	key := ""
	if msg != nil {
		key = msg.IdempotencyKey
	}
	attempt := w.nextAttempt(key)
	event := worker.Event{
		Message:   msg,
		Delivery:  delivery,
		Attempt:   attempt,
		StartedAt: time.Now(),
	}
	w.hook.OnStart(ctx, event)

	kind, recipient, data, err := ParseNotificationMessage(msg)
	if err != nil {
		w.forget(key)
		event.Err = err
		event.Duration = time.Since(event.StartedAt)
		w.hook.OnFailure(ctx, event)
		return delivery.Nack(ctx, ToNackOptions(core.JobNackOptions{DeadLetter: true, Reason: err.Error()}))
	}

	if w.notifier.Send(ctx, kind, recipient, data) {
		w.forget(key)
		event.Duration = time.Since(event.StartedAt)
		w.hook.OnSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	opts := w.policy.NormalizeAttempt(core.JobNackOptions{
		Delay:   w.policy.Backoff(attempt),
		Requeue: true,
		Reason:  "notification send failed",
	}, attempt)
	event.Err = fmt.Errorf("gojob: %s", opts.Reason)
	event.Delay = opts.Delay
	event.Duration = time.Since(event.StartedAt)
	if opts.Requeue {
		w.hook.OnRetry(ctx, event)
	} else {
		w.forget(key)
		w.hook.OnFailure(ctx, event)
	}
	return delivery.Nack(ctx, ToNackOptions(opts))
}

// Run processes deliveries until ctx is cancelled.
func (w *NotificationWorker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.pollInterval):
			}
		}
	}
}

func (w *NotificationWorker) nextAttempt(key string) int {
	if key == "" {
		return 1
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *NotificationWorker) forget(key string) {
	if key == "" {
		return
	}
	w.mu.Lock()
	delete(w.attempts, key)
	w.mu.Unlock()
}

// ObserverHook reports worker lifecycle events through a core.Observer.
type ObserverHook struct {
	Observer core.Observer
}

func (h ObserverHook) OnStart(ctx context.Context, event worker.Event) {
	h.Observer.Debug(ctx, "notification job started", eventFields(event))
}

func (h ObserverHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.record(ctx, event, "succeeded")
}

func (h ObserverHook) OnFailure(ctx context.Context, event worker.Event) {
	h.record(ctx, event, "failed")
}

func (h ObserverHook) OnRetry(ctx context.Context, event worker.Event) {
	h.record(ctx, event, "retry")
}

func (h ObserverHook) record(ctx context.Context, event worker.Event, status string) {
	fields := eventFields(event)
	fields["status"] = status
	if event.Delay > 0 {
		fields["delay_ms"] = event.Delay.Milliseconds()
	}
	h.Observer.Observe(ctx, event.StartedAt, "notification.job", event.Err, fields)
}

func eventFields(event worker.Event) map[string]any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	fields := map[string]any{"attempt": event.Attempt}
	if message != nil {
		fields["job_id"] = message.JobID
		fields["idempotency_key"] = message.IdempotencyKey
	}
	return fields
}

var _ worker.Hook = ObserverHook{}
