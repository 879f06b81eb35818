package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestObserver_RecordsMetricsAndLogsFailure(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := NewObserver("webhooks", logger, metrics)

	observer.Observe(context.Background(), time.Now(), "Process Event", errors.New("boom"), map[string]any{
		"event_type": "payment_intent.succeeded",
		"event_id":   "evt_1",
	})

	if len(metrics.counters) != 1 {
		t.Fatalf("expected one counter, got %d", len(metrics.counters))
	}
	counter := metrics.counters[0]
	if counter.name != "gatekeeper.webhooks.process_event.total" {
		t.Fatalf("unexpected counter name %q", counter.name)
	}
	if counter.tags["status"] != "failure" || counter.tags["event_type"] != "payment_intent.succeeded" {
		t.Fatalf("unexpected counter tags %#v", counter.tags)
	}
	if _, ok := counter.tags["event_id"]; ok {
		t.Fatalf("expected event_id to stay out of metric tags")
	}
	if len(metrics.histograms) != 1 || metrics.histograms[0].name != "gatekeeper.webhooks.process_event.duration_ms" {
		t.Fatalf("unexpected histograms %#v", metrics.histograms)
	}

	logs := logger.snapshot()
	if len(logs) != 1 {
		t.Fatalf("expected one log entry, got %d", len(logs))
	}
	if logs[0].level != "error" || logs[0].msg != "process_event failed" {
		t.Fatalf("unexpected log entry %#v", logs[0])
	}
	if logs[0].fields["error"] != "boom" || logs[0].fields["event_id"] != "evt_1" {
		t.Fatalf("expected structured fields, got %#v", logs[0].fields)
	}
}

func TestObserver_StatusFieldOverridesTag(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	observer := NewObserver("", nil, metrics)

	observer.Observe(context.Background(), time.Now(), "dispatch", nil, map[string]any{"status": "ignored"})

	if metrics.counters[0].name != "gatekeeper.dispatch.total" {
		t.Fatalf("unexpected counter name %q", metrics.counters[0].name)
	}
	if metrics.counters[0].tags["status"] != "ignored" {
		t.Fatalf("expected status tag override, got %#v", metrics.counters[0].tags)
	}
}

func TestObserver_ZeroValueIsSafe(t *testing.T) {
	var observer Observer
	observer.Observe(context.Background(), time.Now(), "noop", nil, nil)
	observer.Info(context.Background(), "noop", nil)
}

func TestObserver_RedactsSensitiveFields(t *testing.T) {
	logger := newCaptureLogger()
	observer := NewObserver("", logger, nil)

	observer.Warn(context.Background(), "sendgrid rejected", map[string]any{
		"api_key":  "SG.live",
		"event_id": "evt_1",
		"request": map[string]any{
			"authorization": "Bearer abc",
			"path":          "/v3/mail/send",
		},
	})

	logs := logger.snapshot()
	if len(logs) != 1 {
		t.Fatalf("expected one log entry, got %d", len(logs))
	}
	fields := logs[0].fields
	if fields["api_key"] != RedactedValue || fields["event_id"] != "evt_1" {
		t.Fatalf("unexpected top level fields %#v", fields)
	}
	nested, _ := fields["request"].(map[string]any)
	if nested["authorization"] != RedactedValue || nested["path"] != "/v3/mail/send" {
		t.Fatalf("expected nested redaction, got %#v", nested)
	}
}

func TestRedactSensitiveMap_KeepsTraceabilityKeys(t *testing.T) {
	out := RedactSensitiveMap(map[string]any{
		"idempotency_key":  "welcome:a@example.org",
		"signature_header": "t=1,v1=ab",
		"payload":          []any{"raw"},
	})
	if out["idempotency_key"] != "welcome:a@example.org" {
		t.Fatalf("expected traceability key to survive, got %#v", out)
	}
	if out["signature_header"] != RedactedValue || out["payload"] != RedactedValue {
		t.Fatalf("expected sensitive keys to be redacted, got %#v", out)
	}
	if len(RedactSensitiveMap(nil)) != 0 {
		t.Fatalf("expected empty map for nil input")
	}
}
