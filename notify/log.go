package notify

import (
	"context"

	"github.com/goliatone/go-gatekeeper/core"
)

// LogNotifier records notifications in the log instead of delivering them.
type LogNotifier struct {
	Observer core.Observer
}

func (n LogNotifier) Send(ctx context.Context, kind core.NotificationKind, recipient string, data map[string]any) bool {
	fields := make(map[string]any, len(data)+2)
	for key, value := range data {
		fields[key] = value
	}
	fields["kind"] = string(kind)
	fields["recipient"] = recipient
	n.Observer.Info(ctx, "notify: notification", fields)
	n.Observer.Count(ctx, "notify.logged", map[string]string{"kind": string(kind)})
	return true
}

type multiNotifier []core.Notifier

// Multi sends to every notifier and reports success only if all succeeded.
func Multi(notifiers ...core.Notifier) core.Notifier {
	out := make(multiNotifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			out = append(out, notifier)
		}
	}
	return out
}

func (m multiNotifier) Send(ctx context.Context, kind core.NotificationKind, recipient string, data map[string]any) bool {
	ok := true
	for _, notifier := range m {
		if !notifier.Send(ctx, kind, recipient, data) {
			ok = false
		}
	}
	return ok
}

var _ core.Notifier = LogNotifier{}
