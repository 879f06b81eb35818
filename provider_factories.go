package gatekeeper

import (
	"github.com/goliatone/go-gatekeeper/core"
	"github.com/goliatone/go-gatekeeper/notify"
)

// NotifierFromConfig builds the notification provider selected by
// cfg.Notify.Provider.
func NotifierFromConfig(cfg Config, observer core.Observer) (core.Notifier, error) {
	return notify.FromConfig(cfg.Notify, observer)
}

func SendGridProvider(cfg notify.SendGridConfig) (core.Notifier, error) {
	notifier, err := notify.NewSendGridNotifier(cfg)
	if err != nil {
		return nil, err
	}
	return notifier, nil
}

func LogProvider(observer core.Observer) core.Notifier {
	return notify.LogNotifier{Observer: observer}
}
