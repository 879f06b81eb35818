package notify

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
)

// FromConfig builds the notifier selected by cfg.Provider.
func FromConfig(cfg core.NotifyConfig, observer core.Observer) (core.Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "log":
		return LogNotifier{Observer: observer}, nil
	case "none":
		return core.NopNotifier{}, nil
	case "sendgrid":
		notifier, err := NewSendGridNotifier(SendGridConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
			Templates: cfg.Templates,
			Timeout:   cfg.Timeout,
			Observer:  observer,
		})
		if err != nil {
			return nil, err
		}
		return notifier, nil
	default:
		return nil, fmt.Errorf("notify: unsupported provider %q", cfg.Provider)
	}
}
