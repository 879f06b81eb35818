package command

import (
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
)

const (
	TypeProcessWebhook  = "gatekeeper.command.webhook.process"
	TypeResolveIdentity = "gatekeeper.command.identity.resolve"
)

// ProcessWebhookMessage carries one raw inbound webhook delivery.
type ProcessWebhookMessage struct {
	Request core.InboundRequest
}

func (ProcessWebhookMessage) Type() string { return TypeProcessWebhook }

func (m ProcessWebhookMessage) Validate() error {
	if len(m.Request.Body) == 0 {
		return commandValidationError("body", "webhook body is required")
	}
	return nil
}

type ResolveIdentityMessage struct {
	Claims core.VerifiedClaims
}

func (ResolveIdentityMessage) Type() string { return TypeResolveIdentity }

func (m ResolveIdentityMessage) Validate() error {
	if strings.TrimSpace(m.Claims.Subject) == "" {
		return commandValidationError("subject", "subject is required")
	}
	return nil
}
