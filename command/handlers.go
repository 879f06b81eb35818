package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-gatekeeper/core"
)

type WebhookProcessor interface {
	Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

type ProcessWebhookCommand struct {
	processor WebhookProcessor
}

func NewProcessWebhookCommand(processor WebhookProcessor) *ProcessWebhookCommand {
	return &ProcessWebhookCommand{processor: processor}
}

// Execute runs the webhook pipeline. The InboundResult is stored in the
// context result collector even when processing fails, so callers can still
// read the response status.
func (c *ProcessWebhookCommand) Execute(ctx context.Context, msg ProcessWebhookMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: webhook processor is required")
	}
	out, err := c.processor.Process(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

type ResolveIdentityCommand struct {
	resolver core.IdentityResolver
}

func NewResolveIdentityCommand(resolver core.IdentityResolver) *ResolveIdentityCommand {
	return &ResolveIdentityCommand{resolver: resolver}
}

func (c *ResolveIdentityCommand) Execute(ctx context.Context, msg ResolveIdentityMessage) error {
	if c == nil || c.resolver == nil {
		return commandDependencyError("command: identity resolver is required")
	}
	out, err := c.resolver.Resolve(ctx, msg.Claims)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
