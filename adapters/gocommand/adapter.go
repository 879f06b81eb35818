package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	gkcommand "github.com/goliatone/go-gatekeeper/command"
	"github.com/goliatone/go-gatekeeper/core"
	gkquery "github.com/goliatone/go-gatekeeper/query"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Handlers lists the gatekeeper services exposed on the command bus. Nil
// fields are skipped.
type Handlers struct {
	Webhooks      gkcommand.WebhookProcessor
	Identities    core.IdentityResolver
	Enrollments   gkquery.EnrollmentReader
	FlaggedEvents gkquery.FlaggedEventReader
}

type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterGatekeeper registers and subscribes every configured handler. On
// failure the subscriptions made so far are released.
func RegisterGatekeeper(adapter *RegistryAdapter, handlers Handlers, runnerOpts ...runner.Option) (Subscriptions, error) {
	var subs Subscriptions
	track := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			subs.Unsubscribe()
			return err
		}
		subs = append(subs, sub)
		return nil
	}
	if handlers.Webhooks != nil {
		if err := track(RegisterAndSubscribe(adapter, gkcommand.NewProcessWebhookCommand(handlers.Webhooks), runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if handlers.Identities != nil {
		if err := track(RegisterAndSubscribe(adapter, gkcommand.NewResolveIdentityCommand(handlers.Identities), runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if handlers.Enrollments != nil {
		if err := track(RegisterAndSubscribeQuery(adapter, gkquery.NewGetEnrollmentQuery(handlers.Enrollments), runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if handlers.FlaggedEvents != nil {
		if err := track(RegisterAndSubscribeQuery(adapter, gkquery.NewListFlaggedEventsQuery(handlers.FlaggedEvents), runnerOpts...)); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// ProcessWebhook dispatches a webhook command and returns the stored result.
func ProcessWebhook(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	collector := command.NewResult[core.InboundResult]()
	err := Dispatch(command.ContextWithResult(ctx, collector), gkcommand.ProcessWebhookMessage{Request: req})
	result, _ := collector.Load()
	return result, err
}

// ResolveIdentity dispatches an identity command and returns the stored identity.
func ResolveIdentity(ctx context.Context, claims core.VerifiedClaims) (core.LocalIdentity, error) {
	collector := command.NewResult[core.LocalIdentity]()
	if err := Dispatch(command.ContextWithResult(ctx, collector), gkcommand.ResolveIdentityMessage{Claims: claims}); err != nil {
		return core.LocalIdentity{}, err
	}
	identity, _ := collector.Load()
	return identity, nil
}

func GetEnrollment(ctx context.Context, userID string, courseID string) (core.Enrollment, error) {
	return Query[gkquery.GetEnrollmentMessage, core.Enrollment](ctx, gkquery.GetEnrollmentMessage{UserID: userID, CourseID: courseID})
}

func ListFlaggedEvents(ctx context.Context, limit int) ([]core.PaymentEventRecord, error) {
	return Query[gkquery.ListFlaggedEventsMessage, []core.PaymentEventRecord](ctx, gkquery.ListFlaggedEventsMessage{Limit: limit})
}
