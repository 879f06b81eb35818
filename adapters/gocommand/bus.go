package gocommand

import (
	"context"

	"github.com/goliatone/go-gatekeeper/core"
)

// Bus exposes the registered gatekeeper commands and queries through the
// service interfaces used by transports, so every request crosses the
// command dispatcher.
type Bus struct{}

func NewBus() Bus {
	return Bus{}
}

func (Bus) Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	return ProcessWebhook(ctx, req)
}

func (Bus) Resolve(ctx context.Context, claims core.VerifiedClaims) (core.LocalIdentity, error) {
	return ResolveIdentity(ctx, claims)
}

func (Bus) GetEnrollment(ctx context.Context, userID string, courseID string) (core.Enrollment, error) {
	return GetEnrollment(ctx, userID, courseID)
}

func (Bus) ListFlagged(ctx context.Context, limit int) ([]core.PaymentEventRecord, error) {
	return ListFlaggedEvents(ctx, limit)
}

var _ core.IdentityResolver = Bus{}
