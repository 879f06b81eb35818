package sqlstore

import "github.com/goliatone/go-gatekeeper/core"

var (
	_ core.IdentityStore      = (*IdentityStore)(nil)
	_ core.IdentityStore      = (*CachedIdentityStore)(nil)
	_ core.Catalog            = (*CatalogStore)(nil)
	_ core.FulfillmentStore   = (*FulfillmentStore)(nil)
	_ core.PaymentEventLedger = (*PaymentEventStore)(nil)
)
