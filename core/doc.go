// Package core contains the gatekeeper domain contracts, entities, error
// taxonomy and configuration. Adapters (stores, transports, notifiers) depend
// on this package; core must not depend on any adapter.
package core
