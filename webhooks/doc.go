// Package webhooks authenticates payment-processor callbacks and hands the
// decoded events to a core.EventDispatcher.
//
// Processing order: verify signature -> decode -> ledger record -> dispatch
// -> ledger outcome. The ledger is an audit trail only; exactly-once
// fulfillment is enforced by the dispatcher's fulfillment records.
package webhooks
