// Package inbound routes verified payment events to per-type handlers.
//
// Fulfillment records are the idempotency boundary: an event whose record
// already exists replays the stored outcome instead of running a handler.
package inbound
