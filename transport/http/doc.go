// Package httptransport exposes gatekeeper over HTTP with a chi router.
//
// Authenticated routes run behind RequireAuth, which turns a bearer token
// into a local identity and stores it on the request context. The payment
// webhook route reads the raw body, because the provider signature covers
// the exact bytes sent.
package httptransport
