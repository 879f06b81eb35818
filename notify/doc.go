// Package notify provides core.Notifier implementations: an HTTP mail
// sender for SendGrid's v3 API, a logging notifier for local runs, and a
// fan-out helper. Every Send reports delivery through its boolean result
// and never returns an error to the caller.
package notify
