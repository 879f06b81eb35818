// Package fulfillment applies payment events to enrollments.
//
// Each event runs inside one store transaction that reads the catalog,
// moves the enrollment through core.PaymentStatus transitions and inserts
// the event's fulfillment record. Notifications are sent only after commit
// and only when the enrollment actually became completed.
package fulfillment
