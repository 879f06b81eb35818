// Package sqlstore persists gatekeeper state with bun. Correctness under
// concurrent webhook deliveries rests on the unique constraints declared by
// the migrations: one identity per external subject, one enrollment per
// user and course, and one fulfillment record per provider event id.
package sqlstore
