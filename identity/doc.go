// Package identity maps verified provider claims onto local identities.
package identity
