// Package token verifies provider-issued bearer JWTs using asymmetric keys
// resolved from a core.KeySource.
package token
