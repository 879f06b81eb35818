// Package keyset caches the identity provider's published verification keys
// (JWKS). Refreshes are coalesced so concurrent misses cost a single upstream
// request, and a failed refresh never evicts keys that are still within TTL.
package keyset
