package token

import (
	"errors"
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
)

// ParseBearer extracts the credential from an Authorization header value.
// The scheme match is case-insensitive.
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	scheme, credential, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", core.AuthenticationFailed(errors.New("authorization header is not a bearer credential"))
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", core.AuthenticationFailed(errors.New("empty bearer credential"))
	}
	return credential, nil
}
