package httptransport

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-gatekeeper/core"
	"github.com/goliatone/go-gatekeeper/token"
)

// Authenticator turns an Authorization header into a local identity.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (core.LocalIdentity, error)
}

type identityContextKey struct{}

func ContextWithIdentity(ctx context.Context, identity core.LocalIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (core.LocalIdentity, bool) {
	if ctx == nil {
		return core.LocalIdentity{}, false
	}
	identity, ok := ctx.Value(identityContextKey{}).(core.LocalIdentity)
	return identity, ok && identity.ID != ""
}

// RequireAuth rejects requests without a valid bearer token with 401. Every
// verification failure collapses to the same response. Other failures, such
// as an unreachable identity store, are server errors so clients keep their
// credentials.
func RequireAuth(auth Authenticator, observer core.Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if auth == nil {
				writeError(w, core.AuthenticationFailed(nil))
				return
			}
			identity, err := auth.Authenticate(ctx, r.Header.Get("Authorization"))
			if err != nil {
				fields := map[string]any{
					"path":       r.URL.Path,
					"request_id": middleware.GetReqID(ctx),
					"error":      err.Error(),
				}
				if !errors.Is(err, core.ErrAuthenticationFailed) {
					observer.Error(ctx, "http: authentication unavailable", fields)
					writeError(w, err)
					return
				}
				observer.Warn(ctx, "http: request rejected", fields)
				w.Header().Set("WWW-Authenticate", `Bearer realm="gatekeeper"`)
				writeError(w, core.AuthenticationFailed(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(ctx, identity)))
		})
	}
}

// RequireOpsToken guards operator routes with a static bearer token.
func RequireOpsToken(expected string) func(http.Handler) http.Handler {
	expected = strings.TrimSpace(expected)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, err := token.ParseBearer(r.Header.Get("Authorization"))
			if expected == "" || err != nil || subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
				writeError(w, core.AuthenticationFailed(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// observeRequests records one metric sample and log line per request.
func observeRequests(observer core.Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startedAt := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chiRouteContext(r); rctx != "" {
				route = rctx
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observer.Observe(r.Context(), startedAt, "http.request", nil, map[string]any{
				"method":     r.Method,
				"route":      route,
				"status":     statusClass(status),
				"code":       status,
				"request_id": middleware.GetReqID(r.Context()),
			})
		})
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
