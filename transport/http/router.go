package httptransport

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-gatekeeper/core"
)

const (
	WebhookPath = "/webhooks/payments"
	MePath      = "/v1/me"
)

// EnrollmentReader answers "is this user enrolled" for the current user.
type EnrollmentReader interface {
	GetEnrollment(ctx context.Context, userID string, courseID string) (core.Enrollment, error)
}

// FlaggedEventReader lists ledger entries awaiting operator review.
type FlaggedEventReader interface {
	ListFlagged(ctx context.Context, limit int) ([]core.PaymentEventRecord, error)
}

type Config struct {
	Authenticator   Authenticator
	Webhooks        WebhookProcessor
	Enrollments     EnrollmentReader
	FlaggedEvents   FlaggedEventReader
	Metrics         http.Handler
	Health          func(ctx context.Context) error
	OpsToken        string
	MaxWebhookBytes int64
	RequestTimeout  time.Duration
	Observer        core.Observer
}

// NewRouter wires the public routes. Optional collaborators left nil simply
// do not register their routes.
func NewRouter(cfg Config) (http.Handler, error) {
	if cfg.Authenticator == nil {
		return nil, errors.New("httptransport: authenticator is required")
	}
	if cfg.Webhooks == nil {
		return nil, errors.New("httptransport: webhook processor is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observeRequests(cfg.Observer))

	r.Get("/healthz", healthHandler(cfg.Health))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	r.Method(http.MethodPost, WebhookPath, WebhookHandler(cfg.Webhooks, cfg.MaxWebhookBytes, cfg.Observer))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		r.Use(RequireAuth(cfg.Authenticator, cfg.Observer))
		r.Get(MePath, handleMe)
		if cfg.Enrollments != nil {
			r.Get(MePath+"/enrollments/{courseID}", enrollmentHandler(cfg.Enrollments))
		}
	})

	if cfg.FlaggedEvents != nil && strings.TrimSpace(cfg.OpsToken) != "" {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))
			r.Use(RequireOpsToken(cfg.OpsToken))
			r.Get("/v1/ops/payment-events/flagged", flaggedHandler(cfg.FlaggedEvents))
		})
	}

	return r, nil
}

type identityResponse struct {
	ID              string    `json:"id"`
	ExternalSubject string    `json:"external_subject"`
	Email           string    `json:"email"`
	CreatedAt       time.Time `json:"created_at"`
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, core.AuthenticationFailed(nil))
		return
	}
	writeJSON(w, http.StatusOK, identityResponse{
		ID:              identity.ID,
		ExternalSubject: identity.ExternalSubject,
		Email:           identity.Email,
		CreatedAt:       identity.CreatedAt,
	})
}

type enrollmentResponse struct {
	ID            string `json:"id"`
	CourseID      string `json:"course_id"`
	PaymentStatus string `json:"payment_status"`
	Enrolled      bool   `json:"enrolled"`
}

func enrollmentHandler(reader EnrollmentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, core.AuthenticationFailed(nil))
			return
		}
		courseID := strings.TrimSpace(chi.URLParam(r, "courseID"))
		enrollment, err := reader.GetEnrollment(r.Context(), identity.ID, courseID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, enrollmentResponse{
			ID:            enrollment.ID,
			CourseID:      enrollment.CourseID,
			PaymentStatus: string(enrollment.PaymentStatus),
			Enrolled:      enrollment.PaymentStatus == core.PaymentStatusCompleted,
		})
	}
}

type flaggedEventResponse struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason"`
	ReceivedAt time.Time `json:"received_at"`
}

func flaggedHandler(reader FlaggedEventReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, core.BadInput("limit must be an integer", map[string]any{"limit": raw}))
				return
			}
			limit = parsed
		}
		records, err := reader.ListFlagged(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]flaggedEventResponse, 0, len(records))
		for _, record := range records {
			out = append(out, flaggedEventResponse{
				EventID:    record.EventID,
				EventType:  record.EventType,
				Status:     string(record.Status),
				Attempts:   record.Attempts,
				Reason:     record.LastError,
				ReceivedAt: record.ReceivedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": out})
	}
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				writeStatusError(w, http.StatusServiceUnavailable, core.ErrorInternal, "unhealthy")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func chiRouteContext(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}
