package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput                = "GATEKEEPER_BAD_INPUT"
	ErrorAuthenticationFailed    = "GATEKEEPER_AUTHENTICATION_FAILED"
	ErrorKeyNotFound             = "GATEKEEPER_KEY_NOT_FOUND"
	ErrorKeyFetchFailed          = "GATEKEEPER_KEY_FETCH_FAILED"
	ErrorWebhookSignatureInvalid = "GATEKEEPER_WEBHOOK_SIGNATURE_INVALID"
	ErrorReferential             = "GATEKEEPER_REFERENTIAL_ERROR"
	ErrorConflict                = "GATEKEEPER_CONFLICT"
	ErrorNotFound                = "GATEKEEPER_NOT_FOUND"
	ErrorInternal                = "GATEKEEPER_INTERNAL_ERROR"
)

var (
	ErrAuthenticationFailed    = errors.New("gatekeeper: authentication failed")
	ErrKeyNotFound             = errors.New("gatekeeper: signing key not found")
	ErrKeyFetch                = errors.New("gatekeeper: signing key fetch failed")
	ErrWebhookSignatureInvalid = errors.New("gatekeeper: webhook signature invalid")
	ErrReferential             = errors.New("gatekeeper: payment event references missing entity")

	ErrIdentityNotFound     = errors.New("gatekeeper: identity not found")
	ErrIdentityConflict     = errors.New("gatekeeper: identity already exists")
	ErrUserNotFound         = errors.New("gatekeeper: user not found")
	ErrCourseNotFound       = errors.New("gatekeeper: course not found")
	ErrEnrollmentNotFound   = errors.New("gatekeeper: enrollment not found")
	ErrEnrollmentConflict   = errors.New("gatekeeper: enrollment changed concurrently")
	ErrFulfillmentNotFound  = errors.New("gatekeeper: fulfillment record not found")
	ErrDuplicateFulfillment = errors.New("gatekeeper: payment event already fulfilled")
	ErrPaymentEventNotFound = errors.New("gatekeeper: payment event not found")
)

// AuthenticationError keeps the diagnostic cause for logging while its
// message stays identical for every failure branch.
type AuthenticationError struct {
	Cause error
}

func (e *AuthenticationError) Error() string {
	return ErrAuthenticationFailed.Error()
}

func (e *AuthenticationError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return ErrAuthenticationFailed
	}
	return errors.Join(ErrAuthenticationFailed, e.Cause)
}

func (e *AuthenticationError) ToServiceError() *goerrors.Error {
	return goerrors.New("authentication failed", goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorAuthenticationFailed)
}

func AuthenticationFailed(cause error) error {
	return &AuthenticationError{Cause: cause}
}

type KeyFetchError struct {
	URL   string
	Cause error
}

func (e *KeyFetchError) Error() string {
	if e == nil || e.Cause == nil {
		return ErrKeyFetch.Error()
	}
	return ErrKeyFetch.Error() + ": " + e.Cause.Error()
}

func (e *KeyFetchError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return ErrKeyFetch
	}
	return errors.Join(ErrKeyFetch, e.Cause)
}

func (e *KeyFetchError) ToServiceError() *goerrors.Error {
	err := goerrors.New(ErrKeyFetch.Error(), goerrors.CategoryExternal).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(ErrorKeyFetchFailed)
	if e != nil && strings.TrimSpace(e.URL) != "" {
		err.WithMetadata(map[string]any{"jwks_url": e.URL})
	}
	return err
}

type WebhookSignatureError struct {
	Cause error
}

func (e *WebhookSignatureError) Error() string {
	return ErrWebhookSignatureInvalid.Error()
}

func (e *WebhookSignatureError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return ErrWebhookSignatureInvalid
	}
	return errors.Join(ErrWebhookSignatureInvalid, e.Cause)
}

func (e *WebhookSignatureError) ToServiceError() *goerrors.Error {
	return goerrors.New("webhook signature invalid", goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorWebhookSignatureInvalid)
}

func WebhookSignatureInvalid(cause error) error {
	return &WebhookSignatureError{Cause: cause}
}

// ReferentialError reports a payment event that points at a user or course
// the catalog does not know about.
type ReferentialError struct {
	EventID  string
	UserID   string
	CourseID string
	Cause    error
}

func (e *ReferentialError) Error() string {
	if e == nil {
		return ErrReferential.Error()
	}
	message := ErrReferential.Error() + ": event " + e.EventID
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}
	return message
}

func (e *ReferentialError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return ErrReferential
	}
	return errors.Join(ErrReferential, e.Cause)
}

func (e *ReferentialError) ToServiceError() *goerrors.Error {
	err := goerrors.New(ErrReferential.Error(), goerrors.CategoryNotFound).
		WithCode(http.StatusOK).
		WithTextCode(ErrorReferential)
	if e != nil {
		err.WithMetadata(map[string]any{
			"event_id":  e.EventID,
			"user_id":   e.UserID,
			"course_id": e.CourseID,
		})
	}
	return err
}

type serviceErrorConverter interface {
	ToServiceError() *goerrors.Error
}

// MapError converts any error into a go-errors envelope with an HTTP code
// and a GATEKEEPER_* text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var converter serviceErrorConverter
	if errors.As(err, &converter) {
		return ensureServiceErrorEnvelope(converter.ToServiceError())
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return newServiceError("authentication failed", goerrors.CategoryAuth, ErrorAuthenticationFailed)
	case errors.Is(err, ErrWebhookSignatureInvalid):
		return newServiceError("webhook signature invalid", goerrors.CategoryBadInput, ErrorWebhookSignatureInvalid)
	case errors.Is(err, ErrIdentityNotFound),
		errors.Is(err, ErrEnrollmentNotFound),
		errors.Is(err, ErrFulfillmentNotFound),
		errors.Is(err, ErrPaymentEventNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	case errors.Is(err, ErrIdentityConflict), errors.Is(err, ErrEnrollmentConflict):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ErrorConflict)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorAuthenticationFailed
	case goerrors.CategoryConflict:
		return ErrorConflict
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// BadInput builds the envelope used for malformed requests and payloads.
func BadInput(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// IsBadInput reports whether err carries a bad-input or validation category.
func IsBadInput(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return false
	}
	return richErr.Category == goerrors.CategoryBadInput || richErr.Category == goerrors.CategoryValidation
}
