package httptransport

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-gatekeeper/core"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError renders err through core.MapError. Internal failures never echo
// the underlying message.
func writeError(w http.ResponseWriter, err error) {
	mapped := core.MapError(err)
	if mapped == nil {
		mapped = core.MapError(goerrors.New("unexpected error", goerrors.CategoryInternal))
	}
	status := mapped.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message := mapped.Message
	if status >= http.StatusInternalServerError {
		message = "An unexpected error occurred"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: mapped.TextCode, Message: message}})
}

func writeStatusError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
