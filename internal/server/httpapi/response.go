package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// statusFor maps a service error onto an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, common.ErrorInvalidState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, common.ErrorDependency):
		return http.StatusBadGateway, "DEPENDENCY"
	case errors.Is(err, common.ErrorStorage):
		return http.StatusInternalServerError, "STORAGE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// fail writes err as a JSON error. Server-side failures are logged and their
// detail kept out of the response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "code", code, "error", err)
		msg = http.StatusText(status)
	}
	writeError(w, status, code, msg)
}
