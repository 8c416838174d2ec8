// Package httputil provides JSON request/response helpers shared by every
// route group, plus a small outbound JSON client.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/aethex/platform/internal/errors"
	"github.com/aethex/platform/internal/logging"
)

// ErrorResponse is the body of every non-2xx response. Error is always a
// plain string so clients can render it directly.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes an ErrorResponse. r may be nil.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	resp := ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	}
	if r != nil {
		resp.TraceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, status, resp)
}

// WriteError writes err, using its ServiceError status when it has one.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal(err.Error(), err)
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

// WriteDBError maps a database failure for resource and writes it.
func WriteDBError(w http.ResponseWriter, r *http.Request, err error, resource string) {
	WriteError(w, r, errors.FromSupabase(err, resource))
}

func BadRequest(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusBadRequest, string(errors.CodeBadRequest), message, nil)
}

func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "unauthorized"
	}
	WriteErrorResponse(w, nil, http.StatusUnauthorized, string(errors.CodeUnauthorized), message, nil)
}

func Forbidden(w http.ResponseWriter, message string) {
	if message == "" {
		message = "forbidden"
	}
	WriteErrorResponse(w, nil, http.StatusForbidden, string(errors.CodeForbidden), message, nil)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusNotFound, string(errors.CodeNotFound), message, nil)
}

func Conflict(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusConflict, string(errors.CodeConflict), message, nil)
}

func MethodNotAllowed(w http.ResponseWriter) {
	WriteErrorResponse(w, nil, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
}

func InternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "internal server error"
	}
	WriteErrorResponse(w, nil, http.StatusInternalServerError, string(errors.CodeInternal), message, nil)
}

// ServiceUnavailable is written when an optional integration is not configured.
func ServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusServiceUnavailable, string(errors.CodeUnavailable), message, nil)
}
