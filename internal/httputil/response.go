// Package httputil provides JSON request and response helpers for handlers.
package httputil

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/emberlog/service_layer/internal/errors"
	"github.com/emberlog/service_layer/internal/logging"
)

// maxRequestBodyBytes bounds JSON request bodies.
const maxRequestBodyBytes = 1 << 20

// ErrorBody is the error envelope payload.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
	TraceID string    `json:"trace_id,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes the error envelope, echoing the request trace id.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	resp := ErrorResponse{
		Error: ErrorBody{Code: code, Message: message, Details: details},
	}
	if r != nil {
		resp.TraceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, status, resp)
}

// WriteError renders err using its ServiceError mapping, or as an internal error.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("Internal server error", err)
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

// DecodeJSON decodes the request body into v, writing a 400 on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(v); err != nil {
		BadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// RequireUserID returns the authenticated caller, writing a 401 if absent.
func RequireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(logging.GetUserID(r.Context()))
	if userID == "" {
		Unauthorized(w, "")
		return "", false
	}
	return userID, true
}

func BadRequest(w http.ResponseWriter, message string) {
	writeServiceError(w, errors.BadRequest(message))
}

func NotFound(w http.ResponseWriter, message string) {
	se := errors.NotFound("resource", "")
	if message != "" {
		se.Message = message
	}
	writeServiceError(w, se)
}

func Unauthorized(w http.ResponseWriter, message string) {
	writeServiceError(w, errors.Unauthorized(message))
}

func InternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Internal server error"
	}
	writeServiceError(w, errors.Internal(message, nil))
}

func writeServiceError(w http.ResponseWriter, se *errors.ServiceError) {
	WriteErrorResponse(w, nil, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}
