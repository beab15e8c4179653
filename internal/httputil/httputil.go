// Package httputil provides common HTTP utilities for service handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentyard/exchange/internal/platformlog"
)

// agentIDContextKey is the context key under which WithAgentID stores a
// verified signer's agent id.
type agentIDContextKey struct{}

// WithAgentID attaches a verified signer agent id to the context. No code
// outside the tests calls it: envelope verification runs inside the httpapi
// handlers, after the middleware chain, and does not set this value.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDContextKey{}, agentID)
}

// GetAgentID returns the verified signer agent id carried by the context, or
// "" if none is present.
func GetAgentID(ctx context.Context) string {
	if id, ok := ctx.Value(agentIDContextKey{}).(string); ok {
		return id
	}
	return ""
}

// RequireAgentID extracts the verified signer agent id from the request
// context, writing a 401 Unauthorized response and returning false if absent.
func RequireAgentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	agentID := GetAgentID(r.Context())
	if agentID == "" {
		WriteErrorResponse(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid signed envelope", nil)
		return "", false
	}
	return agentID, true
}

// ErrorResponse represents a standard error response.
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
}

var defaultLogger = platformlog.NewFromEnv("httputil")

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		defaultLogger.WithError(err).Warn("write json response")
	}
}

func traceIDFromRequestOrResponse(w http.ResponseWriter, r *http.Request) string {
	if r != nil {
		if traceID := platformlog.GetTraceID(r.Context()); traceID != "" {
			return traceID
		}
		if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
			return traceID
		}
	}

	return w.Header().Get("X-Trace-ID")
}

// WriteErrorResponse writes a standard JSON error response envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", status)
	}

	traceID := traceIDFromRequestOrResponse(w, r)
	if traceID != "" && w.Header().Get("X-Trace-ID") == "" {
		w.Header().Set("X-Trace-ID", traceID)
	}

	WriteJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
		TraceID: traceID,
	})
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteErrorResponse(w, nil, status, "", message, nil)
}

// WriteErrorWithCode writes a JSON error response with an error code.
func WriteErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	WriteErrorResponse(w, nil, status, code, message, nil)
}

// BadRequest writes a 400 Bad Request response.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// Unauthorized writes a 401 Unauthorized response.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "unauthorized"
	}
	WriteError(w, http.StatusUnauthorized, message)
}

// Forbidden writes a 403 Forbidden response.
func Forbidden(w http.ResponseWriter, message string) {
	if message == "" {
		message = "forbidden"
	}
	WriteError(w, http.StatusForbidden, message)
}

// NotFound writes a 404 Not Found response.
func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "not found"
	}
	WriteError(w, http.StatusNotFound, message)
}

// Conflict writes a 409 Conflict response.
func Conflict(w http.ResponseWriter, message string) {
	if message == "" {
		message = "conflict"
	}
	WriteError(w, http.StatusConflict, message)
}

// InternalError writes a 500 Internal Server Error response.
func InternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "internal server error"
	}
	WriteError(w, http.StatusInternalServerError, message)
}

// ServiceUnavailable writes a 503 Service Unavailable response.
func ServiceUnavailable(w http.ResponseWriter, message string) {
	if message == "" {
		message = "service unavailable"
	}
	WriteError(w, http.StatusServiceUnavailable, message)
}

// DecodeJSON decodes a JSON request body into the provided struct.
// Returns false and writes an error response if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", map[string]any{
				"limit_bytes": maxErr.Limit,
			})
			return false
		}
		WriteErrorResponse(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid request body", nil)
		return false
	}
	return true
}

// DecodeJSONOptional decodes a JSON request body into the provided struct when present.
// It returns true when the body is empty and no decoding is needed.
func DecodeJSONOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return true
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}

		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", map[string]any{
				"limit_bytes": maxErr.Limit,
			})
			return false
		}
		WriteErrorResponse(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid request body", nil)
		return false
	}
	return true
}

// QueryInt extracts an integer query parameter with a default value.
func QueryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return defaultVal
}

// QueryInt64 extracts an int64 query parameter with a default value.
func QueryInt64(r *http.Request, key string, defaultVal int64) int64 {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.ParseInt(val, 10, 64); err == nil {
		return n
	}
	return defaultVal
}

// QueryString extracts a string query parameter with a default value.
func QueryString(r *http.Request, key, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// QueryBool extracts a boolean query parameter with a default value.
// Accepts "true"/"1"/"yes"/"y" as true, "false"/"0"/"no"/"n" as false,
// case-insensitively; anything else falls back to defaultVal.
func QueryBool(r *http.Request, key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(r.URL.Query().Get(key)))
	switch val {
	case "":
		return defaultVal
	case "true", "1", "yes", "y":
		return true
	case "false", "0", "no", "n":
		return false
	default:
		return defaultVal
	}
}

// PathParam extracts the path segment between prefix and suffix, e.g.
// PathParam("/users/123/orders", "/users/", "/orders") == "123". If suffix
// does not occur, the remainder after prefix is cut at its first "/"
// (PathParam("/users/123/profile", "/users/", "/orders") == "123").
func PathParam(path, prefix, suffix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if idx := strings.Index(rest, suffix); idx >= 0 {
		return rest[:idx]
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// PathParamAt returns the nth ("/"-separated, 0-indexed after trimming a
// leading slash) segment of path, or "" if out of range.
func PathParamAt(path string, index int) string {
	trimmed := strings.TrimPrefix(path, "/")
	segments := strings.Split(trimmed, "/")
	if index < 0 || index >= len(segments) {
		return ""
	}
	return segments[index]
}

// PaginationParams extracts offset/limit query parameters from the request,
// clamping offset to 0 and limit to [1, maxLimit].
func PaginationParams(r *http.Request, defaultLimit, maxLimit int) (offset, limit int) {
	offset = QueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	limit = QueryInt(r, "limit", defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}
	if limit < 1 {
		limit = 1
	}
	return offset, limit
}

// WrapError wraps an error with context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
