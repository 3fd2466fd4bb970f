package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// errorBody is the uniform error response shape.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{
		Error:      http.StatusText(status),
		Message:    message,
		StatusCode: status,
	})
}

// statusFor maps an error message onto an HTTP status by substring. This is
// the API's documented error contract; handlers construct messages
// accordingly.
func statusFor(err error) int {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid"):
		return http.StatusBadRequest
	case strings.Contains(msg, "not found"):
		return http.StatusNotFound
	case strings.Contains(msg, "not approved"), strings.Contains(msg, "unauthorized"):
		return http.StatusForbidden
	case strings.Contains(msg, "service not initialized"), strings.Contains(msg, "connection failed"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

// limitParam parses a positive-integer query parameter. Absent or malformed
// values fall back to def; values above max clamp to it. max <= 0 means
// unbounded.
func limitParam(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

// offsetParam parses the offset query parameter, defaulting to zero.
func offsetParam(r *http.Request) int {
	raw := r.URL.Query().Get("offset")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// emptyIfNil keeps JSON list responses as [] rather than null.
func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
