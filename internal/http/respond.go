package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Error codes carried by failure envelopes.
const (
	codeValidation   = "VALIDATION_ERROR"
	codeNotFound     = "NOT_FOUND"
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
	codeRateLimited  = "RATE_LIMITED"
	codeBadRequest   = "BAD_REQUEST"
	codeServerError  = "INTERNAL_ERROR"
)

// envelope is the uniform shape of every JSON response. Timestamp and
// RequestID are stamped on every write, error paths included.
type envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Errors    any    `json:"errors,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Meta      *meta  `json:"meta,omitempty"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
}

type meta struct {
	Pagination *pagination `json:"pagination,omitempty"`
}

type pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

func newPagination(page, limit, total int) *pagination {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	totalPages := (total + limit - 1) / limit
	return &pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1 && total > 0,
	}
}

func writeEnvelope(w http.ResponseWriter, req *http.Request, status int, env envelope) {
	env.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	env.RequestID = requestIDFromContext(req.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeSuccess(w http.ResponseWriter, req *http.Request, data any, message string) {
	writeEnvelope(w, req, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

func writeCreated(w http.ResponseWriter, req *http.Request, data any, message string) {
	writeEnvelope(w, req, http.StatusCreated, envelope{Success: true, Message: message, Data: data})
}

func writeAccepted(w http.ResponseWriter, req *http.Request, data any, message string) {
	writeEnvelope(w, req, http.StatusAccepted, envelope{Success: true, Message: message, Data: data})
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func writePaginated(w http.ResponseWriter, req *http.Request, data any, page, limit, total int, message string) {
	writeEnvelope(w, req, http.StatusOK, envelope{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    &meta{Pagination: newPagination(page, limit, total)},
	})
}

func writeError(w http.ResponseWriter, req *http.Request, status int, message, code string) {
	writeEnvelope(w, req, status, envelope{Success: false, Message: message, ErrorCode: code})
}

func writeValidationError(w http.ResponseWriter, req *http.Request, fieldErrors any, message string) {
	if message == "" {
		message = "Validation failed"
	}
	writeEnvelope(w, req, http.StatusUnprocessableEntity, envelope{
		Success:   false,
		Message:   message,
		Errors:    fieldErrors,
		ErrorCode: codeValidation,
	})
}

func writeNotFound(w http.ResponseWriter, req *http.Request, resource string) {
	writeError(w, req, http.StatusNotFound, fmt.Sprintf("%s not found", resource), codeNotFound)
}

func writeUnauthorized(w http.ResponseWriter, req *http.Request, message string) {
	if message == "" {
		message = "Authentication required"
	}
	writeError(w, req, http.StatusUnauthorized, message, codeUnauthorized)
}

func writeForbidden(w http.ResponseWriter, req *http.Request, message string) {
	if message == "" {
		message = "Access denied"
	}
	writeError(w, req, http.StatusForbidden, message, codeForbidden)
}

// writeServerError reports an internal failure. details is only exposed in
// development so internals never leak from production responses.
func writeServerError(w http.ResponseWriter, req *http.Request, message, details string, dev bool) {
	if message == "" {
		message = "Internal server error"
	}
	env := envelope{Success: false, Message: message, ErrorCode: codeServerError}
	if dev && details != "" {
		env.Errors = map[string]string{"details": details}
	}
	writeEnvelope(w, req, http.StatusInternalServerError, env)
}
