package api

import (
	"context"
	"errors"
	"net/http"

	"log-ingest/internal/domain"
	"log-ingest/internal/middleware"
)

// errorStatuses maps service error kinds to HTTP statuses, first match wins.
var errorStatuses = []struct {
	status int
	match  func(error) bool
}{
	{http.StatusNotFound, isErr[*domain.NotFoundError]},
	{http.StatusForbidden, isErr[*domain.AccessDeniedError]},
	{http.StatusBadRequest, isErr[*domain.ValidationError]},
	{http.StatusConflict, isErr[*domain.ConflictError]},
	{http.StatusRequestEntityTooLarge, isErr[*http.MaxBytesError]},
	{http.StatusGatewayTimeout, func(err error) bool { return errors.Is(err, context.DeadlineExceeded) }},
}

func isErr[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// statusForError returns the HTTP status for a failed ingestion or function
// request. Unknown errors are internal.
func statusForError(err error) int {
	for _, s := range errorStatuses {
		if s.match(err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// bodyReadStatus is the status for a request body that could not be read.
func bodyReadStatus(err error) int {
	if isErr[*http.MaxBytesError](err) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// fail writes err as a JSON message. Internal errors are logged with the
// request id so they can be found from the response.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err)
	}
	writeError(w, status, err.Error())
}

type messageResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Code: status, Message: msg})
}
