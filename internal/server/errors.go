package server

import (
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dedupe-cli/internal/filter"
	"github.com/sells-group/dedupe-cli/internal/resilience"
	"github.com/sells-group/dedupe-cli/internal/session"
	"github.com/sells-group/dedupe-cli/pkg/dupapi"
)

// Notification is the error body of every failed request. Level is
// "error" for failures the operator must act on and "warning" otherwise.
type Notification struct {
	Error  string `json:"error"`
	Level  string `json:"level"`
	Detail any    `json:"detail,omitempty"`
}

const (
	levelError   = "error"
	levelWarning = "warning"
)

var errBadRequest = eris.New("server: bad request")

func badRequest(msg string) error {
	return eris.Wrap(errBadRequest, msg)
}

// writeError maps err onto a status code and a notification body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, note := classify(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("http request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, note)
}

func classify(err error) (int, Notification) {
	note := Notification{Error: err.Error(), Level: levelError}

	if verr, ok := filter.AsValidation(err); ok {
		note.Error = "invalid filter parameters"
		note.Level = levelWarning
		note.Detail = verr.Problems
		return http.StatusUnprocessableEntity, note
	}

	switch {
	case eris.Is(err, errBadRequest):
		note.Level = levelWarning
		return http.StatusBadRequest, note
	case eris.Is(err, session.ErrNotFound):
		note.Error = "session not found"
		note.Level = levelWarning
		return http.StatusNotFound, note
	case eris.Is(err, session.ErrNotReady):
		note.Error = "merge is not ready: some fields are still unresolved"
		note.Level = levelWarning
		return http.StatusConflict, note
	case eris.Is(err, session.ErrClosed):
		note.Error = "session is already merged or ignored"
		note.Level = levelWarning
		return http.StatusConflict, note
	case eris.Is(err, resilience.ErrCircuitOpen):
		note.Error = "backend temporarily unavailable"
		return http.StatusServiceUnavailable, note
	}

	if apiErr, ok := dupapi.AsAPIError(err); ok {
		note.Error = "backend rejected the request"
		note.Detail = rawDetail(apiErr.Body)
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return apiErr.StatusCode, note
		}
		return http.StatusBadGateway, note
	}

	return http.StatusInternalServerError, note
}

// rawDetail passes a JSON body through untouched and wraps anything else
// as a string.
func rawDetail(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("http: encode response", zap.Error(err))
	}
}
