package httpapi

import (
	"encoding/json"
	"net/http"

	"segd/internal/pipeline"
	"segd/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForError maps pipeline errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case pipeline.IsInvalidPrompt(err):
		return http.StatusBadRequest
	case pipeline.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	case pipeline.IsInferenceFailed(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeSegmentError writes err with its mapped status and, for inference
// failures, the failing stage.
func writeSegmentError(w http.ResponseWriter, err error) int {
	status := statusForError(err)
	body := types.ErrorResponse{Error: err.Error(), Code: status}
	if st := pipeline.FailedStage(err); st != "" {
		body.Stage = string(st)
	}
	writeJSON(w, status, body)
	return status
}
