package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/mitto/internal/common"
)

// errorResponse is the uniform error payload
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON serializes v with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		common.GetLogger().Warn().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes a JSON error payload
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// decodeJSON decodes the request body into v, rejecting unknown fields
func decodeJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
