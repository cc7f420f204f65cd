package middleware

import (
	"encoding/json"
	"net/http"
)

// WriteJSONError writes {"error": message} with status.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
