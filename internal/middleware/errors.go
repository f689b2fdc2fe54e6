package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
