package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
)

// writeJSON marshals v and writes it as the response body with the given
// status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": message} at status, matching the reference
// server's error_response shape.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads and decodes the request body into dst, rejecting an
// empty body (every POST route that calls this requires a JSON object, even
// if all its fields are optional).
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	return json.Unmarshal(body, dst)
}
