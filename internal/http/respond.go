package httpx

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure sends the {success:false} envelope used by the deploy route.
func writeFailure(w http.ResponseWriter, status int, msg, step string) {
	payload := map[string]any{
		"success": false,
		"message": msg,
	}
	if step != "" {
		payload["step"] = step
	}
	writeJSON(w, status, payload)
}
