// Package httpapi exposes the three tiers' HTTP surfaces. All
// payloads are strict JSON: unknown fields are rejected at the
// boundary so a malformed or mistyped command never reaches a service.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
)

// maxRequestBody caps request bodies. Admin commands and mutations are
// well under this; the largest payload is a forwarded audit batch.
const maxRequestBody = 1 << 20

type errorBody struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{OK: false, Code: code, Message: message})
}
