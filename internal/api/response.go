package api

import (
	"encoding/json"
	"net/http"

	"bsr/internal/apperr"
)

// envelope is the {code, message, data} shape every /api/<command>
// response shares (spec.md §6). code 0 is success; any other value is
// a caller-facing failure, with message carrying the detail.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// kindToCode maps the internal error taxonomy to the small set of codes
// callers can branch on without parsing message text.
func kindToCode(k apperr.Kind) int {
	switch k {
	case apperr.NotFound:
		return 404
	case apperr.Auth:
		return 401
	case apperr.Config:
		return 400
	case apperr.Cancelled:
		return 499
	default:
		return 500
	}
}

func writeOK(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusOK, envelope{Code: 0, Message: "ok", Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	code := 500
	if k, ok := apperr.KindOf(err); ok {
		code = kindToCode(k)
	}
	writeEnvelope(w, http.StatusOK, envelope{Code: code, Message: err.Error()})
}

func writeEnvelope(w http.ResponseWriter, status int, e envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}
