package server

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"

	"threatmesh/internal/api/dto"
	"threatmesh/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, dto.ErrorResponse{Error: msg})
}

// writeEngineError maps a rejection to its HTTP status. Unknown errors are
// logged and reported as 500 without detail.
func writeEngineError(w http.ResponseWriter, err error) {
	code := domain.ErrorCode(err)
	status := statusForCode(code)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "error", err)
		writeJSON(w, status, dto.ErrorResponse{Error: "internal error", Code: code})
		return
	}
	writeJSON(w, status, dto.ErrorResponse{Error: err.Error(), Code: code})
}

func statusForCode(code string) int {
	switch code {
	case "insufficient_stake":
		return http.StatusPaymentRequired
	case "duplicate_commitment", "duplicate_reporter", "already_revealed", "already_confirmed":
		return http.StatusConflict
	case "commitment_not_found", "report_not_found":
		return http.StatusNotFound
	case "reveal_too_early":
		return http.StatusTooEarly
	case "address_whitelisted", "unauthorized":
		return http.StatusForbidden
	case "invalid_address", "invalid_evidence", "hash_mismatch":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return false
	}
	return true
}
