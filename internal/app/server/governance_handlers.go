package server

import (
	"net/http"
	"strconv"

	"threatmesh/internal/api/dto"
	"threatmesh/internal/auth"
	"threatmesh/internal/domain"
	"threatmesh/internal/stake"
)

const defaultAuditLimit = 100

func (s *Server) addToWhitelist(w http.ResponseWriter, r *http.Request) {
	caller, ok := governanceCaller(w, r)
	if !ok {
		return
	}
	var req dto.AddressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.respondSeq(w, func() (uint64, error) {
		return s.deps.Engine.AddToWhitelist(r.Context(), caller, req.Address)
	})
}

func (s *Server) removeFromWhitelist(w http.ResponseWriter, r *http.Request) {
	caller, ok := governanceCaller(w, r)
	if !ok {
		return
	}
	s.respondSeq(w, func() (uint64, error) {
		return s.deps.Engine.RemoveFromWhitelist(r.Context(), caller, r.PathValue("ip"))
	})
}

func (s *Server) forceConfirm(w http.ResponseWriter, r *http.Request) {
	caller, ok := governanceCaller(w, r)
	if !ok {
		return
	}
	s.respondSeq(w, func() (uint64, error) {
		return s.deps.Engine.ForceConfirm(r.Context(), caller, r.PathValue("ip"))
	})
}

func (s *Server) forceRevoke(w http.ResponseWriter, r *http.Request) {
	caller, ok := governanceCaller(w, r)
	if !ok {
		return
	}
	s.respondSeq(w, func() (uint64, error) {
		return s.deps.Engine.ForceRevoke(r.Context(), caller, r.PathValue("ip"))
	})
}

func (s *Server) setStake(w http.ResponseWriter, r *http.Request) {
	caller, ok := governanceCaller(w, r)
	if !ok {
		return
	}
	var req dto.StakeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := stake.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, "Invalid amount", http.StatusBadRequest)
		return
	}
	s.respondSeq(w, func() (uint64, error) {
		return s.deps.Engine.SetStake(r.Context(), caller, req.ReporterID, amount)
	})
}

func (s *Server) audit(w http.ResponseWriter, r *http.Request) {
	caller, ok := governanceCaller(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	var since uint64
	if raw := query.Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, "Invalid since", http.StatusBadRequest)
			return
		}
		since = v
	}
	limit := defaultAuditLimit
	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = v
	}

	entries, err := s.deps.Engine.GovernanceAudit(r.Context(), caller, since, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewAuditEntries(entries))
}

func (s *Server) respondSeq(w http.ResponseWriter, op func() (uint64, error)) {
	seq, err := op()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SeqResponse{Seq: seq})
}

func governanceCaller(w http.ResponseWriter, r *http.Request) (domain.Caller, bool) {
	caller, err := auth.CallerFromRequest(r)
	if err != nil {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return domain.Caller{}, false
	}
	return caller, true
}
