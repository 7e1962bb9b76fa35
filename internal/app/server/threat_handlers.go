package server

import (
	"net/http"

	"threatmesh/internal/api/dto"
	"threatmesh/internal/auth"
	"threatmesh/internal/domain"
	"threatmesh/internal/reveal"
)

func (s *Server) commitThreat(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.CallerFromRequest(r)
	if err != nil {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req dto.CommitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ipHash, err := domain.ParseHash(req.IPHash)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	key, seq, err := s.deps.Engine.CommitThreatEvidence(r.Context(), caller, ipHash, req.Salt)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.CommitResponse{CommitmentKey: key.Hex(), Seq: seq})
}

func (s *Server) revealThreat(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.CallerFromRequest(r)
	if err != nil {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req dto.RevealRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	status, err := s.deps.Engine.RevealThreatEvidence(r.Context(), caller, req.Address, req.Salt, reveal.Evidence{
		CPULoadPercent: req.CPULoadPercent,
		LogReference:   req.LogReference,
		AttackType:     req.AttackType,
		RiskScore:      req.RiskScore,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.threatStatus(status, false))
}

func (s *Server) revokeThreat(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.CallerFromRequest(r)
	if err != nil {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	status, err := s.deps.Engine.RevokeThreatReport(r.Context(), caller, r.PathValue("ip"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.threatStatus(status, false))
}

func (s *Server) getThreatStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := r.PathValue("ip")

	status, err := s.deps.Engine.GetThreatStatus(ctx, address)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	whitelisted, err := s.deps.Engine.IsWhitelisted(ctx, address)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.threatStatus(status, whitelisted))
}

func (s *Server) listConfirmed(w http.ResponseWriter, r *http.Request) {
	confirmed, err := s.deps.Engine.ConfirmedThreats(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]dto.ThreatStatus, 0, len(confirmed))
	for i := range confirmed {
		out = append(out, s.threatStatus(&confirmed[i], false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := r.PathValue("ip")

	count, err := s.deps.Engine.GetEvidenceCount(ctx, address)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	records, err := s.deps.Engine.Evidence(ctx, address)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	canonical, _ := domain.CanonicalAddress(address)
	writeJSON(w, http.StatusOK, dto.NewEvidenceResponse(canonical, count, records))
}

func (s *Server) hasReported(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("ip")
	reporterID := r.PathValue("id")

	reported, err := s.deps.Engine.HasAddressReported(r.Context(), address, reporterID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	canonical, _ := domain.CanonicalAddress(address)
	writeJSON(w, http.StatusOK, dto.ReportedResponse{Address: canonical, ReporterID: reporterID, Reported: reported})
}

func (s *Server) getCommitment(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("key")
	key, err := domain.ParseHash(raw)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	c, err := s.deps.Engine.Commitment(r.Context(), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewCommitmentResponse(key.Hex(), c))
}

func (s *Server) isWhitelisted(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("ip")
	whitelisted, err := s.deps.Engine.IsWhitelisted(r.Context(), address)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	canonical, _ := domain.CanonicalAddress(address)
	writeJSON(w, http.StatusOK, dto.WhitelistResponse{Address: canonical, Whitelisted: whitelisted})
}

// threatStatus converts a tally and attaches the country when a GeoLite
// database is loaded.
func (s *Server) threatStatus(status *domain.ThreatStatus, whitelisted bool) dto.ThreatStatus {
	out := dto.NewThreatStatus(status)
	out.Whitelisted = whitelisted
	if s.deps.Locator != nil && out.Address != "" {
		if loc, ok := s.deps.Locator.Country(out.Address); ok {
			out.Location = &dto.Location{CountryCode: loc.CountryCode, CountryName: loc.CountryName}
		}
	}
	return out
}
