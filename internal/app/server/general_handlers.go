package server

import (
	"net/http"

	"github.com/charmbracelet/log"

	"threatmesh/internal/api/dto"
	"threatmesh/internal/app/version"
	"threatmesh/internal/jobs/runtime"
)

func getVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	p := s.deps.Engine.Params()
	out := dto.Health{
		Status:  "ok",
		Version: version.String(),
		Height:  s.deps.Engine.Height(),
		Params: dto.Params{
			QuorumThreshold:   p.QuorumThreshold,
			RevealDelay:       p.RevealDelay,
			MinTokenBalance:   p.MinTokenBalance.Dec(),
			MinTotalRiskScore: p.MinTotalRiskScore,
		},
		Instances: 1,
	}
	if s.deps.Denylist != nil {
		out.Denylist = s.deps.Denylist.Len()
	}
	if s.deps.Locator != nil {
		out.GeoLite = s.deps.Locator.Available()
	}
	if s.deps.Redis != nil {
		n, err := runtime.CountActiveInstances(r.Context(), s.deps.Redis)
		if err != nil {
			log.Warn("health: count instances", "error", err)
			out.Status = "degraded"
		} else {
			out.Instances = n
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// getDenylist serves the confirmed set. ?format=bloom returns only the
// serialized bloom filter for firewall agents.
func (s *Server) getDenylist(w http.ResponseWriter, r *http.Request) {
	if s.deps.Denylist == nil {
		writeError(w, "denylist disabled", http.StatusServiceUnavailable)
		return
	}
	snap := s.deps.Denylist.Snapshot()
	if r.URL.Query().Get("format") == "bloom" {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("X-Denylist-Version", formatUint(snap.Version))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(snap.Bloom)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
