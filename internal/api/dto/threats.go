// Package dto holds the JSON shapes of the HTTP API, kept apart from the
// storage models so columns never leak into responses by accident.
package dto

import "threatmesh/internal/domain"

type CommitRequest struct {
	IPHash string `json:"ip_hash"`
	Salt   string `json:"salt"`
}

type CommitResponse struct {
	CommitmentKey string `json:"commitment_key"`
	Seq           uint64 `json:"seq"`
}

type RevealRequest struct {
	Address        string `json:"address"`
	Salt           string `json:"salt"`
	CPULoadPercent uint   `json:"cpu_load_percent"`
	LogReference   string `json:"log_reference"`
	AttackType     string `json:"attack_type"`
	RiskScore      uint64 `json:"risk_score"`
}

type Location struct {
	CountryCode string `json:"country_code"`
	CountryName string `json:"country_name,omitempty"`
}

type ThreatStatus struct {
	Address        string    `json:"address"`
	ReportCount    uint64    `json:"report_count"`
	TotalRiskScore uint64    `json:"total_risk_score"`
	Confirmed      bool      `json:"confirmed"`
	ForceConfirmed bool      `json:"force_confirmed,omitempty"`
	ConfirmedAtSeq uint64    `json:"confirmed_at_seq,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	UpdatedAtSeq   uint64    `json:"updated_at_seq"`
	Whitelisted    bool      `json:"whitelisted"`
	Location       *Location `json:"location,omitempty"`
}

func NewThreatStatus(s *domain.ThreatStatus) ThreatStatus {
	if s == nil {
		return ThreatStatus{}
	}
	return ThreatStatus{
		Address:        s.Address,
		ReportCount:    s.ReportCount,
		TotalRiskScore: s.TotalRiskScore,
		Confirmed:      s.Confirmed,
		ForceConfirmed: s.ForceConfirmed,
		ConfirmedAtSeq: s.ConfirmedAtSeq,
		Reason:         s.Reason,
		UpdatedAtSeq:   s.UpdatedAtSeq,
	}
}

type EvidenceRecord struct {
	ReporterID     string `json:"reporter_id"`
	RiskScore      uint64 `json:"risk_score"`
	AttackType     string `json:"attack_type"`
	LogReference   string `json:"log_reference,omitempty"`
	CPULoadPercent uint8  `json:"cpu_load_percent"`
	CommitmentKey  string `json:"commitment_key"`
	RevealedAtSeq  uint64 `json:"revealed_at_seq"`
}

type EvidenceResponse struct {
	Address string           `json:"address"`
	Count   uint64           `json:"count"`
	Records []EvidenceRecord `json:"records"`
}

func NewEvidenceResponse(address string, count uint64, records []domain.EvidenceRecord) EvidenceResponse {
	out := EvidenceResponse{Address: address, Count: count, Records: make([]EvidenceRecord, 0, len(records))}
	for _, r := range records {
		out.Records = append(out.Records, EvidenceRecord{
			ReporterID:     r.ReporterID,
			RiskScore:      r.RiskScore,
			AttackType:     r.AttackType,
			LogReference:   r.LogReference,
			CPULoadPercent: r.CPULoadPercent,
			CommitmentKey:  r.CommitmentKey,
			RevealedAtSeq:  r.RevealedAtSeq,
		})
	}
	return out
}

type ReportedResponse struct {
	Address    string `json:"address"`
	ReporterID string `json:"reporter_id"`
	Reported   bool   `json:"reported"`
}

type CommitmentResponse struct {
	Key           string `json:"key"`
	Valid         bool   `json:"valid"`
	Revealed      bool   `json:"revealed"`
	State         string `json:"state,omitempty"`
	ReporterID    string `json:"reporter_id,omitempty"`
	CreatedAtSeq  uint64 `json:"created_at_seq,omitempty"`
	RevealedAtSeq uint64 `json:"revealed_at_seq,omitempty"`
}

func NewCommitmentResponse(key string, c *domain.Commitment) CommitmentResponse {
	if c == nil {
		return CommitmentResponse{Key: key}
	}
	return CommitmentResponse{
		Key:           c.Key,
		Valid:         true,
		Revealed:      c.Revealed,
		State:         string(c.State()),
		ReporterID:    c.ReporterID,
		CreatedAtSeq:  c.CreatedAtSeq,
		RevealedAtSeq: c.RevealedAtSeq,
	}
}
