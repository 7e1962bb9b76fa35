package dto

type Params struct {
	QuorumThreshold   uint64 `json:"quorum_threshold"`
	RevealDelay       uint64 `json:"reveal_delay"`
	MinTokenBalance   string `json:"min_token_balance"`
	MinTotalRiskScore uint64 `json:"min_total_risk_score"`
}

type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Height    uint64 `json:"height"`
	Params    Params `json:"params"`
	Denylist  int    `json:"denylist_size"`
	Instances int    `json:"instances"`
	GeoLite   bool   `json:"geolite"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
