package dto

import (
	"time"

	"threatmesh/internal/domain"
)

type AddressRequest struct {
	Address string `json:"address"`
}

type StakeRequest struct {
	ReporterID string `json:"reporter_id"`
	Amount     string `json:"amount"`
}

type WhitelistResponse struct {
	Address     string `json:"address"`
	Whitelisted bool   `json:"whitelisted"`
}

type SeqResponse struct {
	Seq uint64 `json:"seq"`
}

type AuditEntry struct {
	Seq       uint64    `json:"seq"`
	Op        string    `json:"op"`
	Actor     string    `json:"actor"`
	Target    string    `json:"target,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func NewAuditEntries(entries []domain.LedgerEntry) []AuditEntry {
	out := make([]AuditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntry{
			Seq:       e.Seq,
			Op:        e.Op,
			Actor:     e.Actor,
			Target:    e.Target,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}
