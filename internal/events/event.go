// Package events carries the notifications the consensus engine publishes to
// its collaborators: the reporting node's local mitigation, the firewall sync
// daemon, the node registry and the cross-network relay.
package events

import "time"

type Kind string

const (
	KindLocalDefenseActive    Kind = "LocalDefenseActive"
	KindThreatCommitted       Kind = "ThreatCommitted"
	KindThreatRevealed        Kind = "ThreatRevealed"
	KindGlobalThreatConfirmed Kind = "GlobalThreatConfirmed"
	KindThreatReportRevoked   Kind = "ThreatReportRevoked"
	KindGlobalThreatRevoked   Kind = "GlobalThreatRevoked"
	KindWhitelistUpdated      Kind = "WhitelistUpdated"
)

// Event is a flat envelope; which fields are set depends on Kind.
type Event struct {
	Kind Kind   `json:"kind"`
	Seq  uint64 `json:"seq"`

	Address       string `json:"address,omitempty"`
	Reporter      string `json:"reporter,omitempty"`
	CommitmentKey string `json:"commitment_key,omitempty"`
	Salt          string `json:"salt,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Active        bool   `json:"active"`

	Timestamp time.Time `json:"timestamp"`
}

func LocalDefenseActive(address, reporter string) Event {
	return Event{Kind: KindLocalDefenseActive, Address: address, Reporter: reporter}
}

// ThreatCommitted carries the commit sequence in Seq once the ledger stamps it.
func ThreatCommitted(key, reporter string) Event {
	return Event{Kind: KindThreatCommitted, CommitmentKey: key, Reporter: reporter}
}

func ThreatRevealed(address, reporter, salt string) Event {
	return Event{Kind: KindThreatRevealed, Address: address, Reporter: reporter, Salt: salt}
}

func GlobalThreatConfirmed(address, reason string) Event {
	return Event{Kind: KindGlobalThreatConfirmed, Address: address, Reason: reason}
}

func ThreatReportRevoked(address, reporter string) Event {
	return Event{Kind: KindThreatReportRevoked, Address: address, Reporter: reporter}
}

func GlobalThreatRevoked(address, reason string) Event {
	return Event{Kind: KindGlobalThreatRevoked, Address: address, Reason: reason}
}

func WhitelistUpdated(address string, active bool) Event {
	return Event{Kind: KindWhitelistUpdated, Address: address, Active: active}
}
