package domain

// ThreatStatus is the running tally for one target address.
type ThreatStatus struct {
	Address string `gorm:"primaryKey;size:45"`

	ReportCount    uint64 `gorm:"not null;default:0"`
	TotalRiskScore uint64 `gorm:"not null;default:0"`

	Confirmed      bool   `gorm:"not null;default:false;index"`
	ConfirmedAtSeq uint64 `gorm:"not null;default:0"`
	// ForceConfirmed marks confirmations that came from governance rather than quorum.
	ForceConfirmed bool   `gorm:"not null;default:false"`
	Reason         string `gorm:"size:128;not null;default:''"`

	UpdatedAtSeq uint64 `gorm:"not null;default:0"`
}
