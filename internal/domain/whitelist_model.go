package domain

// WhitelistEntry protects an address from ever being confirmed as a threat.
type WhitelistEntry struct {
	Address      string `gorm:"primaryKey;size:45"`
	Active       bool   `gorm:"not null;default:true;index"`
	UpdatedAtSeq uint64 `gorm:"not null;default:0"`
}
