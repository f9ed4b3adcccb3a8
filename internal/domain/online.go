package domain

import "time"

// OnlineRecord is one append-only audit tuple of a controlling/controlled
// pairing. Records are reporting data only and are never updated.
type OnlineRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Controlling int64     `gorm:"not null" json:"controlling"`
	Controlled  int64     `gorm:"not null" json:"controlled"`
}

func (OnlineRecord) TableName() string { return "onlines" }
