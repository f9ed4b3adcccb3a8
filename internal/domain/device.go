package domain

import "time"

// UnusedDeviceID is one reclaimed (or never handed out) numeric device
// identity. The autoincrementing surrogate key records release order, so the
// oldest-released ID is the row with the lowest ID, regardless of the
// numeric value of DeviceID itself.
type UnusedDeviceID struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	DeviceID  int64     `gorm:"uniqueIndex;not null" json:"device_id"`
}

func (UnusedDeviceID) TableName() string { return "unused_device_ids" }

// UsedDeviceID binds an assigned device identity to the client-stable cookie
// that re-identifies the device across reconnects. A device ID is in either
// the used or the unused pool, never both.
type UsedDeviceID struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	DeviceID  int64     `gorm:"uniqueIndex;not null" json:"device_id"`
	Cookie    string    `gorm:"size:128;index;not null" json:"-"`
}

func (UsedDeviceID) TableName() string { return "used_device_ids" }
