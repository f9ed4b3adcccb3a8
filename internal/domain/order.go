package domain

import (
	"strings"
	"time"
)

const (
	OrderStatusNew = "NEW"

	FinishReasonControlledClose   = "controlled_close"
	FinishReasonControllingClose  = "controlling_close"
	FinishReasonControlledLogout  = "controlled_logout"
	FinishReasonControllingLogout = "controlling_logout"
)

// Order is the historical record of one remote-control session. The row
// outlives the session: once finished it keeps its FinishReason forever and
// is never deleted.
type Order struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	FinishedAt      *time.Time `gorm:"index" json:"finished_at,omitempty"`
	FinishReason    *string    `gorm:"size:32" json:"finish_reason,omitempty"`
	FromDeviceID    int64      `gorm:"index;not null" json:"from_device_id"`
	ToDeviceID      int64      `gorm:"index;not null" json:"to_device_id"`
	ClientRequestID int64      `gorm:"not null" json:"client_request_id"`
	SignalingHost   string     `gorm:"size:255;not null" json:"signaling_host"`
	SignalingPort   int        `gorm:"not null" json:"signaling_port"`
	RoomID          string     `gorm:"size:128;uniqueIndex;not null" json:"room_id"`
	ServiceID       string     `gorm:"size:128;not null" json:"service_id"`
	ClientID        string     `gorm:"size:128;not null" json:"client_id"`
	AuthToken       string     `gorm:"size:512;not null" json:"-"`
	P2PUser         string     `gorm:"size:16;not null" json:"-"`
	P2PToken        string     `gorm:"size:32;not null" json:"-"`
	RelayServer     string     `gorm:"size:64;not null" json:"relay_server"`
	ReflexServers   string     `gorm:"size:1024;not null" json:"reflex_servers"`
}

// ReflexServerList splits the stored comma-joined reflex server column back
// into the ordered list handed out at creation time.
func (o *Order) ReflexServerList() []string {
	if o.ReflexServers == "" {
		return nil
	}
	return strings.Split(o.ReflexServers, ",")
}

// JoinReflexServers is the inverse of ReflexServerList.
func JoinReflexServers(servers []string) string {
	return strings.Join(servers, ",")
}

// CurrentOrder is the active-session projection of an Order. At most one row
// may exist per controlled device and per room; the row is created in the
// same transaction as its Order and deleted when the session finishes.
type CurrentOrder struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	FromDeviceID int64     `gorm:"index;not null" json:"from_device_id"`
	ToDeviceID   int64     `gorm:"uniqueIndex;not null" json:"to_device_id"`
	RoomID       string    `gorm:"size:128;uniqueIndex;not null" json:"room_id"`
}

func (CurrentOrder) TableName() string { return "current_orders" }

// OrderStatus is a materialized fast-path view of the session status, keyed
// uniquely by controlled device. Its lifecycle strictly mirrors CurrentOrder.
type OrderStatus struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Status       string    `gorm:"size:32;not null" json:"status"`
	FromDeviceID int64     `gorm:"index;not null" json:"from_device_id"`
	ToDeviceID   int64     `gorm:"uniqueIndex;not null" json:"to_device_id"`
	RoomID       string    `gorm:"size:128;uniqueIndex;not null" json:"room_id"`
}

func (OrderStatus) TableName() string { return "order_status" }
