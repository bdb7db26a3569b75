package store

import "time"

// Device is a provisioned tap dial and its last known metadata. Button state
// is never stored.
type Device struct {
	ID               string     `gorm:"column:id;primaryKey" json:"id"`
	DeviceID         string     `gorm:"column:device_id;uniqueIndex" json:"device_id"`
	Name             string     `gorm:"column:name" json:"name"`
	IEEEAddress      string     `gorm:"column:ieee_address" json:"ieee_address,omitempty"`
	Model            string     `gorm:"column:model" json:"model,omitempty"`
	Discovered       bool       `gorm:"column:discovered" json:"discovered"`
	Battery          *float64   `gorm:"column:battery" json:"battery,omitempty"`
	LinkQuality      *float64   `gorm:"column:link_quality" json:"linkquality,omitempty"`
	InstalledVersion *string    `gorm:"column:installed_version" json:"installed_version,omitempty"`
	LatestVersion    *string    `gorm:"column:latest_version" json:"latest_version,omitempty"`
	UpdateAvailable  *bool      `gorm:"column:update_available" json:"update_available,omitempty"`
	LastSeen         *time.Time `gorm:"column:last_seen" json:"last_seen,omitempty"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Device) TableName() string { return "devices" }
