package model

import (
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the wire format for timestamps in API responses
// (RFC3339 with millisecond precision, mirrored by the SDK)
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Device represents one device attached to a user of a client app. The id is
// server-assigned and is the device's identity for its whole lifetime; a
// detach only marks the row instead of deleting it so the audit trail stays
// intact.
type Device struct {
	ID          string    `json:"id" gorm:"primaryKey;size:64"`
	ClientAppID uuid.UUID `json:"-" gorm:"type:uuid;not null;index:idx_app_user"`
	UserID      string    `json:"user" gorm:"not null;size:255;index:idx_app_user"`

	OSName     string `json:"os_name" gorm:"size:50;default:''"`
	OSVersion  string `json:"os_version" gorm:"size:50;default:''"`
	Vendor     string `json:"vendor" gorm:"size:100;default:''"`
	DeviceType string `json:"device_type" gorm:"size:20;default:''"` // mobile, tablet, computer
	Model      string `json:"model" gorm:"size:100;default:''"`

	// InstallID is the install-identifier signal sent by the SDK; it is
	// never used as the device id.
	InstallID string `json:"-" gorm:"size:255;default:''"`
	// FCMToken, when registered, receives the logout push fallback for
	// devices without an open listen stream.
	FCMToken string `json:"-" gorm:"size:512;default:''"`

	DetachedAt *time.Time `json:"detached_at" gorm:"index"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsAttached reports whether the device currently counts against the limit
func (d *Device) IsAttached() bool {
	return d.DetachedAt == nil
}

// ToResponse converts Device to the wire representation consumed by the SDK
func (d *Device) ToResponse() DeviceResponse {
	resp := DeviceResponse{
		ID:        d.ID,
		User:      d.UserID,
		CreatedAt: d.CreatedAt.Format(TimestampLayout),
		UpdatedAt: d.UpdatedAt.Format(TimestampLayout),
	}
	if d.OSName != "" || d.OSVersion != "" {
		resp.Info.OS = &OSInfo{Name: d.OSName, Version: d.OSVersion}
	}
	if d.Vendor != "" || d.DeviceType != "" || d.Model != "" {
		resp.Info.Device = &DeviceDetails{Vendor: d.Vendor, Type: d.DeviceType, Model: d.Model}
	}
	return resp
}

// AuditAction classifies an access event
type AuditAction string

const (
	AuditActionAttach      AuditAction = "attach"
	AuditActionDetach      AuditAction = "detach"
	AuditActionForceDetach AuditAction = "force_detach"
)

// AuditEvent is one entry in the access audit trail
type AuditEvent struct {
	ID          uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ClientAppID uuid.UUID   `json:"-" gorm:"type:uuid;not null;index"`
	UserID      string      `json:"user" gorm:"not null;size:255"`
	DeviceID    string      `json:"device_id" gorm:"not null;size:64"`
	Action      AuditAction `json:"action" gorm:"not null;size:20"`
	CreatedAt   time.Time   `json:"created_at"`
}
