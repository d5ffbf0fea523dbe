package sdk

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the wire format for all timestamps exchanged with the
// DeviceGate backend (RFC3339 with millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// DeviceType is the coarse device classification sent with attach calls
type DeviceType string

const (
	DeviceTypeMobile   DeviceType = "mobile"
	DeviceTypeTablet   DeviceType = "tablet"
	DeviceTypeComputer DeviceType = "computer"
)

// OSInfo describes the operating system of the local device
type OSInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// DeviceDetails describes the local device hardware
type DeviceDetails struct {
	Vendor string     `json:"vendor,omitempty"`
	Type   DeviceType `json:"type,omitempty"`
	Model  string     `json:"model,omitempty"`
}

// DeviceInfo is the device description sent with every attach call
type DeviceInfo struct {
	OS     *OSInfo        `json:"os,omitempty"`
	Device *DeviceDetails `json:"device,omitempty"`
}

// DeviceRecord is one entry in the user's attached-device list.
// Identity is ID only: two records with the same ID are the same device
// regardless of the other fields.
type DeviceRecord struct {
	ID        string
	User      string
	Info      DeviceInfo
	CreatedAt time.Time
	UpdatedAt time.Time
}

type deviceRecordJSON struct {
	ID        string     `json:"id"`
	User      string     `json:"user"`
	Info      DeviceInfo `json:"device_info"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
}

// MarshalJSON encodes timestamps in the fixed wire layout
func (r DeviceRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(deviceRecordJSON{
		ID:        r.ID,
		User:      r.User,
		Info:      r.Info,
		CreatedAt: r.CreatedAt.Format(TimestampLayout),
		UpdatedAt: r.UpdatedAt.Format(TimestampLayout),
	})
}

// UnmarshalJSON decodes timestamps from the fixed wire layout
func (r *DeviceRecord) UnmarshalJSON(data []byte) error {
	var raw deviceRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	createdAt, err := time.Parse(TimestampLayout, raw.CreatedAt)
	if err != nil {
		return fmt.Errorf("invalid created_at %q: %w", raw.CreatedAt, err)
	}
	updatedAt, err := time.Parse(TimestampLayout, raw.UpdatedAt)
	if err != nil {
		return fmt.Errorf("invalid updated_at %q: %w", raw.UpdatedAt, err)
	}
	r.ID = raw.ID
	r.User = raw.User
	r.Info = raw.Info
	r.CreatedAt = createdAt
	r.UpdatedAt = updatedAt
	return nil
}

// AttachResult is the server response to every attach and detach call.
// BlockOverUsage and DefaultDeviceLimit are optional server hints: a nil
// pointer means the server did not send the field, which is different from
// the field being present with its zero value.
type AttachResult struct {
	DeviceID           string `json:"device_id"`
	AttachedDevices    int    `json:"attached_devices"`
	Success            bool   `json:"success"`
	BlockOverUsage     *bool  `json:"block_over_usage,omitempty"`
	DefaultDeviceLimit *int   `json:"default_device_limit,omitempty"`
}

// LimitConfig is the host-supplied device limit override. Nil fields defer
// to the server-provided default limit.
type LimitConfig struct {
	// MobileLimit is declared for API compatibility but is not consulted by
	// the local evaluator; the server is the source of truth for any
	// type-aware accounting.
	MobileLimit  *int
	OverallLimit *int
}

// AppearanceConfig controls the blocking-dialog behavior. A nil
// ShowBlockingDialog defers to the server's block_over_usage hint.
type AppearanceConfig struct {
	Locale             string
	ShowBlockingDialog *bool
}

type attachRequest struct {
	User       string            `json:"user"`
	DeviceID   string            `json:"device_id,omitempty"`
	DeviceInfo DeviceInfo        `json:"device_info"`
	Signals    map[string]string `json:"signals,omitempty"`
}

type detachRequest struct {
	Device string `json:"device"`
	User   string `json:"user"`
}
