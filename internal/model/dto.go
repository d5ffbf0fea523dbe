package model

// ========== Access DTOs (wire contract consumed by the SDK) ==========

type OSInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

type DeviceDetails struct {
	Vendor string `json:"vendor,omitempty"`
	Type   string `json:"type,omitempty"`
	Model  string `json:"model,omitempty"`
}

type DeviceInfo struct {
	OS     *OSInfo        `json:"os,omitempty"`
	Device *DeviceDetails `json:"device,omitempty"`
}

type AttachRequest struct {
	User       string            `json:"user" binding:"required"`
	DeviceID   string            `json:"device_id"`
	DeviceInfo DeviceInfo        `json:"device_info"`
	Signals    map[string]string `json:"signals"`
}

type DetachRequest struct {
	Device string `json:"device" binding:"required"`
	User   string `json:"user" binding:"required"`
}

// AccessResponse is returned by both attach and detach. BlockOverUsage and
// DefaultDeviceLimit are omitted when the app carries no policy for them so
// the SDK can tell "absent" from "false"/"zero".
type AccessResponse struct {
	DeviceID           string `json:"device_id"`
	AttachedDevices    int    `json:"attached_devices"`
	Success            bool   `json:"success"`
	BlockOverUsage     *bool  `json:"block_over_usage,omitempty"`
	DefaultDeviceLimit *int   `json:"default_device_limit,omitempty"`
}

// DeviceResponse is one entry of the attached-device list
type DeviceResponse struct {
	ID        string     `json:"id"`
	User      string     `json:"user"`
	Info      DeviceInfo `json:"device_info"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
}

// ========== Dashboard DTOs ==========

type TokenRequest struct {
	ClientID string `json:"client_id" binding:"required"`
	Secret   string `json:"secret"`
}

type TokenResponse struct {
	Token string            `json:"token"`
	App   ClientAppResponse `json:"app"`
}

type ForceDetachResponse struct {
	DeviceID        string `json:"device_id"`
	AttachedDevices int    `json:"attached_devices"`
}

type AuditExportResponse struct {
	URL    string `json:"url"`
	Events int    `json:"events"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ========== Realtime events ==========

// StreamEventType enumerates the events published on the redis channel
type StreamEventType string

const (
	StreamEventAttach StreamEventType = "attach"
	StreamEventLogout StreamEventType = "logout"
)

// StreamEvent is the payload fanned out over redis pub/sub. Logout events
// target one device's listen stream; every event is also mirrored to the
// app's dashboard watchers.
type StreamEvent struct {
	Type        StreamEventType `json:"type"`
	ClientAppID string          `json:"client_app_id"`
	UserID      string          `json:"user"`
	DeviceID    string          `json:"device_id"`
	Devices     int             `json:"devices"`
}
