package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClientApp represents an application integrating the DeviceGate SDK.
// Requests authenticate with the app's client_id and secret; only the bcrypt
// hash of the secret is stored.
type ClientApp struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ClientID   string    `json:"client_id" gorm:"uniqueIndex;not null;size:64"`
	Name       string    `json:"name" gorm:"size:100;not null"`
	SecretHash string    `json:"-" gorm:"size:255"`

	// Limit policy returned with every attach/detach response
	DeviceLimit    int  `json:"device_limit" gorm:"default:2"`
	MobileLimit    *int `json:"mobile_limit"` // optional type-aware sub-limit
	BlockOverUsage bool `json:"block_over_usage" gorm:"default:false"`

	// AlertEmail receives security notifications (new device attached,
	// device force-detached). Empty disables email alerts.
	AlertEmail string `json:"alert_email" gorm:"size:255;default:''"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// ToResponse converts ClientApp to the safe API representation
func (a *ClientApp) ToResponse() ClientAppResponse {
	return ClientAppResponse{
		ID:             a.ID,
		ClientID:       a.ClientID,
		Name:           a.Name,
		DeviceLimit:    a.DeviceLimit,
		MobileLimit:    a.MobileLimit,
		BlockOverUsage: a.BlockOverUsage,
	}
}

// ClientAppResponse is the safe version of ClientApp for API responses
type ClientAppResponse struct {
	ID             uuid.UUID `json:"id"`
	ClientID       string    `json:"client_id"`
	Name           string    `json:"name"`
	DeviceLimit    int       `json:"device_limit"`
	MobileLimit    *int      `json:"mobile_limit,omitempty"`
	BlockOverUsage bool      `json:"block_over_usage"`
}
