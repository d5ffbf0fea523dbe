package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/devicegate/internal/model"
	"gorm.io/gorm"
)

// AuditRepository handles database operations for AuditEvent
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record appends one event to the audit trail
func (r *AuditRepository) Record(appID uuid.UUID, userID, deviceID string, action model.AuditAction) error {
	return r.db.Create(&model.AuditEvent{
		ClientAppID: appID,
		UserID:      userID,
		DeviceID:    deviceID,
		Action:      action,
	}).Error
}

// ListSince returns an app's audit events recorded at or after the cutoff,
// oldest first
func (r *AuditRepository) ListSince(appID uuid.UUID, since time.Time) ([]model.AuditEvent, error) {
	var events []model.AuditEvent
	err := r.db.
		Where("client_app_id = ? AND created_at >= ?", appID, since).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
