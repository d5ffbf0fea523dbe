package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/devicegate/internal/model"
	"gorm.io/gorm"
)

// DeviceRepository handles database operations for Device
type DeviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Create inserts a new device
func (r *DeviceRepository) Create(device *model.Device) error {
	return r.db.Create(device).Error
}

// FindByID finds a device by id within a client app
func (r *DeviceRepository) FindByID(appID uuid.UUID, deviceID string) (*model.Device, error) {
	var device model.Device
	err := r.db.Where("id = ? AND client_app_id = ?", deviceID, appID).First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// Save persists all fields of an existing device
func (r *DeviceRepository) Save(device *model.Device) error {
	return r.db.Save(device).Error
}

// MarkDetached stamps the device as detached and reports whether it was
// attached before the call
func (r *DeviceRepository) MarkDetached(appID uuid.UUID, deviceID string) (bool, error) {
	res := r.db.Model(&model.Device{}).
		Where("id = ? AND client_app_id = ? AND detached_at IS NULL", deviceID, appID).
		Update("detached_at", time.Now())
	return res.RowsAffected > 0, res.Error
}

// CountAttached returns how many devices are currently attached for the user
func (r *DeviceRepository) CountAttached(appID uuid.UUID, userID string) (int, error) {
	var count int64
	err := r.db.Model(&model.Device{}).
		Where("client_app_id = ? AND user_id = ? AND detached_at IS NULL", appID, userID).
		Count(&count).Error
	return int(count), err
}

// ListAttached returns the user's attached devices in attach order
func (r *DeviceRepository) ListAttached(appID uuid.UUID, userID string) ([]model.Device, error) {
	var devices []model.Device
	err := r.db.
		Where("client_app_id = ? AND user_id = ? AND detached_at IS NULL", appID, userID).
		Order("created_at ASC").
		Find(&devices).Error
	return devices, err
}
