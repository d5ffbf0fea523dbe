package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/devicegate/internal/config"
	"github.com/quocanhngo/devicegate/internal/model"
	"github.com/quocanhngo/devicegate/internal/repository"
	"github.com/quocanhngo/devicegate/internal/stream"
	"github.com/quocanhngo/devicegate/pkg/mailer"
	"github.com/quocanhngo/devicegate/pkg/notification"
	"github.com/quocanhngo/devicegate/pkg/storage"
	"gorm.io/gorm"
)

// AccessService handles the attach/detach/list business logic
type AccessService struct {
	devices  *repository.DeviceRepository
	audits   *repository.AuditRepository
	hub      *stream.Hub
	mail     *mailer.Mailer
	push     *notification.PushService
	archiver storage.Archiver
	defaults config.LimitConfig
}

func NewAccessService(
	devices *repository.DeviceRepository,
	audits *repository.AuditRepository,
	hub *stream.Hub,
	mail *mailer.Mailer,
	push *notification.PushService,
	archiver storage.Archiver,
	defaults config.LimitConfig,
) *AccessService {
	return &AccessService{
		devices:  devices,
		audits:   audits,
		hub:      hub,
		mail:     mail,
		push:     push,
		archiver: archiver,
		defaults: defaults,
	}
}

// ==================== Attach ====================

// Attach registers (or re-registers) a device for the user and returns the
// current attached-device count together with the app's limit policy. The
// device id is server-assigned: an unknown or missing id from the client
// gets a fresh one, and the client must adopt it.
func (s *AccessService) Attach(ctx context.Context, app *model.ClientApp, req model.AttachRequest) (*model.AccessResponse, error) {
	device, isNew, err := s.resolveDevice(app, req)
	if err != nil {
		return nil, errors.New("failed to register device")
	}

	count, err := s.devices.CountAttached(app.ID, req.User)
	if err != nil {
		return nil, errors.New("failed to count attached devices")
	}

	if err := s.audits.Record(app.ID, req.User, device.ID, model.AuditActionAttach); err != nil {
		log.Printf("⚠️  Failed to record attach audit event: %v", err)
	}

	s.hub.Publish(ctx, model.StreamEvent{
		Type:        model.StreamEventAttach,
		ClientAppID: app.ID.String(),
		UserID:      req.User,
		DeviceID:    device.ID,
		Devices:     count,
	})

	if isNew && app.AlertEmail != "" && s.mail != nil {
		// Best effort; an unreachable SMTP server must not fail the attach.
		go func(alert mailer.DeviceAlert, to string) {
			if err := s.mail.SendDeviceAttached(to, alert); err != nil {
				log.Printf("⚠️  Device attached alert: %v", err)
			}
		}(deviceAlert(device), app.AlertEmail)
	}

	return s.accessResponse(app, device.ID, count, true), nil
}

// resolveDevice finds the device the request is about, creating a new one
// when the presented id is missing or unknown
func (s *AccessService) resolveDevice(app *model.ClientApp, req model.AttachRequest) (*model.Device, bool, error) {
	if req.DeviceID != "" {
		device, err := s.devices.FindByID(app.ID, req.DeviceID)
		switch {
		case err == nil:
			applyDeviceInfo(device, req)
			device.DetachedAt = nil
			if err := s.devices.Save(device); err != nil {
				return nil, false, err
			}
			return device, false, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, false, err
		}
	}

	device := &model.Device{
		ID:          uuid.NewString(),
		ClientAppID: app.ID,
		UserID:      req.User,
	}
	applyDeviceInfo(device, req)
	if err := s.devices.Create(device); err != nil {
		return nil, false, err
	}
	return device, true, nil
}

func applyDeviceInfo(device *model.Device, req model.AttachRequest) {
	device.UserID = req.User
	if os := req.DeviceInfo.OS; os != nil {
		device.OSName = os.Name
		device.OSVersion = os.Version
	}
	if d := req.DeviceInfo.Device; d != nil {
		device.Vendor = d.Vendor
		device.DeviceType = d.Type
		device.Model = d.Model
	}
	if req.Signals != nil {
		if installID, ok := req.Signals["install_id"]; ok {
			device.InstallID = installID
		}
		if token, ok := req.Signals["fcm_token"]; ok {
			device.FCMToken = token
		}
	}
}

// ==================== Detach ====================

// Detach removes a device from the user's active set, notifies its open
// listen stream (and FCM as fallback) and returns the updated count. An
// unknown device yields success=false, not an error.
func (s *AccessService) Detach(ctx context.Context, app *model.ClientApp, userID, deviceID string, forced bool) (*model.AccessResponse, error) {
	device, err := s.devices.FindByID(app.ID, deviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			count, countErr := s.devices.CountAttached(app.ID, userID)
			if countErr != nil {
				return nil, errors.New("failed to count attached devices")
			}
			return s.accessResponse(app, deviceID, count, false), nil
		}
		return nil, errors.New("failed to look up device")
	}

	if _, err := s.devices.MarkDetached(app.ID, deviceID); err != nil {
		return nil, errors.New("failed to detach device")
	}

	count, err := s.devices.CountAttached(app.ID, userID)
	if err != nil {
		return nil, errors.New("failed to count attached devices")
	}

	action := model.AuditActionDetach
	if forced {
		action = model.AuditActionForceDetach
	}
	if err := s.audits.Record(app.ID, userID, deviceID, action); err != nil {
		log.Printf("⚠️  Failed to record detach audit event: %v", err)
	}

	// The logout event reaches the device's listen stream and the app's
	// dashboard watchers.
	s.hub.Publish(ctx, model.StreamEvent{
		Type:        model.StreamEventLogout,
		ClientAppID: app.ID.String(),
		UserID:      userID,
		DeviceID:    deviceID,
		Devices:     count,
	})

	if err := s.push.SendDeviceLogout(ctx, device.FCMToken, deviceID); err != nil {
		log.Printf("⚠️  Logout push for device %s: %v", deviceID, err)
	}

	if app.AlertEmail != "" && s.mail != nil {
		go func(alert mailer.DeviceAlert, to string) {
			if err := s.mail.SendDeviceDetached(to, alert); err != nil {
				log.Printf("⚠️  Device detached alert: %v", err)
			}
		}(deviceAlert(device), app.AlertEmail)
	}

	return s.accessResponse(app, deviceID, count, true), nil
}

// ==================== List & audit ====================

// ListAttached returns the user's attached devices in attach order
func (s *AccessService) ListAttached(app *model.ClientApp, userID string) ([]model.DeviceResponse, error) {
	devices, err := s.devices.ListAttached(app.ID, userID)
	if err != nil {
		return nil, errors.New("failed to list attached devices")
	}
	responses := make([]model.DeviceResponse, 0, len(devices))
	for i := range devices {
		responses = append(responses, devices[i].ToResponse())
	}
	return responses, nil
}

// ExportAudit archives the app's audit trail since the cutoff to object
// storage and returns a presigned download link
func (s *AccessService) ExportAudit(ctx context.Context, app *model.ClientApp, since time.Time) (*model.AuditExportResponse, error) {
	if s.archiver == nil {
		return nil, errors.New("audit archive storage is not configured")
	}

	events, err := s.audits.ListSince(app.ID, since)
	if err != nil {
		return nil, errors.New("failed to load audit events")
	}

	objectName := fmt.Sprintf("%s/%s.json", app.ClientID, time.Now().UTC().Format("2006/01/02/150405"))
	url, err := s.archiver.ArchiveJSON(ctx, objectName, events)
	if err != nil {
		log.Printf("⚠️  Audit export for app %s: %v", app.ClientID, err)
		return nil, errors.New("failed to archive audit events")
	}

	return &model.AuditExportResponse{URL: url, Events: len(events)}, nil
}

// ==================== Helpers ====================

// accessResponse carries the app's limit policy with every attach/detach
// answer so the SDK can evaluate locally
func (s *AccessService) accessResponse(app *model.ClientApp, deviceID string, count int, success bool) *model.AccessResponse {
	limit := app.DeviceLimit
	if limit <= 0 {
		limit = s.defaults.DefaultDeviceLimit
	}
	block := app.BlockOverUsage || s.defaults.BlockOverUsage
	return &model.AccessResponse{
		DeviceID:           deviceID,
		AttachedDevices:    count,
		Success:            success,
		BlockOverUsage:     &block,
		DefaultDeviceLimit: &limit,
	}
}

func deviceAlert(device *model.Device) mailer.DeviceAlert {
	return mailer.DeviceAlert{
		UserID:     device.UserID,
		DeviceID:   device.ID,
		OSName:     device.OSName,
		Model:      device.Model,
		DeviceType: device.DeviceType,
	}
}
