package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

// DeviceRepository handles device registry access.
type DeviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(db *gorm.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// FindAll returns all devices ordered by device ID.
func (r *DeviceRepository) FindAll(ctx context.Context) ([]Device, error) {
	var devices []Device
	result := r.db.WithContext(ctx).
		Order("device_id ASC").
		Find(&devices)
	return devices, result.Error
}

// FindByDeviceID returns a device, or nil if it is not registered.
func (r *DeviceRepository) FindByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	var device Device
	result := r.db.WithContext(ctx).First(&device, "device_id = ?", deviceID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &device, nil
}

// Upsert registers a device or refreshes its identity fields. Stored metadata
// is left untouched. Empty strings in d never overwrite stored values.
func (r *DeviceRepository) Upsert(ctx context.Context, d Device) (*Device, error) {
	existing, err := r.FindByDeviceID(ctx, d.DeviceID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		d.ID = cuid.New()
		if err := r.db.WithContext(ctx).Create(&d).Error; err != nil {
			return nil, fmt.Errorf("create device %s: %w", d.DeviceID, err)
		}
		return &d, nil
	}

	if d.Name != "" {
		existing.Name = d.Name
	}
	if d.IEEEAddress != "" {
		existing.IEEEAddress = d.IEEEAddress
	}
	if d.Model != "" {
		existing.Model = d.Model
	}
	existing.Discovered = existing.Discovered || d.Discovered
	if err := r.db.WithContext(ctx).Save(existing).Error; err != nil {
		return nil, fmt.Errorf("update device %s: %w", d.DeviceID, err)
	}
	return existing, nil
}

// Delete removes a device. It reports whether a row was deleted.
func (r *DeviceRepository) Delete(ctx context.Context, deviceID string) (bool, error) {
	result := r.db.WithContext(ctx).Delete(&Device{}, "device_id = ?", deviceID)
	return result.RowsAffected > 0, result.Error
}

var metadataColumns = map[logic.MetadataField]string{
	logic.FieldBattery:          "battery",
	logic.FieldLinkQuality:      "link_quality",
	logic.FieldInstalledVersion: "installed_version",
	logic.FieldLatestVersion:    "latest_version",
	logic.FieldUpdateAvailable:  "update_available",
}

// UpdateMetadata stores the last known value of one attribute and bumps
// last_seen.
func (r *DeviceRepository) UpdateMetadata(ctx context.Context, deviceID string, field logic.MetadataField, value any, at time.Time) error {
	column, ok := metadataColumns[field]
	if !ok {
		return fmt.Errorf("unknown metadata field %q", field)
	}
	result := r.db.WithContext(ctx).
		Model(&Device{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]any{column: value, "last_seen": at})
	if result.Error != nil {
		return fmt.Errorf("update %s for %s: %w", field, deviceID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update %s: device %s not registered", field, deviceID)
	}
	return nil
}

// Touch records that the device was heard from.
func (r *DeviceRepository) Touch(ctx context.Context, deviceID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&Device{}).
		Where("device_id = ?", deviceID).
		Update("last_seen", at).Error
}
