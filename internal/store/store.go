package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"margaz-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	FindDevice(ctx context.Context, deviceID string) (*model.Device, error)
	RegisterDevice(ctx context.Context, device *model.Device) (*model.Device, error)
	TouchDevice(ctx context.Context, deviceID string, at time.Time) error
	ListDevices(ctx context.Context) ([]model.Device, error)

	FindDeviceAuth(ctx context.Context, deviceID string) (*model.DeviceAuth, error)
	RegisterDeviceAuth(ctx context.Context, auth *model.DeviceAuth) (*model.DeviceAuth, error)

	FindDealer(ctx context.Context, id string) (*model.Dealer, error)
	FindDealerByDevice(ctx context.Context, deviceID string) (*model.Dealer, error)
	ListDealers(ctx context.Context) ([]model.Dealer, error)
	ApplyTelemetry(ctx context.Context, dealerID, deviceID string, level float64, at time.Time) (*Applied, error)
	DealerHistory(ctx context.Context, q HistoryQuery) ([]model.TelemetryHistory, error)

	SaveSubscription(ctx context.Context, sub *model.PushSubscription, dealerIDs []string) error
	FindSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForDealer(ctx context.Context, dealerID string) ([]model.PushSubscription, error)

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) FindDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	var device model.Device
	if err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		return nil, notFound(err, "device %q", deviceID)
	}
	return &device, nil
}

// RegisterDevice inserts the device unless one with the same device_id
// already exists, and returns the stored row either way.
func (s *gormStore) RegisterDevice(ctx context.Context, device *model.Device) (*model.Device, error) {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoNothing: true,
	}).Create(device).Error; err != nil {
		return nil, fmt.Errorf("failed to register device %q: %w", device.DeviceID, err)
	}
	return s.FindDevice(ctx, device.DeviceID)
}

func (s *gormStore) TouchDevice(ctx context.Context, deviceID string, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Where("device_id = ?", deviceID).
		Update("last_seen", at).Error
	if err != nil {
		return fmt.Errorf("failed to update last_seen for device %q: %w", deviceID, err)
	}
	return nil
}

func (s *gormStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

func (s *gormStore) FindDeviceAuth(ctx context.Context, deviceID string) (*model.DeviceAuth, error) {
	var auth model.DeviceAuth
	if err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&auth).Error; err != nil {
		return nil, notFound(err, "device auth %q", deviceID)
	}
	return &auth, nil
}

// RegisterDeviceAuth creates the profile if absent and returns the stored row.
// An existing profile is never overwritten.
func (s *gormStore) RegisterDeviceAuth(ctx context.Context, auth *model.DeviceAuth) (*model.DeviceAuth, error) {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoNothing: true,
	}).Create(auth).Error; err != nil {
		return nil, fmt.Errorf("failed to register device auth %q: %w", auth.DeviceID, err)
	}
	return s.FindDeviceAuth(ctx, auth.DeviceID)
}

func (s *gormStore) FindDealer(ctx context.Context, id string) (*model.Dealer, error) {
	var dealer model.Dealer
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&dealer).Error; err != nil {
		return nil, notFound(err, "dealer %q", id)
	}
	return &dealer, nil
}

func (s *gormStore) FindDealerByDevice(ctx context.Context, deviceID string) (*model.Dealer, error) {
	var dealer model.Dealer
	if err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&dealer).Error; err != nil {
		return nil, notFound(err, "dealer for device %q", deviceID)
	}
	return &dealer, nil
}

func (s *gormStore) ListDealers(ctx context.Context) ([]model.Dealer, error) {
	var dealers []model.Dealer
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&dealers).Error; err != nil {
		return nil, fmt.Errorf("failed to list dealers: %w", err)
	}
	return dealers, nil
}

// ApplyTelemetry updates the dealer's live level and appends a history row
// in one transaction.
func (s *gormStore) ApplyTelemetry(ctx context.Context, dealerID, deviceID string, level float64, at time.Time) (*Applied, error) {
	var applied Applied
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dealer model.Dealer
		if err := tx.Where("id = ?", dealerID).First(&dealer).Error; err != nil {
			return notFound(err, "dealer %q", dealerID)
		}
		applied.PreviousLevel = dealer.TankLevel

		if err := tx.Model(&dealer).Updates(map[string]interface{}{
			"tank_level": level,
			"last_data":  at,
		}).Error; err != nil {
			return fmt.Errorf("failed to update dealer %q: %w", dealerID, err)
		}
		dealer.TankLevel = level
		dealer.LastData = &at

		history := model.TelemetryHistory{
			DeviceID:  deviceID,
			DealerID:  dealerID,
			TankLevel: level,
			Timestamp: at,
		}
		if err := tx.Create(&history).Error; err != nil {
			return fmt.Errorf("failed to append history for dealer %q: %w", dealerID, err)
		}

		applied.Dealer = dealer
		applied.History = history
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &applied, nil
}

func (s *gormStore) DealerHistory(ctx context.Context, q HistoryQuery) ([]model.TelemetryHistory, error) {
	var rows []model.TelemetryHistory
	err := s.db.WithContext(ctx).
		Where("dealer_id = ?", q.DealerID).
		Where(clause.Gte{Column: clause.Column{Name: "timestamp"}, Value: q.From}).
		Where(clause.Lte{Column: clause.Column{Name: "timestamp"}, Value: q.To}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history for dealer %q: %w", q.DealerID, err)
	}
	return rows, nil
}

// SaveSubscription creates or replaces a push subscription and its dealer set.
func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription, dealerIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(sub).Error; err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}

		var dealers []model.Dealer
		if len(dealerIDs) > 0 {
			if err := tx.Where("id IN ?", dealerIDs).Find(&dealers).Error; err != nil {
				return fmt.Errorf("failed to load subscribed dealers: %w", err)
			}
		}
		if err := tx.Model(sub).Association("Dealers").Replace(&dealers); err != nil {
			return fmt.Errorf("failed to replace subscribed dealers: %w", err)
		}
		return nil
	})
}

func (s *gormStore) FindSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).Preload("Dealers").First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, notFound(err, "subscription %q", endpoint)
	}
	return &sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := model.PushSubscription{Endpoint: endpoint}
		if err := tx.Model(&sub).Association("Dealers").Clear(); err != nil {
			return fmt.Errorf("failed to clear subscription dealers: %w", err)
		}
		if err := tx.Delete(&sub).Error; err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
		return nil
	})
}

func (s *gormStore) SubscriptionsForDealer(ctx context.Context, dealerID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN subscription_dealer_mapping sdm ON sdm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("sdm.dealer_id = ?", dealerID).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions for dealer %q: %w", dealerID, err)
	}
	return subs, nil
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf("failed to load "+format+": %w", append(args, err)...)
}
