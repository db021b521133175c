// Package settings reads admin-managed platform flags from the platform_settings table.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Keys understood by the payout guard.
const (
	PayoutEnabledKey                     = "payout_enabled"
	MinimumPayoutAmountKey               = "minimum_payout_amount"
	BlockPayoutOnPendingOrderPaymentsKey = "block_payout_on_pending_order_payments"
)

// ErrUnknownKey is returned when writing a key the platform does not define.
var ErrUnknownKey = errors.New("settings: unknown key")

// Setting is one key/value row; values are JSON encoded.
type Setting struct {
	Key       string         `gorm:"type:varchar(255);primaryKey"`
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (Setting) TableName() string { return "platform_settings" }

// Migrate creates the platform_settings table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Setting{})
}

// Store loads PlatformConfig per request so admin changes apply immediately.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore returns a Store over db.
func NewStore(db *gorm.DB, now func() time.Time) (*Store, error) {
	if db == nil {
		return nil, errors.New("settings: nil db")
	}
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}, nil
}

// PlatformConfig reads all known keys, falling back to ledger.DefaultPlatformConfig for
// missing ones.
func (store *Store) PlatformConfig(ctx context.Context) (ledger.PlatformConfig, error) {
	var rows []Setting
	err := store.db.WithContext(ctx).
		Where("key IN ?", []string{PayoutEnabledKey, MinimumPayoutAmountKey, BlockPayoutOnPendingOrderPaymentsKey}).
		Find(&rows).Error
	if err != nil {
		return ledger.PlatformConfig{}, fmt.Errorf("%w: load platform settings: %w", ledger.ErrStorageUnavailable, err)
	}
	config := ledger.DefaultPlatformConfig()
	for _, row := range rows {
		if err := apply(&config, row.Key, row.Value); err != nil {
			return ledger.PlatformConfig{}, fmt.Errorf("%w: stored %w", ledger.ErrInvalidPlatformConfig, err)
		}
	}
	return config, nil
}

// Set validates and upserts a single key.
func (store *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	key = strings.TrimSpace(key)
	probe := ledger.DefaultPlatformConfig()
	if err := apply(&probe, key, value); err != nil {
		return err
	}
	row := Setting{Key: key, Value: datatypes.JSON(value), UpdatedAt: store.now().UTC()}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("%w: save platform setting: %w", ledger.ErrStorageUnavailable, err)
	}
	return nil
}

func apply(config *ledger.PlatformConfig, key string, raw json.RawMessage) error {
	switch key {
	case PayoutEnabledKey:
		var enabled bool
		if err := json.Unmarshal(raw, &enabled); err != nil {
			return fmt.Errorf("settings: %s must be a boolean: %w", key, err)
		}
		config.PayoutEnabled = enabled
	case BlockPayoutOnPendingOrderPaymentsKey:
		var block bool
		if err := json.Unmarshal(raw, &block); err != nil {
			return fmt.Errorf("settings: %s must be a boolean: %w", key, err)
		}
		config.BlockPayoutOnPendingOrderPayments = block
	case MinimumPayoutAmountKey:
		amount, err := decodeAmount(raw)
		if err != nil {
			return fmt.Errorf("settings: %s: %w", key, err)
		}
		config.MinimumPayoutAmount = amount
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}

// decodeAmount accepts "100.00" or 100 so admins can write either form.
func decodeAmount(raw json.RawMessage) (ledger.Amount, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		var number json.Number
		if numberErr := json.Unmarshal(raw, &number); numberErr != nil {
			return ledger.Amount{}, fmt.Errorf("%w: expected a decimal", ledger.ErrInvalidAmount)
		}
		text = number.String()
	}
	return ledger.ParseNonNegativeAmount(text)
}
