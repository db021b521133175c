package settings

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSettingsStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(test.TempDir(), "settings.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	store, err := NewStore(db, func() time.Time { return time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC) })
	if err != nil {
		test.Fatalf("store: %v", err)
	}
	return store
}

func TestPlatformConfigDefaults(test *testing.T) {
	test.Parallel()
	store := openSettingsStore(test)
	config, err := store.PlatformConfig(context.Background())
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if !config.PayoutEnabled || !config.MinimumPayoutAmount.IsZero() || config.BlockPayoutOnPendingOrderPayments {
		test.Fatalf("unexpected defaults %+v", config)
	}
}

func TestSetAndLoad(test *testing.T) {
	test.Parallel()
	store := openSettingsStore(test)
	ctx := context.Background()
	writes := []struct {
		key   string
		value string
	}{
		{key: PayoutEnabledKey, value: `false`},
		{key: MinimumPayoutAmountKey, value: `100`},
		{key: MinimumPayoutAmountKey, value: `"250.50"`},
		{key: BlockPayoutOnPendingOrderPaymentsKey, value: `true`},
	}
	for _, write := range writes {
		if err := store.Set(ctx, write.key, json.RawMessage(write.value)); err != nil {
			test.Fatalf("set %s=%s: %v", write.key, write.value, err)
		}
	}
	config, err := store.PlatformConfig(ctx)
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if config.PayoutEnabled {
		test.Fatalf("expected payouts disabled")
	}
	if config.MinimumPayoutAmount.String() != "250.50" {
		test.Fatalf("expected minimum 250.50, got %s", config.MinimumPayoutAmount.String())
	}
	if !config.BlockPayoutOnPendingOrderPayments {
		test.Fatalf("expected pending-order block")
	}
}

func TestSetRejectsInvalidValues(test *testing.T) {
	test.Parallel()
	store := openSettingsStore(test)
	ctx := context.Background()
	cases := []struct {
		name  string
		key   string
		value string
		is    error
	}{
		{name: "unknown key", key: "theme", value: `"dark"`, is: ErrUnknownKey},
		{name: "negative minimum", key: MinimumPayoutAmountKey, value: `"-1.00"`, is: ledger.ErrInvalidAmount},
		{name: "three decimals", key: MinimumPayoutAmountKey, value: `"1.005"`, is: ledger.ErrInvalidAmount},
		{name: "non boolean", key: PayoutEnabledKey, value: `"yes"`},
	}
	for _, testCase := range cases {
		err := store.Set(ctx, testCase.key, json.RawMessage(testCase.value))
		if err == nil {
			test.Fatalf("%s: expected error", testCase.name)
		}
		if testCase.is != nil && !errors.Is(err, testCase.is) {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.is, err)
		}
	}
}

func TestPlatformConfigRejectsMalformedStoredValues(test *testing.T) {
	test.Parallel()
	cases := []struct {
		key   string
		value string
	}{
		{key: PayoutEnabledKey, value: `"yes"`},
		{key: MinimumPayoutAmountKey, value: `"1e2000000"`},
		{key: BlockPayoutOnPendingOrderPaymentsKey, value: `{}`},
	}
	for _, testCase := range cases {
		store := openSettingsStore(test)
		row := Setting{Key: testCase.key, Value: datatypes.JSON(testCase.value), UpdatedAt: time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)}
		if err := store.db.Create(&row).Error; err != nil {
			test.Fatalf("%s: seed: %v", testCase.key, err)
		}
		_, err := store.PlatformConfig(context.Background())
		if !errors.Is(err, ledger.ErrInvalidPlatformConfig) || ledger.ReasonOf(err) != ledger.ReasonInvalidPlatformConfig {
			test.Fatalf("%s: expected invalid platform config, got %v", testCase.key, err)
		}
	}
}
