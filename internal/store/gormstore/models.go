package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the ledger_accounts table.
type Account struct {
	UserID               string          `gorm:"primaryKey"`
	WalletBalance        decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	PostpaidEnabled      bool            `gorm:"not null"`
	PostpaidCreditLimit  decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	PostpaidUsed         decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	PostpaidDueCycleDays int             `gorm:"not null"`
	AllowPayoutWithDues  bool            `gorm:"not null"`
	IsActive             bool            `gorm:"not null"`
	Version              int64           `gorm:"not null"`
	LastSequence         int64           `gorm:"not null"`
	CreatedAt            time.Time       `gorm:"not null"`
	UpdatedAt            time.Time       `gorm:"not null"`
}

func (Account) TableName() string { return "ledger_accounts" }

// LedgerTransaction mirrors the ledger_transactions table.
type LedgerTransaction struct {
	TransactionID   string          `gorm:"primaryKey"`
	UserID          string          `gorm:"not null;index:uniq_ledger_tx_sequence,unique,priority:1;index:uniq_ledger_tx_idem,unique,priority:1;index:idx_ledger_tx_order,priority:1"`
	Sequence        int64           `gorm:"not null;index:uniq_ledger_tx_sequence,unique,priority:2"`
	Type            string          `gorm:"not null"`
	Balance         string          `gorm:"not null"`
	Amount          decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	BalanceBefore   decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	BalanceAfter    decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	RelatedOrderID  *string         `gorm:"index:idx_ledger_tx_order,priority:2"`
	RelatedPayoutID *string
	IdempotencyKey  string         `gorm:"not null;index:uniq_ledger_tx_idem,unique,priority:2"`
	Source          string         `gorm:"not null;default:''"`
	Reason          string         `gorm:"not null;default:''"`
	AdminID         string         `gorm:"not null;default:''"`
	Metadata        datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt       time.Time      `gorm:"not null"`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }

// PayoutRequest mirrors the payout_requests table.
type PayoutRequest struct {
	PayoutID       string          `gorm:"primaryKey"`
	UserID         string          `gorm:"not null;index:idx_payout_user_status,priority:1;index:uniq_payout_idem,unique,priority:1"`
	Amount         decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Status         string          `gorm:"not null;index:idx_payout_user_status,priority:2"`
	PaymentMethod  string          `gorm:"not null"`
	PaymentDetails datatypes.JSON  `gorm:"type:jsonb;not null"`
	IdempotencyKey string          `gorm:"not null;index:uniq_payout_idem,unique,priority:2"`
	ReviewedBy     string          `gorm:"not null;default:''"`
	ReviewNote     string          `gorm:"not null;default:''"`
	TransactionID  *string
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (PayoutRequest) TableName() string { return "payout_requests" }

// Migrate creates or updates the ledger tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &LedgerTransaction{}, &PayoutRequest{})
}
