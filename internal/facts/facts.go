// Package facts computes the externally owned payout facts (KYC state, unpaid orders)
// from the platform's tables.
package facts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"gorm.io/gorm"
)

const (
	kycStatusApproved         = "approved"
	orderPaymentStatusPending = "pending"
)

// KYCVerification mirrors the kyc_verifications table owned by the onboarding service.
type KYCVerification struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Status    string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (KYCVerification) TableName() string { return "kyc_verifications" }

// Order mirrors the columns of the orders table that the payout guard reads.
type Order struct {
	ID            string    `gorm:"primaryKey"`
	SellerID      string    `gorm:"not null;index"`
	PaymentStatus string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// Migrate creates the tables for local development; production tables belong to
// their owning services.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&KYCVerification{}, &Order{})
}

// Provider reads payout facts through gorm.
type Provider struct {
	db *gorm.DB
}

// NewProvider returns a Provider over db.
func NewProvider(db *gorm.DB) (*Provider, error) {
	if db == nil {
		return nil, errors.New("facts: nil db")
	}
	return &Provider{db: db}, nil
}

// PayoutFacts reports whether the latest KYC verification is approved and whether the
// seller has any order with a pending payment.
func (provider *Provider) PayoutFacts(ctx context.Context, userID ledger.UserID) (ledger.PayoutFacts, error) {
	var latest []KYCVerification
	err := provider.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("updated_at DESC, id DESC").
		Limit(1).
		Find(&latest).Error
	if err != nil {
		return ledger.PayoutFacts{}, fmt.Errorf("%w: load kyc status: %w", ledger.ErrStorageUnavailable, err)
	}
	var unpaid int64
	err = provider.db.WithContext(ctx).
		Model(&Order{}).
		Where("seller_id = ? AND payment_status = ?", userID.String(), orderPaymentStatusPending).
		Count(&unpaid).Error
	if err != nil {
		return ledger.PayoutFacts{}, fmt.Errorf("%w: count unpaid orders: %w", ledger.ErrStorageUnavailable, err)
	}
	return ledger.PayoutFacts{
		KYCApproved:     len(latest) == 1 && latest[0].Status == kycStatusApproved,
		HasUnpaidOrders: unpaid > 0,
	}, nil
}
