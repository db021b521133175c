package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PaymentMethod names how a payout is delivered.
type PaymentMethod string

const (
	PaymentMethodBank   PaymentMethod = "bank"
	PaymentMethodUPI    PaymentMethod = "upi"
	PaymentMethodCrypto PaymentMethod = "crypto"
)

// ParsePaymentMethod validates a payment method name.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentMethodBank:
		return PaymentMethodBank, nil
	case PaymentMethodUPI:
		return PaymentMethodUPI, nil
	case PaymentMethodCrypto:
		return PaymentMethodCrypto, nil
	default:
		return "", fmt.Errorf("%w: unknown payment method %q", ErrInvalidPaymentDetails, raw)
	}
}

// String returns the method name.
func (method PaymentMethod) String() string {
	return string(method)
}

// PaymentDetails is one of BankDetails, UpiDetails, or CryptoDetails.
type PaymentDetails interface {
	Method() PaymentMethod
	Validate() error
	isPaymentDetails()
}

// BankDetails routes a payout to a bank account.
type BankDetails struct {
	AccountHolder string `json:"account_holder"`
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
	BankName      string `json:"bank_name"`
}

// UpiDetails routes a payout to a UPI handle.
type UpiDetails struct {
	UpiID string `json:"upi_id"`
}

// CryptoDetails routes a payout to a wallet address.
type CryptoDetails struct {
	Network string `json:"network"`
	Address string `json:"address"`
}

func (BankDetails) Method() PaymentMethod   { return PaymentMethodBank }
func (UpiDetails) Method() PaymentMethod    { return PaymentMethodUPI }
func (CryptoDetails) Method() PaymentMethod { return PaymentMethodCrypto }

func (BankDetails) isPaymentDetails()   {}
func (UpiDetails) isPaymentDetails()    {}
func (CryptoDetails) isPaymentDetails() {}

// Validate checks required bank fields.
func (details BankDetails) Validate() error {
	return requireDetailFields(map[string]string{
		"account_holder": details.AccountHolder,
		"account_number": details.AccountNumber,
		"ifsc":           details.IFSC,
	})
}

// Validate checks the UPI handle shape.
func (details UpiDetails) Validate() error {
	if err := requireDetailFields(map[string]string{"upi_id": details.UpiID}); err != nil {
		return err
	}
	if !strings.Contains(details.UpiID, "@") {
		return fmt.Errorf("%w: upi_id must contain @", ErrInvalidPaymentDetails)
	}
	return nil
}

// Validate checks required crypto fields.
func (details CryptoDetails) Validate() error {
	return requireDetailFields(map[string]string{
		"network": details.Network,
		"address": details.Address,
	})
}

func requireDetailFields(fields map[string]string) error {
	for name, value := range fields {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidPaymentDetails, name)
		}
		if len(trimmed) > maxPaymentDetailLength {
			return fmt.Errorf("%w: %s is too long", ErrInvalidPaymentDetails, name)
		}
	}
	return nil
}

// ParsePaymentDetails decodes the JSON payload stored for method.
func ParsePaymentDetails(method PaymentMethod, raw []byte) (PaymentDetails, error) {
	var details PaymentDetails
	switch method {
	case PaymentMethodBank:
		var bank BankDetails
		if err := json.Unmarshal(raw, &bank); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPaymentDetails, err)
		}
		details = bank
	case PaymentMethodUPI:
		var upi UpiDetails
		if err := json.Unmarshal(raw, &upi); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPaymentDetails, err)
		}
		details = upi
	case PaymentMethodCrypto:
		var crypto CryptoDetails
		if err := json.Unmarshal(raw, &crypto); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPaymentDetails, err)
		}
		details = crypto
	default:
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidPaymentDetails, method)
	}
	if err := details.Validate(); err != nil {
		return nil, err
	}
	return details, nil
}

// MarshalPaymentDetails encodes details without the method discriminator.
func MarshalPaymentDetails(details PaymentDetails) ([]byte, error) {
	if details == nil {
		return nil, fmt.Errorf("%w: missing details", ErrInvalidPaymentDetails)
	}
	switch typed := details.(type) {
	case BankDetails:
		return json.Marshal(typed)
	case UpiDetails:
		return json.Marshal(typed)
	case CryptoDetails:
		return json.Marshal(typed)
	default:
		return nil, fmt.Errorf("%w: unsupported details %T", ErrInvalidPaymentDetails, details)
	}
}
