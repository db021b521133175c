package ledger

import (
	"errors"
	"testing"
)

func TestParsePaymentDetails(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		method  string
		payload string
		want    PaymentDetails
		wantErr error
	}{
		{
			name:    "bank",
			method:  "bank",
			payload: `{"account_holder":"Asha Rao","account_number":"001122","ifsc":"HDFC0001","bank_name":"HDFC"}`,
			want:    BankDetails{AccountHolder: "Asha Rao", AccountNumber: "001122", IFSC: "HDFC0001", BankName: "HDFC"},
		},
		{name: "upi", method: " UPI ", payload: `{"upi_id":"asha@okbank"}`, want: UpiDetails{UpiID: "asha@okbank"}},
		{name: "crypto", method: "crypto", payload: `{"network":"TRC20","address":"TXyz"}`, want: CryptoDetails{Network: "TRC20", Address: "TXyz"}},
		{name: "bank missing ifsc", method: "bank", payload: `{"account_holder":"A","account_number":"1"}`, wantErr: ErrInvalidPaymentDetails},
		{name: "upi without handle", method: "upi", payload: `{"upi_id":"asha"}`, wantErr: ErrInvalidPaymentDetails},
		{name: "crypto bad json", method: "crypto", payload: `{`, wantErr: ErrInvalidPaymentDetails},
		{name: "unknown method", method: "cheque", payload: `{}`, wantErr: ErrInvalidPaymentDetails},
	}
	for _, testCase := range testCases {
		method, err := ParsePaymentMethod(testCase.method)
		if err == nil {
			var details PaymentDetails
			details, err = ParsePaymentDetails(method, []byte(testCase.payload))
			if err == nil && details != testCase.want {
				test.Fatalf("%s: expected %+v, got %+v", testCase.name, testCase.want, details)
			}
		}
		if testCase.wantErr == nil && err != nil {
			test.Fatalf("%s: unexpected error: %v", testCase.name, err)
		}
		if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.wantErr, err)
		}
	}
}

func TestMarshalPaymentDetailsRoundTrip(test *testing.T) {
	test.Parallel()
	original := UpiDetails{UpiID: "seller@upi"}
	raw, err := MarshalPaymentDetails(original)
	if err != nil {
		test.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"upi_id":"seller@upi"}` {
		test.Fatalf("unexpected payload %s", raw)
	}
	decoded, err := ParsePaymentDetails(original.Method(), raw)
	if err != nil || decoded != original {
		test.Fatalf("expected %+v, got %+v, %v", original, decoded, err)
	}
	if _, err := MarshalPaymentDetails(nil); !errors.Is(err, ErrInvalidPaymentDetails) {
		test.Fatalf("expected invalid payment details for nil, got %v", err)
	}
}
