package agentpay

import (
	"errors"
	"fmt"
)

// PaymentError carries a machine-readable code alongside a human-readable
// message. Raw diagnostic text from chain RPCs or target endpoints goes in
// Details and is surfaced verbatim to callers; these are operator-debugging
// scenarios where opacity actively harms usability.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for the payment pipeline. All are attempt-fatal: nothing is
// retried automatically within a single invocation. A caller re-invoking the
// pipeline gets a fresh nonce/blockhash and a new ledger row.
const (
	ErrCodeMalformedChallenge      = "malformed_challenge"
	ErrCodeNoMatchingPaymentOption = "no_matching_payment_option"
	ErrCodeAmountExceedsLimit      = "amount_exceeds_limit"
	ErrCodeInsufficientFunds       = "insufficient_funds"
	ErrCodeMissingFeePayer         = "missing_fee_payer"
	ErrCodeSigningFailed           = "signing_failed"
	ErrCodeBroadcastFailed         = "broadcast_failed"
	ErrCodeSettlementFailed        = "settlement_failed"
	ErrCodeTimeout                 = "timeout"
	ErrCodeUnsupportedNetwork      = "unsupported_network"
)

// NewPaymentError creates a new payment error.
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrorCode extracts the payment error code from err, unwrapping as needed.
// Returns "" when err is not a PaymentError.
func ErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
