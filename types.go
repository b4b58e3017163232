// Package agentpay implements the x402 payment execution pipeline used by the
// agent dashboard: 402-challenge parsing, balance verification, chain-specific
// payment authorization, envelope encoding, and settlement replay against a
// persisted payment ledger.
package agentpay

import (
	"fmt"
	"math/big"
	"strings"
)

// PaymentRequirement is a single payment option parsed from a 402 response.
// The amount fields cover the wire variants seen across x402 versions: v2
// servers send "amount", v1 servers send "maxAmountRequired" (and a few send
// "maxAmount"). Use AtomicAmount to normalize.
type PaymentRequirement struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount,omitempty"`
	MaxAmount         string                 `json:"maxAmount,omitempty"`
	MaxAmountRequired string                 `json:"maxAmountRequired,omitempty"`
	PayTo             string                 `json:"payTo"`
	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// AtomicAmount returns the required amount in the settlement asset's atomic
// units, normalized across the v1/v2 field variants.
func (r PaymentRequirement) AtomicAmount() (*big.Int, error) {
	raw := r.Amount
	if raw == "" {
		raw = r.MaxAmount
	}
	if raw == "" {
		raw = r.MaxAmountRequired
	}
	if raw == "" {
		return nil, NewPaymentError(ErrCodeMalformedChallenge, "no amount in payment option", nil)
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, NewPaymentError(ErrCodeMalformedChallenge, fmt.Sprintf("invalid amount: %s", raw), nil)
	}
	return value, nil
}

// FeePayer returns the facilitator fee-payer address from the requirement's
// extra field, if present. Solana requirements must carry one.
func (r PaymentRequirement) FeePayer() (string, bool) {
	if r.Extra == nil {
		return "", false
	}
	feePayer, ok := r.Extra["feePayer"].(string)
	return feePayer, ok && feePayer != ""
}

// DomainOverride returns the EIP-712 domain name and version for the
// requirement, preferring the server-supplied extra fields over the chain
// defaults. Different USDC deployments use different domain strings, so the
// override must be honored exactly or signatures fail contract-side.
func (r PaymentRequirement) DomainOverride(defaultName, defaultVersion string) (name, version string) {
	name, version = defaultName, defaultVersion
	if r.Extra == nil {
		return name, version
	}
	if n, ok := r.Extra["name"].(string); ok && n != "" {
		name = n
	}
	if v, ok := r.Extra["version"].(string); ok && v != "" {
		version = v
	}
	return name, version
}

// MatchesAsset reports whether the requirement settles in the given asset.
// EVM addresses compare case-insensitively; Solana mints are case-sensitive
// base58 and compare exactly.
func (r PaymentRequirement) MatchesAsset(asset string) bool {
	if strings.HasPrefix(r.Asset, "0x") || strings.HasPrefix(asset, "0x") {
		return strings.EqualFold(r.Asset, asset)
	}
	return r.Asset == asset
}

// PaymentRequired is the body of a 402 response.
type PaymentRequired struct {
	X402Version int                  `json:"x402Version"`
	Error       string               `json:"error,omitempty"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// ResourceInfo describes the paid resource in a v2 payment envelope.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// Wallet identifies a custodial wallet: the provider-side id used for signing
// requests and the on-chain address.
type Wallet struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// ProbeResult is the outcome of the unauthenticated probe against a target.
// PaymentRequired=false is a normal result, not an error: many endpoints are
// free and respond without a challenge.
type ProbeResult struct {
	PaymentRequired bool
	Status          int
	Data            string
	Challenge       *PaymentRequired
}

// ExecuteResult is returned to callers after a full pipeline run.
type ExecuteResult struct {
	Status           int    `json:"status"`
	PaymentRequired  bool   `json:"paymentRequired"`
	PaymentExecuted  bool   `json:"paymentExecuted"`
	PaymentAmount    string `json:"paymentAmount,omitempty"`
	Recipient        string `json:"recipient,omitempty"`
	Network          string `json:"network,omitempty"`
	Data             string `json:"data"`
	SettlementHeader string `json:"settlementHeader,omitempty"`
	TxHash           string `json:"txHash,omitempty"`
	RecordID         string `json:"recordId,omitempty"`
}
