package agentpay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Header names. The payment header is a deployment detail, not a protocol
// constant: some sellers expect X-PAYMENT on both versions, others
// PAYMENT-SIGNATURE, so the executor lets callers override per target.
const (
	PaymentHeaderV1          = "X-PAYMENT"
	PaymentHeaderV2          = "PAYMENT-SIGNATURE"
	SettlementResponseHeader = "X-PAYMENT-RESPONSE"
)

// Envelope is the encoded payment proof ready to attach to the replay.
type Envelope struct {
	Version    int
	HeaderName string
	Value      string
}

// BuildEnvelope serializes a signed scheme payload (EVM: signature plus
// authorization; Solana: partially signed transaction) into the x402 wire
// payload for the challenge's protocol version, base64-encoded.
//
// headerName overrides the version default when non-empty.
func BuildEnvelope(version int, targetURL string, req PaymentRequirement, schemePayload map[string]interface{}, headerName string) (Envelope, error) {
	if version < 2 {
		version = 1
	} else {
		version = 2
	}

	scheme := req.Scheme
	if scheme == "" {
		scheme = "exact"
	}

	var payload map[string]interface{}
	switch version {
	case 2:
		amount, err := req.AtomicAmount()
		if err != nil {
			return Envelope{}, err
		}
		description := req.Description
		if description == "" {
			description = "x402 payment"
		}
		mimeType := req.MimeType
		if mimeType == "" {
			mimeType = "application/json"
		}
		maxTimeout := req.MaxTimeoutSeconds
		if maxTimeout == 0 {
			maxTimeout = 300
		}
		extra := req.Extra
		if extra == nil {
			extra = map[string]interface{}{}
		}
		payload = map[string]interface{}{
			"x402Version": 2,
			"resource": ResourceInfo{
				URL:         targetURL,
				Description: description,
				MimeType:    mimeType,
			},
			"accepted": map[string]interface{}{
				"scheme":            scheme,
				"network":           req.Network,
				"amount":            amount.String(),
				"asset":             req.Asset,
				"payTo":             req.PayTo,
				"maxTimeoutSeconds": maxTimeout,
				"extra":             extra,
			},
			"payload": schemePayload,
		}
	default:
		payload = map[string]interface{}{
			"x402Version": 1,
			"scheme":      scheme,
			"network":     req.Network,
			"payload":     schemePayload,
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal payment payload: %w", err)
	}

	if headerName == "" {
		if version == 2 {
			headerName = PaymentHeaderV2
		} else {
			headerName = PaymentHeaderV1
		}
	}

	return Envelope{
		Version:    version,
		HeaderName: headerName,
		Value:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

// DecodeSettlementHeader extracts a transaction hash from a settlement
// response header: base64 JSON with the hash under one of several key names
// depending on the facilitator. Hash extraction is best-effort enrichment;
// settlement itself is judged by HTTP status, so decode failure returns "".
func DecodeSettlementHeader(header string) string {
	if header == "" {
		return ""
	}
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return ""
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return ""
	}
	for _, key := range []string{"txHash", "transactionHash", "transaction", "signature"} {
		if hash, ok := decoded[key].(string); ok && hash != "" {
			return hash
		}
	}
	return ""
}
