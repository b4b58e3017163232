package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TypedDataDomain is the EIP-712 domain separator.
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField is one field of an EIP-712 struct type.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypedData is the full eth_signTypedData_v4 document. The primary type is
// serialized as "primary_type": that is the field name custodial signing APIs
// expect on their RPC surface.
type TypedData struct {
	Domain      TypedDataDomain             `json:"domain"`
	Types       map[string][]TypedDataField `json:"types"`
	PrimaryType string                      `json:"primary_type"`
	Message     map[string]interface{}      `json:"message"`
}

// Authorization is the EIP-3009 TransferWithAuthorization message. All
// numeric fields are decimal strings; the nonce is 0x-prefixed hex.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// transferWithAuthorizationTypes are the struct definitions for EIP-3009's
// transferWithAuthorization call.
func transferWithAuthorizationTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
}

// NewTransferTypedData assembles the signable typed-data document for an
// EIP-3009 authorization.
func NewTransferTypedData(auth Authorization, domain TypedDataDomain) TypedData {
	return TypedData{
		Domain:      domain,
		Types:       transferWithAuthorizationTypes(),
		PrimaryType: "TransferWithAuthorization",
		Message: map[string]interface{}{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}
}

// HashTypedData computes the EIP-712 digest for a typed-data document:
// keccak256("\x19\x01" + domainSeparator + structHash).
func HashTypedData(doc TypedData) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: doc.PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              doc.Domain.Name,
			Version:           doc.Domain.Version,
			ChainId:           (*math.HexOrDecimal256)(doc.Domain.ChainID),
			VerifyingContract: doc.Domain.VerifyingContract,
		},
		Message: normalizeMessage(doc.Message),
	}
	for typeName, fields := range doc.Types {
		converted := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			converted[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = converted
	}
	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	raw := []byte{0x19, 0x01}
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

// normalizeMessage converts the wire-friendly string values of the signable
// document into the types apitypes hashing expects.
func normalizeMessage(message map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(message))
	for key, raw := range message {
		value, ok := raw.(string)
		if !ok {
			out[key] = raw
			continue
		}
		switch key {
		case "from", "to":
			out[key] = common.HexToAddress(value).Hex()
		case "value", "validAfter", "validBefore":
			if n, ok := new(big.Int).SetString(value, 10); ok {
				out[key] = n
			} else {
				out[key] = value
			}
		case "nonce":
			out[key] = common.FromHex(value)
		default:
			out[key] = value
		}
	}
	return out
}
