package local

import (
	"context"
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
)

// SolanaSigner partially signs serialized Solana transactions with a local
// Ed25519 key.
type SolanaSigner struct {
	key solana.PrivateKey
}

// NewSolanaSigner creates a signer from a base58-encoded private key.
func NewSolanaSigner(base58Key string) (*SolanaSigner, error) {
	key, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &SolanaSigner{key: key}, nil
}

// PublicKey returns the signer's public key.
func (s *SolanaSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

// SignTransaction decodes a base64 transaction, places the key's signature at
// its account index, and re-encodes. Other signature slots are untouched, so
// a fee payer slot stays empty for the facilitator to fill.
func (s *SolanaSigner) SignTransaction(_ context.Context, _ string, txBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("invalid transaction encoding: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return "", fmt.Errorf("failed to decode transaction: %w", err)
	}

	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	signature, err := s.key.Sign(messageBytes)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(s.key.PublicKey())
	if err != nil {
		return "", fmt.Errorf("signer is not a required signer of this transaction: %w", err)
	}
	if len(tx.Signatures) <= int(accountIndex) {
		grown := make([]solana.Signature, accountIndex+1)
		copy(grown, tx.Signatures)
		tx.Signatures = grown
	}
	tx.Signatures[accountIndex] = signature

	signed, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize signed transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(signed), nil
}
