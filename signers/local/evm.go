// Package local provides in-process signers holding raw keys, for
// self-custody deployments and tests. Production deployments use the
// custodial signer instead.
package local

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/moltworks/agentpay/mechanisms/evm"
)

// EvmSigner signs EIP-712 typed data with a local ECDSA key.
type EvmSigner struct {
	key *ecdsa.PrivateKey
}

// NewEvmSigner creates a signer from a hex-encoded private key.
func NewEvmSigner(hexKey string) (*EvmSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &EvmSigner{key: key}, nil
}

// Address returns the signer's EVM address.
func (s *EvmSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignTypedData hashes the document per EIP-712 and signs the digest.
// The recovery id is offset to the 27/28 convention contracts expect.
func (s *EvmSigner) SignTypedData(_ context.Context, _ string, doc evm.TypedData) (string, error) {
	digest, err := evm.HashTypedData(doc)
	if err != nil {
		return "", fmt.Errorf("failed to hash typed data: %w", err)
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign digest: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}
