// Package evm executes payments on EVM chains: ERC-20 balance reads over
// JSON-RPC and gasless EIP-3009 transfer authorizations signed as EIP-712
// typed data. The authorization is carried in the payment envelope and
// submitted on-chain by the facilitator, so the payer wallet never spends gas.
package evm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/moltworks/agentpay"
)

const (
	// balanceOfSelector is the 4-byte selector of balanceOf(address).
	balanceOfSelector = "70a08231"

	// validAfterBuffer backdates validAfter to tolerate clock skew between
	// this host and the settling chain.
	validAfterBuffer = 60 * time.Second

	// defaultValidity is used when the requirement carries no
	// maxTimeoutSeconds.
	defaultValidity = 300 * time.Second

	// maxValidity caps the authorization window regardless of what the
	// seller asks for.
	maxValidity = 10 * time.Minute
)

// TypedDataSigner signs an EIP-712 document with the wallet's key and returns
// the 65-byte signature as 0x-prefixed hex.
type TypedDataSigner interface {
	SignTypedData(ctx context.Context, walletID string, doc TypedData) (string, error)
}

// ContractCaller is the slice of the ethclient surface the executor needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dialer opens a JSON-RPC connection to an EVM node.
type Dialer func(ctx context.Context, rpcURL string) (ContractCaller, error)

func defaultDialer(ctx context.Context, rpcURL string) (ContractCaller, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

// Executor implements the EVM chain family: balanceOf reads and EIP-3009
// authorization building. Safe for concurrent use.
type Executor struct {
	signer TypedDataSigner
	dial   Dialer
	log    *zap.Logger

	mu      sync.Mutex
	clients map[string]ContractCaller
}

// Option configures an Executor.
type Option func(*Executor)

// WithDialer replaces the JSON-RPC dialer.
func WithDialer(dial Dialer) Option {
	return func(e *Executor) { e.dial = dial }
}

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// NewExecutor creates an EVM executor signing with the given signer.
func NewExecutor(signer TypedDataSigner, opts ...Option) *Executor {
	e := &Executor{
		signer:  signer,
		dial:    defaultDialer,
		log:     zap.NewNop(),
		clients: make(map[string]ContractCaller),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Balance reads the owner's ERC-20 token balance via eth_call, in atomic
// units.
func (e *Executor) Balance(ctx context.Context, chain agentpay.Chain, owner string) (*big.Int, error) {
	fam, ok := chain.Family.(agentpay.EvmChain)
	if !ok {
		return nil, fmt.Errorf("chain %s is not an EVM chain", chain.Key)
	}

	client, err := e.client(ctx, fam.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s rpc: %w", chain.Key, err)
	}

	token := common.HexToAddress(fam.TokenAddress)
	calldata, err := hex.DecodeString(balanceOfSelector)
	if err != nil {
		return nil, err
	}
	calldata = append(calldata, common.LeftPadBytes(common.HexToAddress(owner).Bytes(), 32)...)

	result, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: calldata,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed on %s: %w", chain.Key, err)
	}
	return new(big.Int).SetBytes(result), nil
}

// BuildPayment builds and signs an EIP-3009 TransferWithAuthorization for the
// requirement. A fresh random nonce is generated on every call; an expired or
// failed attempt is never resubmitted with the same nonce.
func (e *Executor) BuildPayment(
	ctx context.Context,
	chain agentpay.Chain,
	wallet agentpay.Wallet,
	req agentpay.PaymentRequirement,
	amount *big.Int,
) (map[string]interface{}, error) {
	fam, ok := chain.Family.(agentpay.EvmChain)
	if !ok {
		return nil, fmt.Errorf("chain %s is not an EVM chain", chain.Key)
	}

	nonce, err := createNonce()
	if err != nil {
		return nil, agentpay.NewPaymentError(agentpay.ErrCodeSigningFailed,
			"failed to generate authorization nonce",
			map[string]interface{}{"cause": err.Error()})
	}

	validAfter, validBefore := validityWindow(time.Now(), req.MaxTimeoutSeconds)
	auth := Authorization{
		From:        wallet.Address,
		To:          req.PayTo,
		Value:       amount.String(),
		ValidAfter:  strconv.FormatInt(validAfter, 10),
		ValidBefore: strconv.FormatInt(validBefore, 10),
		Nonce:       nonce,
	}

	name, version := req.DomainOverride(fam.DomainName, fam.DomainVersion)
	doc := NewTransferTypedData(auth, TypedDataDomain{
		Name:              name,
		Version:           version,
		ChainID:           fam.ChainID,
		VerifyingContract: fam.TokenAddress,
	})

	signature, err := e.signer.SignTypedData(ctx, wallet.ID, doc)
	if err != nil {
		return nil, agentpay.NewPaymentError(agentpay.ErrCodeSigningFailed,
			"typed-data signing failed",
			map[string]interface{}{"cause": err.Error()})
	}

	e.log.Debug("signed transfer authorization",
		zap.String("chain", chain.Key),
		zap.String("from", auth.From),
		zap.String("to", auth.To),
		zap.String("value", auth.Value))

	return map[string]interface{}{
		"signature":     signature,
		"authorization": auth,
	}, nil
}

func (e *Executor) client(ctx context.Context, rpcURL string) (ContractCaller, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if client, ok := e.clients[rpcURL]; ok {
		return client, nil
	}
	client, err := e.dial(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	e.clients[rpcURL] = client
	return client, nil
}

// createNonce returns 32 random bytes as 0x-prefixed hex.
func createNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(nonce), nil
}

// validityWindow computes the authorization validity bounds as unix seconds:
// validAfter is backdated by the skew buffer, validBefore honors the seller's
// timeout up to the hard cap.
func validityWindow(now time.Time, maxTimeoutSeconds int) (validAfter, validBefore int64) {
	validity := defaultValidity
	if maxTimeoutSeconds > 0 {
		validity = time.Duration(maxTimeoutSeconds) * time.Second
	}
	if validity > maxValidity {
		validity = maxValidity
	}
	return now.Add(-validAfterBuffer).Unix(), now.Add(validity).Unix()
}
