// Package svm executes payments on Solana: SPL token balance reads, payment
// transaction assembly with the facilitator as fee payer, and partial signing
// by the payer wallet. The payer contributes a signature only; fees and
// broadcast belong to the facilitator.
package svm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sync"

	solana "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/moltworks/agentpay"
)

const (
	// transferComputeUnits covers compute limit + price + TransferChecked.
	transferComputeUnits uint32 = 6500

	// transferWithCreateComputeUnits additionally covers ATA creation.
	transferWithCreateComputeUnits uint32 = 30000

	// defaultComputeUnitPrice is the priority fee in micro-lamports per
	// compute unit.
	defaultComputeUnitPrice uint64 = 1000
)

// RPCClient is the slice of the Solana RPC surface the executor needs.
// *rpc.Client satisfies it.
type RPCClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendEncodedTransactionWithOpts(ctx context.Context, encodedTx string, opts rpc.TransactionOpts) (solana.Signature, error)
}

// TransactionSigner adds the payer wallet's signature to a serialized
// transaction. Input and output are base64; the returned transaction carries
// the payer's signature with the fee payer's slot left empty.
type TransactionSigner interface {
	SignTransaction(ctx context.Context, walletID string, txBase64 string) (string, error)
}

// Dialer opens an RPC connection to a Solana node.
type Dialer func(rpcURL string) RPCClient

func defaultDialer(rpcURL string) RPCClient {
	return rpc.New(rpcURL)
}

// Executor implements the Solana chain family. Safe for concurrent use.
type Executor struct {
	signer           TransactionSigner
	dial             Dialer
	log              *zap.Logger
	computeUnitPrice uint64
	base58Broadcast  bool

	mu      sync.Mutex
	clients map[string]RPCClient
}

// Option configures an Executor.
type Option func(*Executor)

// WithDialer replaces the RPC dialer.
func WithDialer(dial Dialer) Option {
	return func(e *Executor) { e.dial = dial }
}

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// WithComputeUnitPrice sets the priority fee in micro-lamports.
func WithComputeUnitPrice(price uint64) Option {
	return func(e *Executor) { e.computeUnitPrice = price }
}

// WithBase58Broadcast sends transactions base58-encoded, for RPC providers
// that predate base64 support.
func WithBase58Broadcast() Option {
	return func(e *Executor) { e.base58Broadcast = true }
}

// NewExecutor creates a Solana executor signing with the given signer.
func NewExecutor(signer TransactionSigner, opts ...Option) *Executor {
	e := &Executor{
		signer:           signer,
		dial:             defaultDialer,
		log:              zap.NewNop(),
		computeUnitPrice: defaultComputeUnitPrice,
		clients:          make(map[string]RPCClient),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Balance reads the owner's SPL token balance from their associated token
// account, in atomic units. A missing ATA is a zero balance, not an error.
func (e *Executor) Balance(ctx context.Context, chain agentpay.Chain, owner string) (*big.Int, error) {
	fam, ok := chain.Family.(agentpay.SolanaChain)
	if !ok {
		return nil, fmt.Errorf("chain %s is not a Solana chain", chain.Key)
	}
	client := e.client(fam.RPCURL)

	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("invalid owner address: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(fam.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint: %w", err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ownerKey, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive token account: %w", err)
	}

	info, err := client.GetAccountInfo(ctx, ata)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("failed to read token account on %s: %w", chain.Key, err)
	}
	if info == nil || info.Value == nil {
		return big.NewInt(0), nil
	}

	balance, err := client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to read token balance on %s: %w", chain.Key, err)
	}
	if balance == nil || balance.Value == nil {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(balance.Value.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance amount: %s", balance.Value.Amount)
	}
	return amount, nil
}

// BuildPayment assembles and partially signs the payment transaction. The
// requirement must name a facilitator fee payer distinct from the payer
// wallet; the destination token account is created in the same transaction
// when it does not exist yet, at the fee payer's expense.
func (e *Executor) BuildPayment(
	ctx context.Context,
	chain agentpay.Chain,
	wallet agentpay.Wallet,
	req agentpay.PaymentRequirement,
	amount *big.Int,
) (map[string]interface{}, error) {
	fam, ok := chain.Family.(agentpay.SolanaChain)
	if !ok {
		return nil, fmt.Errorf("chain %s is not a Solana chain", chain.Key)
	}
	client := e.client(fam.RPCURL)

	feePayerAddr, ok := req.FeePayer()
	if !ok {
		return nil, agentpay.NewPaymentError(agentpay.ErrCodeMissingFeePayer,
			"payment option has no facilitator fee payer", nil)
	}
	if feePayerAddr == wallet.Address {
		return nil, agentpay.NewPaymentError(agentpay.ErrCodeMissingFeePayer,
			"facilitator fee payer must differ from the payer wallet",
			map[string]interface{}{"feePayer": feePayerAddr})
	}

	payer, err := solana.PublicKeyFromBase58(wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid payer address: %w", err)
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return nil, agentpay.NewPaymentError(agentpay.ErrCodeMalformedChallenge,
			fmt.Sprintf("invalid fee payer address: %s", feePayerAddr), nil)
	}
	payTo, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return nil, agentpay.NewPaymentError(agentpay.ErrCodeMalformedChallenge,
			fmt.Sprintf("invalid payTo address: %s", req.PayTo), nil)
	}
	mint, err := solana.PublicKeyFromBase58(fam.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint: %w", err)
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(payer, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive source token account: %w", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive destination token account: %w", err)
	}

	needsCreate, err := e.accountMissing(ctx, client, destATA)
	if err != nil {
		return nil, fmt.Errorf("failed to probe destination token account: %w", err)
	}

	computeUnits := transferComputeUnits
	if needsCreate {
		computeUnits = transferWithCreateComputeUnits
	}
	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(computeUnits).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}
	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(e.computeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute price instruction: %w", err)
	}
	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount.Uint64()).
		SetDecimals(uint8(chain.Decimals)).
		SetSourceAccount(sourceATA).
		SetMintAccount(mint).
		SetDestinationAccount(destATA).
		SetOwnerAccount(payer).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer instruction: %w", err)
	}

	blockhash, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	builder := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice)
	if needsCreate {
		createIx, err := associatedtokenaccount.NewCreateInstruction(feePayer, payTo, mint).
			ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("failed to build token account creation instruction: %w", err)
		}
		builder = builder.AddInstruction(createIx)
	}
	tx, err := builder.
		AddInstruction(transferIx).
		SetRecentBlockHash(blockhash.Value.Blockhash).
		SetFeePayer(feePayer).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	// Presize the signature slots so the serialized transaction carries the
	// fee payer's empty slot alongside the payer's signature.
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	unsigned := base64.StdEncoding.EncodeToString(raw)

	signed, err := e.signer.SignTransaction(ctx, wallet.ID, unsigned)
	if err != nil {
		return nil, agentpay.NewPaymentError(agentpay.ErrCodeSigningFailed,
			"transaction signing failed",
			map[string]interface{}{"cause": err.Error()})
	}

	e.log.Debug("built partially signed payment transaction",
		zap.String("chain", chain.Key),
		zap.String("payer", wallet.Address),
		zap.String("fee_payer", feePayerAddr),
		zap.Bool("creates_token_account", needsCreate))

	return map[string]interface{}{
		"transaction": signed,
	}, nil
}

func (e *Executor) accountMissing(ctx context.Context, client RPCClient, account solana.PublicKey) (bool, error) {
	info, err := client.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return info == nil || info.Value == nil, nil
}

func (e *Executor) client(rpcURL string) RPCClient {
	e.mu.Lock()
	defer e.mu.Unlock()
	if client, ok := e.clients[rpcURL]; ok {
		return client
	}
	client := e.dial(rpcURL)
	e.clients[rpcURL] = client
	return client
}
