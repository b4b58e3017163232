package agentpay

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/moltworks/agentpay/ledger"
	"github.com/moltworks/agentpay/metrics"
)

// FamilyKind keys the registered ChainExecutor implementations.
type FamilyKind string

const (
	FamilyEVM FamilyKind = "evm"
	FamilySVM FamilyKind = "svm"
)

// FamilyOf resolves a chain's family kind from its variant.
func FamilyOf(chain Chain) (FamilyKind, error) {
	switch chain.Family.(type) {
	case EvmChain:
		return FamilyEVM, nil
	case SolanaChain:
		return FamilySVM, nil
	}
	return "", NewPaymentError(ErrCodeUnsupportedNetwork,
		fmt.Sprintf("chain %s has no registered family", chain.Key), nil)
}

// ChainExecutor is implemented per chain family. Balance returns the
// settlement-asset balance in atomic units; BuildPayment builds and signs the
// chain-specific payment proof and returns the scheme payload for the
// envelope (EVM: signature + authorization; Solana: partially signed
// transaction).
type ChainExecutor interface {
	Balance(ctx context.Context, chain Chain, owner string) (*big.Int, error)
	BuildPayment(ctx context.Context, chain Chain, wallet Wallet, req PaymentRequirement, amount *big.Int) (map[string]interface{}, error)
}

// ExecuteParams describes one payment pipeline invocation.
type ExecuteParams struct {
	AgentID   string
	ChainKey  string
	Wallet    Wallet
	TargetURL string
	Method    string
	Body      []byte
	// MaxAmount caps the accepted requirement, in human units of the
	// settlement asset. Defaults to "1.00".
	MaxAmount string
	// PaymentHeader overrides the version-default payment header name for
	// targets with non-standard expectations.
	PaymentHeader string
}

// Executor runs the payment pipeline: probe, select, verify balance, build
// and sign the authorization, encode the envelope, replay, reconcile the
// ledger. Each invocation is a single sequential pipeline; a fresh
// nonce/blockhash is generated per attempt and nothing is retried
// automatically.
type Executor struct {
	registry *Registry
	parser   *ChallengeParser
	store    ledger.Store
	families map[FamilyKind]ChainExecutor
	log      *zap.Logger
	recorder metrics.Recorder
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.log = log }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) ExecutorOption {
	return func(e *Executor) { e.recorder = rec }
}

// WithHTTPClient sets the HTTP client used for the probe and replay.
func WithHTTPClient(client *http.Client) ExecutorOption {
	return func(e *Executor) { e.parser = NewChallengeParser(client) }
}

// NewExecutor creates an executor over the given chain registry and ledger.
// Chain families are attached with RegisterFamily.
func NewExecutor(registry *Registry, store ledger.Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		parser:   NewChallengeParser(nil),
		store:    store,
		families: make(map[FamilyKind]ChainExecutor),
		log:      zap.NewNop(),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterFamily attaches a chain-family executor.
func (e *Executor) RegisterFamily(kind FamilyKind, exec ChainExecutor) {
	e.families[kind] = exec
}

// Execute runs the full pipeline against the target URL.
//
// Errors discovered before any signature is requested (challenge parse,
// amount cap, balance check) short-circuit with no ledger row created.
// Once the pending row exists, every definite outcome closes it: success on a
// 2xx replay, failed otherwise — a row is never left pending past pipeline
// completion.
func (e *Executor) Execute(ctx context.Context, p ExecuteParams) (*ExecuteResult, error) {
	start := time.Now()

	chain, ok := e.registry.Chain(p.ChainKey)
	if !ok {
		return nil, NewPaymentError(ErrCodeUnsupportedNetwork,
			fmt.Sprintf("unknown chain %q", p.ChainKey), nil)
	}
	kind, err := FamilyOf(chain)
	if err != nil {
		return nil, err
	}
	family, ok := e.families[kind]
	if !ok {
		return nil, NewPaymentError(ErrCodeUnsupportedNetwork,
			fmt.Sprintf("no executor registered for %s chains", kind), nil)
	}

	method := p.Method
	if method == "" {
		method = http.MethodGet
	}
	labels := map[string]string{"network": chain.Network}

	probe, err := e.parser.Probe(ctx, p.TargetURL, method, p.Body)
	if err != nil {
		e.recorder.IncCounter("probe_error", labels)
		return nil, err
	}
	if !probe.PaymentRequired {
		e.recorder.IncCounter("probe_free", labels)
		return &ExecuteResult{
			Status:          probe.Status,
			PaymentRequired: false,
			Data:            probe.Data,
		}, nil
	}

	req, err := SelectRequirement(probe.Challenge, chain)
	if err != nil {
		return nil, err
	}
	required, err := req.AtomicAmount()
	if err != nil {
		return nil, err
	}

	maxAmount := p.MaxAmount
	if maxAmount == "" {
		maxAmount = "1.00"
	}
	maxAtomic, err := HumanToAtomic(maxAmount, chain.Decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid max amount: %w", err)
	}
	if required.Cmp(maxAtomic) > 0 {
		return nil, NewPaymentError(ErrCodeAmountExceedsLimit,
			"payment amount exceeds max allowed",
			map[string]interface{}{
				"required":   required.String(),
				"maxAllowed": maxAtomic.String(),
			})
	}

	// Balance is checked before any signature is requested: no signing
	// attempt is made for a payment known to fail. A balance that cannot be
	// read counts as zero — an absent account and an unreachable RPC both
	// mean the payment cannot be shown funded.
	balance, err := family.Balance(ctx, chain, p.Wallet.Address)
	if err != nil {
		e.log.Warn("balance read failed, treating as zero",
			zap.String("chain", chain.Key),
			zap.String("owner", p.Wallet.Address),
			zap.Error(err))
		balance = big.NewInt(0)
	}
	if balance.Cmp(required) < 0 {
		return nil, NewPaymentError(ErrCodeInsufficientFunds,
			"insufficient settlement-asset balance",
			map[string]interface{}{
				"required": required.String(),
				"balance":  balance.String(),
			})
	}

	humanAmount := AtomicToHuman(required, chain.Decimals)

	record, err := e.store.Insert(ctx, ledger.Record{
		AgentID:          p.AgentID,
		WalletAddress:    p.Wallet.Address,
		RecipientAddress: req.PayTo,
		Amount:           humanAmount,
		Network:          chain.Network,
		TargetURL:        p.TargetURL,
		Status:           ledger.StatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger row: %w", err)
	}

	result, err := e.settle(ctx, family, chain, p, req, required, probe.Challenge.X402Version, method)
	if err != nil {
		// The row has a definite outcome; never leave it pending.
		if closeErr := e.store.Close(ctx, record.ID, ledger.StatusFailed, "", err.Error()); closeErr != nil {
			e.log.Error("failed to close ledger row",
				zap.String("record_id", record.ID), zap.Error(closeErr))
		}
		e.recorder.IncCounter("payment_failed", labels)
		return nil, err
	}

	txHash := DecodeSettlementHeader(result.SettlementHeader)
	status := ledger.StatusFailed
	errMessage := ""
	if result.PaymentExecuted {
		status = ledger.StatusSuccess
	} else {
		errMessage = settlementErrorMessage(result.Status, result.Data)
	}
	if closeErr := e.store.Close(ctx, record.ID, status, txHash, errMessage); closeErr != nil {
		e.log.Error("failed to close ledger row",
			zap.String("record_id", record.ID), zap.Error(closeErr))
	}

	result.PaymentAmount = humanAmount
	result.Recipient = req.PayTo
	result.Network = chain.Network
	result.TxHash = txHash
	result.RecordID = record.ID

	e.recorder.ObserveLatency("execute", time.Since(start), labels)
	if result.PaymentExecuted {
		e.recorder.IncCounter("payment_success", labels)
	} else {
		e.recorder.IncCounter("payment_failed", labels)
	}
	e.log.Info("payment pipeline completed",
		zap.String("agent_id", p.AgentID),
		zap.String("network", chain.Network),
		zap.String("amount", humanAmount),
		zap.Bool("executed", result.PaymentExecuted),
		zap.String("tx_hash", txHash))

	return result, nil
}

// settle builds and signs the payment, encodes the envelope, and replays the
// request. Called after the pending ledger row exists; its error return is
// the row's failure message.
func (e *Executor) settle(
	ctx context.Context,
	family ChainExecutor,
	chain Chain,
	p ExecuteParams,
	req PaymentRequirement,
	required *big.Int,
	version int,
	method string,
) (*ExecuteResult, error) {
	schemePayload, err := family.BuildPayment(ctx, chain, p.Wallet, req, required)
	if err != nil {
		return nil, err
	}

	envelope, err := BuildEnvelope(version, p.TargetURL, req, schemePayload, p.PaymentHeader)
	if err != nil {
		return nil, err
	}

	status, data, settlementHeader, err := e.parser.Replay(ctx, p.TargetURL, method, p.Body, envelope)
	if err != nil {
		return nil, err
	}

	return &ExecuteResult{
		Status:           status,
		PaymentRequired:  true,
		PaymentExecuted:  status >= 200 && status < 300,
		Data:             data,
		SettlementHeader: settlementHeader,
	}, nil
}

// settlementErrorMessage derives a human-readable failure message from the
// replay response body when possible, else from the status line.
func settlementErrorMessage(status int, body string) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}
