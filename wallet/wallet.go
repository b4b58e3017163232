// Package wallet manages per-agent custodial wallets: one wallet per wallet
// key, provisioned lazily at the custody provider and reused across the EVM
// chains that share a key.
package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/moltworks/agentpay"
)

// Store persists the agent-to-wallet binding. Implementations must be safe
// for concurrent use.
type Store interface {
	Put(ctx context.Context, agentID, walletKey string, w agentpay.Wallet) error
	Get(ctx context.Context, agentID, walletKey string) (agentpay.Wallet, bool, error)
	List(ctx context.Context, agentID string) (map[string]agentpay.Wallet, error)
}

// Provisioner creates wallets at the custody provider.
type Provisioner interface {
	CreateWallet(ctx context.Context, chainType string) (agentpay.Wallet, error)
}

// NativeSender sends native currency from a custodial wallet. The privy
// client implements it.
type NativeSender interface {
	SendNativeToken(ctx context.Context, walletID, caip2, to, valueHex string) (string, error)
}

// Balance is one chain's settlement-asset position for an agent.
type Balance struct {
	ChainKey string `json:"chainKey"`
	Network  string `json:"network"`
	Address  string `json:"address"`
	// Amount is the human-readable balance; Atomic the raw integer value.
	Amount string `json:"amount"`
	Atomic string `json:"atomic"`
	// Error is set when this chain's read failed; other chains still report.
	Error string `json:"error,omitempty"`
}

// Service provisions wallets and reads balances across the registry's chains.
type Service struct {
	registry    *agentpay.Registry
	store       Store
	provisioner Provisioner
	families    map[agentpay.FamilyKind]agentpay.ChainExecutor
	sender      NativeSender
	log         *zap.Logger

	mu sync.Mutex
}

// NewService creates a wallet service.
func NewService(registry *agentpay.Registry, store Store, provisioner Provisioner, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		registry:    registry,
		store:       store,
		provisioner: provisioner,
		families:    make(map[agentpay.FamilyKind]agentpay.ChainExecutor),
		log:         log,
	}
}

// RegisterFamily attaches a chain-family executor for balance reads.
func (s *Service) RegisterFamily(kind agentpay.FamilyKind, exec agentpay.ChainExecutor) {
	s.families[kind] = exec
}

// RegisterNativeSender attaches the custody provider's native-transfer path.
func (s *Service) RegisterNativeSender(sender NativeSender) {
	s.sender = sender
}

// Ensure returns the agent's wallet for the chain, creating it at the custody
// provider on first use. Chains sharing a wallet key share the wallet.
func (s *Service) Ensure(ctx context.Context, agentID, chainKey string) (agentpay.Wallet, error) {
	chain, ok := s.registry.Chain(chainKey)
	if !ok {
		return agentpay.Wallet{}, fmt.Errorf("unknown chain %q", chainKey)
	}

	// Serialized so concurrent calls for the same agent don't provision
	// duplicate wallets.
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found, err := s.store.Get(ctx, agentID, chain.WalletKey)
	if err != nil {
		return agentpay.Wallet{}, err
	}
	if found {
		return existing, nil
	}

	chainType, err := chainType(chain)
	if err != nil {
		return agentpay.Wallet{}, err
	}
	created, err := s.provisioner.CreateWallet(ctx, chainType)
	if err != nil {
		return agentpay.Wallet{}, fmt.Errorf("failed to provision wallet for %s: %w", chainKey, err)
	}
	if err := s.store.Put(ctx, agentID, chain.WalletKey, created); err != nil {
		return agentpay.Wallet{}, err
	}

	s.log.Info("provisioned wallet",
		zap.String("agent_id", agentID),
		zap.String("wallet_key", chain.WalletKey),
		zap.String("address", created.Address))
	return created, nil
}

// EnsureAll provisions wallets for every registered chain and returns them
// keyed by chain key.
func (s *Service) EnsureAll(ctx context.Context, agentID string) (map[string]agentpay.Wallet, error) {
	out := make(map[string]agentpay.Wallet)
	for _, key := range sortedKeys(s.registry) {
		w, err := s.Ensure(ctx, agentID, key)
		if err != nil {
			return nil, err
		}
		out[key] = w
	}
	return out, nil
}

// ChainBalance reads the agent's settlement-asset balance on one chain.
func (s *Service) ChainBalance(ctx context.Context, agentID, chainKey string) (Balance, error) {
	chain, ok := s.registry.Chain(chainKey)
	if !ok {
		return Balance{}, fmt.Errorf("unknown chain %q", chainKey)
	}
	w, found, err := s.store.Get(ctx, agentID, chain.WalletKey)
	if err != nil {
		return Balance{}, err
	}
	if !found {
		return Balance{}, fmt.Errorf("agent %s has no wallet for %s", agentID, chainKey)
	}

	kind, err := agentpay.FamilyOf(chain)
	if err != nil {
		return Balance{}, err
	}
	family, ok := s.families[kind]
	if !ok {
		return Balance{}, fmt.Errorf("no executor registered for %s chains", kind)
	}

	atomic, err := family.Balance(ctx, chain, w.Address)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		ChainKey: chainKey,
		Network:  chain.Network,
		Address:  w.Address,
		Amount:   agentpay.AtomicToHuman(atomic, chain.Decimals),
		Atomic:   atomic.String(),
	}, nil
}

// Balances reads every chain's balance concurrently. A chain whose read
// fails reports its error in-slot; the rest of the chains still return.
func (s *Service) Balances(ctx context.Context, agentID string) ([]Balance, error) {
	keys := sortedKeys(s.registry)
	out := make([]Balance, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			balance, err := s.ChainBalance(ctx, agentID, key)
			if err != nil {
				chain, _ := s.registry.Chain(key)
				out[i] = Balance{ChainKey: key, Network: chain.Network, Error: err.Error()}
				return
			}
			out[i] = balance
		}(i, key)
	}
	wg.Wait()
	return out, nil
}

// NativeTransfer sends native currency from the agent's wallet on an EVM
// chain, outside the payment pipeline. Value is the amount in wei as a
// decimal string; the transaction hash is returned.
func (s *Service) NativeTransfer(ctx context.Context, agentID, chainKey, to, valueWei string) (string, error) {
	if s.sender == nil {
		return "", fmt.Errorf("no native sender configured")
	}
	chain, ok := s.registry.Chain(chainKey)
	if !ok {
		return "", fmt.Errorf("unknown chain %q", chainKey)
	}
	fam, ok := chain.Family.(agentpay.EvmChain)
	if !ok {
		return "", fmt.Errorf("native transfers require an EVM chain, got %s", chainKey)
	}
	w, found, err := s.store.Get(ctx, agentID, chain.WalletKey)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("agent %s has no wallet for %s", agentID, chainKey)
	}
	value, ok := new(big.Int).SetString(valueWei, 10)
	if !ok || value.Sign() < 0 {
		return "", fmt.Errorf("invalid wei value %q", valueWei)
	}

	caip2 := "eip155:" + fam.ChainID.String()
	hash, err := s.sender.SendNativeToken(ctx, w.ID, caip2, to, "0x"+value.Text(16))
	if err != nil {
		return "", fmt.Errorf("native transfer failed: %w", err)
	}
	s.log.Info("native transfer sent",
		zap.String("agent_id", agentID),
		zap.String("chain", chainKey),
		zap.String("to", to),
		zap.String("tx_hash", hash))
	return hash, nil
}

// Wallets lists the agent's provisioned wallets keyed by wallet key.
func (s *Service) Wallets(ctx context.Context, agentID string) (map[string]agentpay.Wallet, error) {
	return s.store.List(ctx, agentID)
}

func chainType(chain agentpay.Chain) (string, error) {
	switch chain.Family.(type) {
	case agentpay.EvmChain:
		return "ethereum", nil
	case agentpay.SolanaChain:
		return "solana", nil
	}
	return "", fmt.Errorf("chain %s has no custody chain type", chain.Key)
}

func sortedKeys(registry *agentpay.Registry) []string {
	keys := registry.Keys()
	sort.Strings(keys)
	return keys
}
