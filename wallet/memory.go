package wallet

import (
	"context"
	"sync"

	"github.com/moltworks/agentpay"
)

// MemoryStore is an in-memory wallet binding store. Thread-safe with mutex
// protection.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]map[string]agentpay.Wallet
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]map[string]agentpay.Wallet),
	}
}

func (s *MemoryStore) Put(_ context.Context, agentID, walletKey string, w agentpay.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wallets[agentID] == nil {
		s.wallets[agentID] = make(map[string]agentpay.Wallet)
	}
	s.wallets[agentID][walletKey] = w
	return nil
}

func (s *MemoryStore) Get(_ context.Context, agentID, walletKey string) (agentpay.Wallet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[agentID][walletKey]
	return w, ok, nil
}

func (s *MemoryStore) List(_ context.Context, agentID string) (map[string]agentpay.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]agentpay.Wallet, len(s.wallets[agentID]))
	for key, w := range s.wallets[agentID] {
		out[key] = w
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
