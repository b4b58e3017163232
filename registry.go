package agentpay

import "math/big"

// ChainFamily is the sealed set of chain-family variants a chain can belong
// to. Components dispatch on the concrete variant instead of string-matching
// chain keys, so adding a family doesn't touch selection logic elsewhere.
type ChainFamily interface {
	chainFamily()
}

// EvmChain describes an EVM network settling in an EIP-3009 capable token.
type EvmChain struct {
	ChainID       *big.Int
	TokenAddress  string
	RPCURL        string
	DomainName    string
	DomainVersion string
}

func (EvmChain) chainFamily() {}

// SolanaChain describes a Solana cluster settling in an SPL token mint.
type SolanaChain struct {
	Cluster   string
	TokenMint string
	RPCURL    string
}

func (SolanaChain) chainFamily() {}

// Chain binds a chain key to its wire network identifier, wallet key at the
// custodial provider, settlement-asset decimals, and family configuration.
type Chain struct {
	// Key is the registry lookup key (e.g. "base-sepolia").
	Key string
	// Network is the x402 wire network identifier (e.g. "base-sepolia",
	// "solana").
	Network string
	// WalletKey selects which custodial wallet pays on this chain.
	WalletKey string
	// Decimals of the settlement asset. USDC-family assets use 6.
	Decimals int
	Family   ChainFamily
}

// SettlementAsset returns the settlement asset identifier for the chain:
// token contract address on EVM, mint address on Solana.
func (c Chain) SettlementAsset() string {
	switch fam := c.Family.(type) {
	case EvmChain:
		return fam.TokenAddress
	case SolanaChain:
		return fam.TokenMint
	}
	return ""
}

// Registry is an immutable chain lookup table constructed once at startup and
// passed explicitly into each component.
type Registry struct {
	chains map[string]Chain
}

// NewRegistry builds a registry from the given chains, keyed by Chain.Key.
func NewRegistry(chains ...Chain) *Registry {
	m := make(map[string]Chain, len(chains))
	for _, c := range chains {
		m[c.Key] = c
	}
	return &Registry{chains: m}
}

// Chain looks up a chain by key.
func (r *Registry) Chain(key string) (Chain, bool) {
	c, ok := r.chains[key]
	return c, ok
}

// Keys returns all registered chain keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.chains))
	for k := range r.chains {
		keys = append(keys, k)
	}
	return keys
}

// DefaultRegistry returns the chains the dashboard settles on. USDC addresses
// and EIP-712 domain parameters match the deployed token contracts; the
// domain strings differ per deployment and must not be normalized.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Chain{
			Key:       "base",
			Network:   "base",
			WalletKey: "base",
			Decimals:  6,
			Family: EvmChain{
				ChainID:       big.NewInt(8453),
				TokenAddress:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				RPCURL:        "https://mainnet.base.org",
				DomainName:    "USD Coin",
				DomainVersion: "2",
			},
		},
		Chain{
			Key:       "base-sepolia",
			Network:   "base-sepolia",
			WalletKey: "base_sepolia",
			Decimals:  6,
			Family: EvmChain{
				ChainID:       big.NewInt(84532),
				TokenAddress:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
				RPCURL:        "https://sepolia.base.org",
				DomainName:    "USDC",
				DomainVersion: "2",
			},
		},
		Chain{
			Key:       "story-mainnet",
			Network:   "story",
			WalletKey: "story",
			Decimals:  6,
			Family: EvmChain{
				ChainID:       big.NewInt(1514),
				TokenAddress:  "0xF1815bd50389c46847f0Bda824eC8da914045D14",
				RPCURL:        "https://mainnet.storyrpc.io",
				DomainName:    "Bridged USDC (Stargate)",
				DomainVersion: "2",
			},
		},
		Chain{
			Key:       "solana-mainnet",
			Network:   "solana",
			WalletKey: "solana",
			Decimals:  6,
			Family: SolanaChain{
				Cluster:   "mainnet-beta",
				TokenMint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
				RPCURL:    "https://api.mainnet-beta.solana.com",
			},
		},
		Chain{
			Key:       "solana-devnet",
			Network:   "solana-devnet",
			WalletKey: "solana_devnet",
			Decimals:  6,
			Family: SolanaChain{
				Cluster:   "devnet",
				TokenMint: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
				RPCURL:    "https://api.devnet.solana.com",
			},
		},
	)
}
