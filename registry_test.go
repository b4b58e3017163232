package agentpay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryChains(t *testing.T) {
	registry := DefaultRegistry()
	assert.Len(t, registry.Keys(), 5)

	base, ok := registry.Chain("base")
	require.True(t, ok)
	fam, ok := base.Family.(EvmChain)
	require.True(t, ok)
	assert.Equal(t, int64(8453), fam.ChainID.Int64())
	assert.Equal(t, "USD Coin", fam.DomainName)
	assert.Equal(t, 6, base.Decimals)
	assert.Equal(t, fam.TokenAddress, base.SettlementAsset())

	// Bridged deployments carry their own domain strings.
	story, ok := registry.Chain("story-mainnet")
	require.True(t, ok)
	assert.Equal(t, "story", story.Network)
	assert.Equal(t, "Bridged USDC (Stargate)", story.Family.(EvmChain).DomainName)

	sol, ok := registry.Chain("solana-mainnet")
	require.True(t, ok)
	solFam, ok := sol.Family.(SolanaChain)
	require.True(t, ok)
	assert.Equal(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", sol.SettlementAsset())
	assert.Equal(t, "mainnet-beta", solFam.Cluster)

	_, ok = registry.Chain("dogecoin")
	assert.False(t, ok)
}

func TestFamilyOf(t *testing.T) {
	registry := DefaultRegistry()

	base, _ := registry.Chain("base")
	kind, err := FamilyOf(base)
	require.NoError(t, err)
	assert.Equal(t, FamilyEVM, kind)

	sol, _ := registry.Chain("solana-devnet")
	kind, err = FamilyOf(sol)
	require.NoError(t, err)
	assert.Equal(t, FamilySVM, kind)

	_, err = FamilyOf(Chain{Key: "odd"})
	require.Error(t, err)
	assert.Equal(t, ErrCodeUnsupportedNetwork, ErrorCode(err))
}

func TestRequirementAmountNormalization(t *testing.T) {
	for _, req := range []PaymentRequirement{
		{Amount: "10000"},
		{MaxAmount: "10000"},
		{MaxAmountRequired: "10000"},
	} {
		amount, err := req.AtomicAmount()
		require.NoError(t, err)
		assert.Equal(t, "10000", amount.String())
	}

	// v2 "amount" wins when multiple variants are present.
	both := PaymentRequirement{Amount: "1", MaxAmountRequired: "2"}
	amount, err := both.AtomicAmount()
	require.NoError(t, err)
	assert.Equal(t, "1", amount.String())

	_, err = PaymentRequirement{}.AtomicAmount()
	require.Error(t, err)
	_, err = PaymentRequirement{Amount: "-5"}.AtomicAmount()
	require.Error(t, err)
	_, err = PaymentRequirement{Amount: "1.5"}.AtomicAmount()
	require.Error(t, err)
}

func TestRequirementDomainOverride(t *testing.T) {
	req := PaymentRequirement{}
	name, version := req.DomainOverride("USD Coin", "2")
	assert.Equal(t, "USD Coin", name)
	assert.Equal(t, "2", version)

	req.Extra = map[string]interface{}{"name": "USDC", "version": "1"}
	name, version = req.DomainOverride("USD Coin", "2")
	assert.Equal(t, "USDC", name)
	assert.Equal(t, "1", version)
}

func TestRequirementFeePayer(t *testing.T) {
	_, ok := PaymentRequirement{}.FeePayer()
	assert.False(t, ok)

	_, ok = PaymentRequirement{Extra: map[string]interface{}{"feePayer": ""}}.FeePayer()
	assert.False(t, ok)

	feePayer, ok := PaymentRequirement{Extra: map[string]interface{}{"feePayer": "Fee111"}}.FeePayer()
	assert.True(t, ok)
	assert.Equal(t, "Fee111", feePayer)
}
