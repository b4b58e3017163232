package svm

import (
	"context"
	"encoding/base64"
	"math/big"
	"testing"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltworks/agentpay"
)

const devnetUSDC = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"

type fakeRPC struct {
	accounts     map[solana.PublicKey]bool
	balance      string
	sig          solana.Signature
	sendErr      error
	sentEncoded  string
	sentEncoding solana.EncodingType
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if f.accounts[account] {
		return &rpc.GetAccountInfoResult{Value: &rpc.Account{}}, nil
	}
	return nil, rpc.ErrNotFound
}

func (f *fakeRPC) GetTokenAccountBalance(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	return &rpc.GetTokenAccountBalanceResult{
		Value: &rpc.UiTokenAmount{Amount: f.balance},
	}, nil
}

func (f *fakeRPC) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{1, 2, 3}},
	}, nil
}

func (f *fakeRPC) SendEncodedTransactionWithOpts(_ context.Context, encodedTx string, opts rpc.TransactionOpts) (solana.Signature, error) {
	f.sentEncoded = encodedTx
	f.sentEncoding = opts.Encoding
	return f.sig, f.sendErr
}

// passthroughSigner returns the transaction unchanged, standing in for a
// custodial signer in assembly tests.
type passthroughSigner struct{ calls int }

func (s *passthroughSigner) SignTransaction(_ context.Context, _ string, txBase64 string) (string, error) {
	s.calls++
	return txBase64, nil
}

type testActors struct {
	payer    solana.PublicKey
	payTo    solana.PublicKey
	feePayer solana.PublicKey
	mint     solana.PublicKey
}

func newActors(t *testing.T) testActors {
	t.Helper()
	mint, err := solana.PublicKeyFromBase58(devnetUSDC)
	require.NoError(t, err)
	return testActors{
		payer:    solana.NewWallet().PublicKey(),
		payTo:    solana.NewWallet().PublicKey(),
		feePayer: solana.NewWallet().PublicKey(),
		mint:     mint,
	}
}

func solanaChain() agentpay.Chain {
	return agentpay.Chain{
		Key:      "solana-devnet",
		Network:  "solana-devnet",
		Decimals: 6,
		Family: agentpay.SolanaChain{
			Cluster:   "devnet",
			TokenMint: devnetUSDC,
			RPCURL:    "http://localhost:8899",
		},
	}
}

func newTestExecutor(fake *fakeRPC, signer TransactionSigner, opts ...Option) *Executor {
	opts = append(opts, WithDialer(func(string) RPCClient { return fake }))
	return NewExecutor(signer, opts...)
}

func requirement(actors testActors, withFeePayer bool) agentpay.PaymentRequirement {
	req := agentpay.PaymentRequirement{
		Scheme:  "exact",
		Network: "solana-devnet",
		Asset:   devnetUSDC,
		PayTo:   actors.payTo.String(),
	}
	if withFeePayer {
		req.Extra = map[string]interface{}{"feePayer": actors.feePayer.String()}
	}
	return req
}

func destATA(t *testing.T, actors testActors) solana.PublicKey {
	t.Helper()
	ata, _, err := solana.FindAssociatedTokenAddress(actors.payTo, actors.mint)
	require.NoError(t, err)
	return ata
}

func decodeTx(t *testing.T, payload map[string]interface{}) *solana.Transaction {
	t.Helper()
	encoded, ok := payload["transaction"].(string)
	require.True(t, ok)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	require.NoError(t, err)
	return tx
}

func TestBalanceMissingAccountIsZero(t *testing.T) {
	exec := newTestExecutor(&fakeRPC{accounts: map[solana.PublicKey]bool{}}, nil)
	balance, err := exec.Balance(context.Background(), solanaChain(), solana.NewWallet().PublicKey().String())
	require.NoError(t, err)
	assert.Zero(t, balance.Sign())
}

func TestBalanceReadsTokenAccount(t *testing.T) {
	actors := newActors(t)
	sourceATA, _, err := solana.FindAssociatedTokenAddress(actors.payer, actors.mint)
	require.NoError(t, err)

	exec := newTestExecutor(&fakeRPC{
		accounts: map[solana.PublicKey]bool{sourceATA: true},
		balance:  "2500000",
	}, nil)

	balance, err := exec.Balance(context.Background(), solanaChain(), actors.payer.String())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2_500_000), balance)
}

func TestBuildPaymentRequiresFeePayer(t *testing.T) {
	actors := newActors(t)
	exec := newTestExecutor(&fakeRPC{accounts: map[solana.PublicKey]bool{}}, &passthroughSigner{})

	_, err := exec.BuildPayment(context.Background(), solanaChain(),
		agentpay.Wallet{ID: "w", Address: actors.payer.String()},
		requirement(actors, false), big.NewInt(10_000))
	require.Error(t, err)
	assert.Equal(t, agentpay.ErrCodeMissingFeePayer, agentpay.ErrorCode(err))
}

func TestBuildPaymentRejectsPayerAsFeePayer(t *testing.T) {
	actors := newActors(t)
	exec := newTestExecutor(&fakeRPC{accounts: map[solana.PublicKey]bool{}}, &passthroughSigner{})

	req := requirement(actors, false)
	req.Extra = map[string]interface{}{"feePayer": actors.payer.String()}
	_, err := exec.BuildPayment(context.Background(), solanaChain(),
		agentpay.Wallet{ID: "w", Address: actors.payer.String()},
		req, big.NewInt(10_000))
	require.Error(t, err)
	assert.Equal(t, agentpay.ErrCodeMissingFeePayer, agentpay.ErrorCode(err))
}

func TestBuildPaymentTransactionShape(t *testing.T) {
	actors := newActors(t)
	signer := &passthroughSigner{}
	exec := newTestExecutor(&fakeRPC{
		accounts: map[solana.PublicKey]bool{destATA(t, actors): true},
	}, signer)

	payload, err := exec.BuildPayment(context.Background(), solanaChain(),
		agentpay.Wallet{ID: "w", Address: actors.payer.String()},
		requirement(actors, true), big.NewInt(10_000))
	require.NoError(t, err)
	assert.Equal(t, 1, signer.calls)

	tx := decodeTx(t, payload)
	require.Len(t, tx.Message.Instructions, 3)

	programs := make([]solana.PublicKey, 0, 3)
	for _, ix := range tx.Message.Instructions {
		program, err := tx.Message.Program(ix.ProgramIDIndex)
		require.NoError(t, err)
		programs = append(programs, program)
	}
	assert.Equal(t, solana.ComputeBudget, programs[0])
	assert.Equal(t, solana.ComputeBudget, programs[1])
	assert.Equal(t, solana.TokenProgramID, programs[2])

	// The facilitator pays fees: first account, never the payer wallet.
	assert.Equal(t, actors.feePayer, tx.Message.AccountKeys[0])
	assert.NotEqual(t, actors.payer, tx.Message.AccountKeys[0])
	assert.Len(t, tx.Signatures, int(tx.Message.Header.NumRequiredSignatures))
}

func TestBuildPaymentCreatesMissingDestination(t *testing.T) {
	actors := newActors(t)
	exec := newTestExecutor(&fakeRPC{accounts: map[solana.PublicKey]bool{}}, &passthroughSigner{})

	payload, err := exec.BuildPayment(context.Background(), solanaChain(),
		agentpay.Wallet{ID: "w", Address: actors.payer.String()},
		requirement(actors, true), big.NewInt(10_000))
	require.NoError(t, err)

	tx := decodeTx(t, payload)
	require.Len(t, tx.Message.Instructions, 4)

	program, err := tx.Message.Program(tx.Message.Instructions[2].ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, program)

	program, err = tx.Message.Program(tx.Message.Instructions[3].ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, solana.TokenProgramID, program)
}

func TestBroadcast(t *testing.T) {
	fake := &fakeRPC{sig: solana.Signature{9}}
	exec := newTestExecutor(fake, nil)

	raw := base64.StdEncoding.EncodeToString([]byte("signed-tx"))
	sig, err := exec.Broadcast(context.Background(), solanaChain(), raw)
	require.NoError(t, err)
	assert.Equal(t, solana.Signature{9}.String(), sig)
	assert.Equal(t, raw, fake.sentEncoded)
	assert.Equal(t, solana.EncodingBase64, fake.sentEncoding)
}

func TestBroadcastBase58(t *testing.T) {
	fake := &fakeRPC{sig: solana.Signature{9}}
	exec := newTestExecutor(fake, nil, WithBase58Broadcast())

	raw := base64.StdEncoding.EncodeToString([]byte("signed-tx"))
	_, err := exec.Broadcast(context.Background(), solanaChain(), raw)
	require.NoError(t, err)
	assert.Equal(t, solana.EncodingBase58, fake.sentEncoding)
	assert.NotEqual(t, raw, fake.sentEncoded)
}

func TestBroadcastRejectionIsVerbatim(t *testing.T) {
	fake := &fakeRPC{sendErr: assert.AnError}
	exec := newTestExecutor(fake, nil)

	_, err := exec.Broadcast(context.Background(), solanaChain(),
		base64.StdEncoding.EncodeToString([]byte("signed-tx")))
	require.Error(t, err)
	assert.Equal(t, agentpay.ErrCodeBroadcastFailed, agentpay.ErrorCode(err))
	assert.Contains(t, err.Error(), assert.AnError.Error())
}
