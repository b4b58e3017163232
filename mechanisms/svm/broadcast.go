package svm

import (
	"context"
	"encoding/base64"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"

	"github.com/moltworks/agentpay"
)

// Broadcast submits a fully signed transaction to the chain's RPC node and
// returns its signature. Used for self-broadcast transfers outside the
// facilitator flow; payment transactions are broadcast by the facilitator.
//
// The input is base64; base58 submission is selected with
// WithBase58Broadcast for providers without base64 support.
func (e *Executor) Broadcast(ctx context.Context, chain agentpay.Chain, signedTxBase64 string) (string, error) {
	fam, ok := chain.Family.(agentpay.SolanaChain)
	if !ok {
		return "", fmt.Errorf("chain %s is not a Solana chain", chain.Key)
	}
	client := e.client(fam.RPCURL)

	encoded := signedTxBase64
	encoding := solana.EncodingBase64
	if e.base58Broadcast {
		raw, err := base64.StdEncoding.DecodeString(signedTxBase64)
		if err != nil {
			return "", fmt.Errorf("invalid signed transaction: %w", err)
		}
		encoded = base58.Encode(raw)
		encoding = solana.EncodingBase58
	}

	sig, err := client.SendEncodedTransactionWithOpts(ctx, encoded, rpc.TransactionOpts{
		Encoding:            encoding,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		// RPC rejection reasons are passed through verbatim: they name the
		// failing instruction and are the only diagnostic the caller gets.
		return "", agentpay.NewPaymentError(agentpay.ErrCodeBroadcastFailed,
			err.Error(), nil)
	}
	return sig.String(), nil
}
