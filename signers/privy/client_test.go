package privy

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltworks/agentpay/mechanisms/evm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{
		AppID:     "app-1",
		AppSecret: "secret-1",
		BaseURL:   srv.URL,
	})
	require.NoError(t, err)
	return client
}

func TestSignTypedDataRequestShape(t *testing.T) {
	var gotPath, gotAppID string
	var gotBody map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAppID = r.Header.Get("privy-app-id")
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "app-1", user)
		assert.Equal(t, "secret-1", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"method": "eth_signTypedData_v4",
			"data":   map[string]string{"signature": "0xdeadbeef"},
		})
	})

	doc := evm.NewTransferTypedData(evm.Authorization{
		From:        "0x2222222222222222222222222222222222222222",
		To:          "0x1111111111111111111111111111111111111111",
		Value:       "10000",
		ValidAfter:  "100",
		ValidBefore: "200",
		Nonce:       "0x01",
	}, evm.TypedDataDomain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(8453),
		VerifyingContract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	})

	sig, err := client.SignTypedData(context.Background(), "wallet-1", doc)
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", sig)
	assert.Equal(t, "/v1/wallets/wallet-1/rpc", gotPath)
	assert.Equal(t, "app-1", gotAppID)
	assert.Equal(t, "eth_signTypedData_v4", gotBody["method"])

	params := gotBody["params"].(map[string]interface{})
	typedData := params["typed_data"].(map[string]interface{})
	// The primary type travels under the snake_case key the API expects.
	assert.Equal(t, "TransferWithAuthorization", typedData["primary_type"])
	domain := typedData["domain"].(map[string]interface{})
	assert.Equal(t, "USD Coin", domain["name"])
}

func TestSignTransaction(t *testing.T) {
	var gotBody map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"method": "signTransaction",
			"data":   map[string]string{"signed_transaction": "c2lnbmVk"},
		})
	})

	signed, err := client.SignTransaction(context.Background(), "wallet-2", "dW5zaWduZWQ=")
	require.NoError(t, err)
	assert.Equal(t, "c2lnbmVk", signed)

	params := gotBody["params"].(map[string]interface{})
	assert.Equal(t, "dW5zaWduZWQ=", params["transaction"])
	assert.Equal(t, "base64", params["encoding"])
}

func TestSignAndSendTransaction(t *testing.T) {
	var gotBody map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"hash": "5Sig"},
		})
	})

	hash, err := client.SignAndSendTransaction(context.Background(), "wallet-2", "dHg=", "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1")
	require.NoError(t, err)
	assert.Equal(t, "5Sig", hash)
	assert.Equal(t, "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1", gotBody["caip2"])
}

func TestSignMessage(t *testing.T) {
	var gotBody map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"method": "personal_sign",
			"data":   map[string]string{"signature": "0xsigned"},
		})
	})

	sig, err := client.SignMessage(context.Background(), "wallet-3", "hello")
	require.NoError(t, err)
	assert.Equal(t, "0xsigned", sig)

	assert.Equal(t, "personal_sign", gotBody["method"])
	params := gotBody["params"].(map[string]interface{})
	assert.Equal(t, "hello", params["message"])
	assert.Equal(t, "utf-8", params["encoding"])
}

func TestSendNativeToken(t *testing.T) {
	var gotBody map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"hash": "0xtx"},
		})
	})

	hash, err := client.SendNativeToken(context.Background(), "wallet-4", "eip155:8453",
		"0x1111111111111111111111111111111111111111", "0x38d7ea4c68000")
	require.NoError(t, err)
	assert.Equal(t, "0xtx", hash)

	assert.Equal(t, "eip155:8453", gotBody["caip2"])
	params := gotBody["params"].(map[string]interface{})
	tx := params["transaction"].(map[string]interface{})
	assert.Equal(t, "0x1111111111111111111111111111111111111111", tx["to"])
	assert.Equal(t, "0x38d7ea4c68000", tx["value"])
}

func TestCreateWallet(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/wallets", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ethereum", body["chain_type"])
		json.NewEncoder(w).Encode(map[string]string{
			"id":      "wallet-9",
			"address": "0x3333333333333333333333333333333333333333",
		})
	})

	wallet, err := client.CreateWallet(context.Background(), "ethereum")
	require.NoError(t, err)
	assert.Equal(t, "wallet-9", wallet.ID)
	assert.Equal(t, "0x3333333333333333333333333333333333333333", wallet.Address)
}

func TestAPIErrorSurfaced(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid app secret"})
	})

	_, err := client.CreateWallet(context.Background(), "ethereum")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid app secret")
	assert.Contains(t, err.Error(), "401")
}
