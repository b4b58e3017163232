// Package privy is a client for Privy's wallet API: custodial key custody
// with server-side signing over REST. Wallets are created per chain type and
// addressed by wallet id; raw keys never leave the provider.
package privy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/moltworks/agentpay"
	"github.com/moltworks/agentpay/mechanisms/evm"
)

const defaultBaseURL = "https://api.privy.io"

// Config carries the API credentials.
type Config struct {
	AppID     string
	AppSecret string
	// BaseURL overrides the API host, for tests.
	BaseURL string
}

// Client talks to the wallet API. Implements evm.TypedDataSigner and
// svm.TransactionSigner.
type Client struct {
	config     Config
	httpClient *http.Client
	log        *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a wallet API client.
func NewClient(config Config, opts ...Option) (*Client, error) {
	if config.AppID == "" || config.AppSecret == "" {
		return nil, fmt.Errorf("app id and app secret are required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type rpcRequest struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
	CAIP2  string                 `json:"caip2,omitempty"`
}

type rpcResponse struct {
	Method string `json:"method"`
	Data   struct {
		Signature         string `json:"signature"`
		SignedTransaction string `json:"signed_transaction"`
		Hash              string `json:"hash"`
	} `json:"data"`
}

// SignTypedData signs an EIP-712 document with the wallet's key via
// eth_signTypedData_v4 and returns the 65-byte signature as hex.
func (c *Client) SignTypedData(ctx context.Context, walletID string, doc evm.TypedData) (string, error) {
	var resp rpcResponse
	err := c.walletRPC(ctx, walletID, rpcRequest{
		Method: "eth_signTypedData_v4",
		Params: map[string]interface{}{"typed_data": doc},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Data.Signature == "" {
		return "", fmt.Errorf("signing response carried no signature")
	}
	return resp.Data.Signature, nil
}

// SignTransaction adds the wallet's signature to a base64 Solana transaction
// and returns the re-encoded transaction. The provider signs only the
// wallet's slot; other required signatures stay empty.
func (c *Client) SignTransaction(ctx context.Context, walletID string, txBase64 string) (string, error) {
	var resp rpcResponse
	err := c.walletRPC(ctx, walletID, rpcRequest{
		Method: "signTransaction",
		Params: map[string]interface{}{
			"transaction": txBase64,
			"encoding":    "base64",
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Data.SignedTransaction == "" {
		return "", fmt.Errorf("signing response carried no transaction")
	}
	return resp.Data.SignedTransaction, nil
}

// SignAndSendTransaction signs a base64 Solana transaction and broadcasts it
// through the provider's RPC, returning the transaction hash. Alternative to
// the partial-sign-and-hand-off flow for transactions the wallet fully owns.
func (c *Client) SignAndSendTransaction(ctx context.Context, walletID, txBase64, caip2 string) (string, error) {
	var resp rpcResponse
	err := c.walletRPC(ctx, walletID, rpcRequest{
		Method: "signAndSendTransaction",
		CAIP2:  caip2,
		Params: map[string]interface{}{
			"transaction": txBase64,
			"encoding":    "base64",
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Data.Hash, nil
}

// SignMessage signs a plain message with an EVM wallet's key via
// personal_sign and returns the signature as hex.
func (c *Client) SignMessage(ctx context.Context, walletID, message string) (string, error) {
	var resp rpcResponse
	err := c.walletRPC(ctx, walletID, rpcRequest{
		Method: "personal_sign",
		Params: map[string]interface{}{
			"message":  message,
			"encoding": "utf-8",
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Data.Signature == "" {
		return "", fmt.Errorf("signing response carried no signature")
	}
	return resp.Data.Signature, nil
}

// SendNativeToken sends native currency from an EVM wallet via
// eth_sendTransaction and returns the transaction hash. Value is hex-encoded
// wei.
func (c *Client) SendNativeToken(ctx context.Context, walletID, caip2, to, valueHex string) (string, error) {
	var resp rpcResponse
	err := c.walletRPC(ctx, walletID, rpcRequest{
		Method: "eth_sendTransaction",
		CAIP2:  caip2,
		Params: map[string]interface{}{
			"transaction": map[string]interface{}{
				"to":    to,
				"value": valueHex,
			},
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Data.Hash, nil
}

// CreateWallet provisions a wallet for the given chain type ("ethereum" or
// "solana") and returns its id and address.
func (c *Client) CreateWallet(ctx context.Context, chainType string) (agentpay.Wallet, error) {
	body, err := json.Marshal(map[string]string{"chain_type": chainType})
	if err != nil {
		return agentpay.Wallet{}, err
	}
	data, err := c.do(ctx, http.MethodPost, "/v1/wallets", body)
	if err != nil {
		return agentpay.Wallet{}, err
	}
	var wallet agentpay.Wallet
	if err := json.Unmarshal(data, &wallet); err != nil {
		return agentpay.Wallet{}, fmt.Errorf("invalid wallet response: %w", err)
	}
	if wallet.ID == "" || wallet.Address == "" {
		return agentpay.Wallet{}, fmt.Errorf("wallet response missing id or address")
	}
	c.log.Info("created custodial wallet",
		zap.String("chain_type", chainType),
		zap.String("wallet_id", wallet.ID))
	return wallet, nil
}

func (c *Client) walletRPC(ctx context.Context, walletID string, req rpcRequest, out *rpcResponse) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data, err := c.do(ctx, http.MethodPost, "/v1/wallets/"+walletID+"/rpc", body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid rpc response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.config.AppID, c.config.AppSecret)
	req.Header.Set("privy-app-id", c.config.AppID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet api request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet api response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = apiErr.Message
		}
		if msg == "" {
			msg = string(data)
		}
		return nil, fmt.Errorf("wallet api returned %d: %s", resp.StatusCode, msg)
	}
	return data, nil
}
