package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/moltworks/agentpay"
)

// SettleResponse is the facilitator's settlement verdict.
type SettleResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash,omitempty"`
	Network string `json:"network,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Facilitator settles payment proofs on-chain.
type Facilitator interface {
	Settle(ctx context.Context, paymentHeader string, requirement agentpay.PaymentRequirement) (*SettleResponse, error)
}

// FacilitatorClient settles payments against an x402 facilitator service.
type FacilitatorClient struct {
	URL        string
	HTTPClient *http.Client
}

// NewFacilitatorClient creates a facilitator client for the given base URL.
func NewFacilitatorClient(url string) *FacilitatorClient {
	return &FacilitatorClient{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Settle forwards the payment header and requirement to the facilitator's
// settle endpoint.
func (c *FacilitatorClient) Settle(ctx context.Context, paymentHeader string, requirement agentpay.PaymentRequirement) (*SettleResponse, error) {
	body, err := json.Marshal(map[string]interface{}{
		"x402Version":         1,
		"paymentHeader":       paymentHeader,
		"paymentRequirements": requirement,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/settle", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create settle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send settle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to settle payment: %s", resp.Status)
	}
	var settleResp SettleResponse
	if err := json.NewDecoder(resp.Body).Decode(&settleResp); err != nil {
		return nil, fmt.Errorf("failed to decode settle response: %w", err)
	}
	return &settleResp, nil
}

// RequirePayment gates a route behind an x402 challenge: requests without a
// payment header get a 402 with the requirement, requests with one are
// settled through the facilitator before the handler runs. On success the
// settlement verdict travels back in the settlement response header.
//
// This is the seller side of the protocol, used to exercise the pipeline
// end to end without an external paid API.
func RequirePayment(requirement agentpay.PaymentRequirement, facilitator Facilitator, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		paymentHeader := c.GetHeader(agentpay.PaymentHeaderV1)
		if paymentHeader == "" {
			paymentHeader = c.GetHeader(agentpay.PaymentHeaderV2)
		}
		if paymentHeader == "" {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, agentpay.PaymentRequired{
				X402Version: 1,
				Error:       "payment required",
				Accepts:     []agentpay.PaymentRequirement{requirement},
			})
			return
		}

		if !validPaymentHeader(paymentHeader) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "malformed payment header",
			})
			return
		}

		settlement, err := facilitator.Settle(c.Request.Context(), paymentHeader, requirement)
		if err != nil {
			log.Warn("settlement failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusPaymentRequired, agentpay.PaymentRequired{
				X402Version: 1,
				Error:       err.Error(),
				Accepts:     []agentpay.PaymentRequirement{requirement},
			})
			return
		}
		if !settlement.Success {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, agentpay.PaymentRequired{
				X402Version: 1,
				Error:       settlement.Error,
				Accepts:     []agentpay.PaymentRequirement{requirement},
			})
			return
		}

		if encoded, err := json.Marshal(settlement); err == nil {
			c.Header(agentpay.SettlementResponseHeader, base64.StdEncoding.EncodeToString(encoded))
		}
		c.Next()
	}
}

// validPaymentHeader checks that the header is base64-encoded JSON carrying
// an x402 version, without interpreting the scheme payload.
func validPaymentHeader(header string) bool {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}
	var payload struct {
		X402Version int `json:"x402Version"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return false
	}
	return payload.X402Version > 0
}
