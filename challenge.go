package agentpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds each HTTP round trip against the target.
// Expiry is a retryable condition for the attempt as a whole, never retried
// in-flight with the same nonce.
const DefaultProbeTimeout = 30 * time.Second

// ChallengeParser issues the unauthenticated probe against a target and
// normalizes its 402 challenge. Probing is idempotent and has no side
// effects; it is also used for the settlement replay (same request, payment
// header attached).
type ChallengeParser struct {
	httpClient *http.Client
}

// NewChallengeParser creates a parser using the given HTTP client. A nil
// client gets a default with DefaultProbeTimeout.
func NewChallengeParser(client *http.Client) *ChallengeParser {
	if client == nil {
		client = &http.Client{Timeout: DefaultProbeTimeout}
	}
	return &ChallengeParser{httpClient: client}
}

// Probe sends the original request without payment. A non-402 response is a
// normal, non-error result: the endpoint is free (or failing for unrelated
// reasons) and no payment flow begins.
func (p *ChallengeParser) Probe(ctx context.Context, targetURL, method string, body []byte) (*ProbeResult, error) {
	resp, data, err := p.send(ctx, targetURL, method, body, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return &ProbeResult{
			PaymentRequired: false,
			Status:          resp.StatusCode,
			Data:            string(data),
		}, nil
	}

	var challenge PaymentRequired
	if err := json.Unmarshal(data, &challenge); err != nil {
		return nil, NewPaymentError(ErrCodeMalformedChallenge,
			"402 response did not contain valid x402 JSON",
			map[string]interface{}{"body": string(data)})
	}
	if len(challenge.Accepts) == 0 {
		return nil, NewPaymentError(ErrCodeMalformedChallenge,
			"no payment options in 402 response", nil)
	}

	return &ProbeResult{
		PaymentRequired: true,
		Status:          resp.StatusCode,
		Data:            string(data),
		Challenge:       &challenge,
	}, nil
}

// Replay re-sends the original request with the payment envelope attached and
// returns the response status, body, and the raw settlement-response header.
func (p *ChallengeParser) Replay(ctx context.Context, targetURL, method string, body []byte, envelope Envelope) (status int, data string, settlementHeader string, err error) {
	headers := map[string]string{envelope.HeaderName: envelope.Value}
	resp, raw, err := p.send(ctx, targetURL, method, body, headers)
	if err != nil {
		return 0, "", "", err
	}
	return resp.StatusCode, string(raw), resp.Header.Get(SettlementResponseHeader), nil
}

func (p *ChallengeParser) send(ctx context.Context, targetURL, method string, body []byte, headers map[string]string) (*http.Response, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, targetURL, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid target request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, nil, NewPaymentError(ErrCodeTimeout,
				fmt.Sprintf("request to %s timed out", targetURL),
				map[string]interface{}{"cause": err.Error()})
		}
		return nil, nil, fmt.Errorf("request to target failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read target response: %w", err)
	}
	return resp, data, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// SelectRequirement picks the accepts[] entry that settles in the chain's
// configured asset. Solana challenges sometimes omit the mint and identify
// the option by network instead, so both are accepted for that family.
func SelectRequirement(challenge *PaymentRequired, chain Chain) (PaymentRequirement, error) {
	asset := chain.SettlementAsset()
	for _, req := range challenge.Accepts {
		switch chain.Family.(type) {
		case EvmChain:
			if req.MatchesAsset(asset) {
				return req, nil
			}
		case SolanaChain:
			if req.MatchesAsset(asset) || req.Network == chain.Network {
				return req, nil
			}
		}
	}
	return PaymentRequirement{}, NewPaymentError(ErrCodeNoMatchingPaymentOption,
		fmt.Sprintf("no payment option settles in %s on %s", asset, chain.Key),
		map[string]interface{}{"accepts": challenge.Accepts})
}
