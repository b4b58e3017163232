// Package ledger persists payment records. A row is opened as pending before
// the payment-carrying replay is sent and closed with the outcome afterward;
// the executor is the row's only writer.
package ledger

import (
	"context"
	"time"
)

// Status is the lifecycle state of a payment record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Record is a single payment attempt.
type Record struct {
	ID               string    `json:"id"`
	AgentID          string    `json:"agent_id"`
	WalletAddress    string    `json:"wallet_address"`
	RecipientAddress string    `json:"recipient_address"`
	// Amount is the human-readable decimal amount (6 fixed fractional
	// digits for USDC-family assets).
	Amount       string    `json:"amount"`
	Network      string    `json:"network"`
	TargetURL    string    `json:"target_url"`
	TxHash       string    `json:"tx_hash,omitempty"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the persistence interface for payment records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Insert stores a new record, assigning ID and CreatedAt when unset,
	// and returns the stored copy.
	Insert(ctx context.Context, record Record) (Record, error)

	// Close transitions a record to its terminal status. The txHash is
	// best-effort enrichment and may be empty; errMessage accompanies
	// failed outcomes.
	Close(ctx context.Context, id string, status Status, txHash, errMessage string) error

	// Get returns a record by id.
	Get(ctx context.Context, id string) (Record, error)

	// List returns records for an agent, newest first.
	List(ctx context.Context, agentID string) ([]Record, error)
}
