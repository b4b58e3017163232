package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store suitable for single-instance deployments
// and tests. Thread-safe with mutex protection.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// Insert stores a new record, assigning ID and CreatedAt when unset.
func (s *MemoryStore) Insert(_ context.Context, record Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.UpdatedAt = record.CreatedAt
	if record.Status == "" {
		record.Status = StatusPending
	}
	if _, exists := s.records[record.ID]; exists {
		return Record{}, fmt.Errorf("record %s already exists", record.ID)
	}
	s.records[record.ID] = record
	return record, nil
}

// Close transitions a record to a terminal status.
func (s *MemoryStore) Close(_ context.Context, id string, status Status, txHash, errMessage string) error {
	if status != StatusSuccess && status != StatusFailed {
		return fmt.Errorf("cannot close record with non-terminal status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	record.Status = status
	record.TxHash = txHash
	record.ErrorMessage = errMessage
	record.UpdatedAt = time.Now().UTC()
	s.records[id] = record
	return nil
}

// Get returns a record by id.
func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("record %s not found", id)
	}
	return record, nil
}

// List returns an agent's records, newest first.
func (s *MemoryStore) List(_ context.Context, agentID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, record := range s.records {
		if record.AgentID == agentID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
