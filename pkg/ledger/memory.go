package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloaklabs/cloakpay/pkg/keys"
)

// MemoryStore is an in-memory Store for tests and ad-hoc CLI use.
type MemoryStore struct {
	mu         sync.RWMutex
	invoices   map[uuid.UUID]*Invoice
	batches    map[uuid.UUID]*BatchRecord
	recipients map[uuid.UUID][]RecipientRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices:   make(map[uuid.UUID]*Invoice),
		batches:    make(map[uuid.UUID]*BatchRecord),
		recipients: make(map[uuid.UUID][]RecipientRecord),
	}
}

func (s *MemoryStore) RecordPayment(ctx context.Context, invoice *Invoice, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *invoice
	stored.Status = StatusPaid
	stored.Signature = signature
	stored.PaidAt = time.Now().UTC()
	s.invoices[stored.ID] = &stored
	return nil
}

func (s *MemoryStore) RecordBatch(ctx context.Context, batch *BatchRecord, recipients []RecipientRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *batch
	s.batches[stored.ID] = &stored
	s.recipients[stored.ID] = append([]RecipientRecord(nil), recipients...)
	return nil
}

func (s *MemoryStore) Invoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, ok := s.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s not found", id)
	}
	copied := *invoice
	return &copied, nil
}

func (s *MemoryStore) ListInvoices(ctx context.Context, sender keys.Identity) ([]*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Invoice
	for _, invoice := range s.invoices {
		if invoice.Sender == sender {
			copied := *invoice
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Batch returns a stored batch and its recipient outcomes.
func (s *MemoryStore) Batch(ctx context.Context, id uuid.UUID) (*BatchRecord, []RecipientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[id]
	if !ok {
		return nil, nil, fmt.Errorf("batch %s not found", id)
	}
	copied := *batch
	return &copied, append([]RecipientRecord(nil), s.recipients[id]...), nil
}
