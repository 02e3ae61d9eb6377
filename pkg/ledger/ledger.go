// Package ledger holds the durable invoice and batch records the engine
// reconciles settled payments into.
//
// Records are written only at the moment a settlement succeeds; the engine
// never reads them back to decide transfer logic.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cloaklabs/cloakpay/pkg/keys"
)

// Invoice statuses.
const (
	StatusUnpaid    = "unpaid"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

// Invoice is one payable record between two identities.
type Invoice struct {
	ID        uuid.UUID
	Sender    keys.Identity
	Recipient keys.Identity
	Amount    uint64 // base units
	Status    string
	Signature string // settlement signature, set when paid
	Memo      string
	CreatedAt time.Time
	PaidAt    time.Time
}

// NewInvoice creates an unpaid invoice.
func NewInvoice(sender, recipient keys.Identity, amount uint64, memo string) *Invoice {
	return &Invoice{
		ID:        uuid.New(),
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Status:    StatusUnpaid,
		Memo:      memo,
		CreatedAt: time.Now().UTC(),
	}
}

// BatchRecord is the durable header for one executed batch.
type BatchRecord struct {
	ID        uuid.UUID
	Tag       string // optional grouping tag
	Sender    keys.Identity
	Total     uint64
	Status    string // completed | partial | failed
	CreatedAt time.Time
}

// RecipientRecord is the durable per-recipient outcome of a batch.
type RecipientRecord struct {
	BatchID        uuid.UUID
	Recipient      keys.Identity
	Amount         uint64
	Status         string // paid | failed
	Signature      string
	Classification string // failure classification, empty when paid
}

// Store persists payment outcomes.
type Store interface {
	// RecordPayment marks an invoice paid with its settlement signature.
	RecordPayment(ctx context.Context, invoice *Invoice, signature string) error
	// RecordBatch stores a batch header and its per-recipient outcomes.
	RecordBatch(ctx context.Context, batch *BatchRecord, recipients []RecipientRecord) error
	// Invoice fetches one invoice by ID.
	Invoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// ListInvoices returns the sender's invoices, newest first.
	ListInvoices(ctx context.Context, sender keys.Identity) ([]*Invoice, error)
}
