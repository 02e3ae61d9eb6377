package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloaklabs/cloakpay/pkg/keys"
)

func testIdentity(t *testing.T) keys.Identity {
	t.Helper()
	kp, err := keys.Generate()
	require.NoError(t, err)
	return kp.Identity()
}

func TestRecordPaymentMarksInvoicePaid(t *testing.T) {
	store := NewMemoryStore()
	sender := testIdentity(t)
	invoice := NewInvoice(sender, testIdentity(t), 100, "lunch")

	require.NoError(t, store.RecordPayment(context.Background(), invoice, "sig-abc"))

	got, err := store.Invoice(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	assert.Equal(t, "sig-abc", got.Signature)
	assert.False(t, got.PaidAt.IsZero())

	// The caller's copy is untouched.
	assert.Equal(t, StatusUnpaid, invoice.Status)
}

func TestInvoiceNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Invoice(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestListInvoicesFiltersBySenderNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	sender := testIdentity(t)
	other := testIdentity(t)

	first := NewInvoice(sender, testIdentity(t), 10, "")
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	second := NewInvoice(sender, testIdentity(t), 20, "")
	foreign := NewInvoice(other, testIdentity(t), 30, "")

	ctx := context.Background()
	require.NoError(t, store.RecordPayment(ctx, first, "sig-1"))
	require.NoError(t, store.RecordPayment(ctx, second, "sig-2"))
	require.NoError(t, store.RecordPayment(ctx, foreign, "sig-3"))

	list, err := store.ListInvoices(ctx, sender)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestRecordBatchRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	sender := testIdentity(t)
	id := uuid.New()

	record := &BatchRecord{
		ID:        id,
		Tag:       "payroll",
		Sender:    sender,
		Total:     30,
		Status:    "partial",
		CreatedAt: time.Now().UTC(),
	}
	recipients := []RecipientRecord{
		{BatchID: id, Recipient: testIdentity(t), Amount: 10, Status: "paid", Signature: "sig-1"},
		{BatchID: id, Recipient: testIdentity(t), Amount: 20, Status: "failed", Classification: "CONGESTION_TRANSIENT"},
	}

	ctx := context.Background()
	require.NoError(t, store.RecordBatch(ctx, record, recipients))

	gotBatch, gotRecipients, err := store.Batch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, record.Tag, gotBatch.Tag)
	assert.Equal(t, record.Status, gotBatch.Status)
	require.Len(t, gotRecipients, 2)
	assert.Equal(t, "sig-1", gotRecipients[0].Signature)
	assert.Empty(t, gotRecipients[1].Signature, "failed legs carry no signature")

	_, _, err = store.Batch(ctx, uuid.New())
	assert.Error(t, err)
}
