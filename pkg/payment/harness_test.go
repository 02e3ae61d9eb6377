package payment

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloaklabs/cloakpay/pkg/account"
	"github.com/cloaklabs/cloakpay/pkg/keys"
	"github.com/cloaklabs/cloakpay/pkg/ledger"
	"github.com/cloaklabs/cloakpay/pkg/rpc"
)

// harness fakes the engine and indexer for one owner. Hide moves value from
// the fake public balance into a new fake private account, so top-up
// re-reads observe the settled state. Transfer outcomes are scripted:
// transferErrs is consumed one entry per call, nil meaning success; an
// exhausted script succeeds.
type harness struct {
	owner   keys.Identity
	private []account.ValueAccount
	public  uint64

	hides         []uint64
	transferCalls []transferCall
	transferErrs  []error
	nextSig       int
}

type transferCall struct {
	dest   keys.Identity
	amount uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	kp, err := keys.Generate()
	require.NoError(t, err)
	return &harness{owner: kp.Identity()}
}

func (h *harness) addPrivate(amounts ...uint64) {
	for _, a := range amounts {
		h.private = append(h.private, account.ValueAccount{
			Handle: fmt.Sprintf("h%d", len(h.private)),
			Amount: a,
			Owner:  h.owner,
		})
	}
}

func (h *harness) Owner() keys.Identity { return h.owner }

func (h *harness) GetCompressedAccountsByOwner(ctx context.Context, owner keys.Identity) ([]account.ValueAccount, error) {
	return append([]account.ValueAccount(nil), h.private...), nil
}

func (h *harness) GetPublicBalance(ctx context.Context, owner keys.Identity) (uint64, error) {
	return h.public, nil
}

func (h *harness) Hide(ctx context.Context, amount uint64) (rpc.Signature, error) {
	h.hides = append(h.hides, amount)
	h.public -= amount
	h.addPrivate(amount)
	return h.sig(), nil
}

func (h *harness) Transfer(ctx context.Context, dest keys.Identity, amount uint64) (rpc.Signature, error) {
	h.transferCalls = append(h.transferCalls, transferCall{dest: dest, amount: amount})
	if len(h.transferErrs) > 0 {
		err := h.transferErrs[0]
		h.transferErrs = h.transferErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return h.sig(), nil
}

func (h *harness) sig() rpc.Signature {
	h.nextSig++
	return rpc.Signature(fmt.Sprintf("sig-%d", h.nextSig))
}

// fakeRecorder captures reconciliation writes.
type fakeRecorder struct {
	invoices   []*ledger.Invoice
	signatures []string
	batches    []*ledger.BatchRecord
	recipients [][]ledger.RecipientRecord
}

func (r *fakeRecorder) RecordPayment(ctx context.Context, invoice *ledger.Invoice, signature string) error {
	r.invoices = append(r.invoices, invoice)
	r.signatures = append(r.signatures, signature)
	return nil
}

func (r *fakeRecorder) RecordBatch(ctx context.Context, batch *ledger.BatchRecord, recipients []ledger.RecipientRecord) error {
	r.batches = append(r.batches, batch)
	r.recipients = append(r.recipients, recipients)
	return nil
}

func testIdentity(t *testing.T) keys.Identity {
	t.Helper()
	kp, err := keys.Generate()
	require.NoError(t, err)
	return kp.Identity()
}

// testConfig keeps all delays at zero so tests run instantly.
func testConfig(feeReserve uint64) Config {
	return Config{FeeReserve: feeReserve, MaxAttempts: DefaultMaxAttempts}
}

func newTestOrchestrator(h *harness, fees FeePolicy, recorder Recorder, cfg Config) *Orchestrator {
	topup := NewTopUp(h, h, cfg, nil)
	return NewOrchestrator(h, topup, fees, recorder, cfg, nil)
}
