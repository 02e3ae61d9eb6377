package payment

import (
	"context"
	"log/slog"

	"github.com/cloaklabs/cloakpay/pkg/keys"
	"github.com/cloaklabs/cloakpay/pkg/ledger"
	"github.com/cloaklabs/cloakpay/pkg/protocol"
	"github.com/cloaklabs/cloakpay/pkg/rpc"
)

// Outcome is the settlement result of a single payment.
type Outcome struct {
	Signature rpc.Signature // settled amount leg

	Fee          uint64        // platform fee charged, 0 if disabled
	FeeSignature rpc.Signature // settled fee leg, empty if no fee or fee failed
	// FeeError reports a fee-leg failure after the amount leg settled. The
	// two legs are independent settlements: the ledger offers no multi-leg
	// atomicity, so a failed fee leg is surfaced but never unwinds the
	// already-settled payment.
	FeeError error
}

// Orchestrator drives the single-recipient and batch payment flows for one
// owner.
type Orchestrator struct {
	engine   Engine
	topup    *TopUp
	fees     FeePolicy
	recorder Recorder
	cfg      Config
	log      *slog.Logger
}

// NewOrchestrator wires a payment orchestrator. recorder may be nil when no
// durable ledger is attached.
func NewOrchestrator(engine Engine, topup *TopUp, fees FeePolicy, recorder Recorder, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		engine:   engine,
		topup:    topup,
		fees:     fees,
		recorder: recorder,
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

// Pay settles one invoice privately.
//
// The flow: ensure the private balance covers amount plus any platform fee
// (topping up from the public balance if needed), transfer the amount, then
// transfer the fee as an independent best-effort leg. A balance failure
// propagates before any transfer is attempted, with zero state change.
func (o *Orchestrator) Pay(ctx context.Context, invoice *ledger.Invoice) (*Outcome, error) {
	if invoice.Amount == 0 {
		return nil, &protocol.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if _, err := keys.ParseIdentity(string(invoice.Recipient)); err != nil {
		return nil, &protocol.ValidationError{Field: "recipient", Reason: err.Error()}
	}

	fee := o.fees.Fee(invoice.Amount)
	total := invoice.Amount + fee

	if err := o.topup.Ensure(ctx, total); err != nil {
		return nil, err
	}

	sig, err := o.engine.Transfer(ctx, invoice.Recipient, invoice.Amount)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Signature: sig, Fee: fee}
	if fee > 0 {
		feeSig, feeErr := o.engine.Transfer(ctx, o.fees.FeeWallet, fee)
		if feeErr != nil {
			o.log.Warn("fee leg failed after settled payment",
				"invoice", invoice.ID,
				"fee", fee,
				"classification", protocol.Classification(feeErr),
				"error", feeErr)
			out.FeeError = feeErr
		} else {
			out.FeeSignature = feeSig
		}
	}

	if o.recorder != nil {
		// The settlement already happened; a reconciliation failure is an
		// operational problem, not a payment failure.
		if err := o.recorder.RecordPayment(ctx, invoice, string(sig)); err != nil {
			o.log.Error("failed to reconcile payment into ledger",
				"invoice", invoice.ID,
				"signature", sig,
				"error", err)
		}
	}

	o.log.Info("payment settled",
		"invoice", invoice.ID,
		"recipient", invoice.Recipient,
		"amount", invoice.Amount,
		"fee", fee,
		"signature", sig)
	return out, nil
}
