package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloaklabs/cloakpay/pkg/keys"
	"github.com/cloaklabs/cloakpay/pkg/ledger"
	"github.com/cloaklabs/cloakpay/pkg/metrics"
	"github.com/cloaklabs/cloakpay/pkg/protocol"
	"github.com/cloaklabs/cloakpay/pkg/rpc"
)

// TransferRequest is one recipient within a batch.
type TransferRequest struct {
	Destination keys.Identity
	Amount      uint64 // base units, must be positive
	Reference   string // optional caller reference (e.g. invoice memo)
}

// BatchRequest is an ordered list of transfers plus an optional grouping
// tag.
type BatchRequest struct {
	Requests []TransferRequest
	Tag      string
}

// Per-recipient terminal states. A recipient is pending only while its
// attempts are in flight; it never leaves failed.
const (
	RecipientPaid   = "paid"
	RecipientFailed = "failed"
)

// RecipientOutcome is the result for one batch recipient.
type RecipientOutcome struct {
	Request        TransferRequest
	Status         string // paid | failed
	Signature      rpc.Signature
	Attempts       int
	Err            error
	Classification string // stable failure classification, empty when paid
}

// BatchStatus derives from the recipient outcomes.
type BatchStatus string

const (
	BatchCompleted BatchStatus = "completed" // all recipients paid
	BatchPartial   BatchStatus = "partial"   // some paid, some failed
	BatchFailed    BatchStatus = "failed"    // none paid
)

// BatchOutcome is the aggregate result of one batch execution.
type BatchOutcome struct {
	ID         uuid.UUID
	Status     BatchStatus
	Aggregate  uint64
	Recipients []RecipientOutcome
}

// ValidateRequests checks every request for a well-formed destination and a
// positive amount, returning one slot per request (nil when valid). It is a
// pure function: the same input always yields the same rejected set.
func ValidateRequests(requests []TransferRequest) []error {
	errs := make([]error, len(requests))
	for i, req := range requests {
		if req.Amount == 0 {
			errs[i] = &protocol.ValidationError{
				Field:  fmt.Sprintf("requests[%d].amount", i),
				Reason: "must be positive",
			}
			continue
		}
		if _, err := keys.ParseIdentity(string(req.Destination)); err != nil {
			errs[i] = &protocol.ValidationError{
				Field:  fmt.Sprintf("requests[%d].destination", i),
				Reason: err.Error(),
			}
		}
	}
	return errs
}

// Aggregate sums the requested amounts.
func Aggregate(requests []TransferRequest) uint64 {
	var total uint64
	for _, req := range requests {
		total += req.Amount
	}
	return total
}

// ExecuteBatch settles a batch of private transfers sequentially.
//
// Every request is validated before any network call; a malformed request
// rejects the whole batch with zero side effects. The aggregate amount is
// then ensured once via top-up — if the balance check fails, the batch
// returns immediately with zero recipient attempts.
//
// Recipients are processed one at a time, never concurrently: the
// settlement queue is a shared congestible resource, and each transfer
// consumes and replaces the sender's private account set. Each recipient
// gets up to MaxAttempts attempts, retrying only on queue congestion with a
// delay of RetryBaseDelay times the attempt number; any other failure is
// terminal for that recipient. A fixed delay separates recipients
// regardless of outcome.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, batch BatchRequest) (*BatchOutcome, error) {
	if len(batch.Requests) == 0 {
		return nil, &protocol.ValidationError{Field: "requests", Reason: "batch is empty"}
	}
	for _, err := range ValidateRequests(batch.Requests) {
		if err != nil {
			return nil, err
		}
	}

	aggregate := Aggregate(batch.Requests)
	if err := o.topup.Ensure(ctx, aggregate); err != nil {
		return nil, err
	}

	out := &BatchOutcome{
		ID:         uuid.New(),
		Aggregate:  aggregate,
		Recipients: make([]RecipientOutcome, 0, len(batch.Requests)),
	}

	for i, req := range batch.Requests {
		if ctx.Err() != nil {
			// The caller gave up mid-batch. Remaining recipients were never
			// attempted; already-submitted instructions stand.
			out.Recipients = append(out.Recipients, RecipientOutcome{
				Request:        req,
				Status:         RecipientFailed,
				Err:            ctx.Err(),
				Classification: protocol.ClassSettlementFailed,
			})
			continue
		}

		out.Recipients = append(out.Recipients, o.payRecipient(ctx, req))

		if i < len(batch.Requests)-1 {
			if err := sleepCtx(ctx, o.cfg.InterRecipientDelay); err != nil {
				continue
			}
		}
	}

	out.Status = deriveStatus(out.Recipients)
	metrics.ObserveBatch(string(out.Status))
	o.log.Info("batch finished",
		"batch", out.ID,
		"status", out.Status,
		"recipients", len(out.Recipients),
		"aggregate", aggregate)

	o.reconcileBatch(ctx, batch, out)
	return out, nil
}

// payRecipient runs the bounded retry loop for one recipient.
//
// State machine: pending -> attempt -> paid, or back to pending on
// congestion while attempts remain, or failed. failed is terminal.
func (o *Orchestrator) payRecipient(ctx context.Context, req TransferRequest) RecipientOutcome {
	out := RecipientOutcome{Request: req, Status: RecipientFailed}

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		out.Attempts = attempt

		sig, err := o.engine.Transfer(ctx, req.Destination, req.Amount)
		if err == nil {
			out.Status = RecipientPaid
			out.Signature = sig
			out.Err = nil
			out.Classification = ""
			return out
		}

		out.Err = err
		out.Classification = protocol.Classification(err)
		if !protocol.IsRetryable(err) || attempt == o.cfg.MaxAttempts {
			break
		}

		metrics.ObserveCongestionRetry()
		o.log.Warn("transfer hit congestion, backing off",
			"destination", req.Destination,
			"attempt", attempt,
			"delay", o.cfg.RetryBaseDelay*time.Duration(attempt))
		if sleepCtx(ctx, o.cfg.RetryBaseDelay*time.Duration(attempt)) != nil {
			break
		}
	}

	return out
}

// deriveStatus classifies a batch from its recipient outcomes.
func deriveStatus(recipients []RecipientOutcome) BatchStatus {
	paid := 0
	for _, r := range recipients {
		if r.Status == RecipientPaid {
			paid++
		}
	}
	switch paid {
	case len(recipients):
		return BatchCompleted
	case 0:
		return BatchFailed
	default:
		return BatchPartial
	}
}

// reconcileBatch writes the batch and its outcomes to the ledger. Failed
// legs are stored with their classification for display; only settled legs
// carry signatures.
func (o *Orchestrator) reconcileBatch(ctx context.Context, batch BatchRequest, out *BatchOutcome) {
	if o.recorder == nil {
		return
	}

	record := &ledger.BatchRecord{
		ID:        out.ID,
		Tag:       batch.Tag,
		Sender:    o.engine.Owner(),
		Total:     out.Aggregate,
		Status:    string(out.Status),
		CreatedAt: time.Now().UTC(),
	}
	recipients := make([]ledger.RecipientRecord, 0, len(out.Recipients))
	for _, r := range out.Recipients {
		recipients = append(recipients, ledger.RecipientRecord{
			BatchID:        out.ID,
			Recipient:      r.Request.Destination,
			Amount:         r.Request.Amount,
			Status:         r.Status,
			Signature:      string(r.Signature),
			Classification: r.Classification,
		})
	}

	if err := o.recorder.RecordBatch(ctx, record, recipients); err != nil {
		o.log.Error("failed to reconcile batch into ledger",
			"batch", out.ID,
			"error", err)
	}
}
