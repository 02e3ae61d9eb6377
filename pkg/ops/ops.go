// Package ops implements the three compression operations the engine is
// built from:
//
//   - Hide: move public balance into a new private value account (compress)
//   - Claim: move private value accounts back to public balance (decompress)
//   - Transfer: spend private value accounts to another identity's private
//     domain
//
// Every operation follows the same pipeline: fetch the owner's live
// accounts from the indexer, select inputs under the per-instruction
// ceiling, obtain a validity proof for the selected handles, sign the
// instruction envelope, submit it, and wait for confirmation. State is
// re-fetched for every operation; nothing here is cached, because the
// account set changes with each settled instruction.
//
// Gas for every operation is paid from the signer's public balance,
// whether the payload amount is public or private.
package ops

import (
	"context"
	"log/slog"

	"github.com/cloaklabs/cloakpay/pkg/account"
	"github.com/cloaklabs/cloakpay/pkg/keys"
	"github.com/cloaklabs/cloakpay/pkg/metrics"
	"github.com/cloaklabs/cloakpay/pkg/protocol"
	"github.com/cloaklabs/cloakpay/pkg/prover"
	"github.com/cloaklabs/cloakpay/pkg/rpc"
)

// Indexer reads ledger state. It may lag recent submissions; callers that
// just submitted must allow a settle delay before re-reading.
type Indexer interface {
	GetCompressedAccountsByOwner(ctx context.Context, owner keys.Identity) ([]account.ValueAccount, error)
	GetPublicBalance(ctx context.Context, owner keys.Identity) (uint64, error)
}

// Submitter carries signed instructions to the settlement queue and waits
// for confirmation.
type Submitter interface {
	Submit(ctx context.Context, wire []byte) (rpc.Signature, error)
	Confirm(ctx context.Context, sig rpc.Signature, level rpc.CommitmentLevel) error
}

// Prover produces validity proofs for selected account handles.
type Prover interface {
	ValidityProof(ctx context.Context, handles []string) (*prover.Bundle, error)
}

// Engine executes compression operations for one owner.
//
// An Engine must not be shared across concurrent flows for the same owner:
// each operation consumes and replaces the owner's private account set, so
// callers serialize all operations per owner.
type Engine struct {
	indexer   Indexer
	submitter Submitter
	prover    Prover
	signer    *keys.Keypair
	level     rpc.CommitmentLevel
	log       *slog.Logger
}

// NewEngine creates an engine for the signer's identity.
func NewEngine(indexer Indexer, submitter Submitter, prv Prover, signer *keys.Keypair, level rpc.CommitmentLevel, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		indexer:   indexer,
		submitter: submitter,
		prover:    prv,
		signer:    signer,
		level:     level,
		log:       log,
	}
}

// Owner returns the identity the engine signs for.
func (e *Engine) Owner() keys.Identity {
	return e.signer.Identity()
}

// Hide compresses amount from the owner's public balance into one new
// private value account.
func (e *Engine) Hide(ctx context.Context, amount uint64) (rpc.Signature, error) {
	if amount == 0 {
		return "", &protocol.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	public, err := e.indexer.GetPublicBalance(ctx, e.Owner())
	if err != nil {
		return "", err
	}
	if public < amount {
		return "", &protocol.InsufficientBalanceError{Domain: protocol.DomainPublic, Need: amount, Have: public}
	}

	in := Instruction{
		Kind:   KindHide,
		Owner:  e.Owner(),
		Amount: amount,
	}
	return e.execute(ctx, in)
}

// Claim decompresses amount from the owner's private value accounts back to
// the public balance. Any surplus in the consumed inputs returns to the
// owner as a new private change account.
func (e *Engine) Claim(ctx context.Context, amount uint64) (rpc.Signature, error) {
	if amount == 0 {
		return "", &protocol.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	sel, err := e.selectInputs(ctx, amount)
	if err != nil {
		return "", err
	}

	bundle, err := e.prover.ValidityProof(ctx, sel.Handles())
	if err != nil {
		return "", &protocol.SettlementError{Cause: err}
	}

	in := Instruction{
		Kind:   KindClaim,
		Owner:  e.Owner(),
		Amount: amount,
		Change: sel.Change(amount),
		Inputs: sel.Handles(),
		Proof:  bundle.Proof,
	}
	return e.execute(ctx, in)
}

// Transfer spends the owner's private value accounts to create one private
// account of amount for dest, returning any surplus to the owner as change.
func (e *Engine) Transfer(ctx context.Context, dest keys.Identity, amount uint64) (rpc.Signature, error) {
	if amount == 0 {
		return "", &protocol.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if _, err := keys.ParseIdentity(string(dest)); err != nil {
		return "", &protocol.ValidationError{Field: "destination", Reason: err.Error()}
	}

	sel, err := e.selectInputs(ctx, amount)
	if err != nil {
		return "", err
	}

	bundle, err := e.prover.ValidityProof(ctx, sel.Handles())
	if err != nil {
		return "", &protocol.SettlementError{Cause: err}
	}

	in := Instruction{
		Kind:        KindTransfer,
		Owner:       e.Owner(),
		Destination: dest,
		Amount:      amount,
		Change:      sel.Change(amount),
		Inputs:      sel.Handles(),
		Proof:       bundle.Proof,
	}
	return e.execute(ctx, in)
}

// selectInputs fetches the owner's live accounts and picks inputs for
// target, classifying failure as insufficient total versus fragmented
// under the input ceiling.
func (e *Engine) selectInputs(ctx context.Context, target uint64) (account.Selection, error) {
	accounts, err := e.indexer.GetCompressedAccountsByOwner(ctx, e.Owner())
	if err != nil {
		return account.Selection{}, err
	}

	sel, ok := account.Select(accounts, target)
	if ok {
		return sel, nil
	}

	total := account.Sum(accounts)
	if total < target {
		return account.Selection{}, &protocol.InsufficientBalanceError{
			Domain: protocol.DomainPrivate,
			Need:   target,
			Have:   total,
		}
	}
	// Enough in total, unreachable in one instruction.
	return account.Selection{}, &protocol.FragmentedBalanceError{
		Need:      target,
		Reachable: sel.Total,
		Total:     total,
		MaxInputs: account.MaxInputs,
	}
}

// execute signs, submits, and confirms one instruction.
func (e *Engine) execute(ctx context.Context, in Instruction) (rpc.Signature, error) {
	signed, err := Sign(in, e.signer)
	if err != nil {
		return "", &protocol.SettlementError{Cause: err}
	}
	wire, err := signed.Wire()
	if err != nil {
		return "", &protocol.SettlementError{Cause: err}
	}

	sig, err := e.submitter.Submit(ctx, wire)
	metrics.ObserveSubmission(string(in.Kind), err)
	if err != nil {
		return "", err
	}

	e.log.Info("instruction submitted",
		"kind", in.Kind,
		"amount", in.Amount,
		"inputs", len(in.Inputs),
		"signature", sig)

	if err := e.submitter.Confirm(ctx, sig, e.level); err != nil {
		return sig, err
	}
	return sig, nil
}
