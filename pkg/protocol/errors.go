// Package protocol defines the error taxonomy shared by every operation in
// the engine.
//
// Each failure mode is a distinct typed error so that callers branch on
// structure, not on message text. In particular, retry eligibility is a
// structural property: a submission is retryable if and only if it unwraps
// to a CongestionError. Every error maps to a stable classification string
// that presentation layers can key on.
package protocol

import (
	"errors"
	"fmt"
)

// Classification strings. These are stable: they are surfaced to callers,
// recorded in the ledger, and matched by presentation layers.
const (
	ClassInsufficientBalance = "INSUFFICIENT_BALANCE"
	ClassFragmentedBalance   = "FRAGMENTED_BALANCE"
	ClassCongestionTransient = "CONGESTION_TRANSIENT"
	ClassValidation          = "VALIDATION_ERROR"
	ClassSettlementFailed    = "SETTLEMENT_FAILED"
)

// BalanceDomain names which balance fell short.
type BalanceDomain string

const (
	DomainPublic  BalanceDomain = "public"
	DomainPrivate BalanceDomain = "private"
)

// InsufficientBalanceError is returned when the total available balance,
// public or private, is below what an operation needs.
//
// Both figures are carried for diagnostics. Balance shortfalls abort the
// whole operation before any transfer is attempted; they are never retried.
type InsufficientBalanceError struct {
	Domain BalanceDomain // Which balance fell short
	Need   uint64        // Amount the operation required (base units)
	Have   uint64        // Amount actually available (base units)
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: need %d, have %d", e.Domain, e.Need, e.Have)
}

// FragmentedBalanceError is returned when the owner's total private balance
// covers the target but no subset within the per-instruction input ceiling
// reaches it.
//
// This is distinct from InsufficientBalanceError: the funds exist but are
// fragmented across too many value accounts to spend in one instruction.
type FragmentedBalanceError struct {
	Need      uint64 // Target amount (base units)
	Reachable uint64 // Best total reachable within the ceiling
	Total     uint64 // Full private balance across all accounts
	MaxInputs int    // The per-instruction input ceiling
}

func (e *FragmentedBalanceError) Error() string {
	return fmt.Sprintf("private balance fragmented: need %d, best %d reachable with %d accounts (total %d)",
		e.Need, e.Reachable, e.MaxInputs, e.Total)
}

// CongestionError is returned when the settlement queue rejects a
// submission because it is busy. It is the only retryable failure mode.
//
// The code is the structured error code reported by the RPC layer or the
// compression program, never parsed out of a message string.
type CongestionError struct {
	Code  int   // RPC or program error code that identified congestion
	Cause error // Underlying error (if any)
}

func (e *CongestionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("settlement queue congested (code %d): %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("settlement queue congested (code %d)", e.Code)
}

func (e *CongestionError) Unwrap() error { return e.Cause }

// ValidationError is returned for malformed input: a destination that is
// not a well-formed identity, or a non-positive amount.
//
// Validation happens before any network call and is never retried.
type ValidationError struct {
	Field  string // Which field failed (e.g. "destination", "amount")
	Reason string // Human-readable reason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SettlementError is returned when a submission is rejected for any reason
// other than congestion, or when confirmation fails.
//
// If a signature is present, the instruction reached the queue and must be
// treated as possibly settled.
type SettlementError struct {
	Signature string // Submission signature, empty if rejected before queueing
	Cause     error  // Underlying error
}

func (e *SettlementError) Error() string {
	if e.Signature != "" {
		return fmt.Sprintf("settlement failed (signature %s): %v", e.Signature, e.Cause)
	}
	return fmt.Sprintf("settlement failed: %v", e.Cause)
}

func (e *SettlementError) Unwrap() error { return e.Cause }

// Classification maps an error to its stable classification string.
//
// Unknown errors classify as SETTLEMENT_FAILED, the terminal catch-all.
func Classification(err error) string {
	var (
		insufficient *InsufficientBalanceError
		fragmented   *FragmentedBalanceError
		congestion   *CongestionError
		validation   *ValidationError
	)
	switch {
	case errors.As(err, &insufficient):
		return ClassInsufficientBalance
	case errors.As(err, &fragmented):
		return ClassFragmentedBalance
	case errors.As(err, &congestion):
		return ClassCongestionTransient
	case errors.As(err, &validation):
		return ClassValidation
	default:
		return ClassSettlementFailed
	}
}

// IsRetryable reports whether an error is a transient congestion failure.
//
// This is the single retry-eligibility check used by the batch loop.
func IsRetryable(err error) bool {
	var congestion *CongestionError
	return errors.As(err, &congestion)
}
