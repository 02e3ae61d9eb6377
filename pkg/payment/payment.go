// Package payment orchestrates private payments on top of the compression
// operations: automatic top-up of the private balance, the single-recipient
// payment flow with its optional platform-fee leg, and the sequential batch
// flow with bounded congestion retry.
//
// All flows are single-threaded per owner. Each transfer consumes and
// replaces the sender's private account set, so two concurrent flows for
// the same owner would race on the same accounts; callers serialize
// operations per owner (e.g. disable the pay action while one is in
// flight).
package payment

import (
	"context"
	"time"

	"github.com/cloaklabs/cloakpay/pkg/account"
	"github.com/cloaklabs/cloakpay/pkg/keys"
	"github.com/cloaklabs/cloakpay/pkg/ledger"
	"github.com/cloaklabs/cloakpay/pkg/rpc"
)

// Defaults for the tunable delays and ceilings. MaxAttempts and the input
// ceiling in pkg/account are protocol constants; the delays are local
// politeness toward the shared settlement queue.
const (
	DefaultMaxAttempts         = 3
	DefaultRetryBaseDelay      = 500 * time.Millisecond
	DefaultInterRecipientDelay = 200 * time.Millisecond
	DefaultSettleDelay         = 2 * time.Second
	DefaultFeeReserve          = 5000 // base units kept back for network fees
)

// Config tunes the orchestration flows.
type Config struct {
	// FeeReserve is the public-balance headroom required beyond a top-up
	// shortfall, sized to cover the subsequent instruction's network fee.
	FeeReserve uint64
	// SettleDelay is how long to wait after a Hide before re-reading the
	// private balance, since the indexer may lag the submission.
	SettleDelay time.Duration
	// RetryBaseDelay scales the backoff between congestion retries:
	// delay = RetryBaseDelay * attempt number.
	RetryBaseDelay time.Duration
	// InterRecipientDelay is inserted between batch recipients regardless
	// of outcome, to avoid saturating the settlement queue.
	InterRecipientDelay time.Duration
	// MaxAttempts bounds transfer attempts per batch recipient.
	MaxAttempts int
}

// withDefaults fills zero fields. FeeReserve and the delays may be
// legitimately zero in tests, so only MaxAttempts is defaulted here;
// use DefaultConfig for production values.
func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FeeReserve:          DefaultFeeReserve,
		SettleDelay:         DefaultSettleDelay,
		RetryBaseDelay:      DefaultRetryBaseDelay,
		InterRecipientDelay: DefaultInterRecipientDelay,
		MaxAttempts:         DefaultMaxAttempts,
	}
}

// FeePolicy is the injected platform-fee configuration.
type FeePolicy struct {
	Enabled   bool
	RateNum   uint64 // fee = floor(amount * RateNum / RateDen)
	RateDen   uint64
	FeeWallet keys.Identity
}

// Fee computes floor(amount * RateNum / RateDen) without overflow or
// floating point.
func (p FeePolicy) Fee(amount uint64) uint64 {
	if !p.Enabled || p.RateNum == 0 || p.RateDen == 0 {
		return 0
	}
	q := amount / p.RateDen
	r := amount % p.RateDen
	return q*p.RateNum + r*p.RateNum/p.RateDen
}

// Engine is the subset of the compression engine the flows drive.
// *ops.Engine satisfies it.
type Engine interface {
	Owner() keys.Identity
	Hide(ctx context.Context, amount uint64) (rpc.Signature, error)
	Transfer(ctx context.Context, dest keys.Identity, amount uint64) (rpc.Signature, error)
}

// Balances reads current state from the indexer.
type Balances interface {
	GetCompressedAccountsByOwner(ctx context.Context, owner keys.Identity) ([]account.ValueAccount, error)
	GetPublicBalance(ctx context.Context, owner keys.Identity) (uint64, error)
}

// Recorder is the ledger boundary written to only on settlement success.
type Recorder interface {
	RecordPayment(ctx context.Context, invoice *ledger.Invoice, signature string) error
	RecordBatch(ctx context.Context, batch *ledger.BatchRecord, recipients []ledger.RecipientRecord) error
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
