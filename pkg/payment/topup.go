package payment

import (
	"context"
	"log/slog"

	"github.com/cloaklabs/cloakpay/pkg/account"
	"github.com/cloaklabs/cloakpay/pkg/metrics"
	"github.com/cloaklabs/cloakpay/pkg/protocol"
)

// TopUp replenishes an owner's private balance from their public balance
// when a requested private spend exceeds what is currently hidden.
type TopUp struct {
	balances Balances
	engine   Engine
	cfg      Config
	log      *slog.Logger
}

// NewTopUp creates a top-up helper for the engine's owner.
func NewTopUp(balances Balances, engine Engine, cfg Config, log *slog.Logger) *TopUp {
	if log == nil {
		log = slog.Default()
	}
	return &TopUp{balances: balances, engine: engine, cfg: cfg.withDefaults(), log: log}
}

// Ensure makes the owner's private balance cover required.
//
// If the current private balance already covers it, Ensure is a no-op.
// Otherwise it hides exactly the shortfall — never a buffer, so no public
// funds are stranded as private dust — after checking that the public
// balance covers shortfall plus the fee reserve. A failed check returns
// *protocol.InsufficientBalanceError with both figures and performs no
// submission.
//
// After a successful Hide, Ensure waits SettleDelay and re-reads the
// private balance, since the indexer may lag the submission.
func (t *TopUp) Ensure(ctx context.Context, required uint64) error {
	if required == 0 {
		return nil
	}
	owner := t.engine.Owner()

	accounts, err := t.balances.GetCompressedAccountsByOwner(ctx, owner)
	if err != nil {
		return err
	}
	current := account.Sum(accounts)
	if current >= required {
		return nil
	}
	shortfall := required - current

	public, err := t.balances.GetPublicBalance(ctx, owner)
	if err != nil {
		return err
	}
	if public < shortfall+t.cfg.FeeReserve {
		return &protocol.InsufficientBalanceError{
			Domain: protocol.DomainPublic,
			Need:   shortfall + t.cfg.FeeReserve,
			Have:   public,
		}
	}

	t.log.Info("topping up private balance",
		"required", required,
		"current", current,
		"shortfall", shortfall)

	if _, err := t.engine.Hide(ctx, shortfall); err != nil {
		return err
	}
	metrics.ObserveTopUp()

	if err := sleepCtx(ctx, t.cfg.SettleDelay); err != nil {
		return err
	}

	accounts, err = t.balances.GetCompressedAccountsByOwner(ctx, owner)
	if err != nil {
		return err
	}
	if refreshed := account.Sum(accounts); refreshed < required {
		// The hide settled but the indexer has not caught up yet. The
		// subsequent transfer will fail cleanly if the lag persists.
		t.log.Warn("private balance still short after top-up",
			"required", required,
			"refreshed", refreshed)
	}
	return nil
}
