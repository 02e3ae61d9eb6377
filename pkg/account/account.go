// Package account models compressed value accounts and input selection.
//
// A value account is an opaque, single-use record of owned value in the
// private domain. It is consumed whole by any operation that spends it:
// a spend destroys its inputs and creates new outputs for the destination
// and any change. Balances are therefore always derived by summing the
// live account set, never kept as a mutable counter.
package account

import (
	"sort"

	"github.com/cloaklabs/cloakpay/pkg/keys"
)

// MaxInputs is the protocol-imposed ceiling on how many value accounts a
// single instruction may consume.
const MaxInputs = 4

// ValueAccount is one compressed account as reported by the indexer.
type ValueAccount struct {
	Handle string        // Opaque account handle (hex hash from the indexer)
	Amount uint64        // Face amount in base units
	Owner  keys.Identity // Owning identity
}

// Sum returns the total face amount of a set of accounts.
func Sum(accounts []ValueAccount) uint64 {
	var total uint64
	for _, a := range accounts {
		total += a.Amount
	}
	return total
}

// Selection is the result of picking inputs for a spend.
type Selection struct {
	Accounts []ValueAccount // Chosen inputs, largest first
	Total    uint64         // Sum of chosen face amounts
}

// Handles returns the opaque handles of the selected accounts, in selection
// order, for the proof service.
func (s Selection) Handles() []string {
	handles := make([]string, len(s.Accounts))
	for i, a := range s.Accounts {
		handles[i] = a.Handle
	}
	return handles
}

// Change returns the surplus a spend of amount would return to the owner.
func (s Selection) Change(amount uint64) uint64 {
	if s.Total < amount {
		return 0
	}
	return s.Total - amount
}

// Select picks value accounts to cover target.
//
// Accounts are sorted descending by face amount (stable, so equal amounts
// keep their indexer order and selection is deterministic), then accumulated
// greedily until the running total reaches target or MaxInputs accounts are
// taken. ok is true only if the total reaches target within the ceiling.
//
// ok=false means either the total balance is short, or the balance is
// sufficient but fragmented across too many accounts to reach in one
// instruction; callers distinguish the two by comparing Sum(accounts)
// against target. An empty account set never selects, even for a zero
// target.
func Select(accounts []ValueAccount, target uint64) (Selection, bool) {
	if len(accounts) == 0 {
		return Selection{}, false
	}
	if target == 0 {
		return Selection{}, true
	}

	sorted := make([]ValueAccount, len(accounts))
	copy(sorted, accounts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount > sorted[j].Amount
	})

	var sel Selection
	for _, a := range sorted {
		if sel.Total >= target || len(sel.Accounts) == MaxInputs {
			break
		}
		sel.Accounts = append(sel.Accounts, a)
		sel.Total += a.Amount
	}

	return sel, sel.Total >= target
}
