package ops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloaklabs/cloakpay/pkg/account"
	"github.com/cloaklabs/cloakpay/pkg/keys"
	"github.com/cloaklabs/cloakpay/pkg/protocol"
	"github.com/cloaklabs/cloakpay/pkg/prover"
	"github.com/cloaklabs/cloakpay/pkg/rpc"
)

type fakeIndexer struct {
	accounts []account.ValueAccount
	public   uint64
}

func (f *fakeIndexer) GetCompressedAccountsByOwner(ctx context.Context, owner keys.Identity) ([]account.ValueAccount, error) {
	return f.accounts, nil
}

func (f *fakeIndexer) GetPublicBalance(ctx context.Context, owner keys.Identity) (uint64, error) {
	return f.public, nil
}

type captureSubmitter struct {
	wires      [][]byte
	submitErr  error
	confirmErr error
}

func (s *captureSubmitter) Submit(ctx context.Context, wire []byte) (rpc.Signature, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.wires = append(s.wires, wire)
	return "sig-1", nil
}

func (s *captureSubmitter) Confirm(ctx context.Context, sig rpc.Signature, level rpc.CommitmentLevel) error {
	return s.confirmErr
}

type fakeProver struct {
	handles []string
}

func (p *fakeProver) ValidityProof(ctx context.Context, handles []string) (*prover.Bundle, error) {
	p.handles = handles
	return &prover.Bundle{Proof: []byte("proof")}, nil
}

func newTestEngine(t *testing.T, indexer *fakeIndexer, submitter *captureSubmitter) (*Engine, *fakeProver) {
	t.Helper()
	kp, err := keys.Generate()
	require.NoError(t, err)
	prv := &fakeProver{}
	return NewEngine(indexer, submitter, prv, kp, rpc.CommitmentConfirmed, nil), prv
}

func ownedAccounts(owner keys.Identity, amounts ...uint64) []account.ValueAccount {
	accs := make([]account.ValueAccount, len(amounts))
	for i, a := range amounts {
		accs[i] = account.ValueAccount{Handle: string(rune('a' + i)), Amount: a, Owner: owner}
	}
	return accs
}

func testRecipient(t *testing.T) keys.Identity {
	t.Helper()
	kp, err := keys.Generate()
	require.NoError(t, err)
	return kp.Identity()
}

func TestTransferConservesValue(t *testing.T) {
	indexer := &fakeIndexer{}
	submitter := &captureSubmitter{}
	engine, prv := newTestEngine(t, indexer, submitter)
	indexer.accounts = ownedAccounts(engine.Owner(), 7, 3, 2)

	sig, err := engine.Transfer(context.Background(), testRecipient(t), 9)
	require.NoError(t, err)
	assert.Equal(t, rpc.Signature("sig-1"), sig)

	require.Len(t, submitter.wires, 1)
	signed, err := ParseWire(submitter.wires[0])
	require.NoError(t, err)

	in := signed.Instruction
	assert.Equal(t, KindTransfer, in.Kind)
	assert.Equal(t, uint64(9), in.Amount)
	assert.Equal(t, uint64(1), in.Change)
	assert.Equal(t, []string{"a", "b"}, in.Inputs)

	// sum(inputs) == amount + change: no value created or destroyed.
	var consumed uint64
	for _, acc := range indexer.accounts {
		for _, h := range in.Inputs {
			if acc.Handle == h {
				consumed += acc.Amount
			}
		}
	}
	assert.Equal(t, in.Amount+in.Change, consumed)

	// The proof covers exactly the consumed handles.
	assert.Equal(t, in.Inputs, prv.handles)
}

func TestTransferInsufficientPrivateBalance(t *testing.T) {
	indexer := &fakeIndexer{}
	submitter := &captureSubmitter{}
	engine, _ := newTestEngine(t, indexer, submitter)
	indexer.accounts = ownedAccounts(engine.Owner(), 3, 2)

	_, err := engine.Transfer(context.Background(), testRecipient(t), 9)
	require.Error(t, err)
	assert.Equal(t, protocol.ClassInsufficientBalance, protocol.Classification(err))

	var insufficient *protocol.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, protocol.DomainPrivate, insufficient.Domain)
	assert.Equal(t, uint64(9), insufficient.Need)
	assert.Equal(t, uint64(5), insufficient.Have)
	assert.Empty(t, submitter.wires)
}

func TestTransferFragmentedBalance(t *testing.T) {
	indexer := &fakeIndexer{}
	submitter := &captureSubmitter{}
	engine, _ := newTestEngine(t, indexer, submitter)
	// Total 8 but only 4 reachable within the input ceiling.
	indexer.accounts = ownedAccounts(engine.Owner(), 1, 1, 1, 1, 1, 1, 1, 1)

	_, err := engine.Transfer(context.Background(), testRecipient(t), 6)
	require.Error(t, err)
	assert.Equal(t, protocol.ClassFragmentedBalance, protocol.Classification(err))

	var fragmented *protocol.FragmentedBalanceError
	require.ErrorAs(t, err, &fragmented)
	assert.Equal(t, uint64(8), fragmented.Total)
	assert.Equal(t, uint64(4), fragmented.Reachable)
	assert.Empty(t, submitter.wires)
}

func TestHideChecksPublicBalance(t *testing.T) {
	indexer := &fakeIndexer{public: 40}
	submitter := &captureSubmitter{}
	engine, _ := newTestEngine(t, indexer, submitter)

	_, err := engine.Hide(context.Background(), 50)
	require.Error(t, err)
	assert.Equal(t, protocol.ClassInsufficientBalance, protocol.Classification(err))
	assert.Empty(t, submitter.wires)

	sig, err := engine.Hide(context.Background(), 40)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	signed, err := ParseWire(submitter.wires[0])
	require.NoError(t, err)
	assert.Equal(t, KindHide, signed.Instruction.Kind)
	assert.Empty(t, signed.Instruction.Inputs)
}

func TestClaimReturnsChange(t *testing.T) {
	indexer := &fakeIndexer{}
	submitter := &captureSubmitter{}
	engine, _ := newTestEngine(t, indexer, submitter)
	indexer.accounts = ownedAccounts(engine.Owner(), 10, 5)

	_, err := engine.Claim(context.Background(), 12)
	require.NoError(t, err)

	signed, err := ParseWire(submitter.wires[0])
	require.NoError(t, err)
	assert.Equal(t, KindClaim, signed.Instruction.Kind)
	assert.Equal(t, uint64(12), signed.Instruction.Amount)
	assert.Equal(t, uint64(3), signed.Instruction.Change)
}

func TestValidationRejectsBeforeNetwork(t *testing.T) {
	indexer := &fakeIndexer{}
	submitter := &captureSubmitter{}
	engine, _ := newTestEngine(t, indexer, submitter)

	_, err := engine.Transfer(context.Background(), testRecipient(t), 0)
	assert.Equal(t, protocol.ClassValidation, protocol.Classification(err))

	_, err = engine.Transfer(context.Background(), "not-an-identity", 5)
	assert.Equal(t, protocol.ClassValidation, protocol.Classification(err))

	_, err = engine.Hide(context.Background(), 0)
	assert.Equal(t, protocol.ClassValidation, protocol.Classification(err))

	assert.Empty(t, submitter.wires)
}

func TestSignedInstructionVerifies(t *testing.T) {
	kp, err := keys.Generate()
	require.NoError(t, err)

	in := Instruction{
		Kind:   KindTransfer,
		Owner:  kp.Identity(),
		Amount: 5,
		Change: 1,
		Inputs: []string{"a", "b"},
	}
	signed, err := Sign(in, kp)
	require.NoError(t, err)

	digest := in.digest()
	assert.True(t, keys.Verify(kp.Identity(), digest[:], signed.Signature))

	// A different keypair cannot sign someone else's instruction.
	other, err := keys.Generate()
	require.NoError(t, err)
	_, err = Sign(in, other)
	assert.Error(t, err)
}
