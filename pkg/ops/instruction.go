package ops

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/minio/blake2b-simd"

	"github.com/cloaklabs/cloakpay/pkg/keys"
)

// Kind names a compression operation.
type Kind string

const (
	KindHide     Kind = "hide"     // public -> private (compress)
	KindClaim    Kind = "claim"    // private -> public (decompress)
	KindTransfer Kind = "transfer" // private -> private
)

// Instruction is the engine's view of one compression-program instruction
// before signing. The binary encoding submitted on the wire belongs to the
// protocol SDK; this envelope carries exactly what the signer commits to.
type Instruction struct {
	Kind        Kind          `json:"kind"`
	Owner       keys.Identity `json:"owner"`
	Destination keys.Identity `json:"destination,omitempty"` // transfer only
	Amount      uint64        `json:"amount"`
	Change      uint64        `json:"change"`           // surplus returned to owner
	Inputs      []string      `json:"inputs,omitempty"` // handles consumed, whole
	Proof       []byte        `json:"proof,omitempty"`  // validity proof over Inputs
}

// digest is the blake2b-256 hash the owner signs: a canonical, fixed-order
// serialization of every field.
func (in *Instruction) digest() [32]byte {
	h := blake2b.New256()
	h.Write([]byte(in.Kind))
	h.Write(in.Owner.Bytes())
	h.Write(in.Destination.Bytes())

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], in.Amount)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], in.Change)
	h.Write(buf[:])

	for _, handle := range in.Inputs {
		h.Write([]byte(handle))
	}
	h.Write(in.Proof)

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// SignedInstruction is an instruction plus its owner's authorization.
type SignedInstruction struct {
	Instruction Instruction   `json:"instruction"`
	Signer      keys.Identity `json:"signer"`
	Signature   []byte        `json:"signature"`
}

// Sign authorizes an instruction with the owner's keypair.
func Sign(in Instruction, kp *keys.Keypair) (*SignedInstruction, error) {
	if kp.Identity() != in.Owner {
		return nil, fmt.Errorf("signer %s does not own instruction for %s", kp.Identity(), in.Owner)
	}
	digest := in.digest()
	return &SignedInstruction{
		Instruction: in,
		Signer:      kp.Identity(),
		Signature:   kp.Sign(digest[:]),
	}, nil
}

// Wire serializes a signed instruction for the submitter.
func (si *SignedInstruction) Wire() ([]byte, error) {
	wire, err := json.Marshal(si)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize instruction: %w", err)
	}
	return wire, nil
}

// ParseWire decodes a wire-format signed instruction. Used by tests and
// tooling that inspect what was submitted.
func ParseWire(wire []byte) (*SignedInstruction, error) {
	var si SignedInstruction
	if err := json.Unmarshal(wire, &si); err != nil {
		return nil, fmt.Errorf("failed to parse instruction: %w", err)
	}
	return &si, nil
}
