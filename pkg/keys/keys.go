// Package keys implements ed25519 signer identities for the settlement layer.
//
// Identities are base58-encoded ed25519 public keys, the text format used
// everywhere an owner, recipient, or fee wallet appears. Keypairs sign the
// instruction envelopes submitted to the ledger.
//
// Key formats:
//   - Identities: base58-encoded 32-byte public keys
//   - Keypair files: JSON array of 64 bytes (seed || public key)
//   - Signatures: raw 64-byte ed25519
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/btcsuite/btcutil/base58"
)

// Identity is a base58-encoded ed25519 public key.
type Identity string

// ParseIdentity validates and normalizes an identity string.
//
// An identity is well-formed when it decodes as base58 to exactly 32 bytes.
// Every destination in a transfer request must pass this check before any
// network call is made.
func ParseIdentity(s string) (Identity, error) {
	if s == "" {
		return "", fmt.Errorf("empty identity")
	}
	decoded := base58.Decode(s)
	if len(decoded) != ed25519.PublicKeySize {
		return "", fmt.Errorf("identity %q: decoded to %d bytes, want %d", s, len(decoded), ed25519.PublicKeySize)
	}
	return Identity(s), nil
}

// Bytes returns the raw 32-byte public key for an identity.
func (id Identity) Bytes() []byte {
	return base58.Decode(string(id))
}

// Keypair wraps an ed25519 private key and its derived identity.
type Keypair struct {
	priv ed25519.PrivateKey
}

// Generate creates a new random keypair.
func Generate() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return &Keypair{priv: priv}, nil
}

// FromSeed creates a keypair from a 32-byte seed.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Keypair{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// Load reads a keypair file: a JSON array of 64 bytes (seed || public key),
// the format wallet tooling on the settlement layer exports.
func Load(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keypair file: %w", err)
	}
	var bytes []byte
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return nil, fmt.Errorf("keypair file is not a JSON byte array: %w", err)
	}
	if len(bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair file holds %d bytes, want %d", len(bytes), ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(bytes)
	// The public half must be the one derived from the seed, or the
	// keypair would sign under an identity it does not control.
	if !ed25519.NewKeyFromSeed(priv.Seed()).Equal(priv) {
		return nil, fmt.Errorf("keypair file is corrupt: public key does not match its seed")
	}
	return &Keypair{priv: priv}, nil
}

// Identity returns the base58-encoded public key.
func (k *Keypair) Identity() Identity {
	pub := k.priv.Public().(ed25519.PublicKey)
	return Identity(base58.Encode(pub))
}

// Sign produces a 64-byte ed25519 signature over msg.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// Verify checks a signature against an identity's public key.
func Verify(id Identity, msg, sig []byte) bool {
	pub := id.Bytes()
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}
