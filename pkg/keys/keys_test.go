package keys

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	id, err := ParseIdentity(string(kp.Identity()))
	require.NoError(t, err)
	assert.Equal(t, kp.Identity(), id)
	assert.Len(t, id.Bytes(), ed25519.PublicKeySize)

	_, err = ParseIdentity("")
	assert.Error(t, err)

	_, err = ParseIdentity("abc")
	assert.Error(t, err, "too short")

	_, err = ParseIdentity("0OIl+/not-base58")
	assert.Error(t, err)
}

func TestFromSeedIsDeterministic(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}

	a, err := FromSeed(seed)
	require.NoError(t, err)
	b, err := FromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, a.Identity(), b.Identity())

	_, err = FromSeed(seed[:16])
	assert.Error(t, err)
}

func TestLoadKeypairFile(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	raw, err := json.Marshal([]byte(kp.priv))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, kp.Identity(), loaded.Identity())

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[1,2,3]`), 0o600))
	_, err = Load(bad)
	assert.Error(t, err, "wrong length")
}

func TestLoadRejectsMismatchedPublicHalf(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	// Flip one bit in the stored public half. Signing with this file would
	// produce signatures no verifier accepts for its claimed identity.
	corrupted := append([]byte(nil), kp.priv...)
	corrupted[ed25519.SeedSize] ^= 0x01
	raw, err := json.Marshal(corrupted)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "corrupt.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = Load(path)
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	msg := []byte("settle 42 to somebody")

	sig := kp.Sign(msg)
	assert.True(t, Verify(kp.Identity(), msg, sig))
	assert.False(t, Verify(kp.Identity(), []byte("tampered"), sig))

	other, err := Generate()
	require.NoError(t, err)
	assert.False(t, Verify(other.Identity(), msg, sig))
}
