package keys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGeneratesAndPersists(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "data", "operator.key")

	first, err := Load(keyPath)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Address())

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A second load must come up as the same operator.
	second, err := Load(keyPath)
	require.NoError(t, err)
	assert.Equal(t, first.Address(), second.Address())
}

func TestLoadRejectsCorruptKeyFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "operator.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0o600))

	_, err := Load(keyPath)
	assert.Error(t, err)
}

func TestSignRegistrationIsDeterministicPerInput(t *testing.T) {
	id, err := Load(filepath.Join(t.TempDir(), "operator.key"))
	require.NoError(t, err)

	sig1, err := id.SignRegistration("node-a", 1700000000)
	require.NoError(t, err)
	sig2, err := id.SignRegistration("node-a", 1700000000)
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)

	sig3, err := id.SignRegistration("node-a", 1700000001)
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig3)

	// 65-byte recoverable signature, hex encoded.
	assert.Len(t, sig1, 130)
}

func TestRegistrationDigestIsCaseInsensitiveOnWallet(t *testing.T) {
	a := RegistrationDigest("0xABCDEF", "node", 1)
	b := RegistrationDigest("0xabcdef", "node", 1)
	assert.Equal(t, a, b)
}
