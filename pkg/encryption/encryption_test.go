package encryption

import (
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIdentityFile(t *testing.T) string {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys.txt")
	content := "# created for tests\n" + identity.String() + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := New(writeIdentityFile(t))
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "Test.jpg")
	payload := []byte("not really a jpeg, but enough to round-trip")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	require.NoError(t, enc.Encrypt(path))

	encrypted, err := os.ReadFile(path + Suffix)
	require.NoError(t, err)
	assert.NotEqual(t, payload, encrypted)
	assert.NotEmpty(t, encrypted)

	// decrypt into a fresh location to prove the artifact is self-contained
	restored := filepath.Join(dir, "restored", "Test.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(restored), 0o755))
	require.NoError(t, os.Rename(path+Suffix, restored+Suffix))

	require.NoError(t, enc.Decrypt(restored))

	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestEncryptMissingInput(t *testing.T) {
	enc, err := New(writeIdentityFile(t))
	require.NoError(t, err)

	err = enc.Encrypt(filepath.Join(t.TempDir(), "nope.bin"))
	assert.ErrorIs(t, err, ErrEncryption)
}

func TestDecryptMissingArtifact(t *testing.T) {
	enc, err := New(writeIdentityFile(t))
	require.NoError(t, err)

	err = enc.Decrypt(filepath.Join(t.TempDir(), "nope.bin"))
	assert.ErrorIs(t, err, ErrEncryption)
}

func TestNewRejectsMissingIdentityFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent.txt"))
	assert.ErrorIs(t, err, ErrEncryption)
}

func TestNewRejectsEmptyIdentityFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte("# only a comment\n"), 0o600))

	_, err := New(path)
	assert.ErrorIs(t, err, ErrEncryption)
}
