package query

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/encryption"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
)

// fakeRecoveryStore serves objects from memory, on a single endpoint.
type fakeRecoveryStore struct {
	objects  map[string]string
	endpoint string
	getErr   error
}

func (s *fakeRecoveryStore) Exists(_ context.Context, key string, _ ...string) (bool, error) {
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeRecoveryStore) LocationOf(endpointURL string) (int, error) {
	if endpointURL != s.endpoint {
		return 0, fmt.Errorf("unknown endpoint %q", endpointURL)
	}
	return 1, nil
}

func (s *fakeRecoveryStore) Get(_ context.Context, _ int, key, localPath string) error {
	if s.getErr != nil {
		return s.getErr
	}
	return os.WriteFile(localPath, []byte(s.objects[key]), 0o600)
}

// fakeDecryptor mirrors the age contract: the ciphertext sits at
// path+suffix and the cleartext is written to path.
type fakeDecryptor struct {
	fail bool
}

func (d *fakeDecryptor) Decrypt(path string) error {
	if d.fail {
		return errors.New("no identity matched any of the recipients")
	}
	data, err := os.ReadFile(path + encryption.Suffix)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.TrimPrefix(string(data), "age:")), 0o600)
}

func backupRow(productionPath, backupPath string) *metadata.BackupRow {
	return &metadata.BackupRow{
		Wiki:           "testwiki",
		Title:          "Test.jpg",
		ProductionPath: productionPath,
		SHA256:         "9f86",
		BackupLocation: "https://backup1004.eqiad.wmnet:9000",
		BackupPath:     backupPath,
	}
}

func TestRecoverToLocal(t *testing.T) {
	dir := t.TempDir()
	store := &fakeRecoveryStore{
		objects:  map[string]string{"testwiki/9f8/9f86": "original bytes"},
		endpoint: "https://backup1004.eqiad.wmnet:9000",
	}
	rec := &Recovery{Store: store, Decryptor: &fakeDecryptor{}, TargetDir: dir}

	recovered, err := rec.RecoverToLocal(context.Background(), []*metadata.BackupRow{
		backupRow("a/a0/Test.jpg", "testwiki/9f8/9f86"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	data, err := os.ReadFile(filepath.Join(dir, "Test.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "original bytes", string(data))
}

func TestRecoverDryRun(t *testing.T) {
	dir := t.TempDir()
	store := &fakeRecoveryStore{
		objects:  map[string]string{"testwiki/9f8/9f86": "original bytes"},
		endpoint: "https://backup1004.eqiad.wmnet:9000",
	}
	rec := &Recovery{Store: store, Decryptor: &fakeDecryptor{}, TargetDir: dir, DryRun: true}

	recovered, err := rec.RecoverToLocal(context.Background(), []*metadata.BackupRow{
		backupRow("a/a0/Test.jpg", "testwiki/9f8/9f86"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.NoFileExists(t, filepath.Join(dir, "Test.jpg"))
}

func TestRecoverAvoidsClobbering(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Test.jpg"), []byte("mine"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Test.jpg~"), []byte("also mine"), 0o600))

	store := &fakeRecoveryStore{
		objects:  map[string]string{"testwiki/9f8/9f86": "recovered"},
		endpoint: "https://backup1004.eqiad.wmnet:9000",
	}
	rec := &Recovery{Store: store, Decryptor: &fakeDecryptor{}, TargetDir: dir}

	recovered, err := rec.RecoverToLocal(context.Background(), []*metadata.BackupRow{
		backupRow("a/a0/Test.jpg", "testwiki/9f8/9f86"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	// pre-existing files keep their contents
	data, _ := os.ReadFile(filepath.Join(dir, "Test.jpg"))
	assert.Equal(t, "mine", string(data))
	data, err = os.ReadFile(filepath.Join(dir, "Test.jpg~~"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(data))
}

func TestRecoverUnnamedFile(t *testing.T) {
	dir := t.TempDir()
	store := &fakeRecoveryStore{
		objects:  map[string]string{"testwiki/9f8/9f86": "bytes"},
		endpoint: "https://backup1004.eqiad.wmnet:9000",
	}
	rec := &Recovery{Store: store, Decryptor: &fakeDecryptor{}, TargetDir: dir}

	recovered, err := rec.RecoverToLocal(context.Background(), []*metadata.BackupRow{
		backupRow("", "testwiki/9f8/9f86"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.FileExists(t, filepath.Join(dir, "unnamed_file"))
}

func TestRecoverEncrypted(t *testing.T) {
	dir := t.TempDir()
	store := &fakeRecoveryStore{
		objects:  map[string]string{"privatewiki/9f8/9f86.age": "age:secret bytes"},
		endpoint: "https://backup1004.eqiad.wmnet:9000",
	}
	rec := &Recovery{Store: store, Decryptor: &fakeDecryptor{}, TargetDir: dir}

	recovered, err := rec.RecoverToLocal(context.Background(), []*metadata.BackupRow{
		backupRow("s/se/Secret.pdf", "privatewiki/9f8/9f86.age"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	data, err := os.ReadFile(filepath.Join(dir, "Secret.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "secret bytes", string(data))
	// the ciphertext artifact is cleaned up after decryption
	assert.NoFileExists(t, filepath.Join(dir, "Secret.pdf"+encryption.Suffix))
}

func TestRecoverDecryptFailure(t *testing.T) {
	dir := t.TempDir()
	store := &fakeRecoveryStore{
		objects:  map[string]string{"privatewiki/9f8/9f86.age": "age:secret bytes"},
		endpoint: "https://backup1004.eqiad.wmnet:9000",
	}
	rec := &Recovery{Store: store, Decryptor: &fakeDecryptor{fail: true}, TargetDir: dir}

	recovered, err := rec.RecoverToLocal(context.Background(), []*metadata.BackupRow{
		backupRow("s/se/Secret.pdf", "privatewiki/9f8/9f86.age"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
	// the ciphertext stays for a manual retry
	assert.FileExists(t, filepath.Join(dir, "Secret.pdf"+encryption.Suffix))
	assert.NoFileExists(t, filepath.Join(dir, "Secret.pdf"))
}

func TestRecoverMissingObject(t *testing.T) {
	dir := t.TempDir()
	store := &fakeRecoveryStore{
		objects:  map[string]string{},
		endpoint: "https://backup1004.eqiad.wmnet:9000",
	}
	rec := &Recovery{Store: store, Decryptor: &fakeDecryptor{}, TargetDir: dir}

	recovered, err := rec.RecoverToLocal(context.Background(), []*metadata.BackupRow{
		backupRow("a/a0/Test.jpg", "testwiki/9f8/9f86"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
	assert.NoFileExists(t, filepath.Join(dir, "Test.jpg"))
}

func TestRecoverDownloadFailure(t *testing.T) {
	dir := t.TempDir()
	store := &fakeRecoveryStore{
		objects:  map[string]string{"testwiki/9f8/9f86": "bytes"},
		endpoint: "https://backup1004.eqiad.wmnet:9000",
		getErr:   errors.New("connection reset"),
	}
	rec := &Recovery{Store: store, Decryptor: &fakeDecryptor{}, TargetDir: dir}

	recovered, err := rec.RecoverToLocal(context.Background(), []*metadata.BackupRow{
		backupRow("a/a0/Test.jpg", "testwiki/9f8/9f86"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
}

func TestRecoverUnknownLocation(t *testing.T) {
	dir := t.TempDir()
	store := &fakeRecoveryStore{
		objects:  map[string]string{"testwiki/9f8/9f86": "bytes"},
		endpoint: "https://backup1004.eqiad.wmnet:9000",
	}
	rec := &Recovery{Store: store, Decryptor: &fakeDecryptor{}, TargetDir: dir}

	row := backupRow("a/a0/Test.jpg", "testwiki/9f8/9f86")
	row.BackupLocation = "https://decommissioned.example.org:9000"
	recovered, err := rec.RecoverToLocal(context.Background(), []*metadata.BackupRow{row})
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
}
