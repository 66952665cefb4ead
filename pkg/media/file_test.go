package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFile(t *testing.T) {
	f := NewFile("commonswiki", "Test.jpg", StatusPublic)

	assert.Equal(t, "commonswiki", f.Wiki)
	assert.Equal(t, "Test.jpg", f.UploadName)
	assert.Equal(t, "public", f.Status)
	assert.Equal(t, "ERROR", f.FileType)
	assert.Nil(t, f.Size)
	assert.Nil(t, f.UploadTimestamp)
}

func TestFileLiteral(t *testing.T) {
	size := int64(12)
	uploaded := time.Date(2023, 11, 23, 13, 46, 55, 0, time.UTC)
	deleted := time.Date(2023, 11, 23, 13, 46, 56, 0, time.UTC)
	f := &File{
		Wiki:             "testwiki",
		UploadName:       "Test.png",
		Status:           StatusDeleted,
		Size:             &size,
		FileType:         "IMAGE",
		UploadTimestamp:  &uploaded,
		DeletedTimestamp: &deleted,
		SHA1:             "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3",
		SHA256:           "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		StorageContainer: "wikipedia-test-local-deleted",
		StoragePath:      "/a/a9/a94/a94a8fe5ccb19ba61c4c0873d391e987982fbbd3.png",
	}

	assert.Equal(t, "wikipedia-test-local-deleted", f.StorageContainer)
	assert.Nil(t, f.ArchivedTimestamp)
}

func TestFileEqual(t *testing.T) {
	f1 := NewFile("commonswiki", "Test.jpg", StatusPublic)
	f2 := NewFile("commonswiki", "Test2.jpg", StatusPublic)
	assert.False(t, f1.Equal(f2))

	f2.UploadName = "Test.jpg"
	assert.True(t, f1.Equal(f2))

	size := int64(100)
	f2.Size = &size
	assert.False(t, f1.Equal(f2))
}

func TestFileHashKey(t *testing.T) {
	sha1 := "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3"
	f := NewFile("commonswiki", "Test.jpg", StatusPublic)
	f.SHA1 = sha1

	assert.Equal(t, sha1, f.HashKey())

	other := NewFile("commonswiki", "Renamed.jpg", StatusArchived)
	other.SHA1 = sha1
	assert.Equal(t, f.HashKey(), other.HashKey())
}

func TestRowToFile(t *testing.T) {
	container := 1
	row := Row{
		Wiki:             2,
		UploadName:       []byte("Test.jpg"),
		Status:           1,
		StorageContainer: &container,
		StoragePath:      []byte("/Test.jpg"),
	}
	dicts := Dictionaries{
		Wikis:      map[int]string{1: "commonswiki", 2: "testwiki"},
		FileTypes:  map[int]string{1: "IMAGE", 2: "VIDEO"},
		Status:     map[int]string{1: "public", 2: "archived", 3: "deleted"},
		Containers: map[int]string{1: "wikipedia-test-local-public", 2: "wikipedia-test-local-deleted"},
	}

	f := RowToFile(row, dicts)

	want := NewFile("testwiki", "Test.jpg", StatusPublic)
	want.StorageContainer = "wikipedia-test-local-public"
	want.StoragePath = "/Test.jpg"
	assert.True(t, f.Equal(want), "got %+v", f)
	// null columns decode to absent values
	assert.Empty(t, f.MD5)
	assert.Empty(t, f.SHA1)
	assert.Equal(t, "ERROR", f.FileType)
}

func TestFileProperties(t *testing.T) {
	f := NewFile("commonswiki", "Test.jpg", StatusPublic)
	props := f.Properties()

	wantNames := []string{
		"wiki", "upload_name", "size", "file_type", "status",
		"upload_timestamp", "archived_timestamp", "deleted_timestamp",
		"md5", "sha1", "storage_container", "storage_path",
	}
	require.Len(t, props, len(wantNames))

	byName := map[string]any{}
	for i, p := range props {
		assert.Equal(t, wantNames[i], p.Name, "property order")
		byName[p.Name] = p.Value
	}

	assert.Equal(t, "commonswiki", byName["wiki"])
	assert.Equal(t, "Test.jpg", byName["upload_name"])
	assert.Nil(t, byName["size"])
	assert.Equal(t, "ERROR", byName["file_type"])
	assert.Equal(t, "public", byName["status"])
	assert.Nil(t, byName["upload_timestamp"])
	assert.Nil(t, byName["sha1"])
	assert.Nil(t, byName["storage_path"])

	// the backups ledger owns sha256, it is not part of the projection
	assert.NotContains(t, byName, "sha256")
}

func TestFileString(t *testing.T) {
	f := NewFile("commonswiki", "Test.jpg", StatusPublic)
	assert.Equal(t, "commonswiki Test.jpg  ", f.String())

	ts := time.Date(2023, 1, 15, 10, 0, 0, 0, time.UTC)
	f.SHA1 = "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3"
	f.UploadTimestamp = &ts
	assert.Equal(t, "commonswiki Test.jpg a94a8fe5ccb19ba61c4c0873d391e987982fbbd3 2023-01-15 10:00:00", f.String())
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Test.jpg", "Test.jpg"},
		{"File:Test.jpg", "Test.jpg"},
		{"  A B C.png ", "A_B_C.png"},
		// the prefix is only stripped after spaces become underscores
		{"File: Test.jpg", "_Test.jpg"},
		{"Archivo:Test.jpg", "Archivo:Test.jpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTitle(tt.in), "input %q", tt.in)
	}
}
