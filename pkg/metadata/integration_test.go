//go:build integration

package metadata

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/config"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
)

// startMariaDBStore starts a disposable MariaDB server, applies the real
// schema migrations to it and connects a store. The dictionaries the
// migrations leave empty (wikis, file types, containers, locations) are
// seeded with the same fixtures the sqlite tests use.
func startMariaDBStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mariadb:10.11",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MARIADB_DATABASE":      "mediabackups_test",
			"MARIADB_USER":          "mediabackups_test",
			"MARIADB_PASSWORD":      "mediabackups_test",
			"MARIADB_ROOT_PASSWORD": "mediabackups_test",
		},
		// the entrypoint starts a bootstrap server first, so the ready
		// line shows up twice
		WaitingFor: wait.ForAll(
			wait.ForLog("mariadbd: ready for connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second),
			wait.ForListeningPort("3306/tcp"),
		),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start mariadb container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306")
	require.NoError(t, err)

	cfg := config.MetadataConfig{
		DBType:   "mysql",
		Host:     host,
		Port:     port.Int(),
		User:     "mediabackups_test",
		Password: "mediabackups_test",
		Database: "mediabackups_test",
	}
	require.NoError(t, Migrate(ctx, cfg))

	s := New(cfg)
	require.NoError(t, s.Connect(ctx))
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.db.Create(&[]Wiki{
		{ID: 1, WikiName: "commonswiki", Type: 1},
		{ID: 2, WikiName: "testwiki", Type: 1},
	}).Error)
	require.NoError(t, s.db.Create(&[]FileType{
		{ID: 1, TypeName: "BITMAP"},
		{ID: 2, TypeName: "VIDEO"},
	}).Error)
	require.NoError(t, s.db.Create(&[]StorageContainer{
		{ID: 1, StorageContainerName: "wikipedia-commons-local-public.30"},
	}).Error)
	require.NoError(t, s.db.Create(&[]Location{
		{ID: 1, EndpointURL: "https://backup1004.eqiad.wmnet:9000"},
	}).Error)
	return s
}

// TestMariaDBStore_Integration runs the store against the backend it runs
// on in production, covering what sqlite cannot: the migration DDL, the
// FOR UPDATE claim path and the native duplicate key errors.
func TestMariaDBStore_Integration(t *testing.T) {
	s := startMariaDBStore(t)
	ctx := context.Background()

	t.Run("migrations are versioned and idempotent", func(t *testing.T) {
		version, dirty, err := MigrationVersion(ctx, s.cfg)
		require.NoError(t, err)
		assert.Equal(t, uint(2), version)
		assert.False(t, dirty)

		require.NoError(t, Migrate(ctx, s.cfg))
	})

	t.Run("migrations seed the dictionaries", func(t *testing.T) {
		fks, err := s.LoadFKs(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, fks.FileStatus[media.StatusPublic])
		assert.Equal(t, 4, fks.FileStatus[media.StatusHardDeleted])
		assert.Equal(t, 1, fks.BackupStatus[media.BackupPending])
		assert.Equal(t, 5, fks.BackupStatus[media.BackupDuplicate])
	})

	t.Run("add claim and record a backup cycle", func(t *testing.T) {
		count, err := s.Add(ctx, []*media.File{
			testFile("A.jpg", sha1A),
			testFile("B.jpg", sha1B),
			testFile("C.jpg", sha1C),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		s.batchsize = 2
		batch, err := s.ProcessFiles(ctx)
		require.NoError(t, err)
		require.Len(t, batch, 2)

		fileA := batch[1]
		require.NotNil(t, fileA)
		assert.Equal(t, "commonswiki", fileA.Wiki)
		assert.Equal(t, "A.jpg", fileA.UploadName)
		assert.Equal(t, sha1A, fileA.SHA1)

		rest, err := s.ProcessFiles(ctx)
		require.NoError(t, err)
		require.Len(t, rest, 1)

		empty, err := s.ProcessFiles(ctx)
		require.NoError(t, err)
		assert.Empty(t, empty)

		fileA.SHA256 = sha256A
		fileC := rest[3]
		require.NotNil(t, fileC)
		fileC.SHA256 = sha256A

		err = s.UpdateStatus(ctx, []StatusUpdate{
			{ID: 1, File: fileA, Status: media.BackupBackedup, Location: 1},
			{ID: 2, File: batch[2], Status: media.BackupError},
			{ID: 3, File: fileC, Status: media.BackupBackedup, Location: 1},
		})
		require.NoError(t, err)

		var rows []FileRow
		require.NoError(t, s.db.Order("id ASC").Find(&rows).Error)
		require.Len(t, rows, 3)
		assert.Equal(t, 3, rows[0].BackupStatus)
		assert.Equal(t, 4, rows[1].BackupStatus)
		assert.Equal(t, 3, rows[2].BackupStatus)

		// the identical copy collided on (wiki, sha256) and was tolerated
		var ledger []Backup
		require.NoError(t, s.db.Find(&ledger).Error)
		assert.Len(t, ledger, 1)
	})

	t.Run("updates archive the previous state", func(t *testing.T) {
		archived := time.Date(2024, 2, 2, 8, 30, 0, 0, time.UTC)
		moved := testFile("B.jpg", sha1B)
		moved.Status = media.StatusArchived
		moved.ArchivedTimestamp = &archived
		moved.StoragePath = "archive/3/30/20240202083000!B.jpg"

		count, err := s.Update(ctx, map[int64]*media.File{2: moved})
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		var history []FileHistory
		require.NoError(t, s.db.Find(&history).Error)
		require.Len(t, history, 1)
		assert.Equal(t, int64(2), history[0].FileID)
		assert.Equal(t, []byte("3/30/B.jpg"), history[0].StoragePath)

		// the failed backup moved, so it is pending again
		var row FileRow
		require.NoError(t, s.db.First(&row, int64(2)).Error)
		assert.Equal(t, 1, row.BackupStatus)
	})

	t.Run("concurrent workers never claim the same file", func(t *testing.T) {
		for {
			batch, err := s.ProcessFiles(ctx)
			require.NoError(t, err)
			if len(batch) == 0 {
				break
			}
		}

		files := make([]*media.File, 0, 8)
		for i := 0; i < 8; i++ {
			files = append(files, testFile(fmt.Sprintf("Upload_%d.png", i), fmt.Sprintf("%040d", i)))
		}
		_, err := s.Add(ctx, files)
		require.NoError(t, err)

		var (
			mu     sync.Mutex
			claims = make(map[int64]int)
			wg     sync.WaitGroup
		)
		for w := 0; w < 3; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					batch, err := s.ProcessFiles(ctx)
					if err != nil {
						t.Errorf("concurrent claim failed: %v", err)
						return
					}
					if len(batch) == 0 {
						return
					}
					mu.Lock()
					for id := range batch {
						claims[id]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, claims, 8)
		for id, times := range claims {
			assert.Equal(t, 1, times, "file %d was claimed %d times", id, times)
		}
	})
}

// postgresSchema is the production schema rendered for PostgreSQL: binary
// columns become bytea and auto increment keys become serial. pgx cannot
// run several statements in one prepared exec, so one statement per entry.
var postgresSchema = []string{
	`CREATE TABLE wiki_types (
		id serial PRIMARY KEY,
		type_name text NOT NULL UNIQUE
	)`,
	`CREATE TABLE wikis (
		id serial PRIMARY KEY,
		wiki_name text NOT NULL UNIQUE,
		type integer NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE file_types (
		id serial PRIMARY KEY,
		type_name text NOT NULL UNIQUE
	)`,
	`CREATE TABLE file_status (
		id serial PRIMARY KEY,
		status_name text NOT NULL UNIQUE
	)`,
	`CREATE TABLE backup_status (
		id serial PRIMARY KEY,
		backup_status_name text NOT NULL UNIQUE
	)`,
	`CREATE TABLE storage_containers (
		id serial PRIMARY KEY,
		storage_container_name text NOT NULL UNIQUE
	)`,
	`CREATE TABLE locations (
		id serial PRIMARY KEY,
		endpoint_url text NOT NULL
	)`,
	`CREATE TABLE files (
		id bigserial PRIMARY KEY,
		wiki integer NOT NULL,
		upload_name bytea,
		storage_container integer,
		storage_path bytea,
		file_type integer,
		status integer NOT NULL,
		sha1 bytea,
		md5 bytea,
		sha256 bytea,
		size bigint,
		upload_timestamp timestamp,
		archived_timestamp timestamp,
		deleted_timestamp timestamp,
		backup_status integer NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX by_name ON files (wiki, upload_name)`,
	`CREATE INDEX by_hash ON files (sha1, wiki)`,
	`CREATE INDEX by_backup_status ON files (backup_status)`,
	`CREATE TABLE file_history (
		id bigserial PRIMARY KEY,
		file_id bigint NOT NULL,
		wiki integer NOT NULL,
		upload_name bytea,
		storage_container integer,
		storage_path bytea,
		file_type integer,
		status integer NOT NULL,
		sha1 bytea,
		md5 bytea,
		sha256 bytea,
		size bigint,
		upload_timestamp timestamp,
		archived_timestamp timestamp,
		deleted_timestamp timestamp,
		backup_status integer NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX by_file_id ON file_history (file_id)`,
	`CREATE TABLE backups (
		id bigserial PRIMARY KEY,
		location integer NOT NULL,
		wiki integer NOT NULL,
		sha1 bytea,
		sha256 bytea NOT NULL,
		backup_time timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT wiki_sha256 UNIQUE (wiki, sha256)
	)`,
}

// startPostgresStore starts a disposable PostgreSQL server, creates the
// schema on it and connects a store.
func startPostgresStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mediabackups_test"),
		postgres.WithUsername("mediabackups_test"),
		postgres.WithPassword("mediabackups_test"),
		testcontainers.WithWaitStrategyAndDeadline(5*time.Minute,
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	s := New(config.MetadataConfig{
		DBType:   "postgres",
		Host:     host,
		Port:     port.Int(),
		User:     "mediabackups_test",
		Password: "mediabackups_test",
		Database: "mediabackups_test",
	})
	require.NoError(t, s.Connect(ctx))
	t.Cleanup(func() { s.Close() })

	for _, stmt := range postgresSchema {
		require.NoError(t, s.db.Exec(stmt).Error)
	}
	seedTestData(t, s.db)
	return s
}

// TestPostgresStore_Integration runs the store against PostgreSQL, whose
// dialect rewrites every placeholder the raw queries use.
func TestPostgresStore_Integration(t *testing.T) {
	s := startPostgresStore(t)
	ctx := context.Background()

	t.Run("dictionaries load through the postgres dialect", func(t *testing.T) {
		fks, err := s.LoadFKs(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, fks.Wikis["commonswiki"])
		assert.Equal(t, 3, fks.BackupStatus[media.BackupBackedup])
	})

	t.Run("add claim and record a backup cycle", func(t *testing.T) {
		count, err := s.Add(ctx, []*media.File{
			testFile("A.jpg", sha1A),
			testFile("B.jpg", sha1B),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		batch, err := s.ProcessFiles(ctx)
		require.NoError(t, err)
		require.Len(t, batch, 2)

		fileA := batch[1]
		require.NotNil(t, fileA)
		assert.Equal(t, "A.jpg", fileA.UploadName)
		fileA.SHA256 = sha256A

		err = s.UpdateStatus(ctx, []StatusUpdate{
			{ID: 1, File: fileA, Status: media.BackupBackedup, Location: 1},
			{ID: 2, File: batch[2], Status: media.BackupError},
		})
		require.NoError(t, err)

		var rows []FileRow
		require.NoError(t, s.db.Order("id ASC").Find(&rows).Error)
		require.Len(t, rows, 2)
		assert.Equal(t, 3, rows[0].BackupStatus)
		assert.Equal(t, 4, rows[1].BackupStatus)

		// a second identical copy collides on (wiki, sha256) and is tolerated
		require.NoError(t, s.UpdateStatus(ctx, []StatusUpdate{
			{ID: 1, File: fileA, Status: media.BackupBackedup, Location: 1},
		}))

		var ledger []Backup
		require.NoError(t, s.db.Find(&ledger).Error)
		assert.Len(t, ledger, 1)
	})

	t.Run("updates archive the previous state", func(t *testing.T) {
		moved := testFile("B.jpg", sha1B)
		moved.StoragePath = "archive/3/30/20240202083000!B.jpg"

		count, err := s.Update(ctx, map[int64]*media.File{2: moved})
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		var history []FileHistory
		require.NoError(t, s.db.Find(&history).Error)
		require.Len(t, history, 1)
		assert.Equal(t, int64(2), history[0].FileID)

		// the failed backup moved, so it is pending again
		var row FileRow
		require.NoError(t, s.db.First(&row, int64(2)).Error)
		assert.Equal(t, 1, row.BackupStatus)
	})
}
