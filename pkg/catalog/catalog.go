// Package catalog enumerates the media files of a wiki straight from its
// production MediaWiki database: current revisions from the image table,
// archived ones from oldimage and soft-deleted ones from filearchive.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/config"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/swift"
)

const (
	defaultHost      = "localhost"
	defaultPort      = 3306
	defaultBatchsize = 100
)

// Source tables, each holding one revision class.
const (
	TableImage       = "image"
	TableOldimage    = "oldimage"
	TableFilearchive = "filearchive"
)

// Tables lists the production tables read during a full gather, in
// processing order.
var Tables = []string{TableImage, TableOldimage, TableFilearchive}

var (
	// ErrConnection reports a failure to open or reach the production
	// database of a wiki.
	ErrConnection = errors.New("production database connection failed")

	// ErrQuery reports a query that kept failing after reconnecting,
	// ending the pass over the current table.
	ErrQuery = errors.New("production database query failed")

	// ErrUnknownTable reports a table source other than image, oldimage
	// or filearchive.
	ErrUnknownTable = errors.New("unknown table source")
)

// sourceQuery describes how to read one table: a projection aligning its
// columns to the common row layout, plus the ordering columns. The first
// ordering column pages the title space.
type sourceQuery struct {
	query    string
	ordering []string
}

var sources = map[string]sourceQuery{
	TableImage: {
		query: "SELECT 'public' AS status, " +
			"img_name AS upload_name, " +
			"img_name AS storage_path, " +
			"img_size AS size, " +
			"img_media_type AS type, " +
			"STR_TO_DATE(img_timestamp, '%Y%m%d%H%i%s') AS upload_timestamp, " +
			"NULL AS archived_name, " +
			"NULL AS deleted_timestamp, " +
			"img_sha1 AS sha1 " +
			"FROM image",
		ordering: []string{"img_name"},
	},
	TableOldimage: {
		query: "SELECT IF(oi_deleted, 'deleted', 'archived') AS status, " +
			"oi_name AS upload_name, " +
			"IF(oi_deleted, CONCAT(oi_sha1, '.', SUBSTRING_INDEX(oi_name, '.', -1)), oi_archive_name) AS storage_path, " +
			"oi_size AS size, " +
			"oi_media_type AS type, " +
			"STR_TO_DATE(oi_timestamp, '%Y%m%d%H%i%s') AS upload_timestamp, " +
			"oi_archive_name AS archived_name, " +
			"NULL AS deleted_timestamp, " +
			"oi_sha1 AS sha1 " +
			"FROM oldimage",
		ordering: []string{"oi_name", "oi_archive_name"},
	},
	TableFilearchive: {
		query: "SELECT 'deleted' AS status, " +
			"fa_name AS upload_name, " +
			"fa_storage_key AS storage_path, " +
			"fa_size AS size, " +
			"fa_media_type AS type, " +
			"STR_TO_DATE(fa_timestamp, '%Y%m%d%H%i%s') AS upload_timestamp, " +
			"fa_archive_name AS archived_name, " +
			"STR_TO_DATE(fa_deleted_timestamp, '%Y%m%d%H%i%s') AS deleted_timestamp, " +
			"fa_sha1 AS sha1 " +
			"FROM filearchive",
		ordering: []string{"fa_name", "fa_storage_key"},
	},
}

// Catalog reads production media metadata, one wiki at a time.
type Catalog struct {
	cfg       config.ProductionConfig
	batchsize int
	wiki      string
	db        *sql.DB
}

// New returns a catalog over the production replicas described by the
// given configuration. No connection is opened until Connect.
func New(cfg config.ProductionConfig) *Catalog {
	batchsize := cfg.Batchsize
	if batchsize <= 0 {
		batchsize = defaultBatchsize
	}
	return &Catalog{cfg: cfg, batchsize: batchsize}
}

// Connect opens a connection to the given wiki, whose database carries
// the wiki name itself, closing any previous connection first.
func (c *Catalog) Connect(ctx context.Context, wiki string) error {
	if err := c.Close(); err != nil {
		return err
	}
	dsn := mysql.NewConfig()
	dsn.User = c.cfg.User
	dsn.Passwd = c.cfg.Password
	dsn.DBName = wiki
	dsn.ParseTime = true
	if c.cfg.Socket != "" {
		dsn.Net = "unix"
		dsn.Addr = c.cfg.Socket
	} else {
		host := c.cfg.Host
		if host == "" {
			host = defaultHost
		}
		port := c.cfg.Port
		if port == 0 {
			port = defaultPort
		}
		dsn.Net = "tcp"
		dsn.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	}
	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("%w: cannot reach %s for %s: %v", ErrConnection, dsn.Addr, wiki, err)
	}
	c.db = db
	c.wiki = wiki
	return nil
}

// Close releases the database connection. Safe to call when not connected.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Wiki returns the wiki the catalog is currently connected to.
func (c *Catalog) Wiki() string {
	return c.wiki
}

// ImageRanges returns the title boundaries used to page the file tables,
// nil meaning an open bound. Big wikis hold too many files for a single
// query, so their title space is sliced at fixed points: numeric
// prefixes, each capital letter paired with a second character drawn
// from "0chmqt", and a few anchors for titles beyond Z. Small wikis get
// a single unbounded window.
func (c *Catalog) ImageRanges() []*string {
	if !swift.IsBigWiki(c.wiki) {
		return []*string{nil, nil}
	}
	boundaries := []string{
		"0", "05",
		"1", "15", "19",
		"20", "2013", "2016", "2018", "2019", "2020",
		"3", "4", "5", "6", "7", "8", "9",
	}
	for letter := 'A'; letter <= 'Z'; letter++ {
		for _, second := range "0chmqt" {
			boundaries = append(boundaries, string(letter)+string(second))
		}
	}
	boundaries = append(boundaries, "^", "В", "Л", "С", "Ե", "儀")
	ranges := make([]*string, 0, len(boundaries)+2)
	ranges = append(ranges, nil)
	for i := range boundaries {
		ranges = append(ranges, &boundaries[i])
	}
	return append(ranges, nil)
}

// window is one paging slice of a table read: the windowed query text
// plus its bound arguments.
type window struct {
	query string
	args  []any
}

// calculateQueries renders one query per [lower, upper) title range of
// the given table source.
func (c *Catalog) calculateQueries(table string, ranges []*string) ([]window, error) {
	src, ok := sources[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	pagingCol := src.ordering[0]
	ordering := " ORDER BY `" + strings.Join(src.ordering, "`, `") + "`"
	windows := make([]window, 0, len(ranges)-1)
	for i := 0; i < len(ranges)-1; i++ {
		lower, upper := ranges[i], ranges[i+1]
		w := window{query: src.query + " WHERE 1=1"}
		if lower != nil {
			w.query += " AND `" + pagingCol + "` >= ?"
			w.args = append(w.args, *lower)
		}
		if upper != nil {
			w.query += " AND `" + pagingCol + "` < ?"
			w.args = append(w.args, *upper)
		}
		w.query += ordering
		windows = append(windows, w)
	}
	return windows, nil
}

// queryWindow runs one windowed query, reconnecting and retrying once on
// failure. A second failure wraps ErrQuery.
func (c *Catalog) queryWindow(ctx context.Context, w window) (*sql.Rows, error) {
	rows, err := c.db.QueryContext(ctx, w.query, w.args...)
	if err == nil {
		return rows, nil
	}
	logger.Warn("a production database error occurred while querying the table, retrying connection",
		"wiki", c.wiki, "error", err)
	if err := c.Connect(ctx, c.wiki); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	rows, err = c.db.QueryContext(ctx, w.query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return rows, nil
}

// Iterator yields batches of files read from one table source. It is not
// restartable; Close releases the cursor of the current window.
type Iterator struct {
	ctx     context.Context
	catalog *Catalog
	table   string
	windows []window
	next    int
	rows    *sql.Rows
}

// ListFiles starts reading every file revision the given table holds for
// the connected wiki, in batches of at most batchsize.
func (c *Catalog) ListFiles(ctx context.Context, table string) (*Iterator, error) {
	windows, err := c.calculateQueries(table, c.ImageRanges())
	if err != nil {
		return nil, err
	}
	return &Iterator{ctx: ctx, catalog: c, table: table, windows: windows}, nil
}

// Next returns the next batch of files, or nil once the table source is
// exhausted. A window that keeps failing after a reconnect ends the pass
// with an error wrapping ErrQuery.
func (it *Iterator) Next() ([]*media.File, error) {
	for {
		if it.rows == nil {
			if it.next >= len(it.windows) {
				return nil, nil
			}
			w := it.windows[it.next]
			it.next++
			rows, err := it.catalog.queryWindow(it.ctx, w)
			if err != nil {
				return nil, err
			}
			it.rows = rows
		}
		batch, err := it.readBatch()
		if err != nil {
			it.Close()
			return nil, err
		}
		if len(batch) > 0 {
			return batch, nil
		}
	}
}

// readBatch pulls up to batchsize rows from the current cursor, closing
// it once drained so Next moves on to the following window.
func (it *Iterator) readBatch() ([]*media.File, error) {
	files := make([]*media.File, 0, it.catalog.batchsize)
	for len(files) < it.catalog.batchsize && it.rows.Next() {
		f, err := it.catalog.scanRow(it.rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if len(files) < it.catalog.batchsize {
		err := it.rows.Err()
		it.rows.Close()
		it.rows = nil
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s rows: %v", ErrQuery, it.table, err)
		}
	}
	return files, nil
}

// Close releases the cursor of the current window, if any.
func (it *Iterator) Close() error {
	if it.rows == nil {
		return nil
	}
	err := it.rows.Close()
	it.rows = nil
	return err
}

// fileRow is the common projection every source query aligns its columns
// to.
type fileRow struct {
	status           string
	uploadName       string
	storagePath      string
	size             *int64
	fileType         string
	uploadTimestamp  *time.Time
	archivedName     string
	deletedTimestamp *time.Time
	sha1             string
}

func (c *Catalog) scanRow(rows *sql.Rows) (*media.File, error) {
	var (
		status           string
		uploadName       []byte
		storagePath      []byte
		size             sql.NullInt64
		fileType         []byte
		uploadTimestamp  sql.NullTime
		archivedName     []byte
		deletedTimestamp sql.NullTime
		sha1             []byte
	)
	if err := rows.Scan(&status, &uploadName, &storagePath, &size, &fileType,
		&uploadTimestamp, &archivedName, &deletedTimestamp, &sha1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	row := fileRow{
		status:       status,
		uploadName:   string(uploadName),
		storagePath:  string(storagePath),
		fileType:     string(fileType),
		archivedName: string(archivedName),
		sha1:         string(sha1),
	}
	if size.Valid {
		row.size = &size.Int64
	}
	if uploadTimestamp.Valid {
		row.uploadTimestamp = &uploadTimestamp.Time
	}
	if deletedTimestamp.Valid {
		row.deletedTimestamp = &deletedTimestamp.Time
	}
	return c.processRow(row)
}

// processRow turns a raw row into a File: the sha1 is converted from
// MediaWiki's base 36, the archival time recovered from the archive
// name, and the production location computed and cross-checked against
// the stored one.
func (c *Catalog) processRow(row fileRow) (*media.File, error) {
	sha1, err := media.Base36ToBase16(row.sha1)
	if err != nil {
		return nil, fmt.Errorf("bad sha1 for %q: %v", row.uploadName, err)
	}
	storageName := row.storagePath
	if storageName == "" {
		storageName = row.uploadName
	}
	container, path, err := swift.NameToSwift(c.wiki, row.status, row.uploadName, storageName)
	if err != nil {
		return nil, fmt.Errorf("locating %q in production: %v", row.uploadName, err)
	}
	// double check the calculated name against the metadata db one
	if path != "" && storageName != "" && !strings.HasSuffix(path, storageName) {
		logger.Warn("retrieved storage name and calculated one do not match",
			"wiki", c.wiki, "stored", storageName, "calculated", path)
	}
	f := media.NewFile(c.wiki, row.uploadName, row.status)
	if row.fileType != "" {
		f.FileType = row.fileType
	}
	f.Size = row.size
	f.UploadTimestamp = row.uploadTimestamp
	f.ArchivedTimestamp = parseArchiveDate(row.status, row.archivedName, storageName)
	f.DeletedTimestamp = row.deletedTimestamp
	f.SHA1 = sha1
	f.StorageContainer = container
	f.StoragePath = path
	return f, nil
}

// parseArchiveDate recovers the archival time from an archive name of
// the form YYYYMMDDHHMMSS!title. Archived rows missing an archive name
// fall back to the storage name; a present but malformed date yields one
// second past the epoch.
func parseArchiveDate(status, archivedName, storageName string) *time.Time {
	name := archivedName
	if name == "" && status == media.StatusArchived {
		name = storageName
	}
	if name == "" {
		return nil
	}
	if date, _, found := strings.Cut(name, "!"); found {
		return media.ParseMWDate(date)
	}
	if status == media.StatusArchived {
		return media.ParseMWDate(name)
	}
	return nil
}

// UploadEvent identifies one revision reported by the upload log: the
// normalized title plus, when the log carries them, its timestamp and
// base-36 sha1.
type UploadEvent struct {
	Title           string
	SHA1            string
	UploadTimestamp *time.Time
}

// QueryFiles fetches the current production rows matching the given
// upload events. Events whose row is already gone, reuploaded over or
// deleted since the log was written, are skipped.
func (c *Catalog) QueryFiles(ctx context.Context, events []UploadEvent) ([]*media.File, error) {
	files := make([]*media.File, 0, len(events))
	for _, event := range events {
		if event.Title == "" {
			continue
		}
		matches, err := c.queryImageRows(ctx, event)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			logger.Debug("no production row found for upload", "wiki", c.wiki, "title", event.Title)
			continue
		}
		files = append(files, matches...)
	}
	return files, nil
}

func (c *Catalog) queryImageRows(ctx context.Context, event UploadEvent) ([]*media.File, error) {
	w := window{
		query: sources[TableImage].query + " WHERE img_name = ?",
		args:  []any{event.Title},
	}
	if event.UploadTimestamp != nil {
		w.query += " AND img_timestamp = ?"
		w.args = append(w.args, media.FormatMWDate(event.UploadTimestamp))
	}
	if event.SHA1 != "" {
		w.query += " AND img_sha1 = ?"
		w.args = append(w.args, event.SHA1)
	}
	rows, err := c.queryWindow(ctx, w)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []*media.File
	for rows.Next() {
		f, err := c.scanRow(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return files, nil
}
