package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/catalog"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/config"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/metadata"
)

// sourceTables are the production tables media files are discovered
// from, in scan order.
var sourceTables = []string{"image", "oldimage", "filearchive"}

// applyBatchFunc writes one batch of discovered files to the metadata
// database and returns how many rows it touched.
type applyBatchFunc func(ctx context.Context, store *metadata.Store, wiki string, batch []*media.File) (int, error)

// runMetadataScan walks every configured wiki and every source table,
// handing each batch of discovered files to apply. A wiki whose
// production database cannot be reached is skipped; a metadata write
// failure aborts the whole scan.
func runMetadataScan(command string, apply applyBatchFunc) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, logger.NewLogContext(command, uuid.NewString()))

	wikis, err := wikisToProcess(cfg)
	if err != nil {
		return err
	}
	logger.InfoCtx(ctx, "about to process wikis", logger.KeyRows, len(wikis))

	for _, wiki := range wikis {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := scanWiki(ctx, cfg, wiki, apply); err != nil {
			return err
		}
	}

	logger.InfoCtx(ctx, "finished processing all wikis")
	return nil
}

// scanWiki reads the three source tables of one wiki, writing batches
// through apply. Production and metadata sessions are opened per wiki,
// so a long multi-wiki scan survives idle disconnects.
func scanWiki(ctx context.Context, cfg *config.Config, wiki string, apply applyBatchFunc) error {
	wctx := logger.WithContext(ctx, logger.FromContext(ctx).WithWiki(wiki))
	logger.InfoCtx(wctx, "gathering metadata from wiki")

	prod := catalog.New(cfg.Production)
	if err := prod.Connect(wctx, wiki); err != nil {
		logger.ErrorCtx(wctx, "skipping processing of wiki", logger.Err(err))
		return nil
	}
	defer func() { _ = prod.Close() }()

	store := metadata.New(cfg.Metadata)
	if err := store.Connect(wctx); err != nil {
		return fmt.Errorf("connecting to the metadata database: %w", err)
	}
	defer func() { _ = store.Close() }()

	for _, table := range sourceTables {
		if err := scanTable(wctx, prod, store, wiki, table, apply); err != nil {
			return err
		}
	}

	logger.InfoCtx(wctx, "finished processing wiki")
	return nil
}

func scanTable(ctx context.Context, prod *catalog.Catalog, store *metadata.Store, wiki, table string, apply applyBatchFunc) error {
	logger.InfoCtx(ctx, "scanning table", logger.KeyTable, table)

	it, err := prod.ListFiles(ctx, table)
	if err != nil {
		return fmt.Errorf("listing %s files of %s: %w", table, wiki, err)
	}
	defer func() { _ = it.Close() }()

	for {
		batch, err := it.Next()
		if err != nil {
			return fmt.Errorf("reading %s rows of %s: %w", table, wiki, err)
		}
		if batch == nil {
			return nil
		}
		for _, f := range batch {
			logger.DebugCtx(ctx, "discovered file", logger.KeyFile, f.String())
		}
		written, err := apply(ctx, store, wiki, batch)
		if err != nil {
			return err
		}
		logger.InfoCtx(ctx, "batch written to the metadata database",
			logger.KeyTable, table, logger.KeyRows, written)
	}
}
