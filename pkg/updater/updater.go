// Package updater keeps the backup metadata of one wiki in sync with
// its most recent uploads. It polls the MediaWiki log-events API from
// the last upload already on record, resolves each reported upload
// against the production database and feeds new or changed revisions
// back into the pending backup queue.
package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/catalog"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
)

// DefaultAPIURL is polled when no endpoint is configured. commonswiki
// is the only wiki with enough upload traffic to need incremental
// updates, so its API is the default.
const DefaultAPIURL = "https://commons.wikimedia.org/w/api.php"

// requestTimeout bounds each API request.
const requestTimeout = 30 * time.Second

// Catalog is the production database surface uploads are resolved
// against.
type Catalog interface {
	Connect(ctx context.Context, wiki string) error
	Close() error
	QueryFiles(ctx context.Context, events []catalog.UploadEvent) ([]*media.File, error)
}

// Metadata is the backup metadata surface: the polling watermark and
// the reconciler that queues new work.
type Metadata interface {
	Connect(ctx context.Context) error
	Close() error
	GetLatestUploadTime(ctx context.Context, wiki string) (*time.Time, error)
	CheckAndUpdate(ctx context.Context, wiki string, files []*media.File) (int, error)
}

// Updater monitors the upload log of one wiki until stopped.
type Updater struct {
	Catalog  Catalog
	Metadata Metadata

	// Wiki is the database name of the monitored wiki.
	Wiki string

	// APIURL is the api.php endpoint to poll. Empty means DefaultAPIURL.
	APIURL string

	// UserAgent identifies the tool on API requests.
	UserAgent string

	// APIWait is the pause between polling cycles.
	APIWait time.Duration

	// BatchWait is the pause between continuation pages within a cycle.
	BatchWait time.Duration

	// Client performs the API requests. Nil means a default client
	// bounded by requestTimeout.
	Client *http.Client
}

// apiResponse is the subset of the action=query answer the updater
// reads. Continue values are kept opaque and echoed back verbatim.
type apiResponse struct {
	Error    map[string]any `json:"error"`
	Warnings map[string]any `json:"warnings"`
	Continue map[string]any `json:"continue"`
	Query    *struct {
		LogEvents []logEvent `json:"logevents"`
	} `json:"query"`
}

// logEvent is one upload as reported by list=logevents. Params are
// missing when the event was suppressed or predates the log format.
type logEvent struct {
	Title  string `json:"title"`
	Params *struct {
		ImgSHA1      string `json:"img_sha1"`
		ImgTimestamp string `json:"img_timestamp"`
	} `json:"params"`
}

// Run polls for new uploads until the context is cancelled, pausing
// APIWait between cycles. Production and metadata connections are
// reopened every cycle, so a run survives replica switchovers.
func (u *Updater) Run(ctx context.Context) error {
	ctx = logger.WithContext(ctx,
		logger.NewLogContext("update", uuid.NewString()).WithWiki(u.Wiki))
	logger.InfoCtx(ctx, "monitoring recent uploads", logger.KeyURL, u.apiURL())
	for {
		if err := u.cycle(ctx); err != nil {
			return err
		}
		if err := sleep(ctx, u.APIWait); err != nil {
			return err
		}
	}
}

// cycle runs one full pass over the upload log: everything newer than
// the most recent upload already stored, page by page.
func (u *Updater) cycle(ctx context.Context) error {
	if err := u.Catalog.Connect(ctx, u.Wiki); err != nil {
		return fmt.Errorf("connecting to the production database: %w", err)
	}
	defer u.Catalog.Close()
	if err := u.Metadata.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to the metadata database: %w", err)
	}
	defer u.Metadata.Close()

	watermark, err := u.Metadata.GetLatestUploadTime(ctx, u.Wiki)
	if err != nil {
		return fmt.Errorf("reading the upload watermark: %w", err)
	}
	since := time.Now().UTC()
	if watermark != nil {
		since = *watermark
	} else {
		logger.WarnCtx(ctx, "no uploads recorded yet for this wiki, polling from now")
	}

	var cont map[string]any
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := u.fetchPage(ctx, since, cont)
		if err != nil {
			// A failed or unparseable answer ends the round; the next
			// cycle retries from the stored watermark.
			logger.ErrorCtx(ctx, "polling round aborted", logger.Err(err))
			return nil
		}
		if len(result.Error) > 0 {
			logger.ErrorCtx(ctx, "error returned by the api call", "api_error", fmt.Sprint(result.Error))
		}
		if len(result.Warnings) > 0 {
			logger.WarnCtx(ctx, "warnings returned by the api call", "api_warnings", fmt.Sprint(result.Warnings))
		}
		if result.Query != nil {
			if err := u.processBatch(ctx, result.Query.LogEvents); err != nil {
				return err
			}
			if err := sleep(ctx, u.BatchWait); err != nil {
				return err
			}
		}
		if len(result.Continue) == 0 {
			return nil
		}
		cont = result.Continue
	}
}

// processBatch resolves one page of upload events against production
// and reconciles the matches into the metadata.
func (u *Updater) processBatch(ctx context.Context, uploads []logEvent) error {
	events := make([]catalog.UploadEvent, 0, len(uploads))
	for _, upload := range uploads {
		events = append(events, upload.toUploadEvent())
	}
	files, err := u.Catalog.QueryFiles(ctx, events)
	if err != nil {
		return fmt.Errorf("querying production for recent uploads: %w", err)
	}
	changed, err := u.Metadata.CheckAndUpdate(ctx, u.Wiki, files)
	if err != nil {
		return fmt.Errorf("reconciling recent uploads: %w", err)
	}
	logger.InfoCtx(ctx, "upload batch reconciled",
		"events", len(events), "files", len(files), "changed", changed)
	return nil
}

// fetchPage requests one page of upload events, echoing back the
// continuation parameters of the previous page.
func (u *Updater) fetchPage(ctx context.Context, since time.Time, cont map[string]any) (*apiResponse, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "logevents")
	params.Set("letype", "upload")
	params.Set("leprop", "title|timestamp|user|comment|details")
	params.Set("format", "json")
	params.Set("ledir", "newer")
	params.Set("lestart", since.UTC().Format(time.RFC3339))
	params.Set("lelimit", "max")
	for k, v := range cont {
		params.Set(k, fmt.Sprint(v))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.apiURL()+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building the api request: %w", err)
	}
	if u.UserAgent != "" {
		req.Header.Set("User-Agent", u.UserAgent)
	}
	client := u.Client
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying the upload log: %w", err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding the api response: %w", err)
	}
	return &result, nil
}

func (u *Updater) apiURL() string {
	if u.APIURL != "" {
		return u.APIURL
	}
	return DefaultAPIURL
}

// toUploadEvent normalizes the log entry into the production query
// shape. The sha1 stays in base 36, which is how the image table
// stores it.
func (e logEvent) toUploadEvent() catalog.UploadEvent {
	event := catalog.UploadEvent{Title: media.NormalizeTitle(e.Title)}
	if e.Params == nil {
		return event
	}
	event.SHA1 = e.Params.ImgSHA1
	if e.Params.ImgTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339, e.Params.ImgTimestamp); err == nil {
			ts = ts.UTC()
			event.UploadTimestamp = &ts
		}
	}
	return event
}

// sleep waits for the given duration unless the context ends first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
