package updater

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/catalog"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/media"
)

type fakeCatalog struct {
	mu       sync.Mutex
	batches  [][]catalog.UploadEvent
	files    []*media.File
	queryErr error
	connects int
	closes   int
}

func (c *fakeCatalog) Connect(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return nil
}

func (c *fakeCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeCatalog) QueryFiles(_ context.Context, events []catalog.UploadEvent) ([]*media.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	c.batches = append(c.batches, events)
	return c.files, nil
}

type fakeUpdaterMetadata struct {
	mu        sync.Mutex
	watermark *time.Time
	updates   [][]*media.File
	updateErr error
	connects  int
	closes    int
}

func (m *fakeUpdaterMetadata) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	return nil
}

func (m *fakeUpdaterMetadata) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *fakeUpdaterMetadata) GetLatestUploadTime(_ context.Context, _ string) (*time.Time, error) {
	return m.watermark, nil
}

func (m *fakeUpdaterMetadata) CheckAndUpdate(_ context.Context, _ string, files []*media.File) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return 0, m.updateErr
	}
	m.updates = append(m.updates, files)
	return len(files), nil
}

const (
	firstPage = `{"query":{"logevents":[` +
		`{"title":"File:First upload.png","params":{"img_sha1":"56le7dx4g21ssp3jyb0xc8a5vlk4fjt","img_timestamp":"2023-01-31T21:34:56Z"}}` +
		`]},"continue":{"lecontinue":"20230131213456|42","continue":"-||"}}`
	lastPage = `{"batchcomplete":"","query":{"logevents":[{"title":"File:Second.jpg"}]}}`
)

func watermark(t *testing.T) *time.Time {
	t.Helper()
	ts := time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC)
	return &ts
}

func TestCycleFollowsContinueTokens(t *testing.T) {
	var lestart, agent, continueToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lestart = q.Get("lestart")
		agent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		if q.Get("lecontinue") == "" {
			fmt.Fprint(w, firstPage)
			return
		}
		continueToken = q.Get("lecontinue")
		fmt.Fprint(w, lastPage)
	}))
	t.Cleanup(srv.Close)

	cat := &fakeCatalog{}
	meta := &fakeUpdaterMetadata{watermark: watermark(t)}
	u := &Updater{
		Catalog:   cat,
		Metadata:  meta,
		Wiki:      "commonswiki",
		APIURL:    srv.URL,
		UserAgent: "mediabackups https://phabricator.wikimedia.org/diffusion/OSWB/",
	}

	require.NoError(t, u.cycle(context.Background()))

	assert.Equal(t, "2023-01-31T00:00:00Z", lestart)
	assert.Equal(t, "mediabackups https://phabricator.wikimedia.org/diffusion/OSWB/", agent)
	assert.Equal(t, "20230131213456|42", continueToken)

	// one production lookup and one reconciliation per page
	require.Len(t, cat.batches, 2)
	assert.Len(t, meta.updates, 2)

	first := cat.batches[0][0]
	assert.Equal(t, "First_upload.png", first.Title)
	assert.Equal(t, "56le7dx4g21ssp3jyb0xc8a5vlk4fjt", first.SHA1)
	require.NotNil(t, first.UploadTimestamp)
	assert.Equal(t, time.Date(2023, 1, 31, 21, 34, 56, 0, time.UTC), *first.UploadTimestamp)

	second := cat.batches[1][0]
	assert.Equal(t, "Second.jpg", second.Title)
	assert.Empty(t, second.SHA1)
	assert.Nil(t, second.UploadTimestamp)

	// connections are scoped to the cycle
	assert.Equal(t, 1, cat.connects)
	assert.Equal(t, 1, cat.closes)
	assert.Equal(t, 1, meta.connects)
	assert.Equal(t, 1, meta.closes)
}

func TestCycleWithoutWatermarkPollsFromNow(t *testing.T) {
	var lestart string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lestart = r.URL.Query().Get("lestart")
		fmt.Fprint(w, `{"query":{"logevents":[]}}`)
	}))
	t.Cleanup(srv.Close)

	u := &Updater{Catalog: &fakeCatalog{}, Metadata: &fakeUpdaterMetadata{}, Wiki: "commonswiki", APIURL: srv.URL}
	require.NoError(t, u.cycle(context.Background()))

	parsed, err := time.Parse(time.RFC3339, lestart)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
}

func TestCycleStopsOnUnparseableAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<html>upstream connect error</html>")
	}))
	t.Cleanup(srv.Close)

	cat := &fakeCatalog{}
	u := &Updater{Catalog: cat, Metadata: &fakeUpdaterMetadata{watermark: watermark(t)}, Wiki: "commonswiki", APIURL: srv.URL}

	// the round ends quietly, the next cycle retries from the watermark
	require.NoError(t, u.cycle(context.Background()))
	assert.Empty(t, cat.batches)
}

func TestCycleLogsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"code":"maxlag","info":"Waiting for a database server"}}`)
	}))
	t.Cleanup(srv.Close)

	cat := &fakeCatalog{}
	u := &Updater{Catalog: cat, Metadata: &fakeUpdaterMetadata{watermark: watermark(t)}, Wiki: "commonswiki", APIURL: srv.URL}

	require.NoError(t, u.cycle(context.Background()))
	assert.Empty(t, cat.batches)
}

func TestCycleReconcileFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, lastPage)
	}))
	t.Cleanup(srv.Close)

	meta := &fakeUpdaterMetadata{watermark: watermark(t), updateErr: errors.New("deadlock found")}
	u := &Updater{Catalog: &fakeCatalog{}, Metadata: meta, Wiki: "commonswiki", APIURL: srv.URL}

	err := u.cycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconciling recent uploads")
}

func TestCycleProductionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, lastPage)
	}))
	t.Cleanup(srv.Close)

	cat := &fakeCatalog{queryErr: errors.New("connection refused")}
	u := &Updater{Catalog: cat, Metadata: &fakeUpdaterMetadata{watermark: watermark(t)}, Wiki: "commonswiki", APIURL: srv.URL}

	err := u.cycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "querying production")
}

func TestRunStopsWhenCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"query":{"logevents":[]}}`)
	}))
	t.Cleanup(srv.Close)

	cat := &fakeCatalog{}
	u := &Updater{
		Catalog:  cat,
		Metadata: &fakeUpdaterMetadata{watermark: watermark(t)},
		Wiki:     "commonswiki",
		APIURL:   srv.URL,
		APIWait:  5 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()
	err := u.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	cat.mu.Lock()
	defer cat.mu.Unlock()
	assert.GreaterOrEqual(t, cat.connects, 1)
	assert.Equal(t, cat.connects, cat.closes)
}

func TestToUploadEvent(t *testing.T) {
	e := logEvent{Title: "File:A B.png"}
	event := e.toUploadEvent()
	assert.Equal(t, "A_B.png", event.Title)
	assert.Empty(t, event.SHA1)
	assert.Nil(t, event.UploadTimestamp)
}
