package desk

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/koustreak/bucketdesk/internal/actions"
	"github.com/koustreak/bucketdesk/internal/errs"
	"github.com/koustreak/bucketdesk/internal/filestore"
	"github.com/koustreak/bucketdesk/internal/filestore/memory"
	"github.com/koustreak/bucketdesk/internal/journal"
	"github.com/koustreak/bucketdesk/internal/listing"
	"github.com/koustreak/bucketdesk/internal/logger"
	"github.com/koustreak/bucketdesk/internal/notify"
	"github.com/koustreak/bucketdesk/internal/selection"
	"github.com/koustreak/bucketdesk/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucket = "desk"

func testConfig() Config {
	up := upload.DefaultConfig()
	up.RefreshDelay = 0
	return Config{
		Bucket:  bucket,
		Upload:  up,
		Listing: listing.DefaultConfig(),
		Actions: actions.DefaultConfig(),
	}
}

func newDesk(t *testing.T, buckets ...string) (*Desk, *memory.Store, *journal.Memory) {
	t.Helper()

	var store *memory.Store
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store.Handler().ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	if buckets == nil {
		buckets = []string{bucket}
	}
	store, err := memory.New(srv.URL+"/_blob", buckets...)
	require.NoError(t, err)

	j := journal.NewMemory(50)
	d := New(store, testConfig(),
		WithJournal(j),
		WithLogger(logger.Nop()),
		WithHTTPClient(srv.Client()),
	)
	t.Cleanup(d.Close)
	return d, store, j
}

func seed(t *testing.T, store *memory.Store, key, body string) {
	t.Helper()
	require.NoError(t, store.PutObject(context.Background(), bucket, key,
		strings.NewReader(body), int64(len(body)), filestore.PutOptions{}))
}

func file(name, body string) selection.PendingFile {
	return selection.PendingFile{Name: name, Size: int64(len(body)), Source: selection.BytesSource(body)}
}

func messages(ns []notify.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Message
	}
	return out
}

func cardKeys(l listing.Listing) []string {
	out := make([]string, 0, len(l.Cards))
	for _, c := range l.Cards {
		if c.Visible {
			out = append(out, c.Key)
		}
	}
	return out
}

func TestStart_LoadsListing(t *testing.T) {
	d, store, _ := newDesk(t)
	seed(t, store, "docs/a.txt", "aaa")
	seed(t, store, "docs/", "")

	require.NoError(t, d.Start(context.Background()))

	v := d.View()
	assert.Equal(t, listing.StateReady, v.Listing.State)
	assert.Equal(t, []string{"docs/a.txt"}, cardKeys(v.Listing))
	assert.Equal(t, "uploads/", v.DefaultPrefix)
	assert.False(t, v.UploadEnabled)
	assert.False(t, v.Loading)
}

func TestStart_FailsWithoutBucketAccess(t *testing.T) {
	d, _, _ := newDesk(t, "some-other-bucket")

	err := d.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))

	v := d.View()
	require.Len(t, v.Notifications, 1)
	assert.Equal(t, notify.LevelError, v.Notifications[0].Level)
	assert.True(t, strings.HasPrefix(v.Notifications[0].Message, "Error accessing bucket: "))
}

func TestNotifications_AreLogged(t *testing.T) {
	var buf bytes.Buffer
	store, err := memory.New("http://localhost/_blob")
	require.NoError(t, err)
	d := New(store, testConfig(), WithLogger(logger.New(&logger.Config{Level: "debug", Output: &buf})))

	require.Error(t, d.Start(context.Background()))
	assert.Contains(t, buf.String(), `"component":"desk"`)
	assert.Contains(t, buf.String(), `"message":"notification"`)
	assert.Contains(t, buf.String(), `"text":"Error accessing bucket`)
	assert.Len(t, d.View().Notifications, 1)
}

func TestDispatch_LateToastsAreDelivered(t *testing.T) {
	_, store, _ := newDesk(t)
	ctx := context.Background()

	// Toasts expire long before the batch ends.
	cfg := testConfig()
	cfg.NotifyTTL = time.Millisecond
	cfg.Upload.RefreshDelay = 20 * time.Millisecond
	d := New(store, cfg, WithLogger(logger.Nop()))
	t.Cleanup(d.Close)
	require.NoError(t, d.Start(ctx))

	_, err := d.Dispatch(ctx, AddFiles{Files: []selection.PendingFile{file("a.txt", "a"), file("b.txt", "b")}})
	require.NoError(t, err)
	store.InjectError(memory.OpPut, "uploads/b.txt", errs.New(errs.ErrKindQueryFailed, "unexpected EOF"))

	v, err := d.Dispatch(ctx, Upload{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Error uploading b.txt: [query_failed] unexpected EOF",
		"Successfully uploaded 1 file(s)",
		"Failed to upload 1 file(s)",
	}, messages(v.Notifications))
}

func TestDispatch_SelectionCommands(t *testing.T) {
	d, _, _ := newDesk(t)
	ctx := context.Background()

	v, err := d.Dispatch(ctx, AddFiles{Files: []selection.PendingFile{file("a.png", "12345"), file("b.txt", "1")}})
	require.NoError(t, err)
	assert.Equal(t, 2, v.Result.Added)
	require.Len(t, v.Pending, 2)
	assert.Equal(t, PendingView{Name: "a.png", Size: 5, SizeLabel: "5 Bytes", Icon: "fa-file-image"}, v.Pending[0])
	assert.True(t, v.UploadEnabled)

	v, _ = d.Dispatch(ctx, AddFiles{Files: []selection.PendingFile{file("a.png", "other")}})
	assert.Equal(t, 0, v.Result.Added)
	assert.Len(t, v.Pending, 2)

	v, _ = d.Dispatch(ctx, RemoveFile{Name: "a.png"})
	assert.Len(t, v.Pending, 1)
	v, _ = d.Dispatch(ctx, RemoveFile{Name: "not-there"})
	assert.Len(t, v.Pending, 1)

	v, _ = d.Dispatch(ctx, ClearSelection{})
	assert.Empty(t, v.Pending)
	assert.False(t, v.UploadEnabled)
}

func TestDispatch_UploadRefreshesListing(t *testing.T) {
	d, store, j := newDesk(t)
	ctx := context.Background()
	require.NoError(t, d.Start(ctx))

	_, err := d.Dispatch(ctx, AddFiles{Files: []selection.PendingFile{file("a.txt", "a"), file("b.txt", "b"), file("c.txt", "c")}})
	require.NoError(t, err)
	store.InjectError(memory.OpPut, "team/b.txt", errs.New(errs.ErrKindPermissionDenied, "AccessDenied"))

	v, err := d.Dispatch(ctx, Upload{Prefix: "/team/"})
	require.NoError(t, err)

	require.NotNil(t, v.Result.Upload)
	assert.Equal(t, 2, v.Result.Upload.Succeeded)
	assert.Equal(t, 1, v.Result.Upload.Failed)
	assert.Empty(t, v.Pending)
	assert.Equal(t, []string{"team/a.txt", "team/c.txt"}, cardKeys(v.Listing))
	assert.Equal(t, []string{
		"Error uploading b.txt: [permission_denied] AccessDenied",
		"Successfully uploaded 2 file(s)",
		"Failed to upload 1 file(s)",
	}, messages(v.Notifications))

	recent, _ := j.Recent(ctx, 10)
	assert.Len(t, recent, 3)

	// notifications are delivered once
	assert.Empty(t, d.View().Notifications)
}

func TestDispatch_SearchThenRefresh(t *testing.T) {
	d, store, _ := newDesk(t)
	ctx := context.Background()
	seed(t, store, "reports/Q1_report.pdf", "pdf")
	seed(t, store, "img/cat.png", "png")
	require.NoError(t, d.Start(ctx))

	v, err := d.Dispatch(ctx, Search{Query: "REPORT"})
	require.NoError(t, err)
	assert.Equal(t, "REPORT", v.Query)
	assert.Equal(t, []string{"reports/Q1_report.pdf"}, cardKeys(v.Listing))

	v, _ = d.Dispatch(ctx, Search{Query: "rpt"})
	assert.Empty(t, cardKeys(v.Listing))

	v, _ = d.Dispatch(ctx, Refresh{})
	assert.Len(t, cardKeys(v.Listing), 2, "a refresh shows every card again")
	assert.Equal(t, "rpt", v.Query, "the query text stays in the search box")
}

func TestDispatch_DeleteNeedsConfirmation(t *testing.T) {
	d, store, _ := newDesk(t)
	ctx := context.Background()
	seed(t, store, "docs/a.txt", "a")
	require.NoError(t, d.Start(ctx))

	v, err := d.Dispatch(ctx, Delete{Key: "docs/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, `Are you sure you want to delete "a.txt"?`, v.Result.ConfirmPrompt)
	assert.False(t, v.Result.Deleted)
	assert.Zero(t, store.Calls(memory.OpDelete))

	v, err = d.Dispatch(ctx, Delete{Key: "docs/a.txt", Confirmed: true})
	require.NoError(t, err)
	assert.True(t, v.Result.Deleted)
	assert.Equal(t, listing.StateEmpty, v.Listing.State)
	assert.Equal(t, []string{actions.MsgDeleted}, messages(v.Notifications))
}

func TestDispatch_DeleteThenListingFailure(t *testing.T) {
	d, store, _ := newDesk(t)
	ctx := context.Background()
	seed(t, store, "docs/a.txt", "a")
	seed(t, store, "docs/b.txt", "b")
	require.NoError(t, d.Start(ctx))

	store.InjectError(memory.OpList, "", errs.New(errs.ErrKindConnectionFailed, "network down"))
	v, err := d.Dispatch(ctx, Delete{Key: "docs/a.txt", Confirmed: true})
	require.NoError(t, err, "the delete itself succeeded")
	assert.Equal(t, listing.StateFailed, v.Listing.State)
	assert.Contains(t, v.Listing.Message, "network down")
}

func TestDispatch_OpenAndDownload(t *testing.T) {
	d, store, _ := newDesk(t)
	ctx := context.Background()
	seed(t, store, "docs/a.txt", "hello")
	require.NoError(t, d.Start(ctx))

	v, err := d.Dispatch(ctx, Open{Key: "docs/a.txt"})
	require.NoError(t, err)
	assert.Contains(t, v.Result.OpenURL, "signature=")

	var buf bytes.Buffer
	v, err = d.Dispatch(ctx, Download{Key: "docs/a.txt", W: &buf})
	require.NoError(t, err)
	assert.Equal(t, "a.txt", v.Result.DownloadName)
	assert.Equal(t, "hello", buf.String())

	v, err = d.Dispatch(ctx, Download{Key: "docs/missing.txt", W: &buf})
	require.Error(t, err)
	assert.Nil(t, v.Result)
	assert.Contains(t, messages(v.Notifications), actions.MsgDownloadFailed)
}

func TestDo_KeepsNotificationsQueued(t *testing.T) {
	d, store, _ := newDesk(t)
	ctx := context.Background()
	seed(t, store, "b.txt", "bee")
	require.NoError(t, d.Start(ctx))

	var buf bytes.Buffer
	res, err := d.Do(ctx, Download{Key: "b.txt", W: &buf})
	require.NoError(t, err)
	assert.Equal(t, "b.txt", res.DownloadName)

	v := d.View()
	assert.Equal(t, []string{actions.MsgDownloadStarted}, messages(v.Notifications))
}

type bogus struct{}

func (bogus) command() {}

func TestDispatch_UnknownCommand(t *testing.T) {
	d, _, _ := newDesk(t)
	_, err := d.Dispatch(context.Background(), bogus{})
	assert.True(t, errs.IsInvalidInput(err))
}
