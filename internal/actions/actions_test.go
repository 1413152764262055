package actions

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koustreak/bucketdesk/internal/errs"
	"github.com/koustreak/bucketdesk/internal/filestore"
	"github.com/koustreak/bucketdesk/internal/filestore/memory"
	"github.com/koustreak/bucketdesk/internal/journal"
	"github.com/koustreak/bucketdesk/internal/logger"
	"github.com/koustreak/bucketdesk/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucket = "desk"

type fixture struct {
	store     *memory.Store
	svc       *Service
	messages  []string
	refreshes int
	journal   *journal.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var store *memory.Store
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store.Handler().ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	store, err := memory.New(srv.URL+"/_blob", bucket)
	require.NoError(t, err)

	f := &fixture{store: store, journal: journal.NewMemory(10)}
	f.svc = New(store, bucket, DefaultConfig(),
		WithHTTPClient(srv.Client()),
		WithNotifier(notify.NotifierFunc(func(_ notify.Level, m string) { f.messages = append(f.messages, m) })),
		WithRefresher(RefreshFunc(func(context.Context) { f.refreshes++ })),
		WithJournal(f.journal),
		WithLogger(logger.Nop()),
	)
	return f
}

func (f *fixture) put(t *testing.T, key, body string) {
	t.Helper()
	require.NoError(t, f.store.PutObject(context.Background(), bucket, key, strings.NewReader(body),
		int64(len(body)), filestore.PutOptions{ContentType: "text/plain"}))
}

func TestConfirmPrompt(t *testing.T) {
	assert.Equal(t, `Are you sure you want to delete "q1.pdf"?`, ConfirmPrompt("reports/2024/q1.pdf"))
	assert.Equal(t, `Are you sure you want to delete "top.txt"?`, ConfirmPrompt("top.txt"))
}

func TestDownload_StreamsThroughSignedURL(t *testing.T) {
	f := newFixture(t)
	f.put(t, "docs/report final.txt", "quarterly numbers")

	var buf bytes.Buffer
	name, err := f.svc.Download(context.Background(), "docs/report final.txt", &buf)
	require.NoError(t, err)

	assert.Equal(t, "report final.txt", name)
	assert.Equal(t, "quarterly numbers", buf.String())
	assert.Equal(t, []string{MsgDownloadStarted}, f.messages)
	assert.Equal(t, 1, f.store.Calls(memory.OpPresign))
}

func TestDownload_MissingObject(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	name, err := f.svc.Download(context.Background(), "docs/gone.txt", &buf)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
	assert.Empty(t, name)
	assert.Zero(t, buf.Len())
	assert.Equal(t, []string{MsgDownloadFailed}, f.messages)
}

func TestDownload_PresignFailure(t *testing.T) {
	f := newFixture(t)
	f.store.InjectError(memory.OpPresign, "", errs.New(errs.ErrKindPermissionDenied, "AccessDenied"))

	_, err := f.svc.Download(context.Background(), "a.txt", &bytes.Buffer{})
	assert.True(t, errs.IsPermissionDenied(err))
	assert.Equal(t, []string{MsgDownloadFailed}, f.messages)
}

func TestOpen(t *testing.T) {
	f := newFixture(t)
	f.put(t, "img/cat.png", "meow")

	link, err := f.svc.Open(context.Background(), "img/cat.png")
	require.NoError(t, err)
	assert.Contains(t, link, "/_blob/desk/img/cat.png")
	assert.Contains(t, link, "signature=")
	assert.Equal(t, []string{MsgOpening}, f.messages)

	f.store.InjectError(memory.OpPresign, "img/cat.png", errs.New(errs.ErrKindConnectionFailed, "down"))
	_, err = f.svc.Open(context.Background(), "img/cat.png")
	require.Error(t, err)
	assert.Equal(t, MsgOpenFailed, f.messages[len(f.messages)-1])
}

func TestDelete_WithoutConfirmationSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.put(t, "docs/a.txt", "a")

	deleted, err := f.svc.Delete(context.Background(), "docs/a.txt", false)
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.Zero(t, f.store.Calls(memory.OpDelete))
	assert.Zero(t, f.refreshes)
	assert.Empty(t, f.messages)
	_, ok := f.store.Get(bucket, "docs/a.txt")
	assert.True(t, ok)
}

func TestDelete_ConfirmedRefreshes(t *testing.T) {
	f := newFixture(t)
	f.put(t, "docs/a.txt", "a")

	deleted, err := f.svc.Delete(context.Background(), "docs/a.txt", true)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok := f.store.Get(bucket, "docs/a.txt")
	assert.False(t, ok)
	assert.Equal(t, 1, f.refreshes)
	assert.Equal(t, []string{MsgDeleted}, f.messages)

	recent, _ := f.journal.Recent(context.Background(), 1)
	require.Len(t, recent, 1)
	assert.Equal(t, journal.OpDelete, recent[0].Op)
	assert.True(t, recent[0].Succeeded)
}

func TestDelete_FailureSkipsRefresh(t *testing.T) {
	f := newFixture(t)
	f.store.InjectError(memory.OpDelete, "docs/a.txt", errs.New(errs.ErrKindPermissionDenied, "AccessDenied"))

	deleted, err := f.svc.Delete(context.Background(), "docs/a.txt", true)
	require.Error(t, err)
	assert.False(t, deleted)
	assert.Zero(t, f.refreshes)
	assert.Equal(t, []string{MsgDeleteFailed}, f.messages)

	recent, _ := f.journal.Recent(context.Background(), 1)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Succeeded)
}
