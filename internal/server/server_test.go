package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/koustreak/bucketdesk/internal/actions"
	"github.com/koustreak/bucketdesk/internal/config"
	"github.com/koustreak/bucketdesk/internal/desk"
	"github.com/koustreak/bucketdesk/internal/filestore"
	"github.com/koustreak/bucketdesk/internal/filestore/memory"
	"github.com/koustreak/bucketdesk/internal/journal"
	"github.com/koustreak/bucketdesk/internal/listing"
	"github.com/koustreak/bucketdesk/internal/logger"
	"github.com/koustreak/bucketdesk/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucket = "web"

type harness struct {
	srv     *Server
	ts      *httptest.Server
	store   *memory.Store
	journal *journal.Memory
	client  *http.Client
}

func newHarness(t *testing.T, buckets ...string) *harness {
	t.Helper()

	ts := httptest.NewUnstartedServer(nil)
	base := "http://" + ts.Listener.Addr().String()
	if buckets == nil {
		buckets = []string{bucket}
	}
	store, err := memory.New(base+DefaultBlobPath, buckets...)
	require.NoError(t, err)

	up := upload.DefaultConfig()
	up.RefreshDelay = 0
	j := journal.NewMemory(50)
	srv := New(config.Default().Server, store, desk.Config{
		Bucket:  bucket,
		Upload:  up,
		Listing: listing.DefaultConfig(),
		Actions: actions.DefaultConfig(),
	}, WithJournal(j), WithLogger(logger.Nop()))

	ts.Config.Handler = srv.Handler()
	ts.Start()
	t.Cleanup(func() {
		ts.Close()
		srv.sessions.closeAll()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &harness{
		srv:     srv,
		ts:      ts,
		store:   store,
		journal: j,
		client:  &http.Client{Jar: jar, Timeout: 5 * time.Second},
	}
}

func (h *harness) seed(t *testing.T, key, body string) {
	t.Helper()
	require.NoError(t, h.store.PutObject(context.Background(), bucket, key,
		strings.NewReader(body), int64(len(body)), filestore.PutOptions{}))
}

func (h *harness) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.ts.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeView(t *testing.T, resp *http.Response) desk.View {
	t.Helper()
	var v desk.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var e errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

type part struct {
	name, contentType, body string
}

func multipartBody(t *testing.T, parts ...part) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="files"; filename="`+p.name+`"`)
		if p.contentType != "" {
			hdr.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = io.WriteString(w, p.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func keys(v desk.View) []string {
	out := make([]string, len(v.Listing.Cards))
	for i, c := range v.Listing.Cards {
		out[i] = c.Key
	}
	return out
}

func TestServer_StateStartsOneSession(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "docs/a.txt", "alpha")

	resp := h.do(t, http.MethodGet, "/api/state", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decodeView(t, resp)
	assert.Equal(t, bucket, v.Bucket)
	assert.Equal(t, listing.StateReady, v.Listing.State)
	assert.Equal(t, []string{"docs/a.txt"}, keys(v))
	assert.False(t, v.UploadEnabled)

	u, _ := url.Parse(h.ts.URL)
	cookies := h.client.Jar.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)

	h.do(t, http.MethodGet, "/api/state", nil, "")
	assert.Equal(t, 1, h.srv.sessions.count())
}

func TestServer_StartFailureReportsBucketError(t *testing.T) {
	h := newHarness(t, "other")

	resp := h.do(t, http.MethodGet, "/api/state", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	e := decodeError(t, resp)
	assert.Equal(t, "not_found", e.Kind)
	require.NotNil(t, e.View)
	require.NotEmpty(t, e.View.Notifications)
	assert.Contains(t, e.View.Notifications[0].Message, "Error accessing bucket")
	assert.Zero(t, h.srv.sessions.count())
}

func TestServer_SelectAndUpload(t *testing.T) {
	h := newHarness(t)

	body, ct := multipartBody(t,
		part{name: "a.txt", contentType: "text/plain", body: "alpha"},
		part{name: "b.json", contentType: "application/octet-stream", body: `{"b":1}`},
	)
	resp := h.do(t, http.MethodPost, "/api/selection", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decodeView(t, resp)
	require.Len(t, v.Pending, 2)
	assert.Equal(t, "a.txt", v.Pending[0].Name)
	assert.Equal(t, int64(5), v.Pending[0].Size)
	assert.True(t, v.UploadEnabled)
	require.NotNil(t, v.Result)
	assert.Equal(t, 2, v.Result.Added)

	form := strings.NewReader(url.Values{"prefix": {"reports"}}.Encode())
	resp = h.do(t, http.MethodPost, "/api/upload", form, "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v = decodeView(t, resp)
	require.NotNil(t, v.Result)
	require.NotNil(t, v.Result.Upload)
	assert.Equal(t, 2, v.Result.Upload.Succeeded)
	assert.Empty(t, v.Pending)
	assert.ElementsMatch(t, []string{"reports/a.txt", "reports/b.json"}, keys(v))

	data, ok := h.store.Get(bucket, "reports/a.txt")
	require.True(t, ok)
	assert.Equal(t, "alpha", string(data))
	assert.Equal(t, "text/plain", h.store.ContentType(bucket, "reports/a.txt"))
	assert.Equal(t, "application/json", h.store.ContentType(bucket, "reports/b.json"))
}

func TestServer_SelectionRemoveAndClear(t *testing.T) {
	h := newHarness(t)

	body, ct := multipartBody(t,
		part{name: "one.txt", body: "1"},
		part{name: "two words.txt", body: "2"},
		part{name: "three.txt", body: "3"},
	)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/selection", body, ct).StatusCode)

	resp := h.do(t, http.MethodDelete, "/api/selection/"+url.PathEscape("two words.txt"), nil, "")
	v := decodeView(t, resp)
	require.Len(t, v.Pending, 2)
	assert.Equal(t, "one.txt", v.Pending[0].Name)
	assert.Equal(t, "three.txt", v.Pending[1].Name)

	v = decodeView(t, h.do(t, http.MethodDelete, "/api/selection", nil, ""))
	assert.Empty(t, v.Pending)
	assert.False(t, v.UploadEnabled)
}

func TestServer_SelectionRejectsEmptyForm(t *testing.T) {
	h := newHarness(t)

	body, ct := multipartBody(t)
	resp := h.do(t, http.MethodPost, "/api/selection", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", decodeError(t, resp).Kind)
}

func TestServer_Search(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "q1/Report.pdf", "r")
	h.seed(t, "q1/photo.png", "p")

	v := decodeView(t, h.do(t, http.MethodGet, "/api/search?q=REP", nil, ""))
	assert.Equal(t, "REP", v.Query)
	for _, c := range v.Listing.Cards {
		assert.Equal(t, c.Key == "q1/Report.pdf", c.Visible, c.Key)
	}
}

func TestServer_Download(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "docs/notes.txt", "hello there")

	resp := h.do(t, http.MethodGet, "/api/objects/download?key="+url.QueryEscape("docs/notes.txt"), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename=notes.txt`, resp.Header.Get("Content-Disposition"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(data))

	v := decodeView(t, h.do(t, http.MethodGet, "/api/state", nil, ""))
	require.NotEmpty(t, v.Notifications)
	assert.Equal(t, actions.MsgDownloadStarted, v.Notifications[len(v.Notifications)-1].Message)
}

func TestServer_DownloadMissingIsJSON(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/api/objects/download?key=nope.txt", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	e := decodeError(t, resp)
	require.NotNil(t, e.View)
	require.NotEmpty(t, e.View.Notifications)
	assert.Equal(t, actions.MsgDownloadFailed, e.View.Notifications[0].Message)
}

func TestServer_Open(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "img/cat.png", "meow")

	v := decodeView(t, h.do(t, http.MethodGet, "/api/objects/open?key=img/cat.png", nil, ""))
	require.NotNil(t, v.Result)
	require.NotEmpty(t, v.Result.OpenURL)

	resp, err := h.client.Get(v.Result.OpenURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "meow", string(data))
}

func TestServer_DeleteNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "old/log.txt", "x")
	h.seed(t, "keep.txt", "y")

	v := decodeView(t, h.do(t, http.MethodDelete, "/api/objects?key=old/log.txt", nil, ""))
	require.NotNil(t, v.Result)
	assert.Equal(t, actions.ConfirmPrompt("old/log.txt"), v.Result.ConfirmPrompt)
	_, ok := h.store.Get(bucket, "old/log.txt")
	assert.True(t, ok)
	assert.Zero(t, h.store.Calls(memory.OpDelete))

	v = decodeView(t, h.do(t, http.MethodDelete, "/api/objects?key=old/log.txt&confirm=true", nil, ""))
	require.NotNil(t, v.Result)
	assert.True(t, v.Result.Deleted)
	assert.Equal(t, []string{"keep.txt"}, keys(v))
	_, ok = h.store.Get(bucket, "old/log.txt")
	assert.False(t, ok)

	resp := h.do(t, http.MethodGet, "/api/activity", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Entries []journal.Entry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, journal.OpDelete, body.Entries[0].Op)
	assert.Equal(t, "old/log.txt", body.Entries[0].Key)
	assert.True(t, body.Entries[0].Succeeded)
}

func TestServer_ActivityRejectsBadLimit(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/api/activity?limit=zero", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/activity?op=rename", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_ActivityFilters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.journal.Record(ctx, journal.Outcome(journal.OpUpload, bucket, "a.txt", nil)))
	require.NoError(t, h.journal.Record(ctx, journal.Outcome(journal.OpUpload, bucket, "b.txt", nil)))
	require.NoError(t, h.journal.Record(ctx, journal.Outcome(journal.OpDelete, bucket, "a.txt", nil)))

	var body struct {
		Entries []journal.Entry `json:"entries"`
	}
	resp := h.do(t, http.MethodGet, "/api/activity?key=a.txt&op=upload", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, journal.OpUpload, body.Entries[0].Op)
	assert.Equal(t, "a.txt", body.Entries[0].Key)
}

func TestServer_PageStartsTheSession(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, resp.Cookies(), 1)
	assert.Equal(t, SessionCookie, resp.Cookies()[0].Name)
	assert.Equal(t, 1, h.srv.sessions.count())

	for i := 0; i < 3; i++ {
		resp = h.do(t, http.MethodGet, "/api/state", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Cookies(), "the page's cookie is reused")
	}
	assert.Equal(t, 1, h.srv.sessions.count())
}

func TestServer_StaticAndHealth(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(page), "/static/app.js")

	resp = h.do(t, http.MethodGet, "/static/app.js", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessions_Sweep(t *testing.T) {
	h := newHarness(t)
	ss := h.srv.sessions

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ss.now = func() time.Time { return now }

	oldID, _, err := ss.create(context.Background())
	require.NoError(t, err)
	now = now.Add(30 * time.Minute)
	freshID, _, err := ss.create(context.Background())
	require.NoError(t, err)

	closed := ss.sweep(now.Add(45*time.Minute), time.Hour)
	assert.Equal(t, 1, closed)
	_, ok := ss.lookup(oldID)
	assert.False(t, ok)
	_, ok = ss.lookup(freshID)
	assert.True(t, ok)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	h := newHarness(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
