package memory

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/bucketdesk/internal/errs"
	"github.com/koustreak/bucketdesk/internal/filestore"
)

func newStore(t *testing.T, base string) *Store {
	t.Helper()
	s, err := New(base, "docs")
	require.NoError(t, err)
	return s
}

func put(t *testing.T, s *Store, key, body string) {
	t.Helper()
	require.NoError(t, s.PutObject(context.Background(), "docs", key, strings.NewReader(body), int64(len(body)),
		filestore.PutOptions{ContentType: "text/plain"}))
}

func TestStore_Ping(t *testing.T) {
	s := newStore(t, "http://localhost/_blob")

	assert.NoError(t, s.Ping(context.Background(), "docs"))
	assert.True(t, errs.IsNotFound(s.Ping(context.Background(), "missing")))
}

func TestStore_PutListDelete(t *testing.T) {
	s := newStore(t, "http://localhost/_blob")
	put(t, s, "b/two.txt", "22")
	put(t, s, "a/one.txt", "1")

	objects, err := s.ListObjects(context.Background(), "docs", filestore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "a/one.txt", objects[0].Key)
	assert.Equal(t, int64(2), objects[1].Size)

	limited, err := s.ListObjects(context.Background(), "docs", filestore.ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	prefixed, err := s.ListObjects(context.Background(), "docs", filestore.ListOptions{Prefix: "b/"})
	require.NoError(t, err)
	require.Len(t, prefixed, 1)
	assert.Equal(t, "b/two.txt", prefixed[0].Key)

	require.NoError(t, s.DeleteObject(context.Background(), "docs", "a/one.txt"))
	_, ok := s.Get("docs", "a/one.txt")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Calls(OpDelete))
}

func TestStore_InjectError(t *testing.T) {
	s := newStore(t, "http://localhost/_blob")
	boom := errs.New(errs.ErrKindQueryFailed, "boom")

	s.InjectError(OpPut, "bad.txt", boom)
	err := s.PutObject(context.Background(), "docs", "bad.txt", strings.NewReader("x"), 1, filestore.PutOptions{})
	assert.True(t, errors.Is(err, boom))

	put(t, s, "good.txt", "x")

	s.InjectError(OpPut, "bad.txt", nil)
	put(t, s, "bad.txt", "x")
	assert.Equal(t, 3, s.Calls(OpPut))
}

func TestStore_SignedURL(t *testing.T) {
	var s *Store
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Handler().ServeHTTP(w, r)
	}))
	defer srv.Close()
	s = newStore(t, srv.URL+"/_blob")

	put(t, s, "reports/Q1 report.pdf", "quarterly")

	link, err := s.PresignGetURL(context.Background(), "docs", "reports/Q1 report.pdf", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, srv.URL+"/_blob/docs/reports/"))

	resp, err := http.Get(link)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "quarterly", string(body))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

	tampered := strings.Replace(link, "signature=", "signature=00", 1)
	resp, err = http.Get(tampered)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	s.SetClock(func() time.Time { return time.Now().Add(2 * time.Minute) })
	resp, err = http.Get(link)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
