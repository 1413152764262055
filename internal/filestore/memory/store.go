// Package memory provides an in-process implementation of filestore.Store.
//
// Objects live in a map and signed URLs are HMAC-signed links served by the
// store's own http.Handler, so a development server can run without any
// external object storage.
package memory

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/koustreak/bucketdesk/internal/errs"
	"github.com/koustreak/bucketdesk/internal/filestore"
)

// Op names a Store operation for error injection.
type Op string

const (
	OpList    Op = "list"
	OpPut     Op = "put"
	OpDelete  Op = "delete"
	OpPresign Op = "presign"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Store is a filestore.Store kept entirely in memory.
// It is safe for concurrent use by multiple goroutines.
type Store struct {
	mu       sync.RWMutex
	buckets  map[string]map[string]*object
	failures map[string]error
	calls    map[Op]int

	baseURL *url.URL
	secret  []byte
	now     func() time.Time
}

var _ filestore.Store = (*Store)(nil)

// New creates a store whose signed URLs start with baseURL, for example
// "http://localhost:8080/_blob". The listed buckets are created empty.
func New(baseURL string, buckets ...string) (*Store, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid memory store base URL", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, errs.Wrap(errs.ErrKindUnknown, "failed to generate signing secret", err)
	}

	s := &Store{
		buckets:  make(map[string]map[string]*object),
		failures: make(map[string]error),
		calls:    make(map[Op]int),
		baseURL:  u,
		secret:   secret,
		now:      time.Now,
	}
	for _, b := range buckets {
		s.buckets[b] = make(map[string]*object)
	}
	return s, nil
}

// InjectError makes every later op on key fail with err. An empty key
// matches every key. Pass a nil err to clear the injection.
func (s *Store) InjectError(op Op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := string(op) + "\x00" + key
	if err == nil {
		delete(s.failures, id)
		return
	}
	s.failures[id] = err
}

// Calls reports how many times op was invoked, failed calls included.
func (s *Store) Calls(op Op) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// SetClock overrides the time source used for LastModified and URL expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// enter records a call and returns any injected failure. Callers hold s.mu.
func (s *Store) enter(op Op, key string) error {
	s.calls[op]++
	if err, ok := s.failures[string(op)+"\x00"+key]; ok {
		return err
	}
	if err, ok := s.failures[string(op)+"\x00"]; ok {
		return err
	}
	return nil
}

func (s *Store) bucket(name string) (map[string]*object, error) {
	b, ok := s.buckets[name]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, fmt.Sprintf("bucket %q does not exist", name))
	}
	return b, nil
}

// --- filestore.Store implementation ---

// Ping succeeds when the bucket exists.
func (s *Store) Ping(_ context.Context, bucket string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.bucket(bucket)
	return err
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// ListObjects returns the objects under opts.Prefix in key order.
func (s *Store) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpList, ""); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindTimeout, "failed to list objects", err)
	}
	b, err := s.bucket(bucket)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(b))
	for k := range b {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
	}

	results := make([]filestore.ObjectInfo, 0, len(keys))
	for _, k := range keys {
		o := b[k]
		results = append(results, filestore.ObjectInfo{
			Key:          k,
			Size:         int64(len(o.data)),
			ETag:         etag(o.data),
			LastModified: o.modified,
		})
	}
	return results, nil
}

// PutObject stores the content of r at key.
func (s *Store) PutObject(ctx context.Context, bucket, key string, r io.Reader, _ int64, opts filestore.PutOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "failed to read upload body", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpPut, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.ErrKindTimeout, "failed to put object", err)
	}
	if key == "" {
		return errs.New(errs.ErrKindInvalidInput, "object key is required")
	}
	b, err := s.bucket(bucket)
	if err != nil {
		return err
	}

	b[key] = &object{data: data, contentType: opts.ContentType, modified: s.now().UTC()}
	return nil
}

// DeleteObject removes key. Deleting a missing key succeeds, as in S3.
func (s *Store) DeleteObject(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpDelete, key); err != nil {
		return err
	}
	b, err := s.bucket(bucket)
	if err != nil {
		return err
	}
	delete(b, key)
	return nil
}

// PresignGetURL returns an HMAC-signed link served by Handler.
func (s *Store) PresignGetURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpPresign, key); err != nil {
		return "", err
	}
	if _, err := s.bucket(bucket); err != nil {
		return "", err
	}

	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	u := *s.baseURL
	u.Path = u.Path + "/" + bucket + "/" + key
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("signature", s.sign(bucket, key, expires))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ContentType returns the content type key was stored with.
func (s *Store) ContentType(bucket, key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.buckets[bucket][key]; ok {
		return o.contentType
	}
	return ""
}

// Get returns a copy of the stored bytes. Intended for tests and tooling.
func (s *Store) Get(bucket, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[bucket]
	if !ok {
		return nil, false
	}
	o, ok := b[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(o.data), true
}

// Handler serves signed links produced by PresignGetURL.
func (s *Store) Handler() http.Handler {
	return http.HandlerFunc(s.serveSigned)
}

func (s *Store) serveSigned(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest, ok := strings.CutPrefix(r.URL.Path, s.baseURL.Path+"/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		http.NotFound(w, r)
		return
	}

	expires := r.URL.Query().Get("expires")
	sig := r.URL.Query().Get("signature")
	if !hmac.Equal([]byte(sig), []byte(s.sign(bucket, key, expires))) {
		http.Error(w, "signature does not match", http.StatusForbidden)
		return
	}
	exp, err := strconv.ParseInt(expires, 10, 64)

	s.mu.RLock()
	now := s.now()
	var obj *object
	if b, found := s.buckets[bucket]; found {
		obj = b[key]
	}
	s.mu.RUnlock()

	if err != nil || now.Unix() > exp {
		http.Error(w, "request has expired", http.StatusForbidden)
		return
	}
	if obj == nil {
		http.NotFound(w, r)
		return
	}

	ct := obj.contentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("ETag", `"`+etag(obj.data)+`"`)
	http.ServeContent(w, r, "", obj.modified, bytes.NewReader(obj.data))
}

func (s *Store) sign(bucket, key, expires string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(bucket + "\n" + key + "\n" + expires))
	return hex.EncodeToString(mac.Sum(nil))
}

func etag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
