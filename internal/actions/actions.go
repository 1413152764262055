// Package actions implements the per-object operations offered on a card:
// download, open in a new tab, and confirmed delete.
package actions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/koustreak/bucketdesk/internal/errs"
	"github.com/koustreak/bucketdesk/internal/filemeta"
	"github.com/koustreak/bucketdesk/internal/filestore"
	"github.com/koustreak/bucketdesk/internal/journal"
	"github.com/koustreak/bucketdesk/internal/logger"
	"github.com/koustreak/bucketdesk/internal/notify"
)

// Notification texts.
const (
	MsgDownloadStarted = "Download started"
	MsgDownloadFailed  = "Error downloading file"
	MsgOpening         = "Opening file"
	MsgOpenFailed      = "Error opening file"
	MsgDeleted         = "File deleted successfully"
	MsgDeleteFailed    = "Error deleting file"
)

// Config tunes the service.
type Config struct {
	// URLTTL is how long a signed link stays valid.
	URLTTL time.Duration `yaml:"url_ttl"`
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{URLTTL: 60 * time.Second}
}

// ConfirmPrompt is the question asked before key is deleted.
func ConfirmPrompt(key string) string {
	return `Are you sure you want to delete "` + filemeta.BaseName(key) + `"?`
}

// Refresher reloads the remote listing.
type Refresher interface {
	Refresh(ctx context.Context)
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(ctx context.Context)

func (f RefreshFunc) Refresh(ctx context.Context) { f(ctx) }

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the client that fetches signed links. Default:
// http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithNotifier sets where toasts go. Default: notify.Discard.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithRefresher sets what runs after a successful delete.
func WithRefresher(r Refresher) Option {
	return func(s *Service) { s.refresher = r }
}

// WithJournal records deletes in j.
func WithJournal(j journal.Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithLogger sets the logger. Default: logger.Global().
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// Service performs object actions on one bucket.
type Service struct {
	store     filestore.Store
	bucket    string
	cfg       Config
	client    *http.Client
	notifier  notify.Notifier
	refresher Refresher
	journal   journal.Journal
	log       *logger.Logger
}

// New returns an action service for bucket.
func New(store filestore.Store, bucket string, cfg Config, opts ...Option) *Service {
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = DefaultConfig().URLTTL
	}
	s := &Service{
		store:    store,
		bucket:   bucket,
		cfg:      cfg,
		client:   http.DefaultClient,
		notifier: notify.Discard,
		journal:  journal.Discard,
		log:      logger.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Component("actions")
	return s
}

// Download fetches key through a signed link and streams it into w. It
// returns the name the saved file should get.
func (s *Service) Download(ctx context.Context, key string, w io.Writer) (string, error) {
	if err := s.fetch(ctx, key, w); err != nil {
		s.log.With().Str("key", key).Err(err).Logger().Error("download failed")
		s.notifier.Notify(notify.LevelError, MsgDownloadFailed)
		return "", err
	}
	s.notifier.Notify(notify.LevelSuccess, MsgDownloadStarted)
	return filemeta.BaseName(key), nil
}

func (s *Service) fetch(ctx context.Context, key string, w io.Writer) error {
	if key == "" {
		return errs.New(errs.ErrKindInvalidInput, "object key is required")
	}
	link, err := s.store.PresignGetURL(ctx, s.bucket, key, s.cfg.URLTTL)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "malformed signed URL", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(errs.ErrKindTimeout, "download interrupted", err)
		}
		return errs.Wrap(errs.ErrKindConnectionFailed, "failed to fetch signed URL", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errs.New(statusKind(resp.StatusCode), fmt.Sprintf("signed URL returned %s", resp.Status))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return errs.Wrap(errs.ErrKindConnectionFailed, "failed to stream object", err)
	}
	return nil
}

// Open returns a signed link to key for the front end to open. No bytes
// are fetched.
func (s *Service) Open(ctx context.Context, key string) (string, error) {
	if key == "" {
		s.notifier.Notify(notify.LevelError, MsgOpenFailed)
		return "", errs.New(errs.ErrKindInvalidInput, "object key is required")
	}
	link, err := s.store.PresignGetURL(ctx, s.bucket, key, s.cfg.URLTTL)
	if err != nil {
		s.log.With().Str("key", key).Err(err).Logger().Error("open failed")
		s.notifier.Notify(notify.LevelError, MsgOpenFailed)
		return "", err
	}
	s.notifier.Notify(notify.LevelInfo, MsgOpening)
	return link, nil
}

// Delete removes key when confirmed is true; otherwise nothing is sent to
// the store. A successful delete is followed by a listing refresh whose
// outcome is not checked. It reports whether the object was deleted.
func (s *Service) Delete(ctx context.Context, key string, confirmed bool) (bool, error) {
	if !confirmed {
		return false, nil
	}
	if key == "" {
		s.notifier.Notify(notify.LevelError, MsgDeleteFailed)
		return false, errs.New(errs.ErrKindInvalidInput, "object key is required")
	}

	err := s.store.DeleteObject(ctx, s.bucket, key)
	journal.Write(ctx, s.journal, s.log, journal.Outcome(journal.OpDelete, s.bucket, key, err))
	if err != nil {
		s.log.With().Str("key", key).Err(err).Logger().Error("delete failed")
		s.notifier.Notify(notify.LevelError, MsgDeleteFailed)
		return false, err
	}

	s.log.With().Str("key", key).Logger().Info("object deleted")
	s.notifier.Notify(notify.LevelSuccess, MsgDeleted)
	if s.refresher != nil {
		s.refresher.Refresh(ctx)
	}
	return true, nil
}

func statusKind(code int) errs.ErrKind {
	switch code {
	case http.StatusNotFound:
		return errs.ErrKindNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return errs.ErrKindPermissionDenied
	default:
		return errs.ErrKindQueryFailed
	}
}
