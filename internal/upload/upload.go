// Package upload sends the pending selection to the bucket, one file at a
// time, and refreshes the listing once something landed.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/koustreak/bucketdesk/internal/errs"
	"github.com/koustreak/bucketdesk/internal/filemeta"
	"github.com/koustreak/bucketdesk/internal/filestore"
	"github.com/koustreak/bucketdesk/internal/journal"
	"github.com/koustreak/bucketdesk/internal/logger"
	"github.com/koustreak/bucketdesk/internal/notify"
	"github.com/koustreak/bucketdesk/internal/selection"
)

// sniffLen is how much of a file is read to detect its content type.
const sniffLen = 3072

// Config tunes the orchestrator.
type Config struct {
	// DefaultPrefix is used when the user leaves the destination blank.
	DefaultPrefix string `yaml:"default_prefix"`

	// RefreshDelay is the pause between a successful batch and the listing
	// refresh, giving eventually consistent stores time to show new keys.
	RefreshDelay time.Duration `yaml:"refresh_delay"`
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		DefaultPrefix: "uploads/",
		RefreshDelay:  time.Second,
	}
}

// Refresher reloads the remote listing.
type Refresher interface {
	Refresh(ctx context.Context)
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(ctx context.Context)

func (f RefreshFunc) Refresh(ctx context.Context) { f(ctx) }

// Outcome is the result of uploading one pending file.
type Outcome struct {
	Name      string `json:"name"`
	Key       string `json:"key"`
	Succeeded bool   `json:"succeeded"`
	Err       error  `json:"-"`
}

// Summary aggregates a batch.
type Summary struct {
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Outcomes  []Outcome `json:"outcomes,omitempty"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets where toasts go. Default: notify.Discard.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithRefresher sets what runs after a successful batch.
func WithRefresher(r Refresher) Option {
	return func(o *Orchestrator) { o.refresher = r }
}

// WithJournal records every outcome in j.
func WithJournal(j journal.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithLogger sets the logger. Default: logger.Global().
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// Orchestrator runs upload batches against one bucket.
type Orchestrator struct {
	store     filestore.Store
	bucket    string
	cfg       Config
	notifier  notify.Notifier
	refresher Refresher
	journal   journal.Journal
	log       *logger.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	busy      atomic.Bool
}

// New returns an orchestrator writing to bucket through store.
func New(store filestore.Store, bucket string, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		bucket:   bucket,
		cfg:      cfg,
		notifier: notify.Discard,
		journal:  journal.Discard,
		log:      logger.Global(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.Component("upload")
	return o
}

// DefaultPrefix is the prefix pre-filled in the destination field.
func (o *Orchestrator) DefaultPrefix() string {
	return o.cfg.DefaultPrefix
}

// Busy reports whether a batch is in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// NormalizePrefix turns user input into a key prefix ending in exactly one
// slash. Blank input falls back to fallback. Input made only of slashes
// yields "/".
func NormalizePrefix(input, fallback string) string {
	p := strings.TrimSpace(input)
	if p == "" {
		p = fallback
	}
	p = strings.TrimLeft(p, "/")
	p = strings.TrimRight(p, "/")
	return p + "/"
}

// Run uploads every file in set, in selection order, under the prefix
// derived from prefixInput. Per-file failures are reported and skipped.
// When anything succeeded the files of this batch leave the set and, after
// the refresh delay, the listing is refreshed. Files added while the batch
// runs stay pending for the next one. A second Run while one is in flight fails with
// a conflict error and leaves the set alone.
func (o *Orchestrator) Run(ctx context.Context, set *selection.Set, prefixInput string) (Summary, error) {
	files := set.Files()
	if len(files) == 0 {
		return Summary{}, nil
	}
	if !o.busy.CompareAndSwap(false, true) {
		return Summary{}, errs.New(errs.ErrKindConflict, "an upload is already running")
	}
	defer o.busy.Store(false)

	prefix := NormalizePrefix(prefixInput, o.cfg.DefaultPrefix)
	o.log.With().Str("prefix", prefix).Int("files", len(files)).Logger().Info("upload batch started")

	var sum Summary
	attempted := make([]string, 0, len(files))
	for _, f := range files {
		attempted = append(attempted, f.Name)
		key := prefix + f.Name
		err := o.put(ctx, key, f)
		journal.Write(ctx, o.journal, o.log, journal.Outcome(journal.OpUpload, o.bucket, key, err))

		if err != nil {
			sum.Failed++
			sum.Outcomes = append(sum.Outcomes, Outcome{Name: f.Name, Key: key, Err: err})
			o.log.With().Str("key", key).Err(err).Logger().Warn("upload failed")
			notify.Errorf(o.notifier, "Error uploading %s: %v", f.Name, err)
			continue
		}
		sum.Succeeded++
		sum.Outcomes = append(sum.Outcomes, Outcome{Name: f.Name, Key: key, Succeeded: true})
		o.log.With().Str("key", key).Logger().Debug("uploaded")
	}

	if sum.Succeeded > 0 {
		notify.Successf(o.notifier, "Successfully uploaded %d file(s)", sum.Succeeded)
		set.RemoveAll(attempted...)
		if err := o.sleep(ctx, o.cfg.RefreshDelay); err == nil && o.refresher != nil {
			o.refresher.Refresh(ctx)
		}
	}
	if sum.Failed > 0 {
		notify.Errorf(o.notifier, "Failed to upload %d file(s)", sum.Failed)
	}

	o.log.InfoWith("upload batch finished", map[string]interface{}{
		"succeeded": sum.Succeeded,
		"failed":    sum.Failed,
	})
	return sum, nil
}

func (o *Orchestrator) put(ctx context.Context, key string, f selection.PendingFile) error {
	if f.Source == nil {
		return errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("%s has no content", f.Name))
	}
	rc, err := f.Source.Open()
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "cannot read "+f.Name, err)
	}
	defer rc.Close()

	var body io.Reader = rc
	contentType := f.ContentType
	if contentType == "" {
		head := make([]byte, sniffLen)
		n, err := io.ReadFull(rc, head)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return errs.Wrap(errs.ErrKindInvalidInput, "cannot read "+f.Name, err)
		}
		head = head[:n]
		contentType = filemeta.DetectContentType(f.Name, head)
		if body, err = rewind(rc, head); err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "cannot read "+f.Name, err)
		}
	}

	return o.store.PutObject(ctx, o.bucket, key, body, f.Size, filestore.PutOptions{ContentType: contentType})
}

// rewind returns a reader over the whole of r after head was read from it.
// S3 clients refuse unseekable bodies on plain-HTTP endpoints, so the
// result is always an io.ReadSeeker.
func rewind(r io.Reader, head []byte) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return rs, nil
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(append(head, rest...)), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
