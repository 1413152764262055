// Package desk is the per-session state machine behind both front ends.
// Front ends turn user gestures into Commands, Dispatch applies them, and
// the returned View is rendered as is.
package desk

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koustreak/bucketdesk/internal/actions"
	"github.com/koustreak/bucketdesk/internal/errs"
	"github.com/koustreak/bucketdesk/internal/filestore"
	"github.com/koustreak/bucketdesk/internal/journal"
	"github.com/koustreak/bucketdesk/internal/listing"
	"github.com/koustreak/bucketdesk/internal/logger"
	"github.com/koustreak/bucketdesk/internal/notify"
	"github.com/koustreak/bucketdesk/internal/selection"
	"github.com/koustreak/bucketdesk/internal/upload"
)

// Config bundles the settings of the components a desk owns.
type Config struct {
	Bucket    string
	Upload    upload.Config
	Listing   listing.Config
	Actions   actions.Config
	NotifyTTL time.Duration
}

// Option configures a Desk.
type Option func(*options)

type options struct {
	journal journal.Journal
	log     *logger.Logger
	client  *http.Client
}

// WithJournal records uploads and deletes in j.
func WithJournal(j journal.Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithLogger sets the logger. Default: logger.Global().
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithHTTPClient sets the client downloads use to fetch signed links.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// Desk holds one user's pending selection, rendered listing and search
// query. It is safe for concurrent use.
type Desk struct {
	store   filestore.Store
	bucket  string
	set     *selection.Set
	feed    *notify.Feed
	notes   notify.Notifier // feed, plus a debug log line per toast
	uploads *upload.Orchestrator
	lister  *listing.Service
	actions *actions.Service
	log     *logger.Logger

	mu      sync.Mutex // guards listing and query
	listing listing.Listing
	query   string
	loading atomic.Int32
}

// New assembles a desk over store. Call Start before dispatching.
func New(store filestore.Store, cfg Config, opts ...Option) *Desk {
	o := options{journal: journal.Discard, log: logger.Global(), client: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Desk{
		store:  store,
		bucket: cfg.Bucket,
		set:    selection.New(),
		feed:   notify.NewFeed(cfg.NotifyTTL),
		log:    o.log.Component("desk"),
	}
	d.notes = notify.Tee(d.feed, notify.NotifierFunc(func(level notify.Level, message string) {
		d.log.With().Str("level", string(level)).Str("text", message).Logger().Debug("notification")
	}))
	refresher := upload.RefreshFunc(d.refresh)

	d.lister = listing.New(store, cfg.Bucket, cfg.Listing, listing.WithLogger(o.log))
	d.uploads = upload.New(store, cfg.Bucket, cfg.Upload,
		upload.WithNotifier(d.notes),
		upload.WithRefresher(refresher),
		upload.WithJournal(o.journal),
		upload.WithLogger(o.log),
	)
	d.actions = actions.New(store, cfg.Bucket, cfg.Actions,
		actions.WithNotifier(d.notes),
		actions.WithRefresher(actions.RefreshFunc(d.refresh)),
		actions.WithJournal(o.journal),
		actions.WithLogger(o.log),
		actions.WithHTTPClient(o.client),
	)
	d.set.OnChange(func(files []selection.PendingFile) {
		d.log.With().Int("pending", len(files)).Logger().Debug("selection changed")
	})
	return d
}

// Start verifies the bucket is reachable and loads the first listing. A
// failure leaves the desk unusable; the caller should give up.
func (d *Desk) Start(ctx context.Context) error {
	if err := d.store.Ping(ctx, d.bucket); err != nil {
		notify.Errorf(d.notes, "Error accessing bucket: %v", err)
		return fmt.Errorf("verify access to bucket %q: %w", d.bucket, err)
	}
	d.log.With().Str("bucket", d.bucket).Logger().Info("bucket access verified")
	d.refresh(ctx)
	return nil
}

// Close releases staged files still pending.
func (d *Desk) Close() {
	d.set.Clear()
}

// Dispatch applies cmd and returns the resulting view. The view is returned
// even when err is non-nil so the front end can show the notifications.
func (d *Desk) Dispatch(ctx context.Context, cmd Command) (View, error) {
	res, err := d.apply(ctx, cmd)
	v := d.View()
	v.Result = res
	return v, err
}

// Do applies cmd without building a view, so notifications stay queued for
// the next one. Front ends use it when the response body is the payload,
// as with downloads.
func (d *Desk) Do(ctx context.Context, cmd Command) (*Result, error) {
	return d.apply(ctx, cmd)
}

func (d *Desk) apply(ctx context.Context, cmd Command) (*Result, error) {
	switch c := cmd.(type) {
	case AddFiles:
		return &Result{Added: d.set.Add(c.Files...)}, nil

	case RemoveFile:
		d.set.Remove(c.Name)
		return nil, nil

	case ClearSelection:
		d.set.Clear()
		return nil, nil

	case Upload:
		sum, err := d.uploads.Run(ctx, d.set, c.Prefix)
		if err != nil {
			return nil, err
		}
		return &Result{Upload: &sum}, nil

	case Refresh:
		d.refresh(ctx)
		return nil, nil

	case Search:
		d.mu.Lock()
		d.query = c.Query
		d.listing.Filter(c.Query)
		d.mu.Unlock()
		return nil, nil

	case Download:
		name, err := d.actions.Download(ctx, c.Key, c.W)
		if err != nil {
			return nil, err
		}
		return &Result{DownloadName: name}, nil

	case Open:
		link, err := d.actions.Open(ctx, c.Key)
		if err != nil {
			return nil, err
		}
		return &Result{OpenURL: link}, nil

	case Delete:
		if !c.Confirmed {
			return &Result{ConfirmPrompt: actions.ConfirmPrompt(c.Key)}, nil
		}
		deleted, err := d.actions.Delete(ctx, c.Key, true)
		if err != nil {
			return nil, err
		}
		return &Result{Deleted: deleted}, nil

	default:
		return nil, errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("unknown command %T", cmd))
	}
}

// View snapshots the desk. Notifications are handed out once: each is
// included in exactly one view.
func (d *Desk) View() View {
	files := d.set.Files()
	pending := make([]PendingView, len(files))
	for i, f := range files {
		pending[i] = pendingRow(f.Name, f.Size)
	}
	uploading := d.uploads.Busy()

	d.mu.Lock()
	l := d.listing
	l.Cards = append([]listing.Card(nil), d.listing.Cards...)
	query := d.query
	d.mu.Unlock()

	return View{
		Bucket:        d.bucket,
		Pending:       pending,
		UploadEnabled: len(files) > 0 && !uploading,
		Uploading:     uploading,
		DefaultPrefix: d.uploads.DefaultPrefix(),
		Loading:       d.loading.Load() > 0,
		Listing:       l,
		Query:         query,
		Notifications: d.feed.Drain(),
	}
}

// refresh replaces the listing. Every card comes back visible; the stored
// query is applied again only by the next Search.
func (d *Desk) refresh(ctx context.Context) {
	d.loading.Add(1)
	l := d.lister.Refresh(ctx)
	d.loading.Add(-1)

	d.mu.Lock()
	d.listing = l
	d.mu.Unlock()
}
