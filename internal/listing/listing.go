// Package listing loads the bucket contents and turns them into the cards
// the front ends render.
package listing

import (
	"context"
	"strings"
	"time"

	"github.com/koustreak/bucketdesk/internal/actions"
	"github.com/koustreak/bucketdesk/internal/filemeta"
	"github.com/koustreak/bucketdesk/internal/filestore"
	"github.com/koustreak/bucketdesk/internal/logger"
	"github.com/koustreak/bucketdesk/internal/search"
)

// State tells the front end which of the three listing views to show.
type State string

const (
	StateReady  State = "ready"
	StateEmpty  State = "empty"
	StateFailed State = "failed"
)

// EmptyMessage is the placeholder shown when the bucket has no files.
const EmptyMessage = "No files found"

// Config tunes the service.
type Config struct {
	// PageLimit caps the listing at one provider page. There is no
	// pagination beyond it.
	PageLimit int `yaml:"page_limit"`

	// DateLayout formats the last-modified label.
	DateLayout string `yaml:"date_layout"`
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{PageLimit: 1000, DateLayout: "2006-01-02"}
}

// RemoteObject is a stored file as the listing sees it.
type RemoteObject struct {
	Key          string            `json:"key"`
	DisplayName  string            `json:"name"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	Category     filemeta.Category `json:"category"`
}

// Card is a RemoteObject dressed for display.
type Card struct {
	RemoteObject
	SizeLabel    string `json:"size_label"`
	Icon         string `json:"icon"`
	LowerName    string `json:"-"`
	Modified     string `json:"modified"`
	DeletePrompt string `json:"delete_prompt"`
	Visible      bool   `json:"visible"`
}

// Listing is the result of one refresh.
type Listing struct {
	State       State     `json:"state"`
	Message     string    `json:"message,omitempty"`
	Cards       []Card    `json:"cards"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Filter applies query to the cards and reports how many stay visible.
// An empty query shows everything.
func (l *Listing) Filter(query string) int {
	names := make([]string, len(l.Cards))
	for i, c := range l.Cards {
		names[i] = c.LowerName
	}
	visible := 0
	for i, v := range search.Apply(names, query) {
		l.Cards[i].Visible = v
		if v {
			visible++
		}
	}
	return visible
}

// Visible returns the cards currently shown.
func (l Listing) Visible() []Card {
	out := make([]Card, 0, len(l.Cards))
	for _, c := range l.Cards {
		if c.Visible {
			out = append(out, c)
		}
	}
	return out
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Default: logger.Global().
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service lists one bucket.
type Service struct {
	store  filestore.Store
	bucket string
	cfg    Config
	log    *logger.Logger
	now    func() time.Time
}

// New returns a listing service for bucket.
func New(store filestore.Store, bucket string, cfg Config, opts ...Option) *Service {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultConfig().PageLimit
	}
	if cfg.DateLayout == "" {
		cfg.DateLayout = DefaultConfig().DateLayout
	}
	s := &Service{store: store, bucket: bucket, cfg: cfg, log: logger.Global(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Component("listing")
	return s
}

// Refresh issues one listing call and renders it. Errors never escape: a
// failed listing is a Listing in StateFailed carrying the message to show.
func (s *Service) Refresh(ctx context.Context) Listing {
	objects, err := s.store.ListObjects(ctx, s.bucket, filestore.ListOptions{Limit: s.cfg.PageLimit})
	if err != nil {
		s.log.With().Str("bucket", s.bucket).Err(err).Logger().Error("listing failed")
		return Listing{
			State:       StateFailed,
			Message:     "Error loading files: " + err.Error(),
			RefreshedAt: s.now(),
		}
	}

	cards := make([]Card, 0, len(objects))
	for _, o := range objects {
		if o.IsDirMarker() || o.Size <= 0 {
			continue
		}
		cards = append(cards, s.card(o))
	}

	s.log.With().Int("listed", len(objects)).Int("shown", len(cards)).Logger().Debug("listing refreshed")

	if len(cards) == 0 {
		return Listing{State: StateEmpty, Message: EmptyMessage, Cards: cards, RefreshedAt: s.now()}
	}
	return Listing{State: StateReady, Cards: cards, RefreshedAt: s.now()}
}

func (s *Service) card(o filestore.ObjectInfo) Card {
	name := filemeta.BaseName(o.Key)
	category := filemeta.Classify(name)

	var modified string
	if !o.LastModified.IsZero() {
		modified = o.LastModified.Local().Format(s.cfg.DateLayout)
	}

	return Card{
		RemoteObject: RemoteObject{
			Key:          o.Key,
			DisplayName:  name,
			Size:         o.Size,
			LastModified: o.LastModified,
			Category:     category,
		},
		SizeLabel:    filemeta.FormatSize(o.Size),
		Icon:         category.Icon(),
		LowerName:    strings.ToLower(name),
		Modified:     modified,
		DeletePrompt: actions.ConfirmPrompt(o.Key),
		Visible:      true,
	}
}
