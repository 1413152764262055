// Package notify carries the transient toast messages shown to users after
// an operation succeeds or fails.
package notify

import (
	"fmt"
	"sync"
	"time"
)

// Level is the visual style of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 3 * time.Second

// Notification is a single toast.
type Notification struct {
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
	ExpiresAt time.Time `json:"expires_at"` // set on delivery
}

// Notifier receives notifications from the components.
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, message string)

func (f NotifierFunc) Notify(level Level, message string) { f(level, message) }

// Successf emits a success notification.
func Successf(n Notifier, format string, args ...any) {
	n.Notify(LevelSuccess, fmt.Sprintf(format, args...))
}

// Errorf emits an error notification.
func Errorf(n Notifier, format string, args ...any) {
	n.Notify(LevelError, fmt.Sprintf(format, args...))
}

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(Level, string) {})

// Tee fans a notification out to several notifiers.
func Tee(ns ...Notifier) Notifier {
	return NotifierFunc(func(level Level, message string) {
		for _, n := range ns {
			n.Notify(level, message)
		}
	})
}

// Feed queues notifications until the front end drains them. Every queued
// notification is delivered exactly once, however long it waited; the TTL
// only decides how long it stays on screen after delivery.
// It is safe for concurrent use.
type Feed struct {
	mu    sync.Mutex
	items []Notification
	ttl   time.Duration
	now   func() time.Time
}

// NewFeed returns a feed whose entries stay visible for ttl (DefaultTTL if
// <= 0) once delivered.
func NewFeed(ttl time.Duration) *Feed {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Feed{ttl: ttl, now: time.Now}
}

// Notify implements Notifier.
func (f *Feed) Notify(level Level, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, Notification{
		Level:   level,
		Message: message,
		At:      f.now(),
	})
}

// Drain returns the queued notifications in emission order, stamped with
// an expiry relative to now, and empties the feed.
func (f *Feed) Drain() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	expires := f.now().Add(f.ttl)
	out := make([]Notification, len(f.items))
	for i, n := range f.items {
		n.ExpiresAt = expires
		out[i] = n
	}
	f.items = nil
	return out
}

// Len reports the number of queued notifications.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}
