package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koustreak/bucketdesk/internal/desk"
	"github.com/koustreak/bucketdesk/internal/logger"
)

// SessionCookie names the cookie that ties a browser to its desk.
const SessionCookie = "bucketdesk_session"

type session struct {
	desk     *desk.Desk
	lastSeen time.Time
}

// sessions maps session IDs to desks. Each browser gets its own pending
// selection and listing; the store is shared.
type sessions struct {
	mu      sync.Mutex
	byID    map[string]*session
	newDesk func() *desk.Desk
	log     *logger.Logger
	now     func() time.Time
}

func newSessions(newDesk func() *desk.Desk, log *logger.Logger) *sessions {
	return &sessions{
		byID:    make(map[string]*session),
		newDesk: newDesk,
		log:     log,
		now:     time.Now,
	}
}

// lookup returns the desk for id, touching it.
func (ss *sessions) lookup(id string) (*desk.Desk, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	sess, ok := ss.byID[id]
	if !ok {
		return nil, false
	}
	sess.lastSeen = ss.now()
	return sess.desk, true
}

// create starts a new desk and registers it under a fresh ID. When Start
// fails the desk is returned for its notifications but not registered.
func (ss *sessions) create(ctx context.Context) (string, *desk.Desk, error) {
	d := ss.newDesk()
	if err := d.Start(ctx); err != nil {
		d.Close()
		return "", d, err
	}

	id := uuid.NewString()
	ss.mu.Lock()
	ss.byID[id] = &session{desk: d, lastSeen: ss.now()}
	n := len(ss.byID)
	ss.mu.Unlock()

	ss.log.With().Str("session", id).Int("sessions", n).Logger().Debug("session started")
	return id, d, nil
}

// sweep closes sessions idle for longer than idle and returns how many.
func (ss *sessions) sweep(now time.Time, idle time.Duration) int {
	ss.mu.Lock()
	var stale []*desk.Desk
	for id, sess := range ss.byID {
		if now.Sub(sess.lastSeen) > idle {
			stale = append(stale, sess.desk)
			delete(ss.byID, id)
		}
	}
	ss.mu.Unlock()

	for _, d := range stale {
		d.Close()
	}
	return len(stale)
}

func (ss *sessions) closeAll() {
	ss.mu.Lock()
	all := ss.byID
	ss.byID = make(map[string]*session)
	ss.mu.Unlock()

	for _, sess := range all {
		sess.desk.Close()
	}
}

func (ss *sessions) count() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.byID)
}

type deskKey struct{}

// sessionMiddleware resolves the caller's desk, starting one when the
// cookie is missing, malformed or stale.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := s.ensureSession(w, r)
		if err != nil {
			v := d.View()
			writeError(w, r, err, &v)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deskKey{}, d)))
	})
}

// ensureSession returns the desk behind the request's cookie, or starts a
// new one and sets the cookie. On error the returned desk is unregistered
// and only good for its notifications.
func (s *Server) ensureSession(w http.ResponseWriter, r *http.Request) (*desk.Desk, error) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if _, perr := uuid.Parse(c.Value); perr == nil {
			if d, ok := s.sessions.lookup(c.Value); ok {
				return d, nil
			}
		}
	}

	id, d, err := s.sessions.create(r.Context())
	if err != nil {
		return d, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return d, nil
}

func deskFrom(r *http.Request) *desk.Desk {
	return r.Context().Value(deskKey{}).(*desk.Desk)
}
