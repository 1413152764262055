package server

import (
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/koustreak/bucketdesk/internal/desk"
	"github.com/koustreak/bucketdesk/internal/errs"
	"github.com/koustreak/bucketdesk/internal/filemeta"
	"github.com/koustreak/bucketdesk/internal/journal"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// dispatch runs cmd on the caller's desk and replies with the view.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, cmd desk.Command) {
	v, err := deskFrom(r).Dispatch(r.Context(), cmd)
	if err != nil {
		writeError(w, r, err, &v)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, deskFrom(r).View())
}

func (s *Server) addFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.stageFiles(w, r)
	if err != nil {
		v := deskFrom(r).View()
		writeError(w, r, err, &v)
		return
	}
	s.dispatch(w, r, desk.AddFiles{Files: files})
}

func (s *Server) removeFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	// chi matches on RawPath when the path needed it, leaving params escaped.
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}
	s.dispatch(w, r, desk.RemoveFile{Name: name})
}

func (s *Server) clearSelection(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, desk.ClearSelection{})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, desk.Upload{Prefix: r.FormValue("prefix")})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, desk.Refresh{})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, desk.Search{Query: r.URL.Query().Get("q")})
}

func (s *Server) open(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, desk.Open{Key: r.URL.Query().Get("key")})
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	confirmed, _ := strconv.ParseBool(q.Get("confirm"))
	s.dispatch(w, r, desk.Delete{Key: q.Get("key"), Confirmed: confirmed})
}

// download streams the object as an attachment. Headers are committed on
// the first byte, so a failure before that is still reported as JSON.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	lw := &lazyWriter{w: w, header: func(h http.Header) {
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": filemeta.BaseName(key),
		}))
	}}

	d := deskFrom(r)
	_, err := d.Do(r.Context(), desk.Download{Key: key, W: lw})
	switch {
	case err != nil && !lw.started:
		v := d.View()
		writeError(w, r, err, &v)
	case err != nil:
		// Too late for a status; the client sees a truncated body.
		s.log.With().Str("key", key).Err(err).Logger().Warn("download aborted mid-stream")
	case !lw.started:
		lw.commit()
	}
}

type lazyWriter struct {
	w       http.ResponseWriter
	header  func(http.Header)
	started bool
}

func (l *lazyWriter) commit() {
	if l.started {
		return
	}
	l.started = true
	l.header(l.w.Header())
	l.w.WriteHeader(http.StatusOK)
}

func (l *lazyWriter) Write(p []byte) (int, error) {
	l.commit()
	return l.w.Write(p)
}

// activity lists journal entries, newest first, optionally narrowed by
// op and key.
func (s *Server) activity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	op, err := journal.ParseOp(q.Get("op"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	limit := defaultActivityLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, errs.New(errs.ErrKindInvalidInput, "limit must be a positive integer"), nil)
			return
		}
		limit = min(n, maxActivityLimit)
	}

	entries, err := s.journal.Find(r.Context(), journal.Filter{Op: op, Key: q.Get("key")}, limit)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
