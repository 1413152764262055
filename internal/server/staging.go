package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/koustreak/bucketdesk/internal/errs"
	"github.com/koustreak/bucketdesk/internal/selection"
)

// stageFiles copies every "files" part of a multipart request into a temp
// file. On error nothing stays staged.
func (s *Server) stageFiles(w http.ResponseWriter, r *http.Request) ([]selection.PendingFile, error) {
	if s.cfg.MaxSelectionBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxSelectionBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "expected a multipart form", err)
	}

	var staged []selection.PendingFile
	fail := func(err error) ([]selection.PendingFile, error) {
		for _, f := range staged {
			_ = f.Source.(selection.FileSource).Release()
		}
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(bodyError(err))
		}
		if part.FormName() != "files" || part.FileName() == "" {
			part.Close()
			continue
		}

		f, err := s.stagePart(part)
		part.Close()
		if err != nil {
			return fail(err)
		}
		staged = append(staged, f)
	}

	if len(staged) == 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "no files in request")
	}
	return staged, nil
}

func (s *Server) stagePart(part *multipart.Part) (selection.PendingFile, error) {
	tmp, err := os.CreateTemp(s.cfg.StagingDir, "bucketdesk-*")
	if err != nil {
		return selection.PendingFile{}, errs.Wrap(errs.ErrKindUnknown, "failed to create staging file", err)
	}
	src := selection.FileSource{Path: tmp.Name(), Temporary: true}

	n, err := io.Copy(tmp, part)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = src.Release()
		return selection.PendingFile{}, bodyError(err)
	}

	// Browsers label unknown files as octet-stream; leave those to sniffing.
	ct := part.Header.Get("Content-Type")
	if ct == "application/octet-stream" {
		ct = ""
	}
	return selection.PendingFile{
		Name:        displayName(part.FileName()),
		Size:        n,
		ContentType: ct,
		Source:      src,
	}, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errs.Wrap(errs.ErrKindInvalidInput, "selection exceeds the size limit", err)
	}
	return errs.Wrap(errs.ErrKindInvalidInput, "malformed multipart body", err)
}

// displayName strips any directory a browser sent along with the name.
func displayName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return path.Base(name)
}
