// Package selection holds the set of files chosen for upload but not yet
// sent to the bucket. Names are unique within the set.
package selection

import (
	"bytes"
	"io"
	"os"
	"sync"
)

// Source opens the content of a pending file. Open may be called more than
// once; each call returns a fresh reader.
type Source interface {
	Open() (io.ReadCloser, error)
}

// Releaser is implemented by sources that hold resources, such as staged
// temp files. Release is called once the file leaves the set.
type Releaser interface {
	Release() error
}

// PendingFile is a file waiting to be uploaded.
type PendingFile struct {
	Name        string
	Size        int64
	ContentType string
	Source      Source
}

// BytesSource serves content held in memory.
type BytesSource []byte

func (b BytesSource) Open() (io.ReadCloser, error) {
	return bytesReader{bytes.NewReader(b)}, nil
}

// bytesReader keeps the reader seekable, unlike io.NopCloser.
type bytesReader struct {
	*bytes.Reader
}

func (bytesReader) Close() error { return nil }

// FileSource serves content from a local file. When Temporary is set the
// file is removed on Release.
type FileSource struct {
	Path      string
	Temporary bool
}

func (f FileSource) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

func (f FileSource) Release() error {
	if !f.Temporary {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Listener is called after every mutation with the new contents of the set.
type Listener func(files []PendingFile)

// Set is the pending set. It is safe for concurrent use; listeners run
// outside the lock, in registration order.
type Set struct {
	mu        sync.Mutex
	files     []PendingFile
	listeners []Listener
}

// New returns an empty set.
func New() *Set {
	return &Set{}
}

// OnChange registers l to run after each mutation.
func (s *Set) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Add appends every file whose name is not pending yet, in order, and
// returns how many were added. Duplicates are skipped silently and their
// sources released.
func (s *Set) Add(files ...PendingFile) int {
	s.mu.Lock()
	added := 0
	var skipped []PendingFile
	for _, f := range files {
		if s.indexOf(f.Name) >= 0 {
			skipped = append(skipped, f)
			continue
		}
		s.files = append(s.files, f)
		added++
	}
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()

	release(skipped)
	if added > 0 {
		emit(listeners, snapshot)
	}
	return added
}

// Remove drops the file called name. It reports whether anything was
// removed; a missing name is not an error.
func (s *Set) Remove(name string) bool {
	s.mu.Lock()
	i := s.indexOf(name)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	removed := s.files[i]
	s.files = append(s.files[:i:i], s.files[i+1:]...)
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()

	release([]PendingFile{removed})
	emit(listeners, snapshot)
	return true
}

// RemoveAll drops every file whose name is given and returns how many
// were pending. Unknown names are ignored.
func (s *Set) RemoveAll(names ...string) int {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	s.mu.Lock()
	var removed []PendingFile
	kept := s.files[:0:0]
	for _, f := range s.files {
		if drop[f.Name] {
			removed = append(removed, f)
			continue
		}
		kept = append(kept, f)
	}
	s.files = kept
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()

	if len(removed) == 0 {
		return 0
	}
	release(removed)
	emit(listeners, snapshot)
	return len(removed)
}

// Clear empties the set.
func (s *Set) Clear() {
	s.mu.Lock()
	removed := s.files
	s.files = nil
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	release(removed)
	emit(listeners, snapshot)
}

// Files returns the pending files in insertion order.
func (s *Set) Files() []PendingFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PendingFile(nil), s.files...)
}

// Len returns the number of pending files.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// UploadEnabled reports whether there is anything to upload.
func (s *Set) UploadEnabled() bool {
	return s.Len() > 0
}

func (s *Set) indexOf(name string) int {
	for i, f := range s.files {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (s *Set) snapshotLocked() ([]PendingFile, []Listener) {
	return append([]PendingFile(nil), s.files...), append([]Listener(nil), s.listeners...)
}

func emit(listeners []Listener, files []PendingFile) {
	for _, l := range listeners {
		l(files)
	}
}

func release(files []PendingFile) {
	for _, f := range files {
		if r, ok := f.Source.(Releaser); ok {
			_ = r.Release()
		}
	}
}
