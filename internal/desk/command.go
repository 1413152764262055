package desk

import (
	"io"

	"github.com/koustreak/bucketdesk/internal/selection"
)

// Command is a user intent emitted by a front end.
type Command interface {
	command()
}

// AddFiles adds files to the pending selection. Names already pending are
// skipped.
type AddFiles struct {
	Files []selection.PendingFile
}

// RemoveFile drops one pending file by name.
type RemoveFile struct {
	Name string
}

// ClearSelection empties the pending selection.
type ClearSelection struct{}

// Upload sends the pending selection under Prefix, or the default prefix
// when Prefix is blank.
type Upload struct {
	Prefix string
}

// Refresh reloads the remote listing.
type Refresh struct{}

// Search filters the rendered cards by name.
type Search struct {
	Query string
}

// Download streams Key into W.
type Download struct {
	Key string
	W   io.Writer
}

// Open asks for a signed link to Key.
type Open struct {
	Key string
}

// Delete removes Key. Without Confirmed the command only yields the
// confirmation prompt.
type Delete struct {
	Key       string
	Confirmed bool
}

func (AddFiles) command()       {}
func (RemoveFile) command()     {}
func (ClearSelection) command() {}
func (Upload) command()         {}
func (Refresh) command()        {}
func (Search) command()         {}
func (Download) command()       {}
func (Open) command()           {}
func (Delete) command()         {}
