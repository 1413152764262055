package filestore

import (
	"strings"
	"time"
)

// ObjectInfo describes a single entry returned by a bucket listing.
type ObjectInfo struct {
	// Key is the full object path within the bucket (e.g. "images/photo.jpg").
	Key string

	// Size is the byte size of the object.
	Size int64

	// ETag is the object's entity tag / hash, as returned by the backend.
	ETag string

	// LastModified is when the object was last written.
	LastModified time.Time
}

// IsDirMarker reports whether the entry is a directory placeholder, that is
// a key ending in a path separator.
func (o ObjectInfo) IsDirMarker() bool {
	return strings.HasSuffix(o.Key, "/")
}

// ListOptions controls how ListObjects filters results.
type ListOptions struct {
	// Prefix restricts results to objects whose key starts with this string.
	// Use "" to list everything in the bucket.
	Prefix string

	// Limit caps the number of results returned, emulating a single page of
	// the provider API. 0 means no cap.
	Limit int
}

// PutOptions carries the optional metadata of an upload.
type PutOptions struct {
	// ContentType is the MIME type stored with the object.
	ContentType string
}
