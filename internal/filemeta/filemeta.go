// Package filemeta derives display metadata for file names: the category
// used to pick an icon, a human-readable size and a content type.
package filemeta

import (
	"math"
	"mime"
	"path"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Category groups file extensions for icon selection.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryDocument Category = "document"
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryArchive  Category = "archive"
	CategoryCode     Category = "code"
	CategoryOther    Category = "other"
)

// Checked in this order; the first table containing the extension wins.
var categoryTable = []struct {
	category   Category
	extensions []string
}{
	{CategoryImage, []string{"jpg", "jpeg", "png", "gif", "bmp", "svg", "webp"}},
	{CategoryDocument, []string{"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "txt", "rtf", "csv"}},
	{CategoryVideo, []string{"mp4", "avi", "mov", "wmv", "flv", "webm", "mkv"}},
	{CategoryAudio, []string{"mp3", "wav", "ogg", "flac", "aac", "m4a"}},
	{CategoryArchive, []string{"zip", "rar", "7z", "tar", "gz"}},
	{CategoryCode, []string{"html", "css", "js", "json", "xml", "py", "java", "cpp", "c", "php", "rb"}},
}

var byExtension = func() map[string]Category {
	m := make(map[string]Category)
	for _, row := range categoryTable {
		for _, ext := range row.extensions {
			m[ext] = row.category
		}
	}
	return m
}()

// Extension returns the lower-cased text after the last dot of name.
// A name without a dot is returned whole, lower-cased.
func Extension(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}

// Classify returns the category of a file name based on its extension.
func Classify(name string) Category {
	if c, ok := byExtension[Extension(name)]; ok {
		return c
	}
	return CategoryOther
}

// Icon returns the Font Awesome class rendered for a category.
func (c Category) Icon() string {
	switch c {
	case CategoryImage:
		return "fa-file-image"
	case CategoryDocument:
		return "fa-file-alt"
	case CategoryVideo:
		return "fa-file-video"
	case CategoryAudio:
		return "fa-file-audio"
	case CategoryArchive:
		return "fa-file-archive"
	case CategoryCode:
		return "fa-file-code"
	default:
		return "fa-file"
	}
}

// BaseName returns the portion of an object key after its last "/".
func BaseName(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count in 1024-based units with at most two
// decimals and trailing zeros dropped: 0 -> "0 Bytes", 1536 -> "1.5 KB".
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}

	value := float64(bytes)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}

	rounded := math.Round(value*100) / 100
	return strconv.FormatFloat(rounded, 'f', -1, 64) + " " + sizeUnits[unit]
}

// DetectContentType picks the MIME type stored with an upload. head holds
// the first bytes of the content and may be empty. Sniffed types win unless
// they are the generic binary or plain-text fallbacks, in which case the
// extension decides.
func DetectContentType(name string, head []byte) string {
	var sniffed *mimetype.MIME
	if len(head) > 0 {
		sniffed = mimetype.Detect(head)
		if !sniffed.Is("application/octet-stream") && !sniffed.Is("text/plain") {
			return sniffed.String()
		}
	}

	if byExt := mime.TypeByExtension(path.Ext(name)); byExt != "" {
		return byExt
	}
	if sniffed != nil {
		return sniffed.String()
	}
	return "application/octet-stream"
}
