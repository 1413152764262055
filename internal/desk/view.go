package desk

import (
	"github.com/koustreak/bucketdesk/internal/filemeta"
	"github.com/koustreak/bucketdesk/internal/listing"
	"github.com/koustreak/bucketdesk/internal/notify"
	"github.com/koustreak/bucketdesk/internal/upload"
)

// PendingView is one row of the pending list.
type PendingView struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	SizeLabel string `json:"size_label"`
	Icon      string `json:"icon"`
}

// Result carries what a single command produced.
type Result struct {
	Added         int             `json:"added,omitempty"`
	Upload        *upload.Summary `json:"upload,omitempty"`
	OpenURL       string          `json:"open_url,omitempty"`
	DownloadName  string          `json:"download_name,omitempty"`
	ConfirmPrompt string          `json:"confirm_prompt,omitempty"`
	Deleted       bool            `json:"deleted,omitempty"`
}

// View is everything a front end needs to render the desk.
type View struct {
	Bucket        string                `json:"bucket"`
	Pending       []PendingView         `json:"pending"`
	UploadEnabled bool                  `json:"upload_enabled"`
	Uploading     bool                  `json:"uploading"`
	DefaultPrefix string                `json:"default_prefix"`
	Loading       bool                  `json:"loading"`
	Listing       listing.Listing       `json:"listing"`
	Query         string                `json:"query"`
	Notifications []notify.Notification `json:"notifications"`
	Result        *Result               `json:"result,omitempty"`
}

func pendingRow(name string, size int64) PendingView {
	return PendingView{
		Name:      name,
		Size:      size,
		SizeLabel: filemeta.FormatSize(size),
		Icon:      filemeta.Classify(name).Icon(),
	}
}
