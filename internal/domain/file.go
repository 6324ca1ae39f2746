package domain

import "time"

// FileCategory tags what an uploaded file is used for.
type FileCategory string

const (
	FileAttachment FileCategory = "attachment"
	FileTemplate   FileCategory = "template"
	FileAvatar     FileCategory = "avatar"
)

// File is metadata for an uploaded blob. Path is relative to the storage root.
type File struct {
	ID           string       `json:"id"`
	UserID       string       `json:"userId"`
	Filename     string       `json:"filename"`
	OriginalName string       `json:"originalName"`
	MimeType     string       `json:"mimetype"`
	Size         int64        `json:"size"`
	Path         string       `json:"path"`
	Category     FileCategory `json:"category"`
	CreatedAt    time.Time    `json:"createdAt"`
}
