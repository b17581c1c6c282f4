// Package models defines the records persisted by the metadata store.
package models

import "time"

// FileState is the lifecycle state of an uploaded file.
type FileState string

const (
	FileUploading FileState = "uploading"
	FileArchiving FileState = "archiving"
	// FileArchived is part of the vocabulary but no transition produces it.
	FileArchived FileState = "archived"
	FileDeleting FileState = "deleting"
	FileDeleted  FileState = "deleted"
	FileFailed   FileState = "failed"
)

// Valid reports whether s is a known file state.
func (s FileState) Valid() bool {
	switch s {
	case FileUploading, FileArchiving, FileArchived, FileDeleting, FileDeleted, FileFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s FileState) Terminal() bool {
	return s == FileDeleted || s == FileFailed
}

// File is an uploaded input. The payload lives in the blob store under
// StorageKey. An empty ArchiveID means the file is unclaimed; once set it
// never changes.
type File struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	State        FileState `json:"state"`
	ArchiveID    string    `json:"archive_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StorageKey   string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns an independent copy.
func (f *File) Clone() *File {
	c := *f
	return &c
}

// FileStorageKey is the blob key of an uploaded payload.
func FileStorageKey(id string) string {
	return "files/" + id
}
