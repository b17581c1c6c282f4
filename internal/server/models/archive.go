package models

import "time"

// ArchiveState is the lifecycle state of an archive.
type ArchiveState string

const (
	ArchiveQueued      ArchiveState = "queued"
	ArchiveCompressing ArchiveState = "compressing"
	ArchiveIdle        ArchiveState = "idle"
	ArchiveDownloading ArchiveState = "downloading"
	ArchiveFailed      ArchiveState = "failed"
)

func (s ArchiveState) Valid() bool {
	switch s {
	case ArchiveQueued, ArchiveCompressing, ArchiveIdle, ArchiveDownloading, ArchiveFailed:
		return true
	}
	return false
}

// Pending reports whether a compression job still has work to do.
func (s ArchiveState) Pending() bool {
	return s == ArchiveQueued || s == ArchiveCompressing
}

// Format is the container format of the compressed blob.
type Format string

const (
	FormatZip   Format = "zip"
	FormatTarGz Format = "tar.gz"
)

func (f Format) Valid() bool {
	return f == FormatZip || f == FormatTarGz
}

// ContentType is the MIME type served on download.
func (f Format) ContentType() string {
	if f == FormatTarGz {
		return "application/gzip"
	}
	return "application/zip"
}

// Archive groups a fixed, ordered set of files into one compressed blob.
// Size and CompletedAt are set exactly when the archive reaches idle.
type Archive struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	FileIDs       []string     `json:"file_ids"`
	State         ArchiveState `json:"state"`
	Format        Format       `json:"format"`
	Size          *int64       `json:"size"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	StorageKey    string       `json:"-"`
	DownloadCount int64        `json:"download_count"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// Clone returns a deep copy.
func (a *Archive) Clone() *Archive {
	c := *a
	c.FileIDs = append([]string(nil), a.FileIDs...)
	if a.Size != nil {
		size := *a.Size
		c.Size = &size
	}
	if a.CompletedAt != nil {
		at := *a.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// ArchiveStorageKey is the blob key of a compressed archive.
func ArchiveStorageKey(id string, format Format) string {
	return "archives/" + id + "." + string(format)
}
