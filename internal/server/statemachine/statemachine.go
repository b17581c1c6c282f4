// Package statemachine validates File and Archive transitions. All functions
// are pure: they return an updated copy and never mutate their argument.
package statemachine

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
)

var fileEdges = map[models.FileState][]models.FileState{
	models.FileUploading: {models.FileArchiving},
	models.FileArchiving: {models.FileDeleting, models.FileDeleted, models.FileFailed},
	models.FileDeleting:  {models.FileDeleted},
}

var archiveEdges = map[models.ArchiveState][]models.ArchiveState{
	models.ArchiveQueued:      {models.ArchiveCompressing, models.ArchiveFailed},
	models.ArchiveCompressing: {models.ArchiveIdle, models.ArchiveFailed},
	models.ArchiveIdle:        {models.ArchiveDownloading},
	models.ArchiveDownloading: {models.ArchiveIdle},
}

// FileAllowed reports whether from -> to is a file edge.
func FileAllowed(from, to models.FileState) bool {
	return contains(fileEdges[from], to)
}

// ArchiveAllowed reports whether from -> to is an archive edge.
func ArchiveAllowed(from, to models.ArchiveState) bool {
	return contains(archiveEdges[from], to)
}

func contains[T comparable](xs []T, x T) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Touch returns the new updatedAt for a record last updated at prev.
// The result never moves backwards.
func Touch(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}

// TransitionFile moves f from expected to to. It fails with an
// InvalidTransitionError when f is not in expected or the edge does not
// exist.
func TransitionFile(f *models.File, expected, to models.FileState, now time.Time) (*models.File, error) {
	if f.State != expected || !FileAllowed(expected, to) {
		return nil, &common.InvalidTransitionError{
			Kind:     "file",
			ID:       f.ID,
			Expected: string(expected),
			Actual:   string(f.State),
			Target:   string(to),
		}
	}
	next := f.Clone()
	next.State = to
	next.UpdatedAt = Touch(f.UpdatedAt, now)
	return next, nil
}

// ClaimFile assigns an unclaimed uploading file to archiveID.
func ClaimFile(f *models.File, archiveID string, now time.Time) (*models.File, error) {
	if f.ArchiveID != "" {
		return nil, common.NewConflictError("file", f.ID, fmt.Sprintf("already claimed by archive %s", f.ArchiveID))
	}
	next, err := TransitionFile(f, models.FileUploading, models.FileArchiving, now)
	if err != nil {
		return nil, err
	}
	next.ArchiveID = archiveID
	return next, nil
}

// FailFile records a job failure on a claimed file.
func FailFile(f *models.File, msg string, now time.Time) (*models.File, error) {
	next, err := TransitionFile(f, models.FileArchiving, models.FileFailed, now)
	if err != nil {
		return nil, err
	}
	next.ErrorMessage = msg
	return next, nil
}

// TransitionArchive moves a from expected to to.
func TransitionArchive(a *models.Archive, expected, to models.ArchiveState, now time.Time) (*models.Archive, error) {
	if a.State != expected || !ArchiveAllowed(expected, to) {
		return nil, &common.InvalidTransitionError{
			Kind:     "archive",
			ID:       a.ID,
			Expected: string(expected),
			Actual:   string(a.State),
			Target:   string(to),
		}
	}
	next := a.Clone()
	next.State = to
	next.UpdatedAt = Touch(a.UpdatedAt, now)
	return next, nil
}

// CompleteArchive moves a compressing archive to idle with the blob size.
func CompleteArchive(a *models.Archive, size int64, now time.Time) (*models.Archive, error) {
	if size < 0 {
		return nil, common.NewValidationError("size", "must not be negative")
	}
	next, err := TransitionArchive(a, models.ArchiveCompressing, models.ArchiveIdle, now)
	if err != nil {
		return nil, err
	}
	next.Size = &size
	completed := next.UpdatedAt
	next.CompletedAt = &completed
	return next, nil
}

// FailArchive records a job failure. Both queued and compressing archives
// may fail.
func FailArchive(a *models.Archive, msg string, now time.Time) (*models.Archive, error) {
	expected := a.State
	if expected != models.ArchiveQueued {
		expected = models.ArchiveCompressing
	}
	next, err := TransitionArchive(a, expected, models.ArchiveFailed, now)
	if err != nil {
		return nil, err
	}
	next.ErrorMessage = msg
	return next, nil
}
