package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/events"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/dustin/go-humanize"
)

const defaultContentType = "application/octet-stream"

// UploadFile stores the payload and creates the file record in uploading
// state. The payload is written first; if the record cannot be created the
// payload is removed again.
func (o *Orchestrator) UploadFile(ctx context.Context, name, contentType string, r io.Reader) (*models.File, error) {
	filename := sanitizeFilename(name)
	if filename == "" {
		return nil, common.NewValidationError("filename", "must not be empty")
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, o.opts.MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if n > o.opts.MaxUploadSize {
		return nil, common.NewValidationError("file", fmt.Sprintf("exceeds maximum size of %s", humanize.Bytes(uint64(o.opts.MaxUploadSize))))
	}
	data := buf.Bytes()

	now := o.now()
	id := o.newID()
	f := &models.File{
		ID:          id,
		Filename:    filename,
		Size:        int64(len(data)),
		ContentType: contentType,
		State:       models.FileUploading,
		StorageKey:  models.FileStorageKey(id),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = o.withRetry(ctx, "store file", func(ctx context.Context) error {
		return o.blobs.Put(ctx, f.StorageKey, data, contentType)
	})
	if err != nil {
		return nil, fmt.Errorf("store file payload: %w", err)
	}

	err = o.withRetry(ctx, "insert file", func(ctx context.Context) error {
		return o.store.Files().Insert(ctx, f)
	})
	if err != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.AttemptTimeout)
		defer cancel()
		if derr := o.blobs.Delete(cctx, f.StorageKey); derr != nil {
			o.log.Warn(ctx, "orphaned payload not removed", "key", f.StorageKey, "error", derr)
		}
		return nil, err
	}

	o.log.Info(ctx, "file uploaded", "file_id", id, "filename", filename, "size", humanize.Bytes(uint64(f.Size)))
	o.publish(ctx, events.FileUploaded, id, map[string]any{"filename": filename, "size": f.Size})
	return f, nil
}

func (o *Orchestrator) GetFile(ctx context.Context, id string) (*models.File, error) {
	var f *models.File
	err := o.withRetry(ctx, "get file", func(ctx context.Context) error {
		var err error
		f, err = o.store.Files().Get(ctx, id)
		return err
	})
	return f, err
}

func (o *Orchestrator) ListFiles(ctx context.Context, p models.ListParams) ([]*models.File, error) {
	if p.State != "" && !models.FileState(p.State).Valid() {
		return nil, common.NewValidationError("state", fmt.Sprintf("unknown file state %q", p.State))
	}
	if p.Offset < 0 {
		return nil, common.NewValidationError("offset", "must not be negative")
	}

	var out []*models.File
	err := o.withRetry(ctx, "list files", func(ctx context.Context) error {
		var err error
		out, err = o.store.Files().List(ctx, p.Normalized())
		return err
	})
	return out, err
}

// sanitizeFilename keeps only the base name of a client supplied path.
// An empty result means the name is unusable.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(filepath.Base(name))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	if len(name) > 255 {
		ext := filepath.Ext(name)
		if len(ext) > 32 {
			ext = ""
		}
		name = name[:255-len(ext)] + ext
	}
	return name
}
