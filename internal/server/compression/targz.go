package compression

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/klauspost/compress/gzip"
)

// TarGz writes gzip-compressed tarballs.
type TarGz struct {
	level int
}

func NewTarGz(level int) *TarGz {
	return &TarGz{level: level}
}

func (t *TarGz) Format() models.Format { return models.FormatTarGz }

func (t *TarGz) Compress(ctx context.Context, entries []Entry) ([]byte, error) {
	if err := checkEntries(ctx, entries); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, t.level)
	if err != nil {
		return nil, common.Compression(err)
	}
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr := &tar.Header{
			Name:    e.Name,
			Mode:    0o644,
			Size:    int64(len(e.Data)),
			ModTime: e.ModTime,
			Format:  tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, common.Compression(fmt.Errorf("failed to write tar header %s: %w", e.Name, err))
		}
		if _, err := tw.Write(e.Data); err != nil {
			return nil, common.Compression(fmt.Errorf("failed to write %s to tar: %w", e.Name, err))
		}
	}

	if err := tw.Close(); err != nil {
		return nil, common.Compression(fmt.Errorf("failed to close tar writer: %w", err))
	}
	if err := gz.Close(); err != nil {
		return nil, common.Compression(fmt.Errorf("failed to close gzip writer: %w", err))
	}
	return buf.Bytes(), nil
}
