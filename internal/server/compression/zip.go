package compression

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// Zip writes DEFLATE-compressed zip archives.
type Zip struct {
	level int
}

func NewZip(level int) *Zip {
	return &Zip{level: level}
}

func (z *Zip) Format() models.Format { return models.FormatZip }

func (z *Zip) Compress(ctx context.Context, entries []Entry) ([]byte, error) {
	if err := checkEntries(ctx, entries); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, z.level)
	})

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return nil, err
		}
		if err := addZipEntry(zw, e); err != nil {
			_ = zw.Close()
			return nil, common.Compression(err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, common.Compression(fmt.Errorf("failed to close zip writer: %w", err))
	}
	return buf.Bytes(), nil
}

func addZipEntry(zw *zip.Writer, e Entry) error {
	header := &zip.FileHeader{
		Name:     e.Name,
		Method:   zip.Deflate,
		Modified: e.ModTime,
	}
	header.SetMode(0o644)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry %s: %w", e.Name, err)
	}
	if _, err := w.Write(e.Data); err != nil {
		return fmt.Errorf("failed to write %s to zip: %w", e.Name, err)
	}
	return nil
}
