// Package compression packs file payloads into a single archive blob.
package compression

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
)

// Entry is one member of an archive. Names are used verbatim, so two
// entries may share a name.
type Entry struct {
	Name    string
	Data    []byte
	ModTime time.Time
}

// Engine compresses entries, in order, into one blob. Every failure is a
// CompressionError.
type Engine interface {
	Format() models.Format
	Compress(ctx context.Context, entries []Entry) ([]byte, error)
}

// New returns the engine for format.
func New(format models.Format) (Engine, error) {
	switch format {
	case models.FormatZip:
		return NewZip(DefaultLevel), nil
	case models.FormatTarGz:
		return NewTarGz(DefaultLevel), nil
	default:
		return nil, common.NewValidationError("format", fmt.Sprintf("unsupported archive format %q", format))
	}
}

// DefaultLevel balances speed and ratio for both formats.
const DefaultLevel = 6

func checkEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return common.Compression(fmt.Errorf("no entries"))
	}
	return ctx.Err()
}
