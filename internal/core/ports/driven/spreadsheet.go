package driven

import (
	"io"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// RecordExporter writes records to a tabular file.
type RecordExporter interface {
	Export(w io.Writer, entityType string, records []domain.Record) error
}

// RecordImporter reads records from a tabular file.
type RecordImporter interface {
	Import(r io.Reader) ([]domain.Record, error)
}
