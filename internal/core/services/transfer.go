package services

import (
	"context"
	"fmt"
	"io"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure TransferService implements the interface.
var _ driving.TransferService = (*TransferService)(nil)

// TransferService exports records to and imports records from spreadsheets.
type TransferService struct {
	engine   *EntitySync
	exporter driven.RecordExporter
	importer driven.RecordImporter
	audit    *OperationLogger
}

// NewTransferService creates a TransferService.
func NewTransferService(
	engine *EntitySync,
	exporter driven.RecordExporter,
	importer driven.RecordImporter,
	audit *OperationLogger,
) *TransferService {
	return &TransferService{
		engine:   engine,
		exporter: exporter,
		importer: importer,
		audit:    audit,
	}
}

// Export writes every active record of entityType to w.
func (s *TransferService) Export(ctx context.Context, userID, entityType string, w io.Writer) (int, error) {
	records, err := s.engine.Fetch(ctx, userID, entityType, nil)
	if err != nil {
		return 0, err
	}

	if err := s.exporter.Export(w, entityType, records); err != nil {
		err = fmt.Errorf("write %s workbook: %w", entityType, err)
		s.audit.RecordResult(ctx, userID, "export", entityType, "", nil, err)
		return 0, err
	}

	s.audit.RecordResult(ctx, userID, "export", entityType, "", map[string]any{"count": len(records)}, nil)
	return len(records), nil
}

// Import creates or updates one record per row. Rows carrying both Id and
// SyncToken update; the rest create. A failed row does not stop the import.
func (s *TransferService) Import(
	ctx context.Context, userID, entityType string, r io.Reader,
) (*driving.ImportSummary, error) {
	desc, err := s.engine.lookup(entityType)
	if err != nil {
		return nil, err
	}
	if !desc.Importable {
		return nil, domain.NewSyncError(domain.ErrInvalidInput, entityType+" cannot be imported", nil)
	}

	rows, err := s.importer.Import(r)
	if err != nil {
		err = domain.NewSyncError(domain.ErrInvalidInput, "read workbook", err)
		s.audit.RecordResult(ctx, userID, "import", entityType, "", nil, err)
		return nil, err
	}

	summary := &driving.ImportSummary{EntityType: entityType, Total: len(rows)}
	for i, row := range rows {
		var rowErr error
		if id, token := row.ID(), row.SyncToken(); id != "" && token != "" {
			_, rowErr = s.engine.Update(ctx, userID, entityType, id, row, token)
			if rowErr == nil {
				summary.Updated++
			}
		} else {
			_, rowErr = s.engine.Create(ctx, userID, entityType, row)
			if rowErr == nil {
				summary.Created++
			}
		}
		if rowErr != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, domain.ItemResult{
				ID:     rowLabel(row, i),
				Status: domain.ItemFailed,
				Error:  domain.UserMessage(rowErr),
				Kind:   domain.Classify(rowErr),
			})
		}
	}

	switch {
	case summary.Failed == 0:
		summary.Status = domain.OpStatusSuccess
	case summary.Failed == summary.Total:
		summary.Status = domain.OpStatusError
	default:
		summary.Status = domain.OpStatusPartial
	}

	s.audit.Record(ctx, userID, "import", entityType, "", summary.Status, map[string]any{
		"total":   summary.Total,
		"created": summary.Created,
		"updated": summary.Updated,
		"failed":  summary.Failed,
	})
	return summary, nil
}

// rowLabel names a row in error reports: its Id if present, else "row N"
// counting the header as row 1.
func rowLabel(row domain.Record, i int) string {
	if id := row.ID(); id != "" {
		return id
	}
	return fmt.Sprintf("row %d", i+2)
}
