// Package spreadsheet reads and writes records as XLSX workbooks.
//
// Nested objects are flattened into dotted column headers
// ("CustomerRef.value"); arrays such as transaction lines are stored as JSON
// in a single cell.
package spreadsheet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure Workbook implements the interfaces.
var (
	_ driven.RecordExporter = (*Workbook)(nil)
	_ driven.RecordImporter = (*Workbook)(nil)
)

// maxSheetName is the longest sheet name Excel accepts.
const maxSheetName = 31

// ErrEmptyWorkbook is returned when a workbook has no header row.
var ErrEmptyWorkbook = errors.New("workbook has no header row")

// leadingColumns are written first, in this order.
var leadingColumns = []string{"Id", "SyncToken"}

// textFields are never parsed as numbers on import. Matched against the
// last segment of a dotted header.
var textFields = map[string]bool{
	"Id":             true,
	"SyncToken":      true,
	"DocNumber":      true,
	"value":          true,
	"AcctNum":        true,
	"PostalCode":     true,
	"FreeFormNumber": true,
	"TaxIdentifier":  true,
}

// Workbook converts records to and from XLSX.
type Workbook struct {
	colWidth float64
}

// New creates a Workbook.
func New() *Workbook {
	return &Workbook{colWidth: 18}
}

// Export writes one sheet named after entityType with a header row.
func (wb *Workbook) Export(w io.Writer, entityType string, records []domain.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(entityType)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	flat := make([]map[string]any, len(records))
	for i, r := range records {
		flat[i] = r.Flatten()
	}
	columns := headers(flat)

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}

	for rowIdx, row := range flat {
		for colIdx, col := range columns {
			v, ok := row[col]
			if !ok || v == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			value, err := cellValue(v)
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", rowIdx+2, col, err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}

	if len(columns) > 0 {
		last, _ := excelize.ColumnNumberToName(len(columns))
		if err := f.SetColWidth(sheet, "A", last, wb.colWidth); err != nil {
			return err
		}
	}

	return f.Write(w)
}

// Import reads the first sheet. The first row holds the headers; blank
// rows are skipped.
func (wb *Workbook) Import(r io.Reader) ([]domain.Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyWorkbook
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyWorkbook
	}

	columns := rows[0]
	records := make([]domain.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		flat := make(map[string]any, len(row))
		for j, cell := range row {
			if j >= len(columns) || columns[j] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			flat[columns[j]] = parseCell(columns[j], cell)
		}
		if len(flat) == 0 {
			continue
		}
		records = append(records, domain.Unflatten(flat))
	}
	return records, nil
}

// headers returns the union of keys with the leading columns first and the
// rest sorted.
func headers(rows []map[string]any) []string {
	seen := make(map[string]bool)
	var rest []string
	for _, row := range rows {
		for k := range row {
			if seen[k] {
				continue
			}
			seen[k] = true
			if !isLeading(k) {
				rest = append(rest, k)
			}
		}
	}
	sort.Strings(rest)

	out := make([]string, 0, len(rest)+len(leadingColumns))
	for _, k := range leadingColumns {
		if seen[k] {
			out = append(out, k)
		}
	}
	return append(out, rest...)
}

func isLeading(k string) bool {
	for _, l := range leadingColumns {
		if k == l {
			return true
		}
	}
	return false
}

func cellValue(v any) (any, error) {
	switch t := v.(type) {
	case []any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}

func parseCell(header, cell string) any {
	name := header
	if i := strings.LastIndex(header, "."); i >= 0 {
		name = header[i+1:]
	}
	if textFields[name] {
		return cell
	}

	switch strings.ToLower(cell) {
	case "true":
		return true
	case "false":
		return false
	}

	if cell[0] == '[' || cell[0] == '{' {
		var v any
		if err := json.Unmarshal([]byte(cell), &v); err == nil {
			return v
		}
	}
	if n, err := strconv.ParseFloat(cell, 64); err == nil {
		return n
	}
	return cell
}

func sheetName(entityType string) string {
	if entityType == "" {
		return "Records"
	}
	if len(entityType) > maxSheetName {
		return entityType[:maxSheetName]
	}
	return entityType
}
