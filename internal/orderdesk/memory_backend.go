package orderdesk

import (
	"context"
	"fmt"
	"strings"
)

// MemoryBackend is an in-process Backend used by tests and the local
// dry-run mode. It applies the same header-row and A1-range semantics
// as the remote store.
type MemoryBackend struct {
	sheets map[string]*memorySheet
}

type memorySheet struct {
	rows   int
	cols   int
	values [][]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sheets: map[string]*memorySheet{}}
}

// Seed creates a sheet with the given grid, header row first. Useful
// for fixtures.
func (b *MemoryBackend) Seed(name string, values [][]string) {
	sheet := &memorySheet{rows: defaultSheetRows, cols: defaultSheetCols}
	for _, row := range values {
		sheet.values = append(sheet.values, append([]string(nil), row...))
	}
	b.sheets[name] = sheet
}

func (b *MemoryBackend) WorksheetExists(ctx context.Context, name string) (bool, error) {
	_, ok := b.sheets[name]
	return ok, nil
}

func (b *MemoryBackend) CreateWorksheet(ctx context.Context, name string, rows, cols int) error {
	if _, ok := b.sheets[name]; ok {
		return fmt.Errorf("sheet %s already exists", name)
	}
	b.sheets[name] = &memorySheet{rows: rows, cols: cols}
	return nil
}

func (b *MemoryBackend) Records(ctx context.Context, name string) ([]map[string]string, error) {
	sheet, ok := b.sheets[name]
	if !ok {
		return nil, fmt.Errorf("sheet %s: %w", name, ErrNotFound)
	}
	if len(sheet.values) == 0 {
		return nil, nil
	}
	headers := sheet.values[0]
	var records []map[string]string
	for _, row := range sheet.values[1:] {
		record := make(map[string]string, len(headers))
		for i, header := range headers {
			if header == "" {
				continue
			}
			if i < len(row) {
				record[header] = row[i]
			} else {
				record[header] = ""
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func (b *MemoryBackend) RawValues(ctx context.Context, name string) ([][]string, error) {
	sheet, ok := b.sheets[name]
	if !ok {
		return nil, fmt.Errorf("sheet %s: %w", name, ErrNotFound)
	}
	values := make([][]string, 0, len(sheet.values))
	for _, row := range sheet.values {
		values = append(values, append([]string(nil), row...))
	}
	return values, nil
}

func (b *MemoryBackend) AppendRows(ctx context.Context, name string, values [][]string) error {
	sheet, ok := b.sheets[name]
	if !ok {
		return fmt.Errorf("sheet %s: %w", name, ErrNotFound)
	}
	for _, row := range values {
		sheet.values = append(sheet.values, append([]string(nil), row...))
	}
	return nil
}

func (b *MemoryBackend) BatchUpdate(ctx context.Context, name string, updates []RangeUpdate) error {
	sheet, ok := b.sheets[name]
	if !ok {
		return fmt.Errorf("sheet %s: %w", name, ErrNotFound)
	}
	for _, update := range updates {
		startRow, startCol, err := parseCellRef(startCell(update.Range))
		if err != nil {
			return fmt.Errorf("range %q: %w", update.Range, err)
		}
		for r, rowValues := range update.Values {
			target := startRow + r
			for len(sheet.values) < target {
				sheet.values = append(sheet.values, nil)
			}
			row := sheet.values[target-1]
			for c, value := range rowValues {
				col := startCol + c
				for len(row) < col {
					row = append(row, "")
				}
				row[col-1] = value
			}
			sheet.values[target-1] = row
		}
	}
	return nil
}

func startCell(a1 string) string {
	if idx := strings.Index(a1, ":"); idx >= 0 {
		return a1[:idx]
	}
	return a1
}

// parseCellRef converts an A1 cell reference to 1-based row and column.
func parseCellRef(ref string) (row, col int, err error) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A') + 1
		i++
	}
	if i == 0 || i == len(ref) {
		return 0, 0, fmt.Errorf("%w: malformed cell reference %q", ErrInvalidInput, ref)
	}
	for ; i < len(ref); i++ {
		if ref[i] < '0' || ref[i] > '9' {
			return 0, 0, fmt.Errorf("%w: malformed cell reference %q", ErrInvalidInput, ref)
		}
		row = row*10 + int(ref[i]-'0')
	}
	if row == 0 {
		return 0, 0, fmt.Errorf("%w: malformed cell reference %q", ErrInvalidInput, ref)
	}
	return row, col, nil
}
