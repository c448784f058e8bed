package orderdesk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSheetRows = 1000
	defaultSheetCols = 26
)

// RangeUpdate is one piece of a batched write: an A1-style target range
// and the 2-D value block to place there. Constructed fresh per call,
// never persisted.
type RangeUpdate struct {
	Range  string
	Values [][]string
}

// Backend is the remote tabular store the adapter drives. Row 1 of
// every worksheet is the header row; Records keys each following row by
// it. Writes may not be immediately visible to subsequent reads.
type Backend interface {
	WorksheetExists(ctx context.Context, name string) (bool, error)
	CreateWorksheet(ctx context.Context, name string, rows, cols int) error
	Records(ctx context.Context, name string) ([]map[string]string, error)
	RawValues(ctx context.Context, name string) ([][]string, error)
	AppendRows(ctx context.Context, name string, values [][]string) error
	BatchUpdate(ctx context.Context, name string, updates []RangeUpdate) error
}

// Worksheet is the cached handle for a resolved sheet: existence is
// confirmed and, for a freshly created sheet, the header row has been
// written.
type Worksheet struct {
	Name    string
	Created bool
}

type AppendReport struct {
	Success int
	Failed  int
	Batches int
	Errors  []string
}

type UpdateReport struct {
	UpdatedCells int
	FailedRanges []string
}

type UpsertReport struct {
	Updated int
	Created int
	Errors  int
}

type StoreOptions struct {
	Backend      Backend
	Logger       *zap.Logger
	Retrier      *Retrier
	LookupPolicy Policy
	WritePolicy  Policy
	Pacer        *Pacer
	SheetRows    int
	SheetCols    int
}

// Store is the schema-aware adapter over a remote spreadsheet-like
// backend. It owns the worksheet-handle cache and the schema registry;
// a single instance is expected per process and all methods assume a
// single calling goroutine (see the concurrency notes in DESIGN.md).
type Store struct {
	backend      Backend
	logger       *zap.Logger
	retrier      *Retrier
	lookupPolicy Policy
	writePolicy  Policy
	pacer        *Pacer
	sheetRows    int
	sheetCols    int

	sheets  map[string]*Worksheet
	schemas map[string]*compiledSchema
}

func NewStore(opts StoreOptions) (*Store, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidInput)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retrier == nil {
		opts.Retrier = NewRetrier(opts.Logger)
	}
	if opts.WritePolicy.Retryable == nil {
		opts.WritePolicy.Retryable = IsTransient
	}
	if opts.SheetRows <= 0 {
		opts.SheetRows = defaultSheetRows
	}
	if opts.SheetCols <= 0 {
		opts.SheetCols = defaultSheetCols
	}
	return &Store{
		backend:      opts.Backend,
		logger:       opts.Logger,
		retrier:      opts.Retrier,
		lookupPolicy: opts.LookupPolicy,
		writePolicy:  opts.WritePolicy,
		pacer:        opts.Pacer,
		sheetRows:    opts.SheetRows,
		sheetCols:    opts.SheetCols,
		sheets:       map[string]*Worksheet{},
		schemas:      map[string]*compiledSchema{},
	}, nil
}

// RegisterSchema registers or replaces the schema for a sheet.
// Re-registration invalidates the cached worksheet handle so the next
// resolution observes the new contract.
func (s *Store) RegisterSchema(schema SheetSchema) error {
	compiled, err := schema.compile()
	if err != nil {
		return err
	}
	s.schemas[schema.Name] = compiled
	delete(s.sheets, schema.Name)
	return nil
}

// Worksheet resolves a sheet handle, creating the sheet remotely (and
// writing the registered header row) when it does not exist yet.
// Handles are cached for the lifetime of the Store.
func (s *Store) Worksheet(ctx context.Context, name string) (*Worksheet, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: sheet name is required", ErrInvalidInput)
	}
	if handle, ok := s.sheets[name]; ok {
		return handle, nil
	}

	var exists bool
	err := s.retrier.Do(ctx, s.lookupPolicy, "sheet:"+name, func(ctx context.Context) error {
		var lookupErr error
		exists, lookupErr = s.backend.WorksheetExists(ctx, name)
		return lookupErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %s: %v", ErrStoreUnavailable, name, err)
	}

	handle := &Worksheet{Name: name}
	if !exists {
		s.logger.Info("sheet not found, creating", zap.String("sheet", name))
		err := s.retrier.Do(ctx, s.writePolicy, "sheet:"+name, func(ctx context.Context) error {
			return s.backend.CreateWorksheet(ctx, name, s.sheetRows, s.sheetCols)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", ErrStoreUnavailable, name, err)
		}
		handle.Created = true
		if err := s.initializeHeaders(ctx, name); err != nil {
			return nil, err
		}
	}
	s.sheets[name] = handle
	return handle, nil
}

func (s *Store) initializeHeaders(ctx context.Context, name string) error {
	schema, ok := s.schemas[name]
	if !ok {
		return nil
	}
	update := RangeUpdate{
		Range:  fmt.Sprintf("A1:%s1", columnLetter(len(schema.Headers))),
		Values: [][]string{schema.Headers},
	}
	err := s.retrier.Do(ctx, s.writePolicy, "sheet:"+name, func(ctx context.Context) error {
		return s.backend.BatchUpdate(ctx, name, []RangeUpdate{update})
	})
	if err != nil {
		return fmt.Errorf("%w: initialize headers for %s: %v", ErrStoreUnavailable, name, err)
	}
	s.logger.Info("initialized sheet headers",
		zap.String("sheet", name),
		zap.Strings("headers", schema.Headers))
	return nil
}

// ValidateRow checks a row against the sheet's registered schema. A
// sheet without a schema accepts everything; validation is opt-in.
func (s *Store) ValidateRow(sheetName string, row Row) error {
	schema, ok := s.schemas[sheetName]
	if !ok {
		return nil
	}
	return schema.validate(row)
}

// AppendRows partitions rows into batches, validates each row, drops
// invalid ones (counted, never raised), and appends the valid remainder
// in one remote call per batch. Transient API failures are retried;
// a batch that still fails is recorded in the report instead of
// aborting the rest. A pacing pause follows every batch regardless of
// its outcome.
func (s *Store) AppendRows(ctx context.Context, sheetName string, rows []Row, batchSize int) (AppendReport, error) {
	report := AppendReport{}
	if len(rows) == 0 {
		return report, nil
	}
	if batchSize <= 0 {
		batchSize = s.pacer.BatchSize()
	}
	if _, err := s.Worksheet(ctx, sheetName); err != nil {
		return report, err
	}
	headers := s.headerOrder(sheetName, rows)

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		valid := make([][]string, 0, len(batch))

		for offset, row := range batch {
			if err := s.ValidateRow(sheetName, row); err != nil {
				report.Failed++
				report.Errors = append(report.Errors, fmt.Sprintf("row %d: %v", start+offset, err))
				continue
			}
			valid = append(valid, projectRow(row, headers))
		}

		if len(valid) > 0 {
			err := s.retrier.Do(ctx, s.writePolicy, "sheet:"+sheetName, func(ctx context.Context) error {
				return s.backend.AppendRows(ctx, sheetName, valid)
			})
			if err != nil {
				report.Failed += len(valid)
				report.Errors = append(report.Errors, fmt.Sprintf("batch %d append: %v", report.Batches, err))
			} else {
				report.Success += len(valid)
				report.Batches++
			}
		}

		if err := s.pacer.Pause(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

// BatchUpdate issues one remote multi-range update. The remote call is
// all-or-nothing: on failure the report carries zero updated cells and
// every requested range.
func (s *Store) BatchUpdate(ctx context.Context, sheetName string, updates []RangeUpdate) (UpdateReport, error) {
	report := UpdateReport{}
	if len(updates) == 0 {
		return report, nil
	}
	if _, err := s.Worksheet(ctx, sheetName); err != nil {
		return report, err
	}
	err := s.retrier.Do(ctx, s.writePolicy, "sheet:"+sheetName, func(ctx context.Context) error {
		return s.backend.BatchUpdate(ctx, sheetName, updates)
	})
	if err != nil {
		s.logger.Warn("batch update failed",
			zap.String("sheet", sheetName),
			zap.Int("ranges", len(updates)),
			zap.Error(err))
		for _, update := range updates {
			report.FailedRanges = append(report.FailedRanges, update.Range)
		}
		return report, nil
	}
	for _, update := range updates {
		if len(update.Values) > 0 {
			report.UpdatedCells += len(update.Values) * len(update.Values[0])
		}
	}
	return report, nil
}

// FindRows reads the whole sheet and returns rows where every condition
// matches exactly, case-sensitive, on the stringified cell value.
func (s *Store) FindRows(ctx context.Context, sheetName string, conditions map[string]string) ([]map[string]string, error) {
	records, err := s.records(ctx, sheetName)
	if err != nil {
		return nil, err
	}
	var matches []map[string]string
	for _, record := range records {
		matched := true
		for key, want := range conditions {
			if record[key] != want {
				matched = false
				break
			}
		}
		if matched {
			matches = append(matches, record)
		}
	}
	return matches, nil
}

// UpdateOrCreate upserts rows keyed by idColumn. The existing-id index
// is rebuilt from one full read per invocation, not per row, to bound
// remote reads; existing rows become single-row range updates flushed
// in one batched call, and genuinely new rows are appended.
func (s *Store) UpdateOrCreate(ctx context.Context, sheetName string, rows []Row, idColumn string) (UpsertReport, error) {
	report := UpsertReport{}
	if len(rows) == 0 {
		return report, nil
	}
	if idColumn == "" {
		if schema, ok := s.schemas[sheetName]; ok {
			idColumn = schema.IDColumn
		} else {
			idColumn = defaultIDColumn
		}
	}
	records, err := s.records(ctx, sheetName)
	if err != nil {
		return report, err
	}
	// Absolute row positions: +2 skips the header row and converts to
	// 1-based indexing.
	existing := make(map[string]int, len(records))
	for idx, record := range records {
		if id, ok := record[idColumn]; ok && id != "" {
			existing[id] = idx + 2
		}
	}

	headers := s.headerOrder(sheetName, rows)
	var updates []RangeUpdate

	for _, row := range rows {
		if err := s.ValidateRow(sheetName, row); err != nil {
			report.Errors++
			continue
		}
		id := ""
		if v, ok := row[idColumn]; ok && v != nil {
			id = fmt.Sprint(v)
		}
		rowNum, found := existing[id]
		if found && id != "" {
			updates = append(updates, RangeUpdate{
				Range:  fmt.Sprintf("A%d:%s%d", rowNum, columnLetter(len(headers)), rowNum),
				Values: [][]string{projectRow(row, headers)},
			})
			report.Updated++
			continue
		}
		appendErr := s.retrier.Do(ctx, s.writePolicy, "sheet:"+sheetName, func(ctx context.Context) error {
			return s.backend.AppendRows(ctx, sheetName, [][]string{projectRow(row, headers)})
		})
		if appendErr != nil {
			report.Errors++
			continue
		}
		report.Created++
	}

	if len(updates) > 0 {
		flushed, err := s.BatchUpdate(ctx, sheetName, updates)
		if err != nil {
			return report, err
		}
		if len(flushed.FailedRanges) > 0 {
			s.logger.Warn("upsert flush incomplete",
				zap.String("sheet", sheetName),
				zap.Int("failed_ranges", len(flushed.FailedRanges)))
		}
	}
	return report, nil
}

// BackupSheet returns the full raw grid, headers included, for
// disaster-recovery export.
func (s *Store) BackupSheet(ctx context.Context, sheetName string) ([][]string, error) {
	if _, err := s.Worksheet(ctx, sheetName); err != nil {
		return nil, err
	}
	var values [][]string
	err := s.retrier.Do(ctx, s.lookupPolicy, "sheet:"+sheetName, func(ctx context.Context) error {
		var readErr error
		values, readErr = s.backend.RawValues(ctx, sheetName)
		return readErr
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (s *Store) records(ctx context.Context, sheetName string) ([]map[string]string, error) {
	if _, err := s.Worksheet(ctx, sheetName); err != nil {
		return nil, err
	}
	var records []map[string]string
	err := s.retrier.Do(ctx, s.lookupPolicy, "sheet:"+sheetName, func(ctx context.Context) error {
		var readErr error
		records, readErr = s.backend.Records(ctx, sheetName)
		return readErr
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// headerOrder prefers the registered schema's column order; without a
// schema the first row's keys are used, sorted for determinism.
func (s *Store) headerOrder(sheetName string, rows []Row) []string {
	if schema, ok := s.schemas[sheetName]; ok {
		return schema.Headers
	}
	if len(rows) == 0 {
		return nil
	}
	headers := make([]string, 0, len(rows[0]))
	for key := range rows[0] {
		headers = append(headers, key)
	}
	sort.Strings(headers)
	return headers
}

// columnLetter converts a 1-based column number to its A1 letter form.
func columnLetter(col int) string {
	if col <= 0 {
		return "A"
	}
	letters := ""
	for col > 0 {
		col--
		letters = string(rune('A'+col%26)) + letters
		col /= 26
	}
	return letters
}

// timestamp formats persisted times the way the sheets expect.
func timestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
