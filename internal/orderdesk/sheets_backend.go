package orderdesk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

const sheetsValueInputOption = "USER_ENTERED"

type SheetsBackendOptions struct {
	SpreadsheetID   string
	CredentialsJSON []byte
	Logger          *zap.Logger
	Retrier         *Retrier
	ConnectPolicy   Policy
}

// SheetsBackend drives a Google spreadsheet through the Sheets API.
// Connection establishment is verified up front and retried with
// exponential backoff; a backend that cannot reach its spreadsheet is
// a fatal setup failure, not a degradable one.
type SheetsBackend struct {
	service       *sheets.Service
	spreadsheetID string
	logger        *zap.Logger
}

func NewSheetsBackend(ctx context.Context, opts SheetsBackendOptions) (*SheetsBackend, error) {
	if opts.SpreadsheetID == "" {
		return nil, fmt.Errorf("%w: spreadsheet id is required", ErrInvalidInput)
	}
	if len(opts.CredentialsJSON) == 0 {
		return nil, fmt.Errorf("%w: service account credentials are required", ErrInvalidInput)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retrier == nil {
		opts.Retrier = NewRetrier(opts.Logger)
	}
	if opts.ConnectPolicy.BaseDelay <= 0 {
		opts.ConnectPolicy.BaseDelay = 2 * time.Second
	}

	service, err := sheets.NewService(ctx,
		option.WithCredentialsJSON(opts.CredentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("%w: sheets service: %v", ErrStoreUnavailable, err)
	}
	backend := &SheetsBackend{
		service:       service,
		spreadsheetID: opts.SpreadsheetID,
		logger:        opts.Logger,
	}

	var title string
	err = opts.Retrier.Do(ctx, opts.ConnectPolicy, "spreadsheet:"+opts.SpreadsheetID, func(ctx context.Context) error {
		spreadsheet, getErr := service.Spreadsheets.Get(opts.SpreadsheetID).Fields("properties.title").Context(ctx).Do()
		if getErr != nil {
			return wrapSheetsError(getErr)
		}
		if spreadsheet.Properties != nil {
			title = spreadsheet.Properties.Title
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrStoreUnavailable, err)
	}
	opts.Logger.Info("connected to spreadsheet", zap.String("title", title))
	return backend, nil
}

func (b *SheetsBackend) WorksheetExists(ctx context.Context, name string) (bool, error) {
	spreadsheet, err := b.service.Spreadsheets.Get(b.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return false, wrapSheetsError(err)
	}
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == name {
			return true, nil
		}
	}
	return false, nil
}

func (b *SheetsBackend) CreateWorksheet(ctx context.Context, name string, rows, cols int) error {
	request := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title: name,
					GridProperties: &sheets.GridProperties{
						RowCount:    int64(rows),
						ColumnCount: int64(cols),
					},
				},
			},
		}},
	}
	_, err := b.service.Spreadsheets.BatchUpdate(b.spreadsheetID, request).Context(ctx).Do()
	return wrapSheetsError(err)
}

func (b *SheetsBackend) Records(ctx context.Context, name string) ([]map[string]string, error) {
	values, err := b.RawValues(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	headers := values[0]
	var records []map[string]string
	for _, row := range values[1:] {
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

func (b *SheetsBackend) RawValues(ctx context.Context, name string) ([][]string, error) {
	resp, err := b.service.Spreadsheets.Values.Get(b.spreadsheetID, quoteSheetRange(name, "")).Context(ctx).Do()
	if err != nil {
		return nil, wrapSheetsError(err)
	}
	values := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		converted := make([]string, len(row))
		for i, cell := range row {
			converted[i] = fmt.Sprint(cell)
		}
		values = append(values, converted)
	}
	return values, nil
}

func (b *SheetsBackend) AppendRows(ctx context.Context, name string, values [][]string) error {
	body := &sheets.ValueRange{Values: toInterfaceGrid(values)}
	_, err := b.service.Spreadsheets.Values.Append(b.spreadsheetID, quoteSheetRange(name, ""), body).
		ValueInputOption(sheetsValueInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	return wrapSheetsError(err)
}

func (b *SheetsBackend) BatchUpdate(ctx context.Context, name string, updates []RangeUpdate) error {
	data := make([]*sheets.ValueRange, 0, len(updates))
	for _, update := range updates {
		data = append(data, &sheets.ValueRange{
			Range:  quoteSheetRange(name, update.Range),
			Values: toInterfaceGrid(update.Values),
		})
	}
	request := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: sheetsValueInputOption,
		Data:             data,
	}
	_, err := b.service.Spreadsheets.Values.BatchUpdate(b.spreadsheetID, request).Context(ctx).Do()
	return wrapSheetsError(err)
}

func toInterfaceGrid(values [][]string) [][]interface{} {
	grid := make([][]interface{}, len(values))
	for i, row := range values {
		converted := make([]interface{}, len(row))
		for j, cell := range row {
			converted[j] = cell
		}
		grid[i] = converted
	}
	return grid
}

func quoteSheetRange(name, rng string) string {
	quoted := "'" + name + "'"
	if rng == "" {
		return quoted
	}
	return quoted + "!" + rng
}

// wrapSheetsError marks rate-limit and server-side API failures as
// transient so write policies retry them; 4xx responses stay permanent.
func wrapSheetsError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return Transient(err)
		}
		return err
	}
	// Anything that never produced an API response (DNS, timeouts) is
	// worth retrying.
	return Transient(err)
}
