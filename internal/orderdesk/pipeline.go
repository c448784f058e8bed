package orderdesk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PipelineSheets names the worksheets a pass persists into.
type PipelineSheets struct {
	Emails    string
	Orders    string
	Responses string
}

func DefaultSheets() PipelineSheets {
	return PipelineSheets{
		Emails:    "emails",
		Orders:    "orders",
		Responses: "responses",
	}
}

// DefaultSchemas returns the sheet contracts for the three pipeline
// worksheets.
func DefaultSchemas(sheets PipelineSheets) []SheetSchema {
	return []SheetSchema{
		{
			Name:     sheets.Emails,
			Headers:  []string{"id", "subject", "category", "error", "processed_at", "run_id"},
			IDColumn: "id",
		},
		{
			Name:     sheets.Orders,
			Headers:  []string{"order_id", "status", "items", "error", "processed_at", "run_id"},
			IDColumn: "order_id",
		},
		{
			Name:     sheets.Responses,
			Headers:  []string{"id", "order_id", "body", "created_at", "run_id"},
			IDColumn: "id",
		},
	}
}

type PipelineOptions struct {
	Source     EmailSource
	Dispatcher *Dispatcher
	Engine     *Engine
	Store      *Store
	Responder  *Responder
	Logger     *zap.Logger
	Sheets     PipelineSheets
	BatchSize  int
	Now        func() time.Time
}

// Pipeline runs one batch pass over the inbox: classify, fulfill
// order-labeled emails, persist everything, draft replies, archive.
// Every stage degrades to per-unit report entries; a pass always
// completes with a full PassReport unless the inbox itself cannot be
// read.
type Pipeline struct {
	source     EmailSource
	dispatcher *Dispatcher
	engine     *Engine
	store      *Store
	responder  *Responder
	logger     *zap.Logger
	sheets     PipelineSheets
	batchSize  int
	now        func() time.Time
}

type PassReport struct {
	RunID           string
	Classified      []ClassificationResult
	Orders          BulkReport
	EmailsPersisted UpsertReport
	OrdersPersisted UpsertReport
	Responses       AppendReport
	Archived        int
	ArchiveFailures int
	MissingPayloads int
}

func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Source == nil || opts.Dispatcher == nil || opts.Engine == nil || opts.Store == nil {
		return nil, fmt.Errorf("%w: source, dispatcher, engine, and store are required", ErrInvalidInput)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sheets == (PipelineSheets{}) {
		opts.Sheets = DefaultSheets()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		source:     opts.Source,
		dispatcher: opts.Dispatcher,
		engine:     opts.Engine,
		store:      opts.Store,
		responder:  opts.Responder,
		logger:     opts.Logger,
		sheets:     opts.Sheets,
		batchSize:  opts.BatchSize,
		now:        opts.Now,
	}, nil
}

// Run executes one pass. Only an unreadable inbox fails the pass as a
// whole; everything downstream is captured in the report.
func (p *Pipeline) Run(ctx context.Context) (PassReport, error) {
	report := PassReport{RunID: uuid.NewString()}
	logger := p.logger.With(zap.String("run_id", report.RunID))

	emails, err := p.source.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("load inbox: %w", err)
	}
	if len(emails) == 0 {
		logger.Info("inbox empty, nothing to do")
		return report, nil
	}
	logger.Info("starting pass", zap.Int("emails", len(emails)))

	report.Classified = p.dispatcher.ClassifyBatch(ctx, emails)
	labels := p.dispatcher.Labels()
	labelByEmail := make(map[string]ClassificationResult, len(report.Classified))
	for _, result := range report.Classified {
		labelByEmail[result.EmailID] = result
	}

	var orders []OrderRequest
	emailByOrder := map[string]string{}
	for _, email := range emails {
		result, ok := labelByEmail[email.ID]
		if !ok || result.Label != labels.Order {
			continue
		}
		if email.Order == nil || email.Order.OrderID == "" {
			report.MissingPayloads++
			logger.Warn("order-labeled email has no order payload", zap.String("email_id", email.ID))
			continue
		}
		orders = append(orders, *email.Order)
		emailByOrder[email.Order.OrderID] = email.ID
	}

	report.Orders, err = p.engine.BulkProcess(ctx, orders)
	if err != nil {
		return report, err
	}

	stamp := timestamp(p.now())
	if err := p.persist(ctx, &report, emails, orders, labelByEmail, emailByOrder, stamp); err != nil {
		return report, err
	}

	for _, email := range emails {
		result, ok := labelByEmail[email.ID]
		if !ok || result.Label == labels.Unclassified {
			continue
		}
		if err := p.source.Archive(ctx, email.ID); err != nil {
			report.ArchiveFailures++
			logger.Warn("archive failed", zap.String("email_id", email.ID), zap.Error(err))
			continue
		}
		report.Archived++
	}

	logger.Info("pass complete",
		zap.Int("classified", len(report.Classified)),
		zap.Int("orders", len(orders)),
		zap.Int("fulfilled", report.Orders.SuccessCount),
		zap.Int("archived", report.Archived))
	return report, nil
}

func (p *Pipeline) persist(ctx context.Context, report *PassReport, emails []Email, orders []OrderRequest, labelByEmail map[string]ClassificationResult, emailByOrder map[string]string, stamp string) error {
	emailRows := make([]Row, 0, len(emails))
	for _, email := range emails {
		result := labelByEmail[email.ID]
		emailRows = append(emailRows, Row{
			"id":           email.ID,
			"subject":      email.Subject,
			"category":     result.Label,
			"error":        result.Err,
			"processed_at": stamp,
			"run_id":       report.RunID,
		})
	}
	var err error
	report.EmailsPersisted, err = p.store.UpdateOrCreate(ctx, p.sheets.Emails, emailRows, "id")
	if err != nil {
		return fmt.Errorf("persist emails: %w", err)
	}

	// Iterate the caller-supplied order sequence, not the report map,
	// so persisted row order is stable.
	orderRows := make([]Row, 0, len(orders))
	responseRows := make([]Row, 0, len(orders))
	for _, order := range orders {
		orderID := order.OrderID
		result, ok := report.Orders.Orders[orderID]
		if !ok {
			continue
		}
		items := ""
		if len(result.Items) > 0 {
			if encoded, encodeErr := json.Marshal(result.Items); encodeErr == nil {
				items = string(encoded)
			}
		}
		orderRows = append(orderRows, Row{
			"order_id":     orderID,
			"status":       string(result.Status),
			"items":        items,
			"error":        result.Err,
			"processed_at": stamp,
			"run_id":       report.RunID,
		})

		if p.responder == nil || result.Status == OrderProcessingError {
			continue
		}
		body, draftErr := p.draftReply(ctx, result)
		if draftErr != nil {
			p.logger.Warn("reply draft failed",
				zap.String("order_id", orderID),
				zap.Error(draftErr))
			continue
		}
		responseRows = append(responseRows, Row{
			"id":         emailByOrder[orderID],
			"order_id":   orderID,
			"body":       body,
			"created_at": stamp,
			"run_id":     report.RunID,
		})
	}

	report.OrdersPersisted, err = p.store.UpdateOrCreate(ctx, p.sheets.Orders, orderRows, "order_id")
	if err != nil {
		return fmt.Errorf("persist orders: %w", err)
	}
	if len(responseRows) > 0 {
		report.Responses, err = p.store.AppendRows(ctx, p.sheets.Responses, responseRows, p.batchSize)
		if err != nil {
			return fmt.Errorf("persist responses: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) draftReply(ctx context.Context, result OrderResult) (string, error) {
	if result.Status == OrderFulfilled {
		return p.responder.OrderConfirmation(ctx, result)
	}
	return p.responder.OutOfStock(ctx, result, nil)
}
