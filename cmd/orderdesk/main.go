package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentworkforce/orderdesk/internal/inbox"
	"github.com/agentworkforce/orderdesk/internal/orderdesk"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg       *orderdesk.Config
	logger    *zap.Logger
	store     *orderdesk.Store
	engine    *orderdesk.Engine
	pipeline  *orderdesk.Pipeline
	mailbox   *inbox.Mailbox
	inventory orderdesk.Inventory
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "orderdesk",
		Short:         "Email classification and order fulfillment pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file")

	root.AddCommand(newRunCommand(&configFile))
	root.AddCommand(newWatchCommand(&configFile))
	root.AddCommand(newBackupCommand(&configFile))
	root.AddCommand(newSnapshotCommand(&configFile))
	return root
}

func newRunCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline pass over the mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			application, err := buildApp(ctx, *configFile, true)
			if err != nil {
				return err
			}
			defer application.close()

			report, err := application.pipeline.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func newWatchCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run a pass now, then on every mailbox change until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			application, err := buildApp(ctx, *configFile, true)
			if err != nil {
				return err
			}
			defer application.close()

			watcher, err := inbox.NewWatcher(inbox.WatcherOptions{
				Dir:    application.cfg.Mailbox.Dir,
				Logger: application.logger,
			})
			if err != nil {
				return err
			}
			defer watcher.Close()

			if _, err := application.pipeline.Run(ctx); err != nil {
				application.logger.Error("pass failed", zap.Error(err))
			}
			for {
				select {
				case <-ctx.Done():
					application.logger.Info("watch stopped")
					return nil
				case <-watcher.Notifications():
					if _, err := application.pipeline.Run(ctx); err != nil {
						application.logger.Error("pass failed", zap.Error(err))
					}
				}
			}
		},
	}
}

func newBackupCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <sheet>",
		Short: "Export a sheet's full raw grid as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			application, err := buildApp(ctx, *configFile, false)
			if err != nil {
				return err
			}
			defer application.close()

			values, err := application.store.BackupSheet(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, values)
		},
	}
}

func newSnapshotCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <product-id>...",
		Short: "Read current stock levels for the given products",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			application, err := buildApp(ctx, *configFile, false)
			if err != nil {
				return err
			}
			defer application.close()

			snapshot, err := application.engine.InventorySnapshot(ctx, args)
			if err != nil {
				return err
			}
			return printJSON(cmd, snapshot)
		},
	}
}

// buildApp wires the full dependency graph from configuration. Setup
// failures here are fatal: a pipeline without its store, inventory, or
// classifier cannot degrade into anything useful.
func buildApp(ctx context.Context, configFile string, needClassifier bool) (*app, error) {
	cfg, err := orderdesk.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := orderdesk.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	retrier := orderdesk.NewRetrier(logger)
	pacer := orderdesk.NewPacer(cfg.Batch.Size, cfg.Batch.PacingDelay)

	backend, err := buildBackend(ctx, cfg, logger, retrier)
	if err != nil {
		return nil, err
	}
	store, err := orderdesk.NewStore(orderdesk.StoreOptions{
		Backend:      backend,
		Logger:       logger,
		Retrier:      retrier,
		LookupPolicy: cfg.ClassifyPolicy(),
		WritePolicy:  cfg.WritePolicy(),
		Pacer:        pacer,
	})
	if err != nil {
		return nil, err
	}
	sheets := orderdesk.PipelineSheets{
		Emails:    cfg.Sheets.EmailsSheet,
		Orders:    cfg.Sheets.OrdersSheet,
		Responses: cfg.Sheets.ResponsesSheet,
	}
	for _, schema := range orderdesk.DefaultSchemas(sheets) {
		if err := store.RegisterSchema(schema); err != nil {
			return nil, err
		}
	}

	inventory, err := buildInventory(cfg, logger)
	if err != nil {
		return nil, err
	}
	engine, err := orderdesk.NewEngine(orderdesk.EngineOptions{
		Inventory:   inventory,
		Logger:      logger,
		Retrier:     retrier,
		StockPolicy: cfg.StockPolicy(),
		Pacer:       pacer,
		ItemDelay:   cfg.Batch.ItemDelay,
	})
	if err != nil {
		return nil, err
	}

	mailbox, err := inbox.NewMailbox(inbox.MailboxOptions{Dir: cfg.Mailbox.Dir, Logger: logger})
	if err != nil {
		return nil, err
	}

	application := &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		engine:    engine,
		mailbox:   mailbox,
		inventory: inventory,
	}
	if !needClassifier {
		return application, nil
	}

	client, err := orderdesk.NewOpenAIClient(orderdesk.OpenAIClientOptions{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier setup: %w", err)
	}
	dispatcher, err := orderdesk.NewDispatcher(orderdesk.DispatcherOptions{
		Classifier: client,
		Logger:     logger,
		Retrier:    retrier,
		Policy:     cfg.ClassifyPolicy(),
		Pacer:      pacer,
		Labels: orderdesk.Labels{
			Order:        cfg.Labels.Order,
			Inquiry:      cfg.Labels.Inquiry,
			Unclassified: cfg.Labels.Unclassified,
		},
	})
	if err != nil {
		return nil, err
	}

	var responder *orderdesk.Responder
	if cfg.Company.Name != "" {
		responder, err = orderdesk.NewResponder(orderdesk.ResponderOptions{
			Company: orderdesk.CompanyInfo{
				Name:         cfg.Company.Name,
				ContactEmail: cfg.Company.ContactEmail,
				Phone:        cfg.Company.Phone,
				PolicyURL:    cfg.Company.PolicyURL,
			},
			Drafter: client,
			Logger:  logger,
			Retrier: retrier,
			Policy:  cfg.ClassifyPolicy(),
		})
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("company info not configured, reply drafting disabled")
	}

	application.pipeline, err = orderdesk.NewPipeline(orderdesk.PipelineOptions{
		Source:     mailbox,
		Dispatcher: dispatcher,
		Engine:     engine,
		Store:      store,
		Responder:  responder,
		Logger:     logger,
		Sheets:     sheets,
		BatchSize:  cfg.Batch.Size,
	})
	if err != nil {
		return nil, err
	}
	return application, nil
}

func buildBackend(ctx context.Context, cfg *orderdesk.Config, logger *zap.Logger, retrier *orderdesk.Retrier) (orderdesk.Backend, error) {
	if strings.TrimSpace(cfg.Sheets.SpreadsheetID) == "" {
		logger.Warn("no spreadsheet configured, using in-memory store")
		return orderdesk.NewMemoryBackend(), nil
	}
	credentials, err := os.ReadFile(cfg.Sheets.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return orderdesk.NewSheetsBackend(ctx, orderdesk.SheetsBackendOptions{
		SpreadsheetID:   cfg.Sheets.SpreadsheetID,
		CredentialsJSON: credentials,
		Logger:          logger,
		Retrier:         retrier,
	})
}

func buildInventory(cfg *orderdesk.Config, logger *zap.Logger) (orderdesk.Inventory, error) {
	if strings.TrimSpace(cfg.Inventory.DSN) == "" {
		logger.Warn("no inventory DSN configured, using empty in-memory inventory")
		return orderdesk.NewMemoryInventory(nil), nil
	}
	return orderdesk.NewPostgresInventory(cfg.Inventory.DSN)
}

func (a *app) close() {
	if closer, ok := a.inventory.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	_ = a.logger.Sync()
}

func printJSON(cmd *cobra.Command, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
