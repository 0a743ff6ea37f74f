package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"amese/labsync/internal/catalog"
	"amese/labsync/internal/delivery"
	"amese/labsync/internal/failsink"
	"amese/labsync/internal/metadata"
	"amese/labsync/internal/monitor"
	"amese/labsync/internal/transform"
	"amese/labsync/pkg/config"
	"amese/labsync/pkg/infra/mysql"
	"amese/labsync/pkg/infra/redis"
	"amese/labsync/pkg/logger"
)

// Specimen id stamped on payloads generated without catalog access.
const dryRunSpecimenID = "DRY-RUN"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the order monitor loop",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	log.Println("========================================")
	log.Println("  LABSYNC Monitor Starting...")
	log.Println("========================================")

	// 1. Load and validate config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	log.Printf("Config loaded: %s, env: %s, log_level: %s, dry_run: %v\n",
		cfg.App.Name, cfg.App.Env, cfg.App.LogLevel, cfg.Bemsoft.DryRun)

	// 2. Initialize logger
	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zapLogger.Sync()

	ctx := context.Background()

	// 3. Connect the operational database
	dao, err := mysql.NewMonitorDAO(cfg.MySQL.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect mysql: %w", err)
	}
	defer dao.Close()

	// 4. Failure sink
	sink, err := failsink.NewSink(cfg.Monitor.FailedDir, zapLogger)
	if err != nil {
		return fmt.Errorf("failed to create failure sink: %w", err)
	}

	// 5. Delivery client and transformer
	tf, client, err := buildPipeline(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}

	// 6. Optional delivery notifications
	var mopts []monitor.Option
	if cfg.Redis.Enabled() {
		notifier, err := redis.NewNotifier(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err != nil {
			zapLogger.Warnf(ctx, "[Main] redis unavailable, notifications disabled: %v", err)
		} else {
			defer notifier.Close()
			mopts = append(mopts, monitor.WithNotifier(notifier))
		}
	}

	// 7. Start the monitor
	mon := monitor.New(monitor.Options{
		PollInterval:   cfg.Monitor.PollInterval,
		DebounceWindow: cfg.Monitor.DebounceWindow,
		PageSize:       cfg.Monitor.PageSize,
		Providers:      cfg.Monitor.Providers,
	}, dao, tf, client, sink, zapLogger, mopts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- mon.Run(ctx)
	}()

	log.Println("Monitor started. Press Ctrl+C to shutdown.")

	// 8. Wait for a signal or a fatal monitor error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v, shutting down...\n", sig)
		mon.Shutdown()
		if err := <-errCh; err != nil {
			return err
		}
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Printf("Monitor exited gracefully. delivered=%d failed=%d\n", mon.Delivered(), mon.Failed())
	return nil
}

// buildPipeline wires the transformer and the delivery client from config.
// Shared by run and replay.
func buildPipeline(ctx context.Context, cfg *config.Config, zapLogger logger.Logger) (*transform.Transformer, *delivery.Client, error) {
	client := delivery.NewClient(delivery.Options{
		BaseURL:          cfg.Bemsoft.BaseURL,
		RequestsEndpoint: cfg.Bemsoft.RequestsEndpoint,
		Token:            cfg.Bemsoft.Token,
		Timeout:          cfg.Bemsoft.Timeout,
		MaxRetries:       cfg.Bemsoft.Retries,
		Backoff:          cfg.Bemsoft.Backoff,
		VerifyTLS:        cfg.Bemsoft.VerifyTLS,
		DryRun:           cfg.Bemsoft.DryRun,
	}, zapLogger)

	overrides, err := transform.LoadTestMap(cfg.Bemsoft.TestMapPath)
	if err != nil {
		return nil, nil, err
	}

	var meta transform.MetadataSource
	if cfg.Sheets.Enabled() {
		sheet, err := metadata.NewSheetCache(ctx, cfg.Sheets.SheetID, cfg.Sheets.Range, cfg.Sheets.APIKey, zapLogger)
		if err != nil {
			zapLogger.Warnf(ctx, "[Main] sheet metadata unavailable: %v", err)
		} else {
			meta = sheet
		}
	}

	var tfOpts []transform.Option
	if cfg.Bemsoft.DryRun {
		// No platform credentials are needed to preview payloads.
		tfOpts = append(tfOpts, transform.WithSpecimenOverride(dryRunSpecimenID))
	}

	tf := transform.New(
		catalog.NewIndex(cfg.Bemsoft.BaseURL, cfg.Bemsoft.Token, client.HTTPClient(), zapLogger),
		meta,
		overrides,
		transform.Defaults{Gender: cfg.Bemsoft.DefaultGender, BirthDate: cfg.Bemsoft.DefaultBirthDate},
		transform.PhysicianFromConfig(cfg.Physician.Name, cfg.Physician.Council, cfg.Physician.Number, cfg.Physician.UF),
		zapLogger,
		tfOpts...,
	)
	return tf, client, nil
}
