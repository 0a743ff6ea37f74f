package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"amese/labsync/internal/catalog"
	"amese/labsync/internal/metadata"
	"amese/labsync/pkg/config"
	"amese/labsync/pkg/infra/mysql"
	"amese/labsync/pkg/logger"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify connectivity to the database, the platform and the metadata sheet",
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zapLogger.Sync()

	ctx := context.Background()
	failures := 0

	// Database: connect, ensure state table, read the watermark.
	dao, err := mysql.NewMonitorDAO(cfg.MySQL.DSN)
	if err != nil {
		cmd.Printf("[FAIL] mysql: %v\n", err)
		failures++
	} else {
		defer dao.Close()
		if err := dao.Ping(ctx); err != nil {
			cmd.Printf("[FAIL] mysql ping: %v\n", err)
			failures++
		} else if err := dao.Bootstrap(ctx); err != nil {
			cmd.Printf("[FAIL] mysql bootstrap: %v\n", err)
			failures++
		} else {
			var last int64
			err := dao.InCycle(ctx, func(cur mysql.Cursor) error {
				v, err := cur.LastItemID(ctx)
				last = v
				return err
			})
			if err != nil {
				cmd.Printf("[FAIL] mysql watermark: %v\n", err)
				failures++
			} else {
				cmd.Printf("[ OK ] mysql connected, watermark=%d\n", last)
			}
		}
	}

	// Platform catalog. Skipped in dry-run mode, it needs credentials.
	if cfg.Bemsoft.DryRun {
		cmd.Println("[SKIP] bemsoft catalog: dry_run enabled")
	} else {
		client := &http.Client{Timeout: cfg.Bemsoft.Timeout}
		ix := catalog.NewIndex(cfg.Bemsoft.BaseURL, cfg.Bemsoft.Token, client, zapLogger)
		if err := ix.EnsureLoaded(ctx); err != nil {
			cmd.Printf("[FAIL] bemsoft catalog: %v\n", err)
			failures++
		} else {
			cmd.Printf("[ OK ] bemsoft catalog loaded, %d test codes\n", ix.Size())
		}
	}

	// Metadata sheet, optional.
	if !cfg.Sheets.Enabled() {
		cmd.Println("[SKIP] sheet metadata: not configured")
	} else {
		sheet, err := metadata.NewSheetCache(ctx, cfg.Sheets.SheetID, cfg.Sheets.Range, cfg.Sheets.APIKey, zapLogger)
		if err != nil {
			cmd.Printf("[FAIL] sheet metadata: %v\n", err)
			failures++
		} else if err := sheet.EnsureLoaded(ctx); err != nil {
			cmd.Printf("[FAIL] sheet metadata: %v\n", err)
			failures++
		} else {
			cmd.Printf("[ OK ] sheet metadata loaded, %d test codes\n", sheet.Size())
		}
	}

	if cfg.Physician.Complete() {
		cmd.Printf("[ OK ] physician block configured: %s (%s-%s %s)\n",
			cfg.Physician.Name, cfg.Physician.Council, cfg.Physician.Number, cfg.Physician.UF)
	} else {
		cmd.Println("[SKIP] physician block: incomplete, payloads omit it")
	}

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	cmd.Println("All checks passed.")
	return nil
}
