package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"crmhub/src/core/ingest"
	"crmhub/src/infrastructure/excel"
	"crmhub/src/infrastructure/log"
	"crmhub/src/storage/postgres"
	"crmhub/src/storage/postgres/contactctrl"
	"crmhub/src/storage/postgres/leadctrl"
)

var (
	importFile   string
	importEntity string
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import records from an Excel workbook",
	Long:  `The import command loads leads or contacts from a local .xlsx file directly into the database`,
	RunE:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	settingDefaultConfig()

	importCmd.Flags().StringVar(&importFile, "file", "", "path to the .xlsx file to import")
	importCmd.Flags().StringVar(&importEntity, "entity", "leads", "record type to import (leads or contacts)")
	importCmd.MarkFlagRequired("file")
}

func runImport(cmd *cobra.Command, args []string) error {
	if !excel.ValidExtension(importFile) {
		return fmt.Errorf("unsupported file type %q, expected .xlsx or .xls", importFile)
	}

	f, err := os.Open(importFile)
	if err != nil {
		return fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds := newCredentialManager()
	factory := postgres.NewFactory(postgres.Config{
		Host:     viper.GetString("postgres.host"),
		Port:     viper.GetInt("postgres.port"),
		User:     viper.GetString("postgres.user"),
		Database: viper.GetString("postgres.db"),
		Schema:   viper.GetString("postgres.schema"),
		SSLMode:  viper.GetString("postgres.sslmode"),
	}, creds)

	cfg := ingest.Config{
		ChunkSize:         viper.GetInt("ingest.sync_chunk_size"),
		BatchSize:         viper.GetInt("ingest.sync_batch_size"),
		MaxInsertAttempts: viper.GetUint("ingest.max_insert_attempts"),
	}

	switch importEntity {
	case "leads":
		rows, err := parseWorkbook(f, excel.LeadSchema)
		if err != nil {
			return err
		}
		return importRows(ctx, rows, cfg, leadctrl.NewLoaderFactory(factory), creds)
	case "contacts":
		rows, err := parseWorkbook(f, excel.ContactSchema)
		if err != nil {
			return err
		}
		return importRows(ctx, rows, cfg, contactctrl.NewLoaderFactory(factory), creds)
	default:
		return fmt.Errorf("unknown entity %q, expected leads or contacts", importEntity)
	}
}

func parseWorkbook(f *os.File, schema excel.Schema) ([]ingest.Row, error) {
	rows, fileErrs, err := excel.Parse(f, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workbook: %w", err)
	}
	if len(fileErrs) > 0 {
		for _, e := range fileErrs {
			fmt.Fprintln(os.Stderr, e)
		}
		return nil, fmt.Errorf("workbook failed validation")
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("workbook contains no data rows")
	}
	return rows, nil
}

func importRows[T any](ctx context.Context, rows []ingest.Row, cfg ingest.Config, newLoader ingest.LoaderFactory[T], creds ingest.Credentials) error {
	registry := ingest.NewRegistry(time.Hour, time.Minute)
	taskID := registry.Create(len(rows))
	registry.Start(taskID)

	bar := progressbar.Default(int64(len(rows)), "importing")

	// Feed the bar from the same snapshots an API poller would see
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			snap, ok := registry.Get(taskID)
			if !ok {
				return
			}
			bar.Set(snap.Processed)
			if snap.Status == ingest.StatusCompleted || snap.Status == ingest.StatusFailed {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	pipe := ingest.NewPipeline(cfg, newLoader, creds, registry, nil)
	result, err := pipe.Run(ctx, taskID, rows)
	if err != nil {
		registry.Fail(taskID, err.Error())
		<-done
		return err
	}
	registry.Complete(taskID, result)
	<-done
	bar.Finish()

	fmt.Printf("\nImported %d records, %d failed\n", result.SuccessCount, result.FailedCount)
	for _, rec := range result.FailedRecords {
		log.Info("record rejected", "row", rec.Row, "field", rec.Field, "error", rec.Message)
	}
	return nil
}
