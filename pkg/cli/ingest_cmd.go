package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"log-ingest/internal/app"
	"log-ingest/internal/config"
	"log-ingest/internal/domain"
)

func newIngestCmd(opts *options) *cobra.Command {
	var (
		file   string
		stream string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a JSON file through the full pipeline",
		Long: "Ingest a JSON array (or single object) of records into a stream, applying " +
			"the stream's transforms, schema evolution and alerts exactly as the server does.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := readPayload(file)
			if err != nil {
				return err
			}

			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			cfg.CoordDBPath = opts.coordDir
			cfg.CoordInMemory = false
			cfg.MetaDBPath = opts.metaDB
			cfg.DataDir = opts.dataDir

			logger := opts.logger()
			for _, w := range cfg.Warnings {
				logger.Warn(w)
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, app.Deps{Cfg: cfg, Logger: logger})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.Services.FunctionsSync.Cache(ctx); err != nil {
				return fmt.Errorf("load functions: %w", err)
			}
			if err := a.Services.AlertsSync.Cache(ctx); err != nil {
				return fmt.Errorf("load alerts: %w", err)
			}

			resp, err := a.Services.Ingestion.Ingest(ctx, opts.org, stream, payload, 0)
			if err != nil {
				return err
			}
			return printIngestionResponse(opts, resp)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file to ingest, - for stdin (required)")
	cmd.Flags().StringVar(&stream, "stream", "", "Target stream (required)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("stream")

	return cmd
}

func readPayload(file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(file) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return data, nil
}

func printIngestionResponse(opts *options, resp *domain.IngestionResponse) error {
	if opts.output == "json" {
		return printJSON(resp)
	}
	rows := make([][]string, 0, len(resp.Status))
	for _, s := range resp.Status {
		rows = append(rows, []string{
			s.Name,
			fmt.Sprint(s.Successful),
			fmt.Sprint(s.Failed),
			s.Error,
		})
	}
	return printTable([]string{"stream", "successful", "failed", "error"}, rows)
}
