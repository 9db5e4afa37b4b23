package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newIngestCmd creates the 'ingest' subcommand.
func newIngestCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "ingest <url>",
		Short: "Ingests one site synchronously and prints its registry",
		Long: `Crawls the given site, runs comprehension and normalization, stores
the registry, and writes it as JSON to stdout (or --output).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			return runIngest(cmd, args[0], w)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the registry JSON to this file")
	return cmd
}

func runIngest(cmd *cobra.Command, target string, w io.Writer) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	job, reg, err := a.Service.IngestNow(cmd.Context(), target)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", target, err)
	}
	a.Logger.Info("ingest complete",
		zap.String("job_id", job.ID),
		zap.String("domain", reg.Domain),
		zap.Int("capabilities", len(reg.Capabilities)),
		zap.Float64("confidence", reg.AIMetadata.ConfidenceScore))

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reg); err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	return nil
}
