package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/digdir/kunnskapsassistenten/internal/api"
	"github.com/digdir/kunnskapsassistenten/internal/config"
	"github.com/digdir/kunnskapsassistenten/internal/report"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve evaluation results over HTTP",
	Long: `Serve evaluation results over HTTP.

Loads a results file once and exposes aggregated reports, metric and
topic inventories, the failure matrix, and paged individual results
as JSON for dashboards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		resultsPath, _ := cmd.Flags().GetString("results")
		port, _ := cmd.Flags().GetInt("port")

		if port == 0 {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			port = cfg.Server.Port
		}

		results, skipped, err := report.ReadEvaluationResults(resultsPath)
		if err != nil {
			return err
		}
		if skipped > 0 {
			printWarning("Skipped %d malformed lines in %s", skipped, resultsPath)
		}

		ctx, stop := signalContext()
		defer stop()

		srv := &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", port),
			Handler: api.NewServer(results).Handler(),
		}

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		printSuccess("Serving %d results on http://%s", len(results), srv.Addr)

		select {
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		case <-ctx.Done():
			slog.Info("shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("results", "", "evaluation results file (JSONL)")
	serveCmd.Flags().Int("port", 0, "listen port (0 = configured default)")
	serveCmd.MarkFlagRequired("results")
}
