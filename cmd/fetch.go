// File: cmd/fetch.go

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager/api/schemas"
	"github.com/xkilldash9x/voyager/internal/engine"
	"github.com/xkilldash9x/voyager/internal/observability"
)

var (
	fetchNoCache    bool
	fetchRequireJS  bool
	fetchScreenshot bool
	fetchTimeout    time.Duration
	fetchWorkers    int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch URL [URL...]",
	Short: "Fetch one or more URLs and print the structured results as JSON.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchNoCache, "no-cache", false, "bypass the result cache")
	fetchCmd.Flags().BoolVar(&fetchRequireJS, "require-js", false, "force a JS-capable backend")
	fetchCmd.Flags().BoolVar(&fetchScreenshot, "screenshot", false, "capture a screenshot per page")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 0, "per-URL navigation timeout (default from config)")
	fetchCmd.Flags().IntVar(&fetchWorkers, "concurrency", 0, "parallel fetch bound (default from config)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if fetchWorkers > 0 {
		cfg.Engine.WorkerBound = fetchWorkers
	}

	eng := engine.New(cfg, logger)
	defer func() {
		if err := eng.Shutdown(cmd.Context()); err != nil {
			logger.Warn("Shutdown did not drain cleanly.", zap.Error(err))
		}
	}()

	reqs := make([]schemas.FetchRequest, len(args))
	for i, target := range args {
		reqs[i] = schemas.FetchRequest{
			URL:        target,
			UseCache:   !fetchNoCache,
			Timeout:    fetchTimeout,
			RequireJS:  fetchRequireJS,
			Screenshot: fetchScreenshot,
		}
	}

	results := eng.FetchAll(ctx, reqs)

	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	for _, result := range results {
		if !result.Success {
			return fmt.Errorf("one or more fetches failed")
		}
	}
	return nil
}
