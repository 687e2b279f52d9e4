// File: cmd/search.go

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/voyager/internal/engine"
	"github.com/xkilldash9x/voyager/internal/observability"
)

var searchCount int

var searchCmd = &cobra.Command{
	Use:   "search QUERY...",
	Short: "Run a web search and fetch the top results.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchCount, "count", "n", 5, "number of results to fetch")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, logger)
	defer func() {
		if err := eng.Shutdown(cmd.Context()); err != nil {
			logger.Warn("Shutdown did not drain cleanly.", zap.Error(err))
		}
	}()

	query := strings.Join(args, " ")
	results := eng.Search(ctx, query, searchCount)

	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
