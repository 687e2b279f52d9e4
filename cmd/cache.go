// File: cmd/cache.go

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/voyager/internal/engine"
	"github.com/xkilldash9x/voyager/internal/observability"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the result cache.",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached result from memory and disk.",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng := engine.New(cfg, observability.GetLogger())
		eng.ClearCache("")
		fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
