package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/cache"
)

func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the plan cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove all cached plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := cache.DefaultDir()

			err := cache.NewFileCache(dir).Clear()
			if err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}

			mustN(fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", dir))

			return nil
		},
	})

	return cmd
}
