package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the SQLite schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := storePath(flags)

			store, err := openStore(ctx, path)
			if err != nil {
				return err
			}
			defer store.Close()

			version, dirty, _, err := store.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"path":    path,
					"version": version,
					"dirty":   dirty,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema at %s is at version %d\n", path, version)
			return nil
		},
	}
}
