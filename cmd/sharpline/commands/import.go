package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sharpline/sharpline/pkg/stores"
)

func newImportCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load odds snapshots into the store",
		Long: `Import a JSON array of odds snapshots. Each snapshot needs game_id, market and book;
captured_at defaults to the import time. Use - to read from stdin.

Stored snapshots feed "run --from-store" and supply opening lines to the line movement
strategies.`,
		Example: `  sharpline import snapshots.json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			snapshots, err := readSnapshots(args[0])
			if err != nil {
				return err
			}

			store, err := openStore(ctx, storePath(flags))
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.InsertSnapshots(ctx, snapshots); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d snapshots\n", len(snapshots))
			return nil
		},
	}
	return cmd
}

func readSnapshots(path string) ([]stores.OddsSnapshot, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshots: %w", err)
		}
		defer f.Close()
		r = f
	}

	var snapshots []stores.OddsSnapshot
	if err := json.NewDecoder(r).Decode(&snapshots); err != nil {
		return nil, fmt.Errorf("failed to decode snapshots: %w", err)
	}
	return snapshots, nil
}
