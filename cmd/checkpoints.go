package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/examprep/examprep-cli/internal/store"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and discard saved analysis checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved checkpoints, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("checkpoints"); err != nil {
			return err
		}
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		list, err := st.List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "checkpoints list")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No checkpoints found.")
			return nil
		}
		fmt.Fprintln(os.Stdout, checkpointTable(list))
		return nil
	},
}

var checkpointsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a checkpoint with its completed units",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("checkpoints"); err != nil {
			return err
		}
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		state, err := st.Load(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "checkpoints show")
		}
		if state == nil {
			return eris.Wrapf(store.ErrNotFound, "checkpoint %s", args[0])
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	},
}

var checkpointsDiscardCmd = &cobra.Command{
	Use:   "discard <id>...",
	Short: "Delete checkpoints",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("checkpoints"); err != nil {
			return err
		}
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, id := range args {
			if err := st.Discard(ctx, id); err != nil {
				return eris.Wrapf(err, "checkpoints discard %s", id)
			}
			fmt.Fprintf(os.Stderr, "Discarded %s\n", id)
		}
		return nil
	},
}

func init() {
	checkpointsListCmd.Flags().Int("limit", 20, "maximum number of checkpoints to list")
	checkpointsCmd.AddCommand(checkpointsListCmd, checkpointsShowCmd, checkpointsDiscardCmd)
	rootCmd.AddCommand(checkpointsCmd)
}
