package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/examprep/examprep-cli/internal/stream"
)

var explainCmd = &cobra.Command{
	Use:   "explain <topic>",
	Short: "Stream a plain-language explanation of a topic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "explain")
		if err != nil {
			return err
		}
		defer env.Close()

		rc, err := env.Engine.Explain(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if err := streamText(ctx, rc, os.Stdout); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(explainCmd)
}

// streamText writes each text delta of an event stream to w as it arrives.
func streamText(ctx context.Context, rc io.ReadCloser, w io.Writer) error {
	c := stream.NewController(func(ev stream.Event) {
		if ev.Delta != "" {
			_, _ = io.WriteString(w, ev.Delta)
		}
	})
	return c.Run(ctx, rc)
}
