package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrypster/farmmemory/internal/config"
	"github.com/scrypster/farmmemory/internal/logging"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	debug bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "farmmem",
		Short:         "farmmem - conversational memory for the farming advisor",
		Long:          `farmmem records farmer conversations and builds the memory context, insights and session summaries the advisor uses on each turn.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")

	root.AddCommand(
		newRecordCmd(opts),
		newContextCmd(opts),
		newInsightsCmd(opts),
		newConsolidateCmd(opts),
		newHistoryCmd(opts),
		newProfileCmd(opts),
		newHealthCmd(opts),
	)
	return root
}

// run loads configuration, wires the app and hands it to fn. All logging
// goes to stderr; stdout carries only command output.
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if o.debug {
		level = "debug"
	}
	logger := logging.New(cmd.ErrOrStderr(), level, cfg.Log.Format)
	ctx := logging.WithContext(cmd.Context(), logger)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close storage")
		}
	}()

	return fn(ctx, a)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute runs the root command with ctx and exits non-zero on failure.
func Execute(ctx context.Context) {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "farmmem:", err)
		os.Exit(1)
	}
}
