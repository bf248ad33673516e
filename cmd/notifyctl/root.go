package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"notifyroute/internal/app"
	"notifyroute/internal/config"
	"notifyroute/internal/routing"
	"notifyroute/internal/types"
)

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	RulesFile  string
	NoDefaults bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the notifyctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "notifyctl",
		Short: "Inspect routing rules and enqueue events",
		Long: `notifyctl loads the same routing rules as the API and shows how
events would be routed, without delivering anything. publish hands an
event to the event worker through SQS.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log engine activity to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.RulesFile, "rules-file", "", "YAML rules file loaded after the defaults")
	cmd.PersistentFlags().BoolVar(&opts.NoDefaults, "no-defaults", false, "skip the built-in rules")

	cmd.AddCommand(NewRulesCommand(opts))
	cmd.AddCommand(NewRouteCommand(opts))
	cmd.AddCommand(NewPublishCommand(opts))

	return cmd
}

// engine builds a routing engine from the root flags.
func (o *RootOptions) engine(cmd *cobra.Command) (*routing.Engine, error) {
	logger := types.NopLogger()
	if o.Verbose {
		logger = types.NewSlogLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)))
	}
	return app.NewEngine(config.RoutingConfig{
		RulesFile:           o.RulesFile,
		DisableDefaultRules: o.NoDefaults,
	}, types.RealClock{}, logger)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
