package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"notifyroute/internal/api/handlers"
)

// NewRulesCommand creates the rules command group.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect routing rules",
	}
	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List rules in evaluation order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesList(rootOpts, cmd)
		},
	})
	return cmd
}

func runRulesList(opts *RootOptions, cmd *cobra.Command) error {
	engine, err := opts.engine(cmd)
	if err != nil {
		return err
	}

	rules := engine.Rules()
	resp := handlers.RulesResponse{Stats: engine.Stats(), Rules: make([]handlers.RuleView, 0, len(rules))}
	for _, r := range rules {
		resp.Rules = append(resp.Rules, handlers.RuleView{
			Name:            r.Name,
			Priority:        r.Priority,
			Channels:        r.Channels,
			SubjectTemplate: r.SubjectTemplate,
			MessageTemplate: r.MessageTemplate,
		})
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, resp)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRIORITY\tNAME\tCHANNELS")
	for _, r := range resp.Rules {
		chans := make([]string, len(r.Channels))
		for i, ch := range r.Channels {
			chans[i] = string(ch)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.Priority, r.Name, strings.Join(chans, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d rule(s)\n", resp.TotalRules)
	return nil
}
