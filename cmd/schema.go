package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentic-research/i2run/internal/cliargs"
)

var (
	schemaConfigPath string
	schemaLogLevel   string
)

func init() {
	schemaCmd.Flags().StringVar(&schemaConfigPath, "config", "", "Path to config file (default ~/.i2run/config.yaml)")
	schemaCmd.Flags().StringVar(&schemaLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.AddCommand(schemaCmd)
}

var schemaCmd = &cobra.Command{
	Use:   "schema <task>",
	Short: "Print a task's merged definition and the flags derived from it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(schemaConfigPath, schemaLogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		st, err := loadSchema(cfg, args[0], logger)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprint(out, st.Outline())

		fmt.Fprintln(out, "\nFlags:")
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, spec := range cliargs.Build(st, logger).Specs() {
			var notes []string
			if spec.Multi {
				notes = append(notes, "repeatable")
			}
			if len(spec.Choices) > 0 {
				notes = append(notes, "one of "+strings.Join(spec.Choices, ","))
			}
			fmt.Fprintf(tw, "  --%s\t%s\t%s\t%s\n", spec.Flag, spec.TypeName, spec.Path, strings.Join(notes, "; "))
		}
		return tw.Flush()
	},
}
