package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"metronome/internal/accumulator"
	"metronome/internal/destination"
	"metronome/internal/reporting"
	"metronome/internal/template"
	"metronome/internal/transport"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available transports, reporters, destinations, accumulators and template functions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "transports:   %s\n", strings.Join(transport.Names(), ", "))
		fmt.Fprintf(w, "reporters:    %s\n", strings.Join(reporting.Names(), ", "))
		fmt.Fprintf(w, "destinations: %s\n", strings.Join(destination.Names(), ", "))
		fmt.Fprintf(w, "accumulators: %s\n", strings.Join(accumulator.Names(), ", "))
		fmt.Fprintf(w, "functions:    %s\n", strings.Join(template.FuncNames(), ", "))
	},
}
