package cmd

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"metronome/internal/config"
	"metronome/internal/scenario"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate ./path/to/scenario.yaml",
	Short: "Check a scenario without running it",
	Long:  "Parse a scenario and construct every component it names. Nothing is sent.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(args[0])
		if err != nil {
			return err
		}
		s, err := scenario.Build(cmd.Context(), cfg, scenario.Env{
			Stdout:     io.Discard,
			Registerer: prometheus.NewRegistry(),
		})
		if err != nil {
			return err
		}
		s.Close()

		threads := fmt.Sprint(cfg.Generator.Threads)
		if cfg.Generator.Profile != nil {
			threads = fmt.Sprintf("profile (up to %d)", cfg.MaxThreads())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: run %s, threads %s, transport %s, %d reporter(s)\n",
			args[0], cfg.Duration(), threads, cfg.Transport.Type, len(cfg.Reporters))
		return nil
	},
}
