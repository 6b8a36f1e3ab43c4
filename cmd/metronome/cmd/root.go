package cmd

import (
	"errors"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"metronome/internal/collector"
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text, json")
	bindFlags(rootCmd.PersistentFlags())
}

// bindFlags makes every flag in fs readable through viper under its own name.
func bindFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			log.WithError(err).WithField("flag", f.Name).Fatal("Unable to bind flag")
		}
	})
}

var rootCmd = &cobra.Command{
	Use:   "metronome",
	Short: "Load generator with pluggable transports, reporters and destinations",
	Long: `
Metronome drives a target with iterations from a bounded set of worker slots,
for a number of iterations or a length of time, and reports measurements to
destinations on iteration, time and percentage periods.

Every flag can also be set through the environment, e.g. METRONOME_LOG_LEVEL=debug.
`,
	SilenceUsage: true,
}

// Execute runs the root command and exits with the run's exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var coded *exitError
		if errors.As(err, &coded) {
			os.Exit(coded.code)
		}
		log.Error(err)
		os.Exit(collector.ExitError)
	}
}

func initConfig() {
	viper.SetEnvPrefix("metronome")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if viper.GetString("log-format") == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		log.WithError(err).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
}
