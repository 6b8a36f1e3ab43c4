package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"metronome/internal/collector"
	"metronome/internal/config"
	"metronome/internal/metrics"
	"metronome/internal/progress"
	"metronome/internal/scenario"
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("output", "text", "summary format: text, json")
	runCmd.Flags().Bool("fail-fast", false, "abort the run on the first failed iteration")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	runCmd.Flags().Duration("status-interval", 5*time.Second, "how often run progress is logged, 0 disables it")
	bindFlags(runCmd.Flags())
}

var runCmd = &cobra.Command{
	Use:   "run ./path/to/scenario.yaml",
	Short: "Run a scenario",
	Long: `Run a scenario and print the run summary.

Exit codes: 0 success (or interrupted), 1 thresholds failed, 2 error or fail-fast abort.

	Example scenario.yaml:

	run: 30s
	generator:
	  threads: 10
	  speed: 200
	transport:
	  type: http
	  properties:
	    url: http://localhost:8080/echo
	messages:
	  - payload: '{"id":"${iteration}"}'
	reporters:
	  - type: response-time
	    destinations:
	      - type: console
	        periods: ["5s", "100%"]
	thresholds:
	  duration:
	    p99: 250ms
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output := viper.GetString("output")
		if output != "text" && output != "json" {
			return fmt.Errorf("--output must be 'text' or 'json', got %q", output)
		}

		cfg, err := config.LoadConfig(args[0])
		if err != nil {
			return err
		}

		env := scenario.Env{
			Stdout:   cmd.OutOrStdout(),
			FailFast: viper.GetBool("fail-fast"),
		}
		if addr := viper.GetString("metrics-addr"); addr != "" {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			sink, err := metrics.NewPrometheus(reg)
			if err != nil {
				return err
			}
			env.Registerer = reg
			env.Sinks = append(env.Sinks, sink)
			stop := serveMetrics(addr, reg)
			defer stop()
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		s, err := scenario.Build(ctx, cfg, env)
		if err != nil {
			return err
		}
		if interval := viper.GetDuration("status-interval"); interval > 0 {
			stop := logStatus(s.Tracker(), interval)
			defer stop()
		}

		res, runErr := s.Run(ctx)
		interrupted := ctx.Err() != nil && errors.Is(runErr, context.Canceled)
		if interrupted {
			fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, run stopped early")
		}

		if res.Metrics != nil {
			if output == "json" {
				if err := collector.FormatJSON(cmd.OutOrStdout(), res.Metrics, res.Thresholds); err != nil {
					return err
				}
			} else {
				collector.FormatText(cmd.OutOrStdout(), res.Metrics, res.Thresholds)
			}
		}

		if interrupted {
			return nil
		}
		code := res.ExitCode()
		switch code {
		case collector.ExitOK:
			return nil
		case collector.ExitThresholdsFailed:
			if output == "text" {
				fmt.Fprintln(os.Stderr, "\nThreshold check failed!")
			}
		default:
			log.WithError(runErr).Error("Run failed")
		}
		return &exitError{code: code}
	},
}

// serveMetrics exposes reg until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server failed")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Metrics server did not shut down cleanly")
		}
	}
}

// logStatus logs run progress every interval until the returned function is called.
func logStatus(tracker *progress.Tracker, interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if !tracker.IsStarted() {
					continue
				}
				log.WithFields(log.Fields{
					"iterations": tracker.Iterations(),
					"percentage": fmt.Sprintf("%.1f%%", tracker.Percentage()),
					"elapsed":    tracker.RunTime().Round(time.Second),
					"threads":    tracker.Threads(),
					"tags":       tracker.Tags(),
				}).Info("Run status")
			}
		}
	}()
	return func() { close(done) }
}
