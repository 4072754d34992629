package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"tiny_stm/pkg/config"
	"tiny_stm/pkg/metrics"
	"tiny_stm/pkg/stm"
)

type app struct {
	configPath  string
	verbose     bool
	showMetrics bool

	registry *prometheus.Registry
	stm      *stm.STM
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "driver",
		Short:        "Exercise the tiny_stm engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.showMetrics {
				return a.dumpMetrics(cmd)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML file with STM settings")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log retries at debug level")
	root.PersistentFlags().BoolVar(&a.showMetrics, "metrics", false, "print transaction counters on exit")

	root.AddCommand(
		newDemoCmd(a),
		newBankCmd(a),
		newCounterCmd(a),
		newAtomCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	a.registry = prometheus.NewRegistry()
	opts := append(cfg.Options(logger), stm.WithObserver(metrics.New(a.registry)))
	a.stm = stm.New(opts...)

	logger.Debug("stm ready",
		slog.Int("max_retries", cfg.MaxRetries),
		slog.String("isolation", cfg.Isolation))
	return nil
}

func (a *app) dumpMetrics(cmd *cobra.Command) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}

	var lines []string
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, pair := range metric.GetLabel() {
				labels = append(labels, pair.GetName()+"="+pair.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g",
				family.GetName(), strings.Join(labels, ","), metric.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
