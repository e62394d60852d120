package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/harshithgowdakt/partdb/internal/alter"
	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/backend/filestore"
	"github.com/harshithgowdakt/partdb/internal/backend/memstore"
	"github.com/harshithgowdakt/partdb/internal/catalog"
	"github.com/harshithgowdakt/partdb/internal/config"
	"github.com/harshithgowdakt/partdb/internal/engine"
	"github.com/harshithgowdakt/partdb/internal/logutil"
	"github.com/harshithgowdakt/partdb/internal/metrics"
	"github.com/harshithgowdakt/partdb/internal/server"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "partd",
	Short:         "partdb - a partitioned table server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Recover pending alterations and serve SQL over HTTP",
	RunE:  runServe,
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Recover pending alterations and report the state of every table",
	RunE:  runRecover,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("data-dir", "", "data directory")
	rootCmd.PersistentFlags().String("log-level", "", "log level")
	serveCmd.Flags().String("addr", "", "HTTP listen address")
	serveCmd.Flags().String("default-engine", "", "engine of tables created without ENGINE")
	rootCmd.AddCommand(serveCmd, recoverCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type instance struct {
	cfg *config.Config
	log *logrus.Logger
	reg *prometheus.Registry
	m   *metrics.Metrics
	cat *catalog.Catalog
}

// start loads the configuration and opens the catalog, which replays the
// DDL log of every table with an outstanding alteration.
func start(cmd *cobra.Command) (*instance, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		level = f.Value.String()
	}
	log, err := logutil.New(os.Stderr, level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	entry := logrus.NewEntry(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engines, err := backend.NewRegistry(memstore.New(), filestore.New(cfg.Codec(), entry))
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(catalog.Options{
		DataDir:        cfg.DataDir,
		Engines:        engines,
		LockTimeout:    cfg.LockTimeout,
		AlterTimeout:   cfg.AlterTimeout,
		PruneCacheSize: cfg.PruneCacheSize,
		Alter: alter.Options{
			Workers:   cfg.BulkCopy.Workers,
			BatchRows: cfg.BulkCopy.BatchRows,
			Log:       entry,
		},
		Log:     entry,
		Metrics: m,
	})
	if err != nil {
		return nil, err
	}
	log.WithField("data_dir", cfg.DataDir).Info("catalog opened")
	return &instance{cfg: cfg, log: log, reg: reg, m: m, cat: cat}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	in, err := start(cmd)
	if err != nil {
		return err
	}
	defer in.cat.Close()

	exec := engine.New(in.cat, engine.Options{
		DefaultEngine:  in.cfg.DefaultEngine,
		SkipUnroutable: in.cfg.SkipUnroutable(),
		LockTimeout:    in.cfg.LockTimeout,
		Log:            logrus.NewEntry(in.log),
		Metrics:        in.m,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(exec, in.cfg.Addr, in.m, in.reg, logrus.NewEntry(in.log))
	if err := srv.Start(ctx); err != nil {
		return err
	}
	in.log.Info("shut down")
	return nil
}

func runRecover(cmd *cobra.Command, _ []string) error {
	in, err := start(cmd)
	if err != nil {
		return err
	}
	defer in.cat.Close()

	failed := 0
	for _, t := range in.cat.Tables() {
		status := "OK"
		if t.Disabled != nil {
			status = "DISABLED: " + t.Disabled.Error()
			failed++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.Name, t.Engine, status)
	}
	if failed > 0 {
		return fmt.Errorf("%d tables could not be recovered", failed)
	}
	return nil
}
