package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/refractionPOINT/duologsync/config"
	"github.com/refractionPOINT/duologsync/duo"
	"github.com/refractionPOINT/duologsync/utils"
)

const (
	logFileName = "duologsync.log"

	statsInterval       = 1 * time.Minute
	filterStatsInterval = 5 * time.Minute
)

type runOptions struct {
	overrides   []string
	healthcheck int
	filters     []string
	filterMode  string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Poll the enabled log endpoints and write the events to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProducer(args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&opts.overrides, "set", nil, "override a config value, e.g. --set logs.polling.duration=300")
	f.IntVar(&opts.healthcheck, "healthcheck", 0, "port of the HTTP health check, 0 disables it")
	f.StringArrayVar(&opts.filters, "filter", nil, "event filter, regex:<pattern> or gjson:<path>:<pattern>")
	f.StringVar(&opts.filterMode, "filter-mode", string(utils.FilterModeExclude), "exclude drops matching events, include keeps only them")
	return cmd
}

func runProducer(configPath string, opts *runOptions) error {
	// Events own stdout.
	swapLogOutputs(func(_, errs io.Writer) (io.Writer, io.Writer) {
		return errs, errs
	})
	log("starting")

	store := &config.Store{}
	health := &healthState{store: store}
	if opts.healthcheck != 0 {
		srv, err := startHealthChecks(opts.healthcheck, health.handler())
		if err != nil {
			return fmt.Errorf("healthcheck: %v", err)
		}
		defer srv.Close()
		log("healthcheck listening on :%d", opts.healthcheck)
	}

	if err := installConfig(store, configPath, opts.overrides); err != nil {
		return err
	}
	cfg, err := store.Config()
	if err != nil {
		return err
	}

	closeLog := openLogFile(cfg.LogDir())
	defer closeLog()
	printConfig("run", cfg)
	reportUnused(cfg)

	filter, err := newFilter(opts.filters, opts.filterMode)
	if err != nil {
		return err
	}
	if filter != nil {
		defer filter.Close()
	}

	producer, err := duo.NewProducer(cfg, duo.NewAPI(cfg.Credentials()), duo.NewWriterSink(os.Stdout), applyLogging(duo.Options{
		Filter: filter,
	}))
	if err != nil {
		return err
	}
	health.setStats(producer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(osSignals)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		select {
		case <-osSignals:
			log("received signal to exit")
			cancel()
		case <-ctx.Done():
		}
	}()
	go func() {
		defer wg.Done()
		reportStats(ctx, producer, statsInterval)
	}()

	log("polling %v", cfg.EnabledEndpoints())
	err = producer.Run(ctx)
	cancel()
	wg.Wait()
	for _, l := range statsLines(producer.Stats()) {
		log("STA %s: %s", time.Now().Format(time.Stamp), l)
	}
	if err != nil {
		return err
	}
	log("exited")
	return nil
}

// openLogFile mirrors the log output to a rotated file in dir. The
// returned func closes the file and restores the previous outputs.
func openLogFile(dir string) func() {
	lf := &lumberjack.Logger{
		Filename:   filepath.Join(dir, logFileName),
		MaxSize:    25, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	prevOut, prevErr := swapLogOutputs(func(out, errs io.Writer) (io.Writer, io.Writer) {
		return io.MultiWriter(out, lf), io.MultiWriter(errs, lf)
	})
	return func() {
		setLogOutputs(prevOut, prevErr)
		if err := lf.Close(); err != nil {
			logError("closing log file: %v", err)
		}
	}
}

func newFilter(patterns []string, mode string) (*utils.FilterEngine, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	parsed := make([]utils.FilterPattern, 0, len(patterns))
	for _, p := range patterns {
		fp, err := utils.ParseFilterPattern(p)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, fp)
	}
	return utils.NewFilterEngine(parsed, utils.FilterMode(mode), filterStatsInterval, func(msg string) {
		log("DBG %s: %s", time.Now().Format(time.Stamp), msg)
	})
}

func reportStats(ctx context.Context, p statsProvider, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for _, l := range statsLines(p.Stats()) {
			log("STA %s: %s", time.Now().Format(time.Stamp), l)
		}
	}
}
