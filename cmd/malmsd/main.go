package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/malms/internal/bench"
	"github.com/e7canasta/malms/internal/config"
	"github.com/e7canasta/malms/internal/events"
	"github.com/e7canasta/malms/internal/health"
	"github.com/e7canasta/malms/internal/mergesort"
	"github.com/e7canasta/malms/internal/scheduler"
)

const defaultConfigPath = "config/malms.yaml"

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "config", *configPath, "error", err)
		os.Exit(1)
	}

	// Setup structured logger
	logLevel := cfg.SlogLevel()
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("instance_id", cfg.InstanceID)
	slog.SetDefault(logger)

	slog.Info("starting malms service",
		"config", *configPath,
		"debug", *debug,
	)

	// SIGINT/SIGTERM only stop the daemon; core availability arrives
	// through the event sources.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("service error", "error", err)
		os.Exit(1)
	}
	slog.Info("malms service stopped successfully")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	sched, err := scheduler.New(scheduler.Options{
		Cores:       cfg.Scheduler.Cores,
		Pin:         cfg.Scheduler.Pin,
		EventBuffer: cfg.Scheduler.EventBuffer,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// The sort loop ending stops the rest of the group.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	sources, cleanup, err := buildSources(gctx, cfg, logger)
	if err != nil {
		shutdown(sched, cfg.ShutdownTimeout())
		return err
	}
	defer cleanup()

	for _, src := range sources {
		src := src
		g.Go(func() error {
			if err := src.Run(gctx, sched); err != nil {
				return fmt.Errorf("%s source: %w", src.Name(), err)
			}
			return nil
		})
	}

	if cfg.Health.Addr != "" {
		srv := health.NewServer(sched, cfg.InstanceID, logger)
		g.Go(func() error {
			return srv.Run(gctx, cfg.Health.Addr)
		})
	}

	g.Go(func() error {
		defer cancel()
		return sortLoop(gctx, sched, cfg.Sort, logger)
	})

	groupErr := g.Wait()

	slog.Info("shutting down gracefully", "timeout", cfg.ShutdownTimeout())
	if err := shutdown(sched, cfg.ShutdownTimeout()); err != nil {
		return errors.Join(groupErr, err)
	}
	return groupErr
}

// buildSources creates the configured event sources. cleanup releases the
// MQTT connection after the sources have returned.
func buildSources(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]events.Source, func(), error) {
	var sources []events.Source
	cleanup := func() {}

	if path := cfg.Events.Socket.Path; path != "" {
		sources = append(sources, events.NewSocketSource(path, logger))
	}

	if m := cfg.Events.MQTT; m != nil {
		mcfg := events.MQTTConfig{
			Broker:   m.Broker,
			ClientID: m.ClientID,
			Topic:    m.Topic,
			QoS:      *m.QoS,
		}
		client, err := events.ConnectMQTT(ctx, mcfg, logger)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to connect mqtt: %w", err)
		}
		cleanup = func() {
			client.Disconnect(250)
			slog.Info("mqtt client disconnected")
		}
		sources = append(sources, events.NewMQTTSource(client, mcfg, logger))
	}

	if len(sources) == 0 {
		logger.Warn("no event source configured, core availability is fixed")
	}
	return sources, cleanup, nil
}

// sortLoop sorts the configured input cfg.Repeat times on every core,
// verifying each result. A running sort always finishes; cancellation is
// checked between sorts.
func sortLoop(ctx context.Context, sched *scheduler.Scheduler, cfg config.SortConfig, logger *slog.Logger) error {
	pakets := cfg.Pakets
	if pakets == 0 {
		pakets = sched.NumCores()
	}

	input, err := loadInput(cfg, pakets, logger)
	if err != nil {
		return err
	}
	if len(input) > 0 && pakets > len(input) {
		pakets = len(input)
	}

	var want int64
	for _, v := range input {
		want += int64(v)
	}

	totals := make([]time.Duration, 0, cfg.Repeat)
	defer func() {
		if len(totals) == 0 {
			return
		}
		t := bench.Summarize(totals, len(input))
		logger.Info("sort timing summary",
			"runs", t.Runs,
			"mean", t.Mean,
			"stddev", t.StdDev,
			"min", t.Min,
			"max", t.Max,
			"elements_per_s", int64(t.Elements),
			"stable", t.IsStable,
		)
	}()

	for round := 1; round <= cfg.Repeat; round++ {
		if ctx.Err() != nil {
			logger.Info("sort loop cancelled", "completed", round-1)
			return nil
		}

		data := slices.Clone(input)
		report, err := sortOnce(sched, data, pakets, cfg.CopyBack, logger)
		if err != nil {
			return fmt.Errorf("sort %d: %w", round, err)
		}
		if err := verify(data, want); err != nil {
			return fmt.Errorf("sort %d: %w", round, err)
		}
		totals = append(totals, report.Total)

		logger.Info("sort completed",
			"round", round,
			"n", report.N,
			"pakets", report.Pakets,
			"sort", report.Sort,
			"split", report.Split,
			"merge", report.Merge,
			"copy", report.Copy,
			"total", report.Total,
			"available_cores", sched.Stats().AvailableCores(),
		)
	}
	return nil
}

func sortOnce(sched *scheduler.Scheduler, data []int32, pakets int, copyBack bool, logger *slog.Logger) (mergesort.Report, error) {
	q, err := sched.NewJob()
	if err != nil {
		return mergesort.Report{}, err
	}
	defer sched.DeleteJob(q)

	if err := sched.ScheduleToAll(q); err != nil {
		return mergesort.Report{}, err
	}
	return mergesort.Sort(q, data, mergesort.Options{
		Pakets:   pakets,
		CopyBack: copyBack,
		Logger:   logger,
	})
}

func loadInput(cfg config.SortConfig, pakets int, logger *slog.Logger) ([]int32, error) {
	if cfg.Input != "" {
		data, err := bench.ReadFile(cfg.Input)
		if err != nil {
			return nil, err
		}
		logger.Info("sort input loaded", "path", cfg.Input, "n", len(data))
		return data, nil
	}

	kind, err := bench.ParseKind(cfg.Generator)
	if err != nil {
		return nil, err
	}
	seed := time.Now().UnixNano()
	data, err := bench.Generate(kind, bench.Params{
		N:     cfg.Size,
		P:     pakets,
		G:     cfg.Groups,
		Range: cfg.Range,
		Seed:  seed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate input: %w", err)
	}
	logger.Info("sort input generated", "kind", kind, "n", len(data), "seed", seed)
	return data, nil
}

// verify checks order and the element sum against the input.
func verify(data []int32, want int64) error {
	if !slices.IsSorted(data) {
		return fmt.Errorf("output is not sorted")
	}
	var sum int64
	for _, v := range data {
		sum += int64(v)
	}
	if sum != want {
		return fmt.Errorf("output sum %d differs from input sum %d", sum, want)
	}
	return nil
}

func shutdown(sched *scheduler.Scheduler, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- sched.Close() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("scheduler shutdown exceeded %v", timeout)
	}
}
