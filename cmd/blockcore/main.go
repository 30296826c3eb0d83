// Command blockcore sends core availability events to a running malmsd.
//
//	blockcore block -c 1,3 -socket /run/malms.sock
//	blockcore unblock -c 1,3 -broker localhost:1883 -topic malms/cores/lab
//	blockcore block -c 2 -socket /run/malms.sock -load
//
// With -load, a busy loop is pinned to every blocked core until the
// process is interrupted, then the matching unblock is sent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/e7canasta/malms/internal/events"
	"github.com/e7canasta/malms/internal/scheduler"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(os.Args[1:], logger); err != nil {
		slog.Error("blockcore failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, logger *slog.Logger) error {
	if len(args) == 0 {
		return errors.New("usage: blockcore block|unblock -c CORES (-socket PATH | -broker HOST:PORT -topic TOPIC) [-load]")
	}

	action := args[0]
	var mkEvent func(int) events.Event
	switch action {
	case "block":
		mkEvent = events.Block
	case "unblock":
		mkEvent = events.Unblock
	default:
		return fmt.Errorf("%w: %q", events.ErrUnknownCommand, action)
	}

	fs := flag.NewFlagSet("blockcore "+action, flag.ContinueOnError)
	coresFlag := fs.String("c", "", "Comma separated core indexes")
	socketPath := fs.String("socket", "", "malmsd event socket path")
	broker := fs.String("broker", "", "MQTT broker host:port")
	topic := fs.String("topic", "", "MQTT core command topic")
	load := fs.Bool("load", false, "Busy-loop on every blocked core until interrupted, then unblock")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cores, err := parseCores(*coresFlag)
	if err != nil {
		return err
	}
	if *load && action != "block" {
		return errors.New("-load only applies to block")
	}

	sender, err := dial(*socketPath, *broker, *topic, logger)
	if err != nil {
		return err
	}
	defer sender.Close()

	evs := make([]events.Event, len(cores))
	for i, c := range cores {
		evs[i] = mkEvent(c)
	}
	if err := sender.Send(evs...); err != nil {
		return fmt.Errorf("failed to send events: %w", err)
	}
	logger.Info("events sent", "action", action, "cores", cores)

	if !*load {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := loadCores(ctx, cores, logger); err != nil {
		return err
	}

	for i, c := range cores {
		evs[i] = events.Unblock(c)
	}
	if err := sender.Send(evs...); err != nil {
		return fmt.Errorf("failed to send unblock: %w", err)
	}
	logger.Info("events sent", "action", "unblock", "cores", cores)
	return nil
}

func parseCores(s string) ([]int, error) {
	if s == "" {
		return nil, errors.New("-c is required")
	}
	var cores []int
	for _, field := range strings.Split(s, ",") {
		c, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || c < 0 {
			return nil, fmt.Errorf("invalid core index %q", field)
		}
		cores = append(cores, c)
	}
	return cores, nil
}

func dial(socketPath, broker, topic string, logger *slog.Logger) (events.Sender, error) {
	switch {
	case socketPath != "" && broker != "":
		return nil, errors.New("-socket and -broker are exclusive")
	case socketPath != "":
		return events.Dial(socketPath)
	case broker != "":
		if topic == "" {
			return nil, errors.New("-topic is required with -broker")
		}
		cfg := events.MQTTConfig{
			Broker:   broker,
			ClientID: "blockcore-" + uuid.NewString()[:8],
			Topic:    topic,
			QoS:      1,
		}
		client, err := events.ConnectMQTT(context.Background(), cfg, logger)
		if err != nil {
			return nil, err
		}
		return events.NewMQTTSender(client, cfg), nil
	default:
		return nil, errors.New("one of -socket or -broker is required")
	}
}

// loadCores pins one spinning goroutine to the CPU of every core index and
// returns when ctx is done.
func loadCores(ctx context.Context, cores []int, logger *slog.Logger) error {
	cpus, err := scheduler.AllowedCPUs()
	if err != nil {
		return err
	}

	for _, c := range cores {
		if c >= len(cpus) {
			return fmt.Errorf("core %d outside affinity mask of %d cpus", c, len(cpus))
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(cores))
	for _, c := range cores {
		cpu := cpus[c]

		wg.Add(1)
		go func() {
			defer wg.Done()
			// Never unlocked: the pinned thread exits with the goroutine.
			runtime.LockOSThread()

			if err := scheduler.PinThread(cpu); err != nil {
				errCh <- err
				return
			}
			spin(ctx)
		}()
	}

	logger.Info("loading cores, interrupt to release", "cores", cores)
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func spin(ctx context.Context) {
	for n := uint64(0); ; n++ {
		if n&0xFFFFF == 0 && ctx.Err() != nil {
			return
		}
	}
}
