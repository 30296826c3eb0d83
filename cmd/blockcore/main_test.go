package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/e7canasta/malms/internal/events"
)

func TestParseCores(t *testing.T) {
	got, err := parseCores("1, 3,0")
	if err != nil || !slices.Equal(got, []int{1, 3, 0}) {
		t.Errorf("parseCores = %v, %v", got, err)
	}
	for _, bad := range []string{"", "1,,2", "-1", "x"} {
		if _, err := parseCores(bad); err == nil {
			t.Errorf("parseCores(%q): expected error", bad)
		}
	}
}

func TestRunRejectsBadArguments(t *testing.T) {
	logger := slog.Default()
	cases := [][]string{
		nil,
		{"pause", "-c", "1", "-socket", "/tmp/x"},
		{"block", "-socket", "/tmp/x"},
		{"block", "-c", "1"},
		{"block", "-c", "1", "-socket", "/tmp/x", "-broker", "b:1883"},
		{"block", "-c", "1", "-broker", "b:1883"},
		{"unblock", "-c", "1", "-socket", "/tmp/x", "-load"},
	}
	for _, args := range cases {
		if err := run(args, logger); err == nil {
			t.Errorf("run(%v): expected error", args)
		}
	}
	if err := run([]string{"pause"}, logger); !errors.Is(err, events.ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}

// TestRunSendsOverSocket validates the socket path end to end against a
// live event source.
func TestRunSendsOverSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "malms.sock")
	src := events.NewSocketSource(path, nil)
	sink := make(sinkChan, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Run(ctx, sink)

	select {
	case <-src.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("socket source never became ready")
	}

	if err := run([]string{"block", "-c", "2,0", "-socket", path}, slog.Default()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, want := range []events.Event{events.Block(2), events.Block(0)} {
		select {
		case got := <-sink:
			if got != want {
				t.Errorf("got %v, expected %v", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %v never arrived", want)
		}
	}
}

type sinkChan chan events.Event

func (s sinkChan) Notify(ev events.Event) error {
	s <- ev
	return nil
}
