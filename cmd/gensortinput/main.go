// Command gensortinput writes a benchmark input file of little-endian
// int32 values.
//
//	gensortinput -n 1048576 -t gG -p 8 -g 2 input.bin
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/e7canasta/malms/internal/bench"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(os.Args[1:], logger); err != nil {
		slog.Error("gensortinput failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("gensortinput", flag.ContinueOnError)
	n := fs.Int("n", 0, "Number of values")
	kindFlag := fs.String("t", "U", "Input type: "+kindList())
	p := fs.Int("p", 0, "Paket count (B, gG, S, RD)")
	g := fs.Int("g", 0, "Group size (gG)")
	rng := fs.Int("r", 0, "Value range (RD)")
	seed := fs.Int64("seed", 0, "Random seed, 0 = time based")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: gensortinput -n N -t TYPE [-p P] [-g G] [-r RANGE] FILE")
	}
	path := fs.Arg(0)

	kind, err := bench.ParseKind(*kindFlag)
	if err != nil {
		return err
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	start := time.Now()
	data, err := bench.Generate(kind, bench.Params{N: *n, P: *p, G: *g, Range: *rng, Seed: *seed})
	if err != nil {
		return fmt.Errorf("failed to generate input: %w", err)
	}
	if err := bench.WriteFile(path, data); err != nil {
		return err
	}

	logger.Info("input written",
		"path", path,
		"kind", kind,
		"n", len(data),
		"seed", *seed,
		"duration", time.Since(start))
	return nil
}

func kindList() string {
	kinds := bench.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
