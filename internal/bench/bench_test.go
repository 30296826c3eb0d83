package bench

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"U":                     Uniform,
		"gG":                    GGroup,
		"g-group":               GGroup,
		"Staggered":             Staggered,
		"randomized-duplicates": RandomizedDuplicates,
		"DD":                    DeterministicDuplicates,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %q, %v; expected %q", in, got, err, want)
		}
	}
	if _, err := ParseKind("XX"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

// TestGenerateEveryKind validates every kind yields n non-negative values
// and is deterministic for a fixed seed.
func TestGenerateEveryKind(t *testing.T) {
	p := Params{N: 4096, P: 8, G: 2, Range: 32, Seed: 9}
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			a, err := Generate(kind, p)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if len(a) != p.N {
				t.Fatalf("got %d values, expected %d", len(a), p.N)
			}
			for i, v := range a {
				if v < 0 {
					t.Fatalf("value %d is negative: %d", i, v)
				}
			}

			b, _ := Generate(kind, p)
			if !slices.Equal(a, b) {
				t.Error("same seed produced different inputs")
			}
		})
	}
}

func TestGenerateMissingParams(t *testing.T) {
	cases := []struct {
		kind Kind
		p    Params
	}{
		{Uniform, Params{N: 0}},
		{BucketSorted, Params{N: 10}},
		{Staggered, Params{N: 10, P: 11}},
		{GGroup, Params{N: 10, P: 2}},
		{RandomizedDuplicates, Params{N: 10, P: 2}},
	}
	for _, c := range cases {
		if _, err := Generate(c.kind, c.p); !errors.Is(err, ErrMissingParam) {
			t.Errorf("%s %+v: expected ErrMissingParam, got %v", c.kind, c.p, err)
		}
	}
	if _, err := Generate(Kind("Q"), Params{N: 1}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestZeroAndDeterministicDuplicates(t *testing.T) {
	z, _ := Generate(Zero, Params{N: 5})
	if !slices.Equal(z, []int32{0, 0, 0, 0, 0}) {
		t.Errorf("zero: %v", z)
	}

	// n=16: 8 x log2(16), 4 x log2(8), 2 x log2(4), 1 x log2(2), then 1 x log2(1).
	dd, _ := Generate(DeterministicDuplicates, Params{N: 16})
	want := []int32{4, 4, 4, 4, 4, 4, 4, 4, 3, 3, 3, 3, 2, 2, 1, 0}
	if !slices.Equal(dd, want) {
		t.Errorf("deterministic duplicates: %v, expected %v", dd, want)
	}
}

// TestBucketSortedPaketsAreOrdered validates the B distribution: inside
// each of the p pakets, bucket indexes never decrease.
func TestBucketSortedPaketsAreOrdered(t *testing.T) {
	const n, p = 1024, 4
	data, err := Generate(BucketSorted, Params{N: n, P: p})
	if err != nil {
		t.Fatal(err)
	}
	width := int32(randMax / p)
	for paket := 0; paket < p; paket++ {
		chunk := data[paket*n/p : (paket+1)*n/p]
		for i := 1; i < len(chunk); i++ {
			if chunk[i]/width < chunk[i-1]/width {
				t.Fatalf("paket %d: bucket decreases at %d", paket, i)
			}
		}
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.bin")
	data := []int32{5, -1, 0, 2147483647, -2147483648}

	if err := WriteFile(path, data); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(4*len(data)) {
		t.Errorf("file size %d, expected %d", info.Size(), 4*len(data))
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !slices.Equal(got, data) {
		t.Errorf("got %v, expected %v", got, data)
	}
}

func TestReadFileRejectsPartialValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3, 4, 5}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Error("expected error for truncated file")
	}
	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSummarize(t *testing.T) {
	if got := Summarize(nil, 10); got != (Timing{}) {
		t.Errorf("empty runs: %+v", got)
	}

	runs := []time.Duration{90 * time.Millisecond, 100 * time.Millisecond, 110 * time.Millisecond}
	got := Summarize(runs, 1000)
	if got.Runs != 3 || got.Mean != 100*time.Millisecond || got.Min != 90*time.Millisecond || got.Max != 110*time.Millisecond {
		t.Errorf("unexpected summary %+v", got)
	}
	if !got.IsStable {
		t.Errorf("stddev %v of mean %v must be stable", got.StdDev, got.Mean)
	}
	if got.Elements < 9999 || got.Elements > 10001 {
		t.Errorf("throughput %f, expected 10000/s", got.Elements)
	}

	if Summarize([]time.Duration{time.Millisecond}, 1).IsStable {
		t.Error("a single run cannot be stable")
	}
	if Summarize([]time.Duration{time.Millisecond, 10 * time.Millisecond}, 1).IsStable {
		t.Error("widely spread runs reported stable")
	}
}
