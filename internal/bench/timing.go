package bench

import (
	"math"
	"time"
)

// stabilityThreshold is the largest standard deviation, as a fraction of
// the mean, for which repeated runs count as stable.
const stabilityThreshold = 0.15

// Timing summarizes the durations of repeated sorts.
type Timing struct {
	Runs     int
	Mean     time.Duration
	StdDev   time.Duration
	Min      time.Duration
	Max      time.Duration
	Elements float64 // Elements sorted per second at the mean duration
	IsStable bool    // StdDev < 15% of Mean, needs at least 2 runs
}

// Summarize computes timing statistics of runs over n elements each.
//
// This function:
//  1. Finds min/max duration
//  2. Calculates mean and population standard deviation
//  3. Derives throughput from the mean
//  4. Determines stability (stddev < 15% of mean)
func Summarize(runs []time.Duration, n int) Timing {
	if len(runs) == 0 {
		return Timing{}
	}

	minD, maxD := runs[0], runs[0]
	var sum float64
	for _, d := range runs {
		minD = min(minD, d)
		maxD = max(maxD, d)
		sum += float64(d)
	}
	mean := sum / float64(len(runs))

	var sumSquares float64
	for _, d := range runs {
		diff := float64(d) - mean
		sumSquares += diff * diff
	}
	stddev := math.Sqrt(sumSquares / float64(len(runs)))

	t := Timing{
		Runs:     len(runs),
		Mean:     time.Duration(mean),
		StdDev:   time.Duration(stddev),
		Min:      minD,
		Max:      maxD,
		IsStable: len(runs) > 1 && stddev < mean*stabilityThreshold,
	}
	if mean > 0 {
		t.Elements = float64(n) / time.Duration(mean).Seconds()
	}
	return t
}
