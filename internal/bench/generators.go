// Package bench generates the sorting benchmark inputs of Helman, Bader and
// JaJa ("A Randomized Parallel Sorting Algorithm with an Experimental
// Study") and reads/writes them as binary files.
package bench

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// randMax is the largest value a generator draws, as in C's RAND_MAX.
const randMax = math.MaxInt32

var (
	ErrUnknownKind  = errors.New("malms: unknown benchmark input kind")
	ErrMissingParam = errors.New("malms: benchmark input parameter missing")
)

// Kind names an input distribution by its short code.
type Kind string

const (
	Uniform                 Kind = "U"
	Gaussian                Kind = "G"
	Zero                    Kind = "Z"
	BucketSorted            Kind = "B"
	GGroup                  Kind = "gG"
	Staggered               Kind = "S"
	DeterministicDuplicates Kind = "DD"
	RandomizedDuplicates    Kind = "RD"
)

var longNames = map[string]Kind{
	"uniform":                  Uniform,
	"gaussian":                 Gaussian,
	"zero":                     Zero,
	"bucket-sorted":            BucketSorted,
	"g-group":                  GGroup,
	"staggered":                Staggered,
	"deterministic-duplicates": DeterministicDuplicates,
	"randomized-duplicates":    RandomizedDuplicates,
}

// Kinds lists every supported kind.
func Kinds() []Kind {
	return []Kind{Uniform, Gaussian, Zero, BucketSorted, GGroup, Staggered, DeterministicDuplicates, RandomizedDuplicates}
}

// ParseKind accepts a short code ("gG") or a long name ("g-group").
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	if k, ok := longNames[strings.ToLower(s)]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Params sizes a generated input. P, G and Range are only read by the
// kinds that need them.
type Params struct {
	N     int   // Elements
	P     int   // Processor count (B, gG, S, RD)
	G     int   // Group size (gG)
	Range int   // Value range (RD)
	Seed  int64 // 0 picks a fixed default
}

// Generator yields one value per call.
type Generator interface {
	Next() int32
}

// New returns the generator for kind, validating its parameters.
func New(kind Kind, p Params) (Generator, error) {
	if p.N <= 0 {
		return nil, fmt.Errorf("%w: n must be positive", ErrMissingParam)
	}
	seed := p.Seed
	if seed == 0 {
		seed = 1
	}
	rng := rand.New(rand.NewSource(seed))

	needP := func() error {
		if p.P <= 0 || p.P > p.N {
			return fmt.Errorf("%w: %s needs p in [1, n]", ErrMissingParam, kind)
		}
		return nil
	}

	switch kind {
	case Uniform:
		return &uniform{rng: rng}, nil
	case Gaussian:
		return &gaussian{rng: rng}, nil
	case Zero:
		return zero{}, nil
	case BucketSorted:
		if err := needP(); err != nil {
			return nil, err
		}
		return &bucketSorted{rng: rng, n: int64(p.N), p: int64(p.P)}, nil
	case GGroup:
		if err := needP(); err != nil {
			return nil, err
		}
		if p.G <= 0 {
			return nil, fmt.Errorf("%w: %s needs g > 0", ErrMissingParam, kind)
		}
		return &gGroup{rng: rng, n: int64(p.N), p: int64(p.P), g: int64(p.G)}, nil
	case Staggered:
		if err := needP(); err != nil {
			return nil, err
		}
		return &staggered{rng: rng, n: int64(p.N), p: int64(p.P)}, nil
	case DeterministicDuplicates:
		return &detDuplicates{n: int64(p.N), m: 1}, nil
	case RandomizedDuplicates:
		if err := needP(); err != nil {
			return nil, err
		}
		if p.Range <= 0 {
			return nil, fmt.Errorf("%w: %s needs range > 0", ErrMissingParam, kind)
		}
		return &randDuplicates{rng: rng, n: int64(p.N), p: int64(p.P), t: make([]int64, p.Range)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Generate returns p.N values of kind.
func Generate(kind Kind, p Params) ([]int32, error) {
	gen, err := New(kind, p)
	if err != nil {
		return nil, err
	}
	data := make([]int32, p.N)
	for i := range data {
		data[i] = gen.Next()
	}
	return data, nil
}

type uniform struct{ rng *rand.Rand }

func (u *uniform) Next() int32 { return u.rng.Int31() }

// gaussian approximates a normal distribution by the mean of four uniforms.
type gaussian struct{ rng *rand.Rand }

func (g *gaussian) Next() int32 {
	var sum int64
	for i := 0; i < 4; i++ {
		sum += int64(g.rng.Int31())
	}
	return int32(sum / 4)
}

type zero struct{}

func (zero) Next() int32 { return 0 }

// bucketValue draws uniformly from bucket from of p equal buckets.
func bucketValue(rng *rand.Rand, p, from int64) int32 {
	width := randMax / p
	return int32(rng.Int63n(width) + width*from)
}

// bucketSorted: each of the p pakets holds n/p^2 values from every bucket,
// in bucket order.
type bucketSorted struct {
	rng     *rand.Rand
	n, p, c int64
}

func (b *bucketSorted) Next() int32 {
	from := b.c * b.p * b.p / b.n % b.p
	b.c++
	return bucketValue(b.rng, b.p, from)
}

// gGroup: pakets form groups of g; each group draws from a rotating
// window of buckets.
type gGroup struct {
	rng        *rand.Rand
	n, p, g, c int64
}

func (gg *gGroup) Next() int32 {
	q := gg.c * gg.p / gg.n // paket index
	j := q/gg.g + 1         // group index
	i := gg.c * gg.p * gg.g / gg.n % gg.g
	from := ((j-1)*gg.g+gg.p/2-1+i)%gg.p + 1
	if from == gg.p {
		from = 0
	}
	gg.c++
	return bucketValue(gg.rng, gg.p, from)
}

// staggered: paket i draws from bucket 2i-1 in the first half, 2i-p-2 in
// the second.
type staggered struct {
	rng     *rand.Rand
	n, p, c int64
}

func (s *staggered) Next() int32 {
	i := s.c*s.p/s.n + 1
	var from int64
	if i <= s.p/2 {
		from = 2*i - 1
	} else {
		from = 2*i - s.p - 2
	}
	from = ((from % s.p) + s.p) % s.p
	s.c++
	return bucketValue(s.rng, s.p, from)
}

// detDuplicates: n/2 copies of log n, n/4 of log(n/2), and so on.
type detDuplicates struct {
	n, c, local, m int64
}

func (d *detDuplicates) Next() int32 {
	if d.c == d.n {
		d.c, d.local, d.m = 0, 0, 1
	}
	if d.local >= d.n/2/d.m && d.m <= d.n {
		d.local = 0
		d.m *= 2
	}
	d.local++
	d.c++
	return int32(log2(d.n / d.m))
}

func log2(v int64) int {
	r := 0
	for v >>= 1; v > 0; v >>= 1 {
		r++
	}
	return r
}

// randDuplicates: each paket is split into range random-length stretches,
// each stretch repeating one random value.
type randDuplicates struct {
	rng         *rand.Rand
	n, p, local int64
	t           []int64
	s           int64
	k           int
	val         int32
}

func (r *randDuplicates) Next() int32 {
	rangeN := int64(len(r.t))
	if r.local == r.n/r.p {
		r.local = 0
	}
	if r.local == 0 {
		r.s, r.k = 0, 0
		for i := range r.t {
			r.s += r.rng.Int63n(rangeN)
			r.t[i] = r.s
		}
		r.val = int32(r.rng.Int63n(rangeN))
	}
	if r.s > 0 && r.k < len(r.t)-1 && r.local >= r.n*r.t[r.k]/r.p/r.s {
		r.k++
		r.val = int32(r.rng.Int63n(rangeN))
	}
	r.local++
	return r.val
}
