package stdlib

import (
	"math/rand/v2"

	"github.com/chazu/dpl/vm"
)

// source is the subset of *rand.Rand the module draws from.
type source interface {
	Int32() int32
	IntN(n int) int
	Int64N(n int64) int64
	Float64() float64
}

// globalSource draws from the process-wide generator, which is safe for
// concurrent use.
type globalSource struct{}

func (globalSource) Int32() int32         { return rand.Int32() }
func (globalSource) IntN(n int) int       { return rand.IntN(n) }
func (globalSource) Int64N(n int64) int64 { return rand.Int64N(n) }
func (globalSource) Float64() float64     { return rand.Float64() }

// NewRand returns the rand module over the process-wide generator.
func NewRand() *Library {
	return newRandWith(globalSource{})
}

// newRandWith builds the module over rng so tests can seed it.
func newRandWith(rng source) *Library {
	l := NewLibrary("rand")

	// int() is any int; int(n) is in [0, n); int(lo, hi) is in [lo, hi).
	l.Define("int", Variadic, func(c *Call) (vm.Value, error) {
		switch len(c.Args) {
		case 0:
			return vm.Int(rng.Int32()), nil
		case 1:
			n, err := c.Int(0)
			if err != nil {
				return vm.Nil, err
			}
			if n <= 0 {
				return vm.Nil, c.Errorf("rand.int(n): n must be > 0")
			}
			return vm.Int(int32(rng.IntN(n))), nil
		case 2:
			lo, err := c.Int(0)
			if err != nil {
				return vm.Nil, err
			}
			hi, err := c.Int(1)
			if err != nil {
				return vm.Nil, err
			}
			if hi <= lo {
				return vm.Nil, c.Errorf("rand.int(lo,hi): hi must be > lo")
			}
			return vm.Int(int32(int64(lo) + rng.Int64N(int64(hi)-int64(lo)))), nil
		}
		return vm.Nil, c.Errorf("rand.int(...) expects 0, 1 or 2 argument(s)")
	})

	l.Define("double", 0, func(c *Call) (vm.Value, error) {
		return vm.Double(rng.Float64()), nil
	})

	l.Define("bool", 0, func(c *Call) (vm.Value, error) {
		return vm.Bool(rng.IntN(2) == 1), nil
	})

	return l
}
