package stdlib

import (
	"math"
	"math/rand/v2"

	"github.com/chazu/dpl/vm"
)

// NewMath returns the math module. Most functions return doubles.
func NewMath() *Library {
	l := NewLibrary("math")

	l.Const("PI", vm.Double(math.Pi))
	l.Const("E", vm.Double(math.E))
	l.Const("TAU", vm.Double(2*math.Pi))

	l.Define("sqrt", 1, func(c *Call) (vm.Value, error) {
		x, err := c.Float(0)
		if err != nil {
			return vm.Nil, err
		}
		if x < 0 {
			return vm.Nil, c.Errorf("math.sqrt(x): x must be >= 0")
		}
		return vm.Double(math.Sqrt(x)), nil
	})

	unary := map[string]func(float64) float64{
		"abs":   math.Abs,
		"floor": math.Floor,
		"ceil":  math.Ceil,
	}
	for name, f := range unary {
		l.Define(name, 1, func(c *Call) (vm.Value, error) {
			x, err := c.Float(0)
			if err != nil {
				return vm.Nil, err
			}
			return vm.Double(f(x)), nil
		})
	}

	binary := map[string]func(float64, float64) float64{
		"pow": math.Pow,
		"min": math.Min,
		"max": math.Max,
	}
	for name, f := range binary {
		l.Define(name, 2, func(c *Call) (vm.Value, error) {
			a, b, err := twoFloats(c)
			if err != nil {
				return vm.Nil, err
			}
			return vm.Double(f(a, b)), nil
		})
	}

	// round is half-up, like floor(x + 0.5).
	l.Define("round", 1, func(c *Call) (vm.Value, error) {
		x, err := c.Float(0)
		if err != nil {
			return vm.Nil, err
		}
		return vm.Long(saturate(math.Floor(x + 0.5))), nil
	})

	l.Define("clamp", 3, func(c *Call) (vm.Value, error) {
		x, lo, err := twoFloats(c)
		if err != nil {
			return vm.Nil, err
		}
		hi, err := c.Float(2)
		if err != nil {
			return vm.Nil, err
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		return vm.Double(math.Min(math.Max(x, lo), hi)), nil
	})

	l.Define("sign", 1, func(c *Call) (vm.Value, error) {
		x, err := c.Float(0)
		if err != nil {
			return vm.Nil, err
		}
		switch {
		case x > 0:
			return vm.Int(1), nil
		case x < 0:
			return vm.Int(-1), nil
		}
		return vm.Int(0), nil
	})

	l.Define("mod", 2, func(c *Call) (vm.Value, error) {
		a, b, err := twoFloats(c)
		if err != nil {
			return vm.Nil, err
		}
		if b == 0 {
			return vm.Nil, c.Errorf("math.mod(a,b): b must be != 0")
		}
		return vm.Double(math.Mod(a, b)), nil
	})

	l.Define("rand", 0, func(c *Call) (vm.Value, error) {
		return vm.Double(rand.Float64()), nil
	})

	l.Define("randInt", 2, func(c *Call) (vm.Value, error) {
		a, b, err := twoFloats(c)
		if err != nil {
			return vm.Nil, err
		}
		lo, hi := saturate(a), saturate(b)
		if lo > hi {
			lo, hi = hi, lo
		}
		bound := hi - lo + 1
		if bound <= 0 {
			return vm.Nil, c.Errorf("math.randInt(min,max): range too large")
		}
		return vm.FromInt64(lo + rand.Int64N(bound)), nil
	})

	l.Define("toInt", 1, func(c *Call) (vm.Value, error) {
		x, err := c.Float(0)
		if err != nil {
			return vm.Nil, err
		}
		return vm.Int(int32(saturate32(x))), nil
	})

	l.Define("toLong", 1, func(c *Call) (vm.Value, error) {
		x, err := c.Float(0)
		if err != nil {
			return vm.Nil, err
		}
		return vm.Long(saturate(x)), nil
	})

	l.Define("toDouble", 1, func(c *Call) (vm.Value, error) {
		x, err := c.Float(0)
		if err != nil {
			return vm.Nil, err
		}
		return vm.Double(x), nil
	})

	return l
}

func twoFloats(c *Call) (float64, float64, error) {
	a, err := c.Float(0)
	if err != nil {
		return 0, 0, err
	}
	b, err := c.Float(1)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// saturate truncates x toward zero, clamping to the int64 range. NaN is 0.
func saturate(x float64) int64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x >= math.MaxInt64:
		return math.MaxInt64
	case x <= math.MinInt64:
		return math.MinInt64
	}
	return int64(x)
}

func saturate32(x float64) int64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x >= math.MaxInt32:
		return math.MaxInt32
	case x <= math.MinInt32:
		return math.MinInt32
	}
	return int64(x)
}
