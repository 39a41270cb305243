package stdlib

import (
	"strings"
	"unicode/utf8"

	"github.com/chazu/dpl/vm"
)

// NewString returns the string module. Lengths and offsets count runes.
func NewString() *Library {
	l := NewLibrary("string")

	mapping := map[string]func(string) string{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"trim":  strings.TrimSpace,
	}
	for name, f := range mapping {
		l.Define(name, 1, func(c *Call) (vm.Value, error) {
			s, err := c.String(0)
			if err != nil {
				return vm.Nil, err
			}
			return vm.String(f(s)), nil
		})
	}

	l.Define("len", 1, func(c *Call) (vm.Value, error) {
		s, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		return vm.FromInt64(int64(utf8.RuneCountInString(s))), nil
	})

	l.Define("contains", 2, func(c *Call) (vm.Value, error) {
		s, sub, err := twoStrings(c)
		if err != nil {
			return vm.Nil, err
		}
		return vm.Bool(strings.Contains(s, sub)), nil
	})

	l.Define("replace", 3, func(c *Call) (vm.Value, error) {
		s, old, err := twoStrings(c)
		if err != nil {
			return vm.Nil, err
		}
		repl, err := c.String(2)
		if err != nil {
			return vm.Nil, err
		}
		return vm.String(strings.ReplaceAll(s, old, repl)), nil
	})

	// split with an empty separator yields single characters.
	l.Define("split", 2, func(c *Call) (vm.Value, error) {
		s, sep, err := twoStrings(c)
		if err != nil {
			return vm.Nil, err
		}
		return stringArray(strings.Split(s, sep)), nil
	})

	l.Define("join", 2, func(c *Call) (vm.Value, error) {
		if !c.Args[0].IsArray() {
			return vm.Nil, c.Errorf("string.join(arr, sep): arr must be an array")
		}
		sep, err := c.String(1)
		if err != nil {
			return vm.Nil, err
		}
		return vm.String(joinPrintable(c.Args[0].Array().Items, sep)), nil
	})

	// sub returns the runes in [a, b).
	l.Define("sub", 3, func(c *Call) (vm.Value, error) {
		s, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		a, err := c.Int(1)
		if err != nil {
			return vm.Nil, err
		}
		b, err := c.Int(2)
		if err != nil {
			return vm.Nil, err
		}
		runes := []rune(s)
		if a < 0 || b < 0 || a > len(runes) || b > len(runes) || a > b {
			return vm.Nil, c.Errorf("string.sub(s,a,b): bad range")
		}
		return vm.String(string(runes[a:b])), nil
	})

	return l
}

func twoStrings(c *Call) (string, string, error) {
	a, err := c.String(0)
	if err != nil {
		return "", "", err
	}
	b, err := c.String(1)
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}
