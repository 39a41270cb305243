package stdlib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/chazu/dpl/vm"
)

// NewIO returns the io module: console output, array helpers and files.
func NewIO() *Library {
	l := NewLibrary("io")

	l.Define("print", 1, func(c *Call) (vm.Value, error) {
		_, err := fmt.Fprint(c.Out(), c.Args[0].Printable())
		return vm.Nil, err
	})

	l.Define("println", 1, func(c *Call) (vm.Value, error) {
		_, err := fmt.Fprintln(c.Out(), c.Args[0].Printable())
		return vm.Nil, err
	})

	l.Define("typeOf", 1, func(c *Call) (vm.Value, error) {
		return vm.String(c.Args[0].Kind().String()), nil
	})

	l.Define("len", 1, func(c *Call) (vm.Value, error) {
		switch v := c.Args[0]; {
		case v.IsString():
			return vm.FromInt64(int64(utf8.RuneCountInString(v.Str()))), nil
		case v.IsArray():
			return vm.FromInt64(int64(len(v.Array().Items))), nil
		}
		return vm.Nil, c.Errorf("io.len(x): x must be STRING or ARRAY")
	})

	// -----------------------------------------------------------------------
	// Arrays
	// -----------------------------------------------------------------------

	l.Define("split", 2, func(c *Call) (vm.Value, error) {
		text, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		sep, err := c.String(1)
		if err != nil {
			return vm.Nil, err
		}
		if sep == "" {
			return stringArray([]string{text}), nil
		}
		return stringArray(strings.Split(text, sep)), nil
	})

	l.Define("join", 2, func(c *Call) (vm.Value, error) {
		arr, err := c.Array(0)
		if err != nil {
			return vm.Nil, err
		}
		sep, err := c.String(1)
		if err != nil {
			return vm.Nil, err
		}
		return vm.String(joinPrintable(arr.Items, sep)), nil
	})

	// push appends in place and returns the same array.
	l.Define("push", 2, func(c *Call) (vm.Value, error) {
		arr, err := c.Array(0)
		if err != nil {
			return vm.Nil, err
		}
		arr.Items = append(arr.Items, c.Args[1])
		return c.Args[0], nil
	})

	l.Define("pop", 1, func(c *Call) (vm.Value, error) {
		arr, err := c.Array(0)
		if err != nil {
			return vm.Nil, err
		}
		n := len(arr.Items)
		if n == 0 {
			return vm.Nil, nil
		}
		last := arr.Items[n-1]
		arr.Items[n-1] = vm.Nil
		arr.Items = arr.Items[:n-1]
		return last, nil
	})

	l.Define("get", 2, func(c *Call) (vm.Value, error) {
		arr, err := c.Array(0)
		if err != nil {
			return vm.Nil, err
		}
		idx, err := c.Index(1)
		if err != nil {
			return vm.Nil, err
		}
		if idx < 0 || idx >= len(arr.Items) {
			return vm.Nil, nil
		}
		return arr.Items[idx], nil
	})

	l.Define("set", 3, func(c *Call) (vm.Value, error) {
		arr, err := c.Array(0)
		if err != nil {
			return vm.Nil, err
		}
		idx, err := c.Index(1)
		if err != nil {
			return vm.Nil, err
		}
		if idx < 0 || idx >= len(arr.Items) {
			return vm.Nil, c.Errorf("io.set(arr, idx, v): idx out of bounds")
		}
		arr.Items[idx] = c.Args[2]
		return c.Args[0], nil
	})

	// -----------------------------------------------------------------------
	// Files
	// -----------------------------------------------------------------------

	l.Define("readFile", 1, func(c *Call) (vm.Value, error) {
		path, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return vm.Nil, c.Errorf("io.readFile(path) failed: %v", err)
		}
		return vm.String(string(data)), nil
	})

	l.Define("writeFile", 2, func(c *Call) (vm.Value, error) {
		path, text, err := pathAndText(c)
		if err != nil {
			return vm.Nil, err
		}
		if err := writeFile(path, text, os.O_TRUNC); err != nil {
			return vm.Nil, c.Errorf("io.writeFile(path,text) failed: %v", err)
		}
		return vm.Nil, nil
	})

	l.Define("appendFile", 2, func(c *Call) (vm.Value, error) {
		path, text, err := pathAndText(c)
		if err != nil {
			return vm.Nil, err
		}
		if err := writeFile(path, text, os.O_APPEND); err != nil {
			return vm.Nil, c.Errorf("io.appendFile(path,text) failed: %v", err)
		}
		return vm.Nil, nil
	})

	l.Define("exists", 1, func(c *Call) (vm.Value, error) {
		path, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		_, statErr := os.Stat(path)
		return vm.Bool(statErr == nil), nil
	})

	l.Define("listDir", 1, func(c *Call) (vm.Value, error) {
		path, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return vm.Nil, c.Errorf("io.listDir(path) failed: %v", err)
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		return stringArray(names), nil
	})

	return l
}

func pathAndText(c *Call) (string, string, error) {
	path, err := c.String(0)
	if err != nil {
		return "", "", err
	}
	text, err := c.String(1)
	if err != nil {
		return "", "", err
	}
	return path, text, nil
}

// writeFile creates missing parent directories, then writes text with the
// given mode flag (os.O_TRUNC or os.O_APPEND).
func writeFile(path, text string, mode int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
