package stdlib

import (
	"bytes"
	"errors"
	"io/fs"
	"math"
	"math/big"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/chazu/dpl/vm"
)

// NewJSON returns the json module. JSON documents are handled as text;
// arr, obj and encode build text from Dog values and get reads values back.
func NewJSON() *Library {
	l := NewLibrary("json")

	l.Define("valid", 1, func(c *Call) (vm.Value, error) {
		s, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		return vm.Bool(json.Valid([]byte(s))), nil
	})

	l.Define("minify", 1, func(c *Call) (vm.Value, error) {
		s, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		out, err := Minify(s)
		if err != nil {
			return vm.Nil, c.Errorf("json.minify: invalid JSON: %v", err)
		}
		return vm.String(out), nil
	})

	l.Define("pretty", 2, func(c *Call) (vm.Value, error) {
		s, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		indent, err := indentArg(c, 1)
		if err != nil {
			return vm.Nil, err
		}
		out, err := Pretty(s, indent)
		if err != nil {
			return vm.Nil, c.Errorf("json.pretty: invalid JSON: %v", err)
		}
		return vm.String(out), nil
	})

	// get reads the value at a gjson path; missing paths are nil.
	l.Define("get", 2, func(c *Call) (vm.Value, error) {
		doc, path, err := twoStrings(c)
		if err != nil {
			return vm.Nil, err
		}
		if !gjson.Valid(doc) {
			return vm.Nil, c.Errorf("json.get: invalid JSON")
		}
		return FromJSON(gjson.Get(doc, path)), nil
	})

	// -----------------------------------------------------------------------
	// Files
	// -----------------------------------------------------------------------

	l.Define("read", 1, func(c *Call) (vm.Value, error) {
		path, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		data, err := readJSONFile(c, path)
		if err != nil {
			return vm.Nil, err
		}
		return vm.String(data), nil
	})

	l.Define("readPretty", 2, func(c *Call) (vm.Value, error) {
		path, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		indent, err := indentArg(c, 1)
		if err != nil {
			return vm.Nil, err
		}
		data, err := readJSONFile(c, path)
		if err != nil {
			return vm.Nil, err
		}
		out, err := Pretty(data, indent)
		if err != nil {
			return vm.Nil, c.Errorf("json.readPretty: invalid JSON in %s: %v", path, err)
		}
		return vm.String(out), nil
	})

	l.Define("write", 2, func(c *Call) (vm.Value, error) {
		path, text, err := pathAndText(c)
		if err != nil {
			return vm.Nil, err
		}
		if err := writeFile(path, text, os.O_TRUNC); err != nil {
			return vm.Nil, c.Errorf("json.write IO error: %v", err)
		}
		return vm.Nil, nil
	})

	l.Define("writePretty", 3, func(c *Call) (vm.Value, error) {
		path, text, err := pathAndText(c)
		if err != nil {
			return vm.Nil, err
		}
		indent, err := indentArg(c, 2)
		if err != nil {
			return vm.Nil, err
		}
		out, err := Pretty(text, indent)
		if err != nil {
			return vm.Nil, c.Errorf("json.writePretty: invalid JSON: %v", err)
		}
		if err := writeFile(path, out, os.O_TRUNC); err != nil {
			return vm.Nil, c.Errorf("json.writePretty IO error: %v", err)
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

	// size is 0 for missing files.
	l.Define("size", 1, func(c *Call) (vm.Value, error) {
		path, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return vm.Long(0), nil
		}
		if err != nil {
			return vm.Nil, c.Errorf("json.size IO error: %v", err)
		}
		return vm.Long(info.Size()), nil
	})

	// -----------------------------------------------------------------------
	// Building JSON text
	// -----------------------------------------------------------------------

	l.Define("escape", 1, func(c *Call) (vm.Value, error) {
		s, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		quoted, err := quote(s)
		if err != nil {
			return vm.Nil, err
		}
		return vm.String(quoted[1 : len(quoted)-1]), nil
	})

	l.Define("encode", 1, func(c *Call) (vm.Value, error) {
		s, err := Encode(c.Args[0])
		if err != nil {
			return vm.Nil, c.Errorf("json.encode: %v", err)
		}
		return vm.String(s), nil
	})

	l.Define("arr", Variadic, func(c *Call) (vm.Value, error) {
		s, err := Encode(vm.NewArray(c.Args))
		if err != nil {
			return vm.Nil, c.Errorf("json.arr: %v", err)
		}
		return vm.String(s), nil
	})

	l.Define("obj", Variadic, func(c *Call) (vm.Value, error) {
		if len(c.Args)%2 != 0 {
			return vm.Nil, c.Errorf("json.obj(k1,v1,k2,v2,...): expected even number of arguments")
		}
		var sb strings.Builder
		sb.WriteByte('{')
		for i := 0; i < len(c.Args); i += 2 {
			k := c.Args[i]
			if !k.IsString() {
				return vm.Nil, c.Errorf("json.obj: key #%d must be a string", i/2+1)
			}
			if i > 0 {
				sb.WriteByte(',')
			}
			key, err := quote(k.Str())
			if err != nil {
				return vm.Nil, err
			}
			sb.WriteString(key)
			sb.WriteByte(':')
			if err := encodeValue(&sb, c.Args[i+1], make(map[*vm.Array]bool)); err != nil {
				return vm.Nil, c.Errorf("json.obj: %v", err)
			}
		}
		sb.WriteByte('}')
		return vm.String(sb.String()), nil
	})

	return l
}

func indentArg(c *Call, i int) (int, error) {
	n, err := c.Int(i)
	if err != nil {
		return 0, err
	}
	return max(n, 0), nil
}

func readJSONFile(c *Call, path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", c.Errorf("json.%s: file not found: %s", c.Member, path)
	}
	if err != nil {
		return "", c.Errorf("json.%s IO error: %v", c.Member, err)
	}
	return string(data), nil
}

// Minify removes insignificant whitespace from a JSON document.
func Minify(s string) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Pretty re-indents a JSON document with indent spaces per level.
func Pretty(s string, indent int) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(s), "", strings.Repeat(" ", indent)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ErrCyclicArray is returned by Encode for an array that contains itself.
var ErrCyclicArray = errors.New("cyclic array")

// Encode renders v as JSON text. Numbers that JSON cannot carry (NaN,
// infinities) become null; functions become their printable string.
func Encode(v vm.Value) (string, error) {
	var sb strings.Builder
	if err := encodeValue(&sb, v, make(map[*vm.Array]bool)); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// encodeValue writes v to sb; open holds the arrays being encoded.
func encodeValue(sb *strings.Builder, v vm.Value, open map[*vm.Array]bool) error {
	switch v.Kind() {
	case vm.KindNil:
		sb.WriteString("null")
	case vm.KindBool:
		sb.WriteString(v.Printable())
	case vm.KindInt, vm.KindLong, vm.KindBigInt:
		sb.WriteString(v.Printable())
	case vm.KindDouble:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			sb.WriteString("null")
			return nil
		}
		b, err := json.Marshal(f)
		if err != nil {
			return err
		}
		sb.Write(b)
	case vm.KindArray:
		arr := v.Array()
		if open[arr] {
			return ErrCyclicArray
		}
		open[arr] = true
		defer delete(open, arr)

		sb.WriteByte('[')
		for i, item := range arr.Items {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := encodeValue(sb, item, open); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	default:
		s, err := quote(v.Printable())
		if err != nil {
			return err
		}
		sb.WriteString(s)
	}
	return nil
}

// quote returns s as a JSON string literal without HTML escaping.
func quote(s string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// FromJSON converts a gjson result to a Dog value. Arrays convert element
// by element; objects stay as their raw JSON text.
func FromJSON(r gjson.Result) vm.Value {
	switch r.Type {
	case gjson.Null:
		return vm.Nil
	case gjson.False:
		return vm.Bool(false)
	case gjson.True:
		return vm.Bool(true)
	case gjson.String:
		return vm.String(r.Str)
	case gjson.Number:
		if n, ok := new(big.Int).SetString(r.Raw, 10); ok {
			return vm.BigInt(n)
		}
		return vm.Double(r.Num)
	case gjson.JSON:
		if r.IsArray() {
			elems := r.Array()
			items := make([]vm.Value, len(elems))
			for i, e := range elems {
				items[i] = FromJSON(e)
			}
			return vm.NewArray(items)
		}
		return vm.String(r.Raw)
	}
	return vm.Nil
}
