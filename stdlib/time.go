package stdlib

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chazu/dpl/vm"
)

// processStart anchors the monotonic clock behind measureStart/measureEnd.
var processStart = time.Now()

// Clock supplies the current time to the time module.
type Clock func() time.Time

// NewTime returns the time module over the wall clock.
func NewTime() *Library {
	return newTimeWith(time.Now)
}

func newTimeWith(now Clock) *Library {
	l := NewLibrary("time")

	// -----------------------------------------------------------------------
	// Now
	// -----------------------------------------------------------------------

	l.Define("nowMillis", 0, func(c *Call) (vm.Value, error) {
		return vm.Long(now().UnixMilli()), nil
	})
	l.Alias("now", "nowMillis")

	l.Define("nowSeconds", 0, func(c *Call) (vm.Value, error) {
		return vm.Long(now().Unix()), nil
	})

	l.Define("sleep", 1, func(c *Call) (vm.Value, error) {
		ms, err := c.Long(0)
		if err != nil {
			return vm.Nil, err
		}
		if ms < 0 {
			return vm.Nil, c.Errorf("time.sleep(ms): must be >= 0")
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return vm.Nil, nil
	})

	// -----------------------------------------------------------------------
	// Formatting and parsing
	// -----------------------------------------------------------------------

	l.Define("formatNow", 1, func(c *Call) (vm.Value, error) {
		pattern, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		return formatPattern(c, now(), pattern)
	})

	l.Define("formatMillis", 2, func(c *Call) (vm.Value, error) {
		ms, err := c.Long(0)
		if err != nil {
			return vm.Nil, err
		}
		pattern, err := c.String(1)
		if err != nil {
			return vm.Nil, err
		}
		return formatPattern(c, time.UnixMilli(ms), pattern)
	})

	l.Define("isoNow", 0, func(c *Call) (vm.Value, error) {
		return vm.String(isoInstant(now().UnixMilli())), nil
	})

	l.Define("isoMillis", 1, func(c *Call) (vm.Value, error) {
		ms, err := c.Long(0)
		if err != nil {
			return vm.Nil, err
		}
		return vm.String(isoInstant(ms)), nil
	})

	l.Define("parseMillis", 2, func(c *Call) (vm.Value, error) {
		text, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		pattern, err := c.String(1)
		if err != nil {
			return vm.Nil, err
		}
		layout, err := GoLayout(pattern)
		if err != nil {
			return vm.Nil, c.Errorf("time.parseMillis: bad format pattern: %v", err)
		}
		t, err := time.ParseInLocation(layout, text, time.Local)
		if err != nil {
			return vm.Nil, c.Errorf("time.parseMillis: can't parse date: %s", text)
		}
		return vm.Long(t.UnixMilli()), nil
	})

	// -----------------------------------------------------------------------
	// Time zone
	// -----------------------------------------------------------------------

	l.Define("zone", 0, func(c *Call) (vm.Value, error) {
		if name := time.Local.String(); name != "Local" {
			return vm.String(name), nil
		}
		name, _ := now().Zone()
		return vm.String(name), nil
	})

	l.Define("offsetSeconds", 0, func(c *Call) (vm.Value, error) {
		_, offset := now().Zone()
		return vm.FromInt64(int64(offset)), nil
	})

	// -----------------------------------------------------------------------
	// Parts of the current local time
	// -----------------------------------------------------------------------

	parts := map[string]func(time.Time) int{
		"year":      time.Time.Year,
		"month":     func(t time.Time) int { return int(t.Month()) },
		"day":       time.Time.Day,
		"hour":      time.Time.Hour,
		"minute":    time.Time.Minute,
		"second":    time.Time.Second,
		"dayOfYear": time.Time.YearDay,
		// Monday is 1, Sunday is 7.
		"weekday": func(t time.Time) int {
			if wd := t.Weekday(); wd != time.Sunday {
				return int(wd)
			}
			return 7
		},
	}
	for name, part := range parts {
		l.Define(name, 0, func(c *Call) (vm.Value, error) {
			return vm.FromInt64(int64(part(now()))), nil
		})
	}

	// -----------------------------------------------------------------------
	// Measuring and deadlines
	// -----------------------------------------------------------------------

	l.Define("measureStart", 0, func(c *Call) (vm.Value, error) {
		return vm.Long(time.Since(processStart).Milliseconds()), nil
	})

	l.Define("measureEnd", 1, func(c *Call) (vm.Value, error) {
		start, err := c.Long(0)
		if err != nil {
			return vm.Nil, err
		}
		return vm.Long(time.Since(processStart).Milliseconds() - start), nil
	})

	l.Define("deadline", 1, func(c *Call) (vm.Value, error) {
		delta, err := c.Long(0)
		if err != nil {
			return vm.Nil, err
		}
		return vm.Long(now().UnixMilli() + delta), nil
	})

	l.Define("expired", 1, func(c *Call) (vm.Value, error) {
		deadline, err := c.Long(0)
		if err != nil {
			return vm.Nil, err
		}
		return vm.Bool(now().UnixMilli() >= deadline), nil
	})

	l.Define("waitUntil", 1, func(c *Call) (vm.Value, error) {
		deadline, err := c.Long(0)
		if err != nil {
			return vm.Nil, err
		}
		if left := deadline - now().UnixMilli(); left > 0 {
			time.Sleep(time.Duration(left) * time.Millisecond)
		}
		return vm.Nil, nil
	})

	// -----------------------------------------------------------------------
	// Millisecond arithmetic
	// -----------------------------------------------------------------------

	longs := map[string]func(a, b int64) int64{
		"diff":      func(a, b int64) int64 { return b - a },
		"max":       func(a, b int64) int64 { return max(a, b) },
		"min":       func(a, b int64) int64 { return min(a, b) },
		"addMillis": func(a, b int64) int64 { return a + b },
	}
	for name, f := range longs {
		l.Define(name, 2, func(c *Call) (vm.Value, error) {
			a, b, err := twoLongs(c)
			if err != nil {
				return vm.Nil, err
			}
			return vm.Long(f(a, b)), nil
		})
	}

	units := map[string]int64{
		"addSeconds": 1000,
		"addMinutes": 60_000,
		"addHours":   3_600_000,
		"addDays":    86_400_000,
	}
	for name, unit := range units {
		l.Define(name, 2, func(c *Call) (vm.Value, error) {
			base, n, err := twoLongs(c)
			if err != nil {
				return vm.Nil, err
			}
			delta, ok := mulExact(n, unit)
			if !ok {
				return vm.Nil, c.Errorf("time: overflow in multiplication")
			}
			return vm.Long(base + delta), nil
		})
	}

	l.Define("clamp", 3, func(c *Call) (vm.Value, error) {
		x, lo, err := twoLongs(c)
		if err != nil {
			return vm.Nil, err
		}
		hi, err := c.Long(2)
		if err != nil {
			return vm.Nil, err
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		return vm.Long(min(max(x, lo), hi)), nil
	})

	// -----------------------------------------------------------------------
	// Human-readable durations
	// -----------------------------------------------------------------------

	l.Define("human", 1, func(c *Call) (vm.Value, error) {
		ms, err := c.Long(0)
		if err != nil {
			return vm.Nil, err
		}
		return vm.String(HumanDuration(ms)), nil
	})

	l.Define("humanDiff", 2, func(c *Call) (vm.Value, error) {
		a, b, err := twoLongs(c)
		if err != nil {
			return vm.Nil, err
		}
		return vm.String(HumanDuration(b - a)), nil
	})

	// -----------------------------------------------------------------------
	// Identifiers
	// -----------------------------------------------------------------------

	// unique returns a ULID: sortable by creation time and unique per call.
	l.Define("unique", 0, func(c *Call) (vm.Value, error) {
		id, err := ulid.New(ulid.Timestamp(now()), ulid.DefaultEntropy())
		if err != nil {
			return vm.Nil, err
		}
		return vm.String(id.String()), nil
	})

	l.Define("seed", 0, func(c *Call) (vm.Value, error) {
		t := now()
		return vm.Long(t.UnixMilli() ^ (t.UnixNano() << 1)), nil
	})

	return l
}

func twoLongs(c *Call) (int64, int64, error) {
	a, err := c.Long(0)
	if err != nil {
		return 0, 0, err
	}
	b, err := c.Long(1)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func mulExact(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	return r, true
}

func formatPattern(c *Call, t time.Time, pattern string) (vm.Value, error) {
	layout, err := GoLayout(pattern)
	if err != nil {
		return vm.Nil, c.Errorf("time.%s: bad format pattern: %v", c.Member, err)
	}
	return vm.String(t.In(time.Local).Format(layout)), nil
}

// isoInstant renders ms as a UTC instant with millisecond precision,
// omitting the fraction when it is zero.
func isoInstant(ms int64) string {
	t := time.UnixMilli(ms).UTC()
	if ms%1000 == 0 {
		return t.Format("2006-01-02T15:04:05Z")
	}
	return t.Format("2006-01-02T15:04:05.000Z")
}

// HumanDuration renders ms as "1d 2h 3m 4s 5ms", skipping zero units.
func HumanDuration(ms int64) string {
	if ms == math.MinInt64 {
		return "-inf"
	}
	neg := ms < 0
	if neg {
		ms = -ms
	}

	units := []struct {
		size   int64
		suffix string
	}{
		{86_400_000, "d"},
		{3_600_000, "h"},
		{60_000, "m"},
		{1000, "s"},
	}

	var out []string
	for _, u := range units {
		if n := ms / u.size; n != 0 {
			out = append(out, strconv.FormatInt(n, 10)+u.suffix)
		}
		ms %= u.size
	}
	if ms != 0 || len(out) == 0 {
		out = append(out, strconv.FormatInt(ms, 10)+"ms")
	}

	s := strings.Join(out, " ")
	if neg {
		return "-" + s
	}
	return s
}

// ---------------------------------------------------------------------------
// Pattern translation
// ---------------------------------------------------------------------------

// patternLetters maps a letter run of a date pattern (yyyy, MM, HH, ...) to
// the matching Go layout element.
var patternLetters = map[string]string{
	"yyyy": "2006", "yy": "06", "y": "2006",
	"MMMM": "January", "MMM": "Jan", "MM": "01", "M": "1",
	"dd": "02", "d": "2",
	"HH": "15", "H": "15",
	"hh": "03", "h": "3",
	"mm": "04", "m": "4",
	"ss": "05", "s": "5",
	"SSS": "000", "SS": "00", "S": "0",
	"a":    "PM",
	"EEEE": "Monday", "EEE": "Mon",
	"Z": "-0700", "XXX": "Z07:00", "XX": "Z0700", "X": "Z07", "z": "MST",
}

// GoLayout translates a date pattern written with letters such as
// yyyy-MM-dd HH:mm:ss.SSS into a Go time layout. Text inside single quotes
// is literal; '' is a quote. Literal digits are rejected because Go would
// read them as layout elements.
func GoLayout(pattern string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(pattern); {
		ch := pattern[i]
		switch {
		case ch == '\'':
			lit, next, err := quotedText(pattern, i)
			if err != nil {
				return "", err
			}
			if err := writeLiteral(&sb, lit); err != nil {
				return "", err
			}
			i = next

		case isASCIILetter(ch):
			j := i
			for j < len(pattern) && pattern[j] == ch {
				j++
			}
			run := pattern[i:j]
			elem, ok := patternLetters[run]
			if !ok {
				return "", fmt.Errorf("unsupported pattern letters %q", run)
			}
			if ch == 'S' && (i == 0 || (pattern[i-1] != '.' && pattern[i-1] != ',')) {
				return "", fmt.Errorf("fraction of second %q must follow '.' or ','", run)
			}
			sb.WriteString(elem)
			i = j

		default:
			if err := writeLiteral(&sb, pattern[i:i+1]); err != nil {
				return "", err
			}
			i++
		}
	}
	return sb.String(), nil
}

// quotedText reads the quoted section starting at pattern[start] and
// returns its text and the index after the closing quote.
func quotedText(pattern string, start int) (string, int, error) {
	if strings.HasPrefix(pattern[start:], "''") {
		return "'", start + 2, nil
	}
	var sb strings.Builder
	for i := start + 1; i < len(pattern); i++ {
		if pattern[i] != '\'' {
			sb.WriteByte(pattern[i])
			continue
		}
		if i+1 < len(pattern) && pattern[i+1] == '\'' {
			sb.WriteByte('\'')
			i++
			continue
		}
		return sb.String(), i + 1, nil
	}
	return "", 0, fmt.Errorf("unterminated quote in %q", pattern)
}

func writeLiteral(sb *strings.Builder, lit string) error {
	if strings.ContainsAny(lit, "0123456789") {
		return fmt.Errorf("literal digits are not supported: %q", lit)
	}
	sb.WriteString(lit)
	return nil
}

func isASCIILetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}
