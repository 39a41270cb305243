package compiler

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Line scanning: string- and comment-aware helpers over raw source lines
// ---------------------------------------------------------------------------

// scanCode calls visit for every byte of s that is outside a string literal,
// stopping at a '#' comment or when visit returns false. It reports whether
// the scan ended inside an unterminated string.
func scanCode(s string, visit func(i int, c byte) bool) bool {
	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		if c == '#' {
			return false
		}
		if c == '"' {
			inStr = true
			continue
		}
		if !visit(i, c) {
			return false
		}
	}
	return inStr
}

// stripInlineComment removes a trailing '#' comment that is not inside a
// string literal.
func stripInlineComment(raw string) string {
	inStr, esc := false, false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		if c == '"' {
			inStr = true
		} else if c == '#' {
			return raw[:i]
		}
	}
	return raw
}

// braceDelta returns the net count of '{' minus '}' on a line.
func braceDelta(raw string) int {
	d := 0
	scanCode(raw, func(_ int, c byte) bool {
		switch c {
		case '{':
			d++
		case '}':
			d--
		}
		return true
	})
	return d
}

// braceDeltaRange sums braceDelta over lines (from, to].
func braceDeltaRange(lines []string, from, to int) int {
	d := 0
	for i := from + 1; i <= to && i < len(lines); i++ {
		d += braceDelta(lines[i])
	}
	return d
}

// isStatementComplete reports whether parens, brackets and braces are
// balanced and no string literal is left open. Counts never go below zero.
func isStatementComplete(code string) bool {
	par, br, cr := 0, 0, 0
	open := scanCode(code, func(_ int, c byte) bool {
		switch c {
		case '(':
			par++
		case ')':
			par = max(0, par-1)
		case '[':
			br++
		case ']':
			br = max(0, br-1)
		case '{':
			cr++
		case '}':
			cr = max(0, cr-1)
		}
		return true
	})
	return !open && par == 0 && br == 0 && cr == 0
}

// findBlockBrace returns the index of the first '{' at or after from that is
// outside strings and comments, or -1.
func findBlockBrace(raw string, from int) int {
	if from > len(raw) {
		return -1
	}
	found := -1
	scanCode(raw[from:], func(i int, c byte) bool {
		if c == '{' {
			found = from + i
			return false
		}
		return true
	})
	return found
}

// findTopLevelAssign returns the index of a top-level '=' that is not part
// of ==, !=, <=, >= or =>, or -1.
func findTopLevelAssign(s string) int {
	depth := 0
	found := -1
	scanCode(s, func(i int, c byte) bool {
		switch c {
		case '(', '[', '{':
			depth++
			return true
		case ')', ']', '}':
			depth = max(0, depth-1)
			return true
		case '=':
		default:
			return true
		}
		if depth != 0 {
			return true
		}
		if i+1 < len(s) && (s[i+1] == '=' || s[i+1] == '>') {
			return true
		}
		if i > 0 && strings.IndexByte("!<>=", s[i-1]) >= 0 {
			return true
		}
		found = i
		return false
	})
	return found
}

// lastIndexGroup finds the bracket group that ends at the final byte of
// left, returning the index of its '['. ok is false when left does not end
// with a balanced index group.
func lastIndexGroup(left string) (open int, ok bool) {
	var stack []int
	lastOpen, lastClose := -1, -1
	scanCode(left, func(i int, c byte) bool {
		switch c {
		case '[':
			stack = append(stack, i)
		case ']':
			if len(stack) == 0 {
				return false
			}
			lastOpen, lastClose = stack[len(stack)-1], i
			stack = stack[:len(stack)-1]
		}
		return true
	})
	if len(stack) != 0 || lastClose != len(left)-1 || lastOpen < 0 {
		return -1, false
	}
	return lastOpen, true
}

// ---------------------------------------------------------------------------
// Logical lines
// ---------------------------------------------------------------------------

// logicalLine is one statement that may span several physical lines.
type logicalLine struct {
	code   string // comment-stripped text, physical lines joined by '\n'
	source string // original text, for diagnostics
	end    int    // index of the last physical line consumed
}

// readLogicalLine joins physical lines starting at start until the
// statement is complete. Structural lines are never merged.
func readLogicalLine(lines []string, start int) logicalLine {
	first := lines[start]
	if isStructural(strings.TrimSpace(first)) {
		return logicalLine{code: stripInlineComment(first), source: first, end: start}
	}

	code := stripInlineComment(first)
	source := first
	i := start
	for !isStatementComplete(code) && i+1 < len(lines) {
		i++
		code += "\n" + stripInlineComment(lines[i])
		source += "\n" + lines[i]
	}
	return logicalLine{code: code, source: source, end: i}
}

func isStructural(tr string) bool {
	switch {
	case isBlockHeader(tr) != "":
		return true
	case startsWithWord(tr, "else"), strings.HasPrefix(tr, "{"), strings.HasPrefix(tr, "}"):
		return true
	}
	return false
}

// isBlockHeader returns the keyword of an if/while/fn header line.
func isBlockHeader(tr string) string {
	for _, kw := range []string{"if", "while", "fn"} {
		if strings.HasPrefix(tr, kw+" ") || strings.HasPrefix(tr, kw+"\t") {
			return kw
		}
	}
	return ""
}

// closesWithElse reports whether a trimmed line is "} else ...".
func closesWithElse(tr string) bool {
	return strings.HasPrefix(tr, "}") && startsWithWord(strings.TrimSpace(tr[1:]), "else")
}

// opensElse reports whether a trimmed line starts an else arm.
func opensElse(tr string) bool {
	return startsWithWord(tr, "else") || closesWithElse(tr)
}

// ---------------------------------------------------------------------------
// Identifiers and columns
// ---------------------------------------------------------------------------

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// isIdent reports whether s is a complete identifier.
func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !isIdentStart(r) || i > 0 && !isIdentPart(r) {
			return false
		}
	}
	return true
}

// startsWithWord reports whether s begins with word followed by a
// non-identifier character or the end of s.
func startsWithWord(s, word string) bool {
	if !strings.HasPrefix(s, word) {
		return false
	}
	if len(s) == len(word) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[len(word):])
	return !isIdentPart(r)
}

// leadingSpace returns the byte length of the whitespace prefix of s.
func leadingSpace(s string) int {
	return len(s) - len(strings.TrimLeftFunc(s, unicode.IsSpace))
}

// colOf converts a byte offset within line to a 1-based character column.
func colOf(line string, offset int) int {
	if offset > len(line) {
		offset = len(line)
	}
	return utf8.RuneCountInString(line[:offset]) + 1
}

// linesFrom drops the first k newline-separated lines of s. Past the end it
// keeps the last line.
func linesFrom(s string, k int) string {
	for ; k > 0; k-- {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			break
		}
		s = s[i+1:]
	}
	return s
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
