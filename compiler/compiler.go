package compiler

import (
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/dpl/vm"
)

var log = commonlog.GetLogger("dpl.compiler")

// ---------------------------------------------------------------------------
// Compiler: line-oriented statement and block compiler
// ---------------------------------------------------------------------------

// Compiler turns Dog source lines into a chunk. Statements are compiled one
// logical line at a time; if, while and fn headers open blocks whose bodies
// start on the following line and end at the matching '}'.
type Compiler struct {
	lines []string
	root  *vm.Chunk
}

// Compile compiles a program given as physical lines. Line numbers in
// diagnostics are 1-based indexes into lines.
func Compile(lines []string) (*vm.Chunk, error) {
	c := &Compiler{lines: lines, root: vm.NewChunk()}
	if err := c.compileLines(); err != nil {
		return nil, err
	}
	log.Debugf("compiled %d lines into %d instructions, %d functions",
		len(lines), c.root.Len(), len(c.root.Functions))
	return c.root, nil
}

// CompileSource splits src into lines and compiles it.
func CompileSource(src string) (*vm.Chunk, error) {
	return Compile(SplitLines(src))
}

// SplitLines splits source text on LF, dropping the CR of CRLF endings.
func SplitLines(src string) []string {
	lines := strings.Split(src, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// NeedsMore reports whether the lines so far form an unfinished program:
// an open block, bracket or string. Interactive callers keep reading while
// it is true.
func NeedsMore(lines []string) bool {
	stripped := make([]string, len(lines))
	depth := 0
	for i, l := range lines {
		stripped[i] = stripInlineComment(l)
		depth += braceDelta(l)
	}
	return depth > 0 || !isStatementComplete(strings.Join(stripped, "\n"))
}

func (c *Compiler) compileLines() error {
	for i := 0; i < len(c.lines); i++ {
		tr := strings.TrimSpace(c.lines[i])
		if tr == "" || strings.HasPrefix(tr, "#") {
			continue
		}
		end, err := c.compileAt(i, c.root)
		if err != nil {
			return err
		}
		i = end
	}
	return nil
}

// compileAt compiles the block or statement starting at line i and returns
// the index of the last line it consumed.
func (c *Compiler) compileAt(i int, chunk *vm.Chunk) (int, error) {
	raw := c.lines[i]
	kwPos := leadingSpace(raw)
	tr := strings.TrimSpace(raw)
	site := vm.Site{Line: i + 1, Col: kwPos + 1, Source: raw}
	switch {
	case opensElse(tr):
		return 0, site.Errorf("'else' without matching 'if'")
	case strings.HasPrefix(tr, "}"):
		return 0, site.Errorf("Unexpected '}' without matching block")
	}
	switch isBlockHeader(tr) {
	case "if":
		return c.compileIf(i, kwPos, chunk)
	case "while":
		return c.compileWhile(i, kwPos, chunk)
	case "fn":
		return c.compileFn(i, kwPos, chunk)
	}
	ll := readLogicalLine(c.lines, i)
	if err := c.compileStatement(ll.code, ll.source, i+1, chunk); err != nil {
		return 0, err
	}
	return ll.end, nil
}

// compileBody compiles the lines after header up to the closing brace and
// returns the index of the closing line, or -1 if the block never closes.
// In a then-arm a "} else" line also closes the block; anywhere else it is
// an error.
func (c *Compiler) compileBody(header int, chunk *vm.Chunk, thenArm bool) (int, error) {
	depth := 1
	for k := header + 1; k < len(c.lines); k++ {
		raw := c.lines[k]
		tr := strings.TrimSpace(raw)

		if thenArm && closesWithElse(tr) {
			if depth--; depth <= 0 {
				return k, nil
			}
			continue
		}
		if closesWithElse(tr) {
			site := vm.Site{Line: k + 1, Col: leadingSpace(raw) + 1, Source: raw}
			return 0, site.Errorf("'else' without matching 'if'")
		}
		if depth += braceDelta(raw); depth <= 0 {
			return k, nil
		}
		if tr == "" || tr[0] == '#' || tr[0] == '{' || tr[0] == '}' {
			continue
		}

		end, err := c.compileAt(k, chunk)
		if err != nil {
			return 0, err
		}
		if isBlockHeader(tr) != "" {
			depth += braceDeltaRange(c.lines, k, end)
		}
		k = end
	}
	return -1, nil
}

// blockHeader validates "<kw> ... {" at line i and returns the text between
// the keyword and the brace with its byte offset in the line.
func (c *Compiler) blockHeader(i, kwPos int, kw, missing, trailing string) (string, int, error) {
	raw := c.lines[i]
	site := vm.Site{Line: i + 1, Col: colOf(raw, kwPos), Source: raw}
	from := kwPos + len(kw)
	brace := findBlockBrace(raw, from)
	if brace < 0 {
		return "", 0, site.Errorf("%s", missing)
	}
	if strings.TrimSpace(stripInlineComment(raw[brace+1:])) != "" {
		return "", 0, vm.Errorf(i+1, colOf(raw, brace+1), raw, "%s", trailing)
	}
	return raw[from:brace], from, nil
}

// ---------------------------------------------------------------------------
// if / else
// ---------------------------------------------------------------------------

// compileIf compiles an if statement whose keyword sits at byte kwPos of
// line i. The same line may also be an "} else if" arm of an outer chain.
//
//	cond
//	JUMP_IF_FALSE else
//	then...
//	JUMP end          (only with else)
//	else: else...
//	end:
func (c *Compiler) compileIf(i, kwPos int, chunk *vm.Chunk) (int, error) {
	raw := c.lines[i]
	site := vm.Site{Line: i + 1, Col: colOf(raw, kwPos), Source: raw}

	cond, condAt, err := c.blockHeader(i, kwPos, "if",
		"Expected '{' after if condition (use: if cond { ... })",
		"Put '{' at end of line. Body must be on next lines.")
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(cond) == "" {
		return 0, site.Errorf("Expected condition after 'if'")
	}
	if _, err := c.compileExpr(raw, raw, i+1, condAt, condAt+len(cond), chunk); err != nil {
		return 0, err
	}
	jFalse := chunk.EmitJump(vm.OpJumpIfFalse, site)

	closeIdx, err := c.compileBody(i, chunk, true)
	if err != nil {
		return 0, err
	}
	if closeIdx < 0 {
		return 0, site.Errorf("Unclosed block: missing '}'")
	}

	elseIdx := -1
	if closesWithElse(strings.TrimSpace(c.lines[closeIdx])) {
		elseIdx = closeIdx
	} else if closeIdx+1 < len(c.lines) && opensElse(strings.TrimSpace(c.lines[closeIdx+1])) {
		elseIdx = closeIdx + 1
	}
	if elseIdx < 0 {
		chunk.PatchJump(jFalse)
		return closeIdx, nil
	}

	jEnd := chunk.EmitJump(vm.OpJump, site)
	chunk.PatchJump(jFalse)
	end, err := c.compileElse(elseIdx, chunk)
	if err != nil {
		return 0, err
	}
	chunk.PatchJump(jEnd)
	return end, nil
}

// compileElse compiles the arm introduced on line i, either "else {" or
// "else if cond {", with or without a leading '}'.
func (c *Compiler) compileElse(i int, chunk *vm.Chunk) (int, error) {
	raw := c.lines[i]
	elsePos := strings.Index(raw, "else")
	site := vm.Site{Line: i + 1, Col: colOf(raw, elsePos), Source: raw}
	after := elsePos + len("else")

	if rest := strings.TrimLeft(raw[after:], " \t"); startsWithWord(rest, "if") {
		return c.compileIf(i, len(raw)-len(rest), chunk)
	}

	between, _, err := c.blockHeader(i, elsePos, "else",
		"Expected '{' after else",
		"Put '{' at end of line. Else body must be on next lines.")
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(between) != "" {
		return 0, site.Errorf("Expected '{' after else")
	}

	end, err := c.compileBody(i, chunk, false)
	if err != nil {
		return 0, err
	}
	if end < 0 {
		return 0, site.Errorf("Unclosed else block: missing '}'")
	}
	return end, nil
}

// ---------------------------------------------------------------------------
// while
// ---------------------------------------------------------------------------

func (c *Compiler) compileWhile(i, kwPos int, chunk *vm.Chunk) (int, error) {
	raw := c.lines[i]
	site := vm.Site{Line: i + 1, Col: colOf(raw, kwPos), Source: raw}

	cond, condAt, err := c.blockHeader(i, kwPos, "while",
		"Expected '{' after while condition (use: while cond { ... })",
		"Put '{' at end of line. Body must be on next lines.")
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(cond) == "" {
		return 0, site.Errorf("Expected condition after 'while'")
	}

	loopStart := chunk.Len()
	if _, err := c.compileExpr(raw, raw, i+1, condAt, condAt+len(cond), chunk); err != nil {
		return 0, err
	}
	jFalse := chunk.EmitJump(vm.OpJumpIfFalse, site)

	end, err := c.compileBody(i, chunk, false)
	if err != nil {
		return 0, err
	}
	if end < 0 {
		return 0, site.Errorf("Unclosed while block: missing '}'")
	}
	chunk.EmitJumpTo(vm.OpJump, loopStart, site)
	chunk.PatchJump(jFalse)
	return end, nil
}

// ---------------------------------------------------------------------------
// fn
// ---------------------------------------------------------------------------

// compileFn compiles "fn name(a, b) {" into a nested prototype, then binds
// a closure of it to name.
func (c *Compiler) compileFn(i, kwPos int, chunk *vm.Chunk) (int, error) {
	raw := c.lines[i]
	site := vm.Site{Line: i + 1, Col: colOf(raw, kwPos), Source: raw}

	header, _, err := c.blockHeader(i, kwPos, "fn",
		"Expected '{' after fn header",
		"Put '{' at end of line. Body must be on next lines.")
	if err != nil {
		return 0, err
	}
	lp := strings.IndexByte(header, '(')
	rp := strings.LastIndexByte(header, ')')
	if lp < 0 || rp < lp || strings.TrimSpace(header[rp+1:]) != "" {
		return 0, site.Errorf("Bad fn header. Use: fn name(a,b) {")
	}

	name := strings.TrimSpace(header[:lp])
	if !isIdent(name) {
		return 0, site.Errorf("Bad function name: %s", name)
	}
	params := []string{}
	if list := strings.TrimSpace(header[lp+1 : rp]); list != "" {
		for _, part := range strings.Split(list, ",") {
			param := strings.TrimSpace(part)
			if !isIdent(param) {
				return 0, site.Errorf("Bad parameter name: %s", param)
			}
			params = append(params, param)
		}
	}

	body := vm.NewChunk()
	end, err := c.compileBody(i, body, false)
	if err != nil {
		return 0, err
	}
	if end < 0 {
		return 0, site.Errorf("Unclosed fn block: missing '}'")
	}
	if !body.EndsWithReturn() {
		body.EmitOp(vm.OpConstNil, site)
		body.EmitOp(vm.OpReturn, site)
	}

	idx := chunk.AddFunction(&vm.FunctionProto{Params: params, Body: body})
	chunk.EmitArg(vm.OpConstFunc, idx, site)
	chunk.EmitName(vm.OpStore, name, site)
	return end, nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// compileStatement compiles one logical line: import, return, say, let,
// index assignment, assignment or a call used as a statement.
func (c *Compiler) compileStatement(code, source string, line int, chunk *vm.Chunk) error {
	lead := leadingSpace(code)
	tr := strings.TrimSpace(code)
	if tr == "" {
		return nil
	}
	site := siteAt(code, source, line, lead)

	switch {
	case startsWithWord(tr, "import"):
		name := strings.TrimSpace(tr[len("import"):])
		if name == "" {
			return site.Errorf("Expected module name after import")
		}
		chunk.EmitName(vm.OpImport, name, site)
		return nil

	case startsWithWord(tr, "return"):
		if chunk == c.root {
			return site.Errorf("'return' outside function")
		}
		from := lead + len("return")
		if strings.TrimSpace(code[from:]) == "" {
			chunk.EmitOp(vm.OpConstNil, site)
		} else if _, err := c.compileExpr(code, source, line, from, len(code), chunk); err != nil {
			return err
		}
		chunk.EmitOp(vm.OpReturn, site)
		return nil

	case startsWithWord(tr, "say"):
		from := lead + len("say")
		if strings.TrimSpace(code[from:]) == "" {
			at := siteAt(code, source, line, from)
			at.Col++
			return at.Errorf("Expected expression after 'say'")
		}
		exprAt := from + leadingSpace(code[from:])
		if _, err := c.compileExpr(code, source, line, exprAt, len(code), chunk); err != nil {
			return err
		}
		chunk.EmitOp(vm.OpPrint, siteAt(code, source, line, exprAt))
		return nil

	case startsWithWord(tr, "let"):
		return c.compileLet(code, source, line, lead, chunk)
	}

	if eq := findTopLevelAssign(code); eq >= 0 {
		return c.compileAssign(code, source, line, lead, eq, chunk)
	}

	p, err := c.compileExpr(code, source, line, lead, len(code), chunk)
	if err != nil {
		return err
	}
	if !p.DidCall() {
		return site.Errorf("This line does nothing. Use 'say <expr>' or call something like io.print(...)")
	}
	chunk.EmitOp(vm.OpPop, site)
	return nil
}

func (c *Compiler) compileLet(code, source string, line, lead int, chunk *vm.Chunk) error {
	site := siteAt(code, source, line, lead)
	from := lead + len("let")
	eq := strings.IndexByte(code[from:], '=')
	if eq < 0 {
		return site.Errorf("Expected '=' in let statement")
	}
	eq += from

	name := strings.TrimSpace(code[from:eq])
	if !isIdent(name) {
		return site.Errorf("Bad variable name: %s", name)
	}
	if strings.TrimSpace(code[eq+1:]) == "" {
		return siteAt(code, source, line, eq+1).Errorf("Expected expression after '='")
	}
	if _, err := c.compileExpr(code, source, line, eq+1, len(code), chunk); err != nil {
		return err
	}
	chunk.EmitName(vm.OpStore, name, site)
	return nil
}

// compileAssign handles "name = expr" and "target[index] = expr". Index
// assignment evaluates the target, then the index, then the value.
func (c *Compiler) compileAssign(code, source string, line, lead, eq int, chunk *vm.Chunk) error {
	site := siteAt(code, source, line, lead)
	left := strings.TrimRightFunc(code[lead:eq], isSpaceRune)
	right := code[eq+1:]
	if strings.TrimSpace(right) == "" {
		return siteAt(code, source, line, eq+1).Errorf("Expected expression after '='")
	}

	if strings.HasSuffix(left, "]") {
		open, ok := lastIndexGroup(left)
		if !ok {
			return site.Errorf("Bad assignment target: %s", left)
		}
		target := left[:open]
		index := left[open+1 : len(left)-1]
		if r := strings.TrimSpace(target); r == "" || !isIdentStart([]rune(r)[0]) {
			return site.Errorf("Bad assignment target: %s", left)
		}
		if strings.TrimSpace(index) == "" {
			return siteAt(code, source, line, lead+open+1).Errorf("Expected index expression inside []")
		}
		if _, err := c.compileExpr(code, source, line, lead, lead+open, chunk); err != nil {
			return err
		}
		if _, err := c.compileExpr(code, source, line, lead+open+1, lead+len(left)-1, chunk); err != nil {
			return err
		}
		if _, err := c.compileExpr(code, source, line, eq+1, len(code), chunk); err != nil {
			return err
		}
		chunk.EmitOp(vm.OpArraySet, site)
		chunk.EmitOp(vm.OpPop, site)
		return nil
	}

	if !isIdent(left) {
		return site.Errorf("Bad assignment target: %s", left)
	}
	if _, err := c.compileExpr(code, source, line, eq+1, len(code), chunk); err != nil {
		return err
	}
	chunk.EmitName(vm.OpStore, left, site)
	return nil
}

// compileExpr parses code[from:to] into chunk. code is the comment-stripped
// text of a logical line whose first physical line is line.
func (c *Compiler) compileExpr(code, source string, line, from, to int, chunk *vm.Chunk) (*Parser, error) {
	at := siteAt(code, source, line, from)
	p := NewParser(code[from:to], at.Line, at.Col, linesFrom(source, at.Line-line), chunk)
	if err := p.Parse(); err != nil {
		return nil, err
	}
	return p, nil
}

// siteAt returns the position of byte offset off of code, the stripped text
// of a logical line starting at physical line line. Offsets past a joined
// newline land on the physical line that holds them.
func siteAt(code, source string, line, off int) vm.Site {
	if off > len(code) {
		off = len(code)
	}
	nl := strings.LastIndexByte(code[:off], '\n')
	k := strings.Count(code[:off], "\n")
	return vm.Site{Line: line + k, Col: colOf(code[nl+1:], off-nl-1), Source: firstLine(linesFrom(source, k))}
}

func isSpaceRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\n'
}
