package compiler

import (
	"errors"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/chazu/dpl/vm"
)

// ---------------------------------------------------------------------------
// Parser: precedence-climbing expression compiler
// ---------------------------------------------------------------------------

// Parser compiles a single Dog expression straight into a chunk. There is
// no intermediate tree; each rule emits its instructions as it is parsed.
//
// Precedence, lowest first:
//
//	equality   == != <>
//	comparison < > <= >=
//	additive   + -
//	term       * /
//	unary      ! -
//	postfix    call(...) index[...]
type Parser struct {
	src     []rune
	pos     int
	line    int
	baseCol int    // column of src[0] within its physical line
	source  string // original text from that line on
	out     *vm.Chunk

	didCall bool
}

// NewParser creates a parser over expr, which starts at column baseCol of
// physical line line. expr may span several lines; source holds the original
// text from line onward and positions past a newline are reported on the
// line that holds them.
func NewParser(expr string, line, baseCol int, source string, out *vm.Chunk) *Parser {
	return &Parser{
		src:     []rune(expr),
		line:    line,
		baseCol: baseCol,
		source:  source,
		out:     out,
	}
}

// DidCall reports whether the expression contains a call at its own level.
// Calls inside lambda bodies do not count.
func (p *Parser) DidCall() bool {
	return p.didCall
}

// Parse compiles one expression and rejects trailing input.
func (p *Parser) Parse() error {
	if err := p.parseExpression(); err != nil {
		return err
	}
	return p.finish()
}

func (p *Parser) finish() error {
	p.skipSpaces()
	if !p.isEnd() {
		return p.errorf("Bad expression near: %s", p.rest())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Binary operators
// ---------------------------------------------------------------------------

func (p *Parser) parseExpression() error {
	return p.parseEquality()
}

func (p *Parser) parseEquality() error {
	if err := p.parseComparison(); err != nil {
		return err
	}
	for {
		p.skipSpaces()
		at := p.pos
		var op vm.Opcode
		switch {
		case p.match2("=="):
			op = vm.OpEq
		case p.match2("!="), p.match2("<>"):
			op = vm.OpNeq
		default:
			return nil
		}
		if err := p.parseComparison(); err != nil {
			return err
		}
		p.out.EmitOp(op, p.site(at))
	}
}

func (p *Parser) parseComparison() error {
	if err := p.parseAdditive(); err != nil {
		return err
	}
	for {
		p.skipSpaces()
		if p.peek() == '<' && p.peekNext() == '>' {
			return nil
		}
		at := p.pos
		var op vm.Opcode
		switch {
		case p.match2(">="):
			op = vm.OpGe
		case p.match2("<="):
			op = vm.OpLe
		case p.match('>'):
			op = vm.OpGt
		case p.match('<'):
			op = vm.OpLt
		default:
			return nil
		}
		if err := p.parseAdditive(); err != nil {
			return err
		}
		p.out.EmitOp(op, p.site(at))
	}
}

func (p *Parser) parseAdditive() error {
	if err := p.parseTerm(); err != nil {
		return err
	}
	for {
		p.skipSpaces()
		at := p.pos
		var op vm.Opcode
		switch {
		case p.match('+'):
			op = vm.OpAdd
		case p.peek() == '-' && p.peekNext() != '>' && p.match('-'):
			op = vm.OpSub
		default:
			return nil
		}
		if err := p.parseTerm(); err != nil {
			return err
		}
		p.out.EmitOp(op, p.site(at))
	}
}

func (p *Parser) parseTerm() error {
	if err := p.parseUnary(); err != nil {
		return err
	}
	for {
		p.skipSpaces()
		at := p.pos
		var op vm.Opcode
		switch {
		case p.match('*'):
			op = vm.OpMul
		case p.match('/'):
			op = vm.OpDiv
		default:
			return nil
		}
		if err := p.parseUnary(); err != nil {
			return err
		}
		p.out.EmitOp(op, p.site(at))
	}
}

// parseUnary handles prefix operators. Negation compiles to 0 - x.
func (p *Parser) parseUnary() error {
	p.skipSpaces()
	at := p.pos
	switch {
	case p.match('!'):
		if err := p.parseUnary(); err != nil {
			return err
		}
		p.out.EmitOp(vm.OpNot, p.site(at))
		return nil
	case p.match('-'):
		p.out.EmitConst(vm.Int(0), p.site(at))
		if err := p.parseUnary(); err != nil {
			return err
		}
		p.out.EmitOp(vm.OpSub, p.site(at))
		return nil
	}
	return p.parsePostfix()
}

// ---------------------------------------------------------------------------
// Postfix: calls and indexing
// ---------------------------------------------------------------------------

func (p *Parser) parsePostfix() error {
	if err := p.parsePrimary(); err != nil {
		return err
	}
	for {
		p.skipSpaces()
		at := p.pos
		switch {
		case p.match('('):
			argc, err := p.parseArgs(')', "Expected ',' or ')' in arguments")
			if err != nil {
				return err
			}
			p.out.EmitArg(vm.OpCallValue, argc, p.site(at))
			p.didCall = true
		case p.match('['):
			if err := p.parseExpression(); err != nil {
				return err
			}
			p.skipSpaces()
			if !p.match(']') {
				return p.errorf("Missing ']'")
			}
			p.out.EmitOp(vm.OpArrayGet, p.site(at))
		default:
			return nil
		}
	}
}

// parseArgs parses a comma-separated list after its opening delimiter has
// been consumed, through the closing delimiter.
func (p *Parser) parseArgs(closer rune, msg string) (int, error) {
	p.skipSpaces()
	if p.match(closer) {
		return 0, nil
	}
	count := 0
	for {
		if err := p.parseExpression(); err != nil {
			return 0, err
		}
		count++
		p.skipSpaces()
		if p.match(closer) {
			return count, nil
		}
		if !p.match(',') {
			return 0, p.errorf("%s", msg)
		}
	}
}

// ---------------------------------------------------------------------------
// Primary expressions
// ---------------------------------------------------------------------------

func (p *Parser) parsePrimary() error {
	p.skipSpaces()
	start := p.pos
	c := p.peek()

	switch {
	case c == '[':
		p.pos++
		count, err := p.parseArgs(']', "Expected ',' or ']' in array literal")
		if err != nil {
			return err
		}
		p.out.EmitArg(vm.OpArrayNew, count, p.site(start))
		return nil

	case c == '"':
		s, err := p.parseString()
		if err != nil {
			return err
		}
		p.out.EmitConst(vm.String(s), p.site(start))
		return nil

	case c == '(':
		if ok, err := p.tryLambda(start); ok || err != nil {
			return err
		}
		p.pos++
		if err := p.parseExpression(); err != nil {
			return err
		}
		p.skipSpaces()
		if !p.match(')') {
			return p.errorf("Missing ')'")
		}
		return nil

	case isDigit(c) || c == '.':
		return p.emitNumber(p.numberToken(), start)

	case isIdentStart(c):
		return p.parseIdentifier()
	}

	if p.isEnd() {
		return p.errorf("Unexpected end of expression")
	}
	return p.errorf("Unexpected token near: %s", p.rest())
}

// parseIdentifier handles keywords, variable loads and module member
// access (mod.member and mod.member(args)).
func (p *Parser) parseIdentifier() error {
	start := p.pos
	a := p.ident()
	at := p.site(start)

	switch a {
	case "true":
		p.out.EmitConst(vm.Bool(true), at)
		return nil
	case "false":
		p.out.EmitConst(vm.Bool(false), at)
		return nil
	case "nil":
		p.out.EmitOp(vm.OpConstNil, at)
		return nil
	}

	p.skipSpaces()
	if !p.match('.') {
		p.out.EmitName(vm.OpLoad, a, at)
		return nil
	}

	p.skipSpaces()
	if !isIdentStart(p.peek()) {
		return p.errorf("Expected identifier after '.'")
	}
	b := p.ident()
	p.skipSpaces()
	if p.match('(') {
		p.didCall = true
		argc, err := p.parseArgs(')', "Expected ',' or ')' in arguments")
		if err != nil {
			return err
		}
		p.out.EmitCall(a, b, argc, false, at)
		return nil
	}
	p.out.EmitCall(a, b, 0, true, at)
	return nil
}

// ---------------------------------------------------------------------------
// Lambdas
// ---------------------------------------------------------------------------

// tryLambda compiles (a, b) => expr when the parenthesised text at start is
// a parameter list followed by an arrow. ok is false, with the position
// unchanged, when it is an ordinary grouping.
func (p *Parser) tryLambda(start int) (ok bool, err error) {
	params, after, isHeader := p.lambdaHeader(start)
	if !isHeader {
		return false, nil
	}
	p.pos = after
	p.skipSpaces()
	if !p.match2("=>") && !p.match2("->") {
		p.pos = start
		return false, nil
	}
	p.skipSpaces()

	bodyStart := p.pos
	bodyEnd := p.lambdaBodyEnd(bodyStart)
	bodyText := string(p.src[bodyStart:bodyEnd])
	if strings.TrimSpace(bodyText) == "" {
		return true, p.errorf("Expected expression after lambda arrow")
	}

	body := vm.NewChunk()
	at := p.site(bodyStart)
	sub := NewParser(bodyText, at.Line, at.Col, linesFrom(p.source, at.Line-p.line), body)
	if err := sub.Parse(); err != nil {
		return true, err
	}
	body.EmitOp(vm.OpReturn, p.site(bodyStart))

	idx := p.out.AddFunction(&vm.FunctionProto{Params: params, Body: body})
	p.out.EmitArg(vm.OpConstFunc, idx, p.site(start))
	p.pos = bodyEnd
	return true, nil
}

// lambdaHeader scans "(a, b)" or "()" at start without moving the parser.
func (p *Parser) lambdaHeader(start int) (params []string, after int, ok bool) {
	i := start
	if i >= len(p.src) || p.src[i] != '(' {
		return nil, 0, false
	}
	i = p.skipSpacesFrom(i + 1)
	if i < len(p.src) && p.src[i] == ')' {
		return []string{}, i + 1, true
	}
	for {
		i = p.skipSpacesFrom(i)
		if i >= len(p.src) || !isIdentStart(p.src[i]) {
			return nil, 0, false
		}
		j := i + 1
		for j < len(p.src) && isIdentPart(p.src[j]) {
			j++
		}
		params = append(params, string(p.src[i:j]))
		i = p.skipSpacesFrom(j)
		if i >= len(p.src) {
			return nil, 0, false
		}
		switch p.src[i] {
		case ')':
			return params, i + 1, true
		case ',':
			i++
		default:
			return nil, 0, false
		}
	}
}

// lambdaBodyEnd returns the index where a lambda body ends: the first
// top-level ',' ')' ']' or '}', a comment, or the end of input.
func (p *Parser) lambdaBodyEnd(from int) int {
	par, br, cr := 0, 0, 0
	inStr, esc := false, false
	i := from
	for ; i < len(p.src); i++ {
		c := p.src[i]
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
			continue
		}
		if c == '#' {
			break
		}
		if par == 0 && br == 0 && cr == 0 && (c == ',' || c == ')' || c == ']' || c == '}') {
			break
		}
		switch c {
		case '(':
			par++
		case ')':
			par--
		case '[':
			br++
		case ']':
			br--
		case '{':
			cr++
		case '}':
			cr--
		}
	}
	return i
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

// parseString reads a quoted literal. \n \t \" and \\ are escapes; any
// other escaped character stands for itself.
func (p *Parser) parseString() (string, error) {
	if !p.match('"') {
		return "", p.errorf("Expected '\"'")
	}
	var sb []rune
	for !p.isEnd() {
		c := p.src[p.pos]
		p.pos++
		if c == '"' {
			return string(sb), nil
		}
		if c == '\\' && !p.isEnd() {
			n := p.src[p.pos]
			p.pos++
			switch n {
			case 'n':
				sb = append(sb, '\n')
			case 't':
				sb = append(sb, '\t')
			default:
				sb = append(sb, n)
			}
			continue
		}
		sb = append(sb, c)
	}
	return "", p.errorf("Unterminated string literal")
}

// numberToken consumes digits with at most one '.' and one exponent.
func (p *Parser) numberToken() string {
	start := p.pos
	dot, exp := false, false
	for !p.isEnd() {
		c := p.src[p.pos]
		switch {
		case isDigit(c):
			p.pos++
		case c == '.' && !dot && !exp:
			dot = true
			p.pos++
		case (c == 'e' || c == 'E') && !exp:
			exp = true
			p.pos++
			if s := p.peek(); s == '+' || s == '-' {
				p.pos++
			}
		default:
			return string(p.src[start:p.pos])
		}
	}
	return string(p.src[start:p.pos])
}

// emitNumber emits the narrowest constant for token: decimals and
// exponents are doubles, integers are Int, Long or BigInt by magnitude.
func (p *Parser) emitNumber(token string, start int) error {
	if token == "" {
		return p.errorf("Bad number")
	}
	at := p.site(start)
	if strings.ContainsAny(token, ".eE") {
		f, err := strconv.ParseFloat(token, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return p.errorf("Bad number: %s", token)
		}
		p.out.EmitConst(vm.Double(f), at)
		return nil
	}
	n, ok := new(big.Int).SetString(token, 10)
	if !ok {
		return p.errorf("Bad number: %s", token)
	}
	p.out.EmitConst(vm.BigInt(n), at)
	return nil
}

// ---------------------------------------------------------------------------
// Cursor helpers
// ---------------------------------------------------------------------------

func (p *Parser) site(pos int) vm.Site {
	k, nl := 0, -1
	for i := 0; i < pos && i < len(p.src); i++ {
		if p.src[i] == '\n' {
			k, nl = k+1, i
		}
	}
	col := p.baseCol + pos
	if k > 0 {
		col = pos - nl
	}
	return vm.Site{Line: p.line + k, Col: col, Source: firstLine(linesFrom(p.source, k))}
}

func (p *Parser) errorf(format string, args ...any) error {
	return p.site(p.pos).Errorf(format, args...)
}

func (p *Parser) isEnd() bool {
	return p.pos >= len(p.src)
}

func (p *Parser) peek() rune {
	if p.isEnd() {
		return 0
	}
	return p.src[p.pos]
}

func (p *Parser) peekNext() rune {
	if p.pos+1 >= len(p.src) {
		return 0
	}
	return p.src[p.pos+1]
}

func (p *Parser) rest() string {
	return string(p.src[min(p.pos, len(p.src)):])
}

func (p *Parser) match(c rune) bool {
	if p.peek() == c && !p.isEnd() {
		p.pos++
		return true
	}
	return false
}

func (p *Parser) match2(two string) bool {
	r := []rune(two)
	if p.peek() == r[0] && p.peekNext() == r[1] {
		p.pos += 2
		return true
	}
	return false
}

func (p *Parser) skipSpaces() {
	p.pos = p.skipSpacesFrom(p.pos)
}

func (p *Parser) skipSpacesFrom(i int) int {
	for i < len(p.src) && unicode.IsSpace(p.src[i]) {
		i++
	}
	return i
}

func (p *Parser) ident() string {
	start := p.pos
	p.pos++
	for !p.isEnd() && isIdentPart(p.src[p.pos]) {
		p.pos++
	}
	return string(p.src[start:p.pos])
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
