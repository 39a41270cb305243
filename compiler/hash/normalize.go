package hash

// ---------------------------------------------------------------------------
// Name normalization: parameters -> de Bruijn slots
//
// Inside a function body every reference to a parameter of an enclosing
// function is replaced by (scope depth, slot index). Other names stay free.
// Two programs that differ only by consistent parameter renaming therefore
// normalize to the same stream.
// ---------------------------------------------------------------------------

// scope holds the parameter slots of one function.
type scope struct {
	params map[string]uint16
}

func newScope(params []string) scope {
	s := scope{params: make(map[string]uint16, len(params))}
	for i, p := range params {
		// Later duplicates win, matching how the VM binds them.
		s.params[p] = uint16(i)
	}
	return s
}

// scopeStack is the chain of enclosing functions, outermost first.
type scopeStack []scope

// push returns a new stack with s innermost, leaving the receiver intact.
func (st scopeStack) push(s scope) scopeStack {
	out := make(scopeStack, len(st), len(st)+1)
	copy(out, st)
	return append(out, s)
}

// resolve finds name in the innermost scope that declares it.
func (st scopeStack) resolve(name string) (depth, slot uint16, ok bool) {
	for d := len(st) - 1; d >= 0; d-- {
		if idx, found := st[d].params[name]; found {
			return uint16(len(st) - 1 - d), idx, true
		}
	}
	return 0, 0, false
}
