package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/dpl/stdlib"
)

func newTestLSP() *LspServer {
	return NewLSP(stdlib.NewRegistry())
}

// ---------------------------------------------------------------------------
// Text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		desc       string
		text       string
		line, char uint32
		module     string
		prefix     string
	}{
		{"simple word", "say cou", 0, 7, "", "cou"},
		{"at start", "imp", 0, 3, "", "imp"},
		{"empty line", "", 0, 0, "", ""},
		{"multi line", "first line\nsecond\nwhi", 2, 3, "", "whi"},
		{"module member", "  io.pri", 0, 8, "io", "pri"},
		{"right after dot", "x = math.", 0, 9, "math", ""},
		{"cursor at beginning", "hello", 0, 0, "", ""},
		{"line beyond document", "single line", 5, 0, "", ""},
		{"column beyond line", "let abc", 0, 40, "", "abc"},
	}

	for _, tc := range tests {
		module, prefix := extractPrefix(tc.text, protocol.Position{Line: tc.line, Character: tc.char})
		if module != tc.module || prefix != tc.prefix {
			t.Errorf("%s: extractPrefix = (%q, %q), want (%q, %q)", tc.desc, module, prefix, tc.module, tc.prefix)
		}
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		desc       string
		text       string
		line, char uint32
		module     string
		word       string
	}{
		{"simple word", "hello world", 0, 3, "", "hello"},
		{"at end", "hello world", 0, 5, "", "hello"},
		{"second word", "hello world", 0, 8, "", "world"},
		{"empty line", "", 0, 0, "", ""},
		{"multi line", "first\nsquare", 1, 3, "", "square"},
		{"underscore", "my_var", 0, 3, "", "my_var"},
		{"qualified member", "say math.sqrt(2)", 0, 11, "math", "sqrt"},
		{"on module name", "say math.sqrt(2)", 0, 5, "", "math"},
		{"line beyond document", "single line", 5, 0, "", ""},
	}

	for _, tc := range tests {
		module, word := extractWord(tc.text, protocol.Position{Line: tc.line, Character: tc.char})
		if module != tc.module || word != tc.word {
			t.Errorf("%s: extractWord = (%q, %q), want (%q, %q)", tc.desc, module, word, tc.module, tc.word)
		}
	}
}

func TestBoolPtr(t *testing.T) {
	p := boolPtr(true)
	if p == nil {
		t.Fatal("boolPtr should not return nil")
	}
	if *p != true {
		t.Errorf("boolPtr(true) = %v, want true", *p)
	}

	p = boolPtr(false)
	if *p != false {
		t.Errorf("boolPtr(false) = %v, want false", *p)
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestDiagnose_Clean(t *testing.T) {
	diags := diagnose("let x = 1\nsay x + 1\n")
	if diags == nil {
		t.Fatal("diagnose should return an empty slice, not nil, so stale errors clear")
	}
	if len(diags) != 0 {
		t.Errorf("expected no diagnostics, got %v", diags)
	}
}

func TestDiagnose_CompileError(t *testing.T) {
	diags := diagnose("let x = 1\nsay x 2\n")
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(diags))
	}
	d := diags[0]
	if d.Range.Start.Line != 1 {
		t.Errorf("diagnostic line = %d, want 1", d.Range.Start.Line)
	}
	if d.Range.End.Character < d.Range.Start.Character {
		t.Errorf("diagnostic range end %d before start %d", d.Range.End.Character, d.Range.Start.Character)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Error("diagnostic should have error severity")
	}
	if d.Message == "" || strings.HasPrefix(d.Message, "line ") {
		t.Errorf("message should be the bare diagnostic text, got %q", d.Message)
	}
}

func TestDiagnose_ReturnOutsideFunction(t *testing.T) {
	diags := diagnose("say 1\n  return 2\n")
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(diags))
	}
	if diags[0].Range.Start.Line != 1 || diags[0].Range.Start.Character != 2 {
		t.Errorf("diagnostic start = %+v, want line 1 char 2", diags[0].Range.Start)
	}
	if !strings.Contains(diags[0].Message, "'return' outside function") {
		t.Errorf("unexpected message %q", diags[0].Message)
	}
}

// ---------------------------------------------------------------------------
// Completion, hover and definition
// ---------------------------------------------------------------------------

func labels(items []protocol.CompletionItem) map[string]protocol.CompletionItemKind {
	out := make(map[string]protocol.CompletionItemKind)
	for _, item := range items {
		out[item.Label] = *item.Kind
	}
	return out
}

func TestLSP_CompleteTopLevel(t *testing.T) {
	lsp := newTestLSP()
	text := "fn square(n) {\n  return n * n\n}\nlet sum = 0\ns"

	got := labels(lsp.complete(text, "", "s"))
	want := map[string]protocol.CompletionItemKind{
		"say":    protocol.CompletionItemKindKeyword,
		"string": protocol.CompletionItemKindModule,
		"sys":    protocol.CompletionItemKindModule,
		"square": protocol.CompletionItemKindFunction,
		"sum":    protocol.CompletionItemKindVariable,
	}
	for label, kind := range want {
		if got[label] != kind {
			t.Errorf("completion %q kind = %v, want %v (all: %v)", label, got[label], kind, got)
		}
	}
	if _, ok := got["let"]; ok {
		t.Error("completion for 's' should not include 'let'")
	}
}

func TestLSP_CompleteEmptyPrefix(t *testing.T) {
	lsp := newTestLSP()
	if items := lsp.complete("", "", ""); items != nil {
		t.Errorf("expected no items for an empty prefix, got %d", len(items))
	}
}

func TestLSP_CompleteModuleMembers(t *testing.T) {
	lsp := newTestLSP()

	got := labels(lsp.complete("", "math", "s"))
	for _, member := range []string{"sqrt", "sign"} {
		if got[member] != protocol.CompletionItemKindFunction {
			t.Errorf("math members should include %q, got %v", member, got)
		}
	}
	if _, ok := got["abs"]; ok {
		t.Error("prefix 's' should exclude math.abs")
	}

	all := lsp.complete("", "math", "")
	if len(all) < 10 {
		t.Errorf("empty prefix after 'math.' should list every member, got %d", len(all))
	}

	if items := lsp.complete("", "nosuch", ""); len(items) != 0 {
		t.Errorf("unknown module should give no items, got %d", len(items))
	}
}

func TestLSP_HoverKeyword(t *testing.T) {
	lsp := newTestLSP()
	h := lsp.hover("", "while")
	if h == nil {
		t.Fatal("expected hover for keyword")
	}
	content := h.Contents.(protocol.MarkupContent)
	if content.Kind != protocol.MarkupKindMarkdown {
		t.Errorf("hover kind = %v, want markdown", content.Kind)
	}
	if !strings.Contains(content.Value, "**while**") {
		t.Errorf("hover = %q, want keyword heading", content.Value)
	}
}

func TestLSP_HoverModule(t *testing.T) {
	lsp := newTestLSP()
	h := lsp.hover("", "json")
	if h == nil {
		t.Fatal("expected hover for module")
	}
	value := h.Contents.(protocol.MarkupContent).Value
	if !strings.Contains(value, "**module json**") || !strings.Contains(value, "`minify`") {
		t.Errorf("hover = %q, want module heading and members", value)
	}
}

func TestLSP_HoverMember(t *testing.T) {
	lsp := newTestLSP()
	h := lsp.hover("io", "println")
	if h == nil {
		t.Fatal("expected hover for module member")
	}
	value := h.Contents.(protocol.MarkupContent).Value
	if !strings.Contains(value, "**io.println**") || !strings.Contains(value, "import io") {
		t.Errorf("hover = %q", value)
	}

	if lsp.hover("io", "nosuch") != nil {
		t.Error("unknown member should have no hover")
	}
	if lsp.hover("", "someLocal") != nil {
		t.Error("plain identifier should have no hover")
	}
}

func TestDeclarations(t *testing.T) {
	text := "let a = 1\nfn add(x, y) {\n  let a = 2\n  return x + y\n}\n\tlet  b = a\nletter(1)\n"
	decls := declarations(text)

	if len(decls) != 3 {
		t.Fatalf("expected 3 declarations, got %d: %+v", len(decls), decls)
	}
	if decls[0].name != "a" || decls[0].line != 0 || decls[0].col != 4 {
		t.Errorf("decls[0] = %+v", decls[0])
	}
	if !decls[1].fn || decls[1].name != "add" || decls[1].params != "x, y" {
		t.Errorf("decls[1] = %+v", decls[1])
	}
	if decls[1].detail() != "fn add(x, y)" {
		t.Errorf("detail = %q", decls[1].detail())
	}
	if decls[2].name != "b" || decls[2].line != 5 || decls[2].col != 6 {
		t.Errorf("decls[2] = %+v", decls[2])
	}
}

func TestDefinition(t *testing.T) {
	uri := protocol.DocumentUri("file:///tmp/a.dog")
	text := "fn twice(f, x) {\n  return f(f(x))\n}\nsay twice((n) => n + 1, 3)\n"

	loc := definition(uri, text, "twice")
	if loc == nil {
		t.Fatal("expected a definition for twice")
	}
	if loc.URI != uri {
		t.Errorf("URI = %q, want %q", loc.URI, uri)
	}
	if loc.Range.Start.Line != 0 || loc.Range.Start.Character != 3 || loc.Range.End.Character != 8 {
		t.Errorf("range = %+v", loc.Range)
	}

	if definition(uri, text, "missing") != nil {
		t.Error("expected nil for an undeclared name")
	}
}
