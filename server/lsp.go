// Package server implements a language server for Dog scripts.
package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/dpl/compiler"
	"github.com/chazu/dpl/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "dog-lsp"

var log = commonlog.GetLogger("dpl.server")

// keywords are the statement and literal words of the language, with the
// hover text shown for each.
var keywords = map[string]string{
	"let":    "`let name = expr` declares a variable in the current scope.",
	"fn":     "`fn name(a, b) {` declares a function. The body ends at the matching `}`.",
	"if":     "`if cond {` runs the block when cond is truthy. May be followed by `else` or `else if`.",
	"else":   "`} else {` runs when the preceding `if` condition was falsy.",
	"while":  "`while cond {` repeats the block while cond is truthy.",
	"return": "`return expr` leaves the current function. Only valid inside `fn`.",
	"import": "`import module` makes a host module callable as `module.fn(...)`.",
	"say":    "`say expr` prints the value followed by a newline.",
	"true":   "Boolean literal.",
	"false":  "Boolean literal.",
	"nil":    "The absent value.",
}

// LspServer provides diagnostics, completion, hover and definition for
// Dog documents. Module information comes from the registry.
type LspServer struct {
	registry *vm.Registry

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a language server that resolves modules through reg.
func NewLSP(reg *vm.Registry) *LspServer {
	s := &LspServer{
		registry: reg,
		docs:     make(map[string]string),
		version:  "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "Dog LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	module, prefix := extractPrefix(text, params.Position)
	return s.complete(text, module, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	module, word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.hover(module, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	module, word := extractWord(text, params.Position)
	if word == "" || module != "" {
		return nil, nil
	}
	loc := definition(uri, text, word)
	if loc == nil {
		return nil, nil
	}
	return []protocol.Location{*loc}, nil
}

// complete returns completion items for prefix. When module is set the
// cursor follows "module." and only that module's members are offered.
func (s *LspServer) complete(text, module, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)
	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if !strings.HasPrefix(strings.ToLower(label), lowerPrefix) {
			return
		}
		labelCopy := label
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &labelCopy,
		})
	}

	if module != "" {
		for _, member := range s.members(module) {
			add(member, protocol.CompletionItemKindFunction, module+" member")
		}
		return items
	}

	if prefix == "" {
		return nil
	}

	for _, kw := range sortedKeys(keywords) {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}
	for _, name := range s.registry.Names() {
		add(name, protocol.CompletionItemKindModule, "module")
	}
	for _, d := range declarations(text) {
		kind := protocol.CompletionItemKindVariable
		if d.fn {
			kind = protocol.CompletionItemKindFunction
		}
		add(d.name, kind, d.detail())
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func (s *LspServer) members(module string) []string {
	m, ok := s.registry.Lookup(module)
	if !ok {
		return nil
	}
	lister, ok := m.(vm.MemberLister)
	if !ok {
		return nil
	}
	return lister.Members()
}

// hover describes a keyword, a module, or a module member when module is
// set.
func (s *LspServer) hover(module, word string) *protocol.Hover {
	var b strings.Builder

	switch {
	case module != "":
		found := false
		for _, m := range s.members(module) {
			if m == word {
				found = true
				break
			}
		}
		if !found {
			return nil
		}
		fmt.Fprintf(&b, "**%s.%s**\n\nMember of module `%s`. Requires `import %s`.", module, word, module, module)

	case keywords[word] != "":
		fmt.Fprintf(&b, "**%s**\n\n%s", word, keywords[word])

	default:
		if _, ok := s.registry.Lookup(word); !ok {
			return nil
		}
		fmt.Fprintf(&b, "**module %s**", word)
		if members := s.members(word); len(members) > 0 {
			fmt.Fprintf(&b, "\n\nMembers: `%s`", strings.Join(members, "`, `"))
		}
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// --- Declarations ---

type declaration struct {
	name   string
	fn     bool
	params string
	line   int // 0-based
	col    int // 0-based
}

func (d declaration) detail() string {
	if d.fn {
		return fmt.Sprintf("fn %s(%s)", d.name, d.params)
	}
	return "variable"
}

// declarations scans text for fn and let statements. The first declaration
// of each name wins.
func declarations(text string) []declaration {
	var decls []declaration
	seen := make(map[string]bool)
	for i, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)
		lead := len(line) - len(trimmed)
		for _, kw := range []string{"fn", "let"} {
			rest, ok := strings.CutPrefix(trimmed, kw)
			if !ok || rest == "" || !unicode.IsSpace(rune(rest[0])) {
				continue
			}
			nameStart := len(trimmed) - len(strings.TrimLeftFunc(rest, unicode.IsSpace))
			end := nameStart
			for end < len(trimmed) && isIdentByte(trimmed[end]) {
				end++
			}
			name := trimmed[nameStart:end]
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			d := declaration{name: name, fn: kw == "fn", line: i, col: lead + nameStart}
			if d.fn {
				if open := strings.IndexByte(trimmed[end:], '('); open >= 0 {
					if closing := strings.IndexByte(trimmed[end+open:], ')'); closing >= 0 {
						d.params = strings.TrimSpace(trimmed[end+open+1 : end+open+closing])
					}
				}
			}
			decls = append(decls, d)
		}
	}
	return decls
}

func definition(uri protocol.DocumentUri, text, word string) *protocol.Location {
	for _, d := range declarations(text) {
		if d.name != word {
			continue
		}
		start := protocol.Position{Line: protocol.UInteger(d.line), Character: protocol.UInteger(d.col)}
		end := start
		end.Character += protocol.UInteger(len(d.name))
		return &protocol.Location{URI: uri, Range: protocol.Range{Start: start, End: end}}
	}
	return nil
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := diagnose(text)
	log.Debugf("%s: %d diagnostic(s)", uri, len(diagnostics))
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// diagnose compiles text and converts a compile error into an LSP
// diagnostic spanning from the error column to the end of its line.
func diagnose(text string) []protocol.Diagnostic {
	_, err := compiler.CompileSource(text)
	if err == nil {
		return []protocol.Diagnostic{}
	}

	var start, end protocol.Position
	if d, ok := vm.AsDiagnostic(err); ok && d.Line > 0 {
		start.Line = protocol.UInteger(d.Line - 1)
		start.Character = protocol.UInteger(d.Column - 1)
		end.Line = start.Line
		end.Character = start.Character
		lines := strings.Split(text, "\n")
		if d.Line <= len(lines) {
			if n := len([]rune(lines[d.Line-1])); n > d.Column-1 {
				end.Character = protocol.UInteger(n)
			}
		}
	}

	message := err.Error()
	if d, ok := vm.AsDiagnostic(err); ok {
		message = d.Message
	}
	severity := protocol.DiagnosticSeverityError
	source := lspName
	return []protocol.Diagnostic{{
		Range:    protocol.Range{Start: start, End: end},
		Severity: &severity,
		Source:   &source,
		Message:  message,
	}}
}

// --- Text extraction helpers ---

// lineAt returns line pos.Line of text and the cursor column clamped to it.
func lineAt(text string, pos protocol.Position) (string, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", 0, false
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}
	return line, col, true
}

// qualifier returns the module name when the identifier starting at start
// is written as module.member.
func qualifier(line string, start int) string {
	if start == 0 || line[start-1] != '.' {
		return ""
	}
	end := start - 1
	begin := end
	for begin > 0 && isIdentByte(line[begin-1]) {
		begin--
	}
	return line[begin:end]
}

// extractPrefix returns the identifier fragment before the cursor and, when
// it follows "module.", the module name.
func extractPrefix(text string, pos protocol.Position) (module, prefix string) {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return "", ""
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isIdentByte(line[start-1]) {
		start--
	}

	return qualifier(line, start), line[start:col]
}

// extractWord returns the full identifier under the cursor and, when it is
// written as module.member, the module name.
func extractWord(text string, pos protocol.Position) (module, word string) {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return "", ""
	}

	start := col
	for start > 0 && isIdentByte(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isIdentByte(line[end]) {
		end++
	}

	if start == end {
		return "", ""
	}
	return qualifier(line, start), line[start:end]
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= 0x80 || unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func boolPtr(b bool) *bool {
	return &b
}
