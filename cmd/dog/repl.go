package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/dpl/compiler"
	"github.com/chazu/dpl/vm"
)

const (
	historyFile = ".dog_history"
	promptMain  = ">> "
	promptCont  = ".. "
)

var replKeywords = []string{"else", "false", "fn", "if", "import", "let", "nil", "return", "say", "true", "while"}

// runREPL reads programs from the terminal and executes them in s until
// :quit or end of input.
func (a *app) runREPL(s *session) error {
	fmt.Fprintln(a.stdout, "Dog REPL (type :quit to exit, :help for commands)")

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetWordCompleter(a.completeWord)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		lines, ok := readProgram(ln)
		if !ok {
			fmt.Fprintln(a.stdout)
			return nil
		}
		input := strings.TrimSpace(strings.Join(lines, "\n"))
		if input == "" {
			continue
		}
		ln.AppendHistory(strings.Join(lines, "\n"))

		if strings.HasPrefix(input, ":") && len(lines) == 1 {
			if a.replCommand(s, input) {
				return nil
			}
			continue
		}
		a.eval(s, lines)
	}
}

// readProgram prompts until the collected lines form a complete program.
// Ctrl-C discards the pending input; ok is false at end of input.
func readProgram(ln *liner.State) (lines []string, ok bool) {
	for {
		prompt := promptMain
		if len(lines) > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			return nil, true
		}
		if errors.Is(err, io.EOF) {
			return nil, false
		}
		if err != nil {
			return nil, false
		}

		lines = append(lines, line)
		if !compiler.NeedsMore(lines) {
			return lines, true
		}
	}
}

// eval compiles and executes lines in s, reporting any diagnostic.
func (a *app) eval(s *session, lines []string) {
	chunk, err := compiler.Compile(lines)
	if err != nil {
		a.report(err)
		return
	}
	if err := s.execute(chunk); err != nil {
		a.report(err)
	}
}

// replCommand runs a ':' meta-command and reports whether the REPL should
// exit.
func (a *app) replCommand(s *session, cmd string) bool {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true
	case ":help", ":h", ":?":
		fmt.Fprintln(a.stdout, "REPL Commands:")
		fmt.Fprintln(a.stdout, "  :help, :h, :?     Show this help")
		fmt.Fprintln(a.stdout, "  :globals          List global variables")
		fmt.Fprintln(a.stdout, "  :modules          List available and imported modules")
		fmt.Fprintln(a.stdout, "  :run FILE         Run a .dog or .dogc file in this session")
		fmt.Fprintln(a.stdout, "  :dis FILE         Disassemble a .dog or .dogc file")
		fmt.Fprintln(a.stdout, "  :reset            Clear globals and imports")
		fmt.Fprintln(a.stdout, "  :quit, :q         Exit REPL")
	case ":globals":
		names := make([]string, 0, len(s.vm.Globals))
		for name := range s.vm.Globals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v := s.vm.Globals[name]
			fmt.Fprintf(a.stdout, "  %s = %s (%s)\n", name, v.Printable(), v.Kind())
		}
	case ":modules":
		for _, name := range a.registry.Names() {
			mark := ""
			if s.ctx.IsImported(name) {
				mark = " (imported)"
			}
			fmt.Fprintf(a.stdout, "  %s%s\n", name, mark)
		}
	case ":run", ":dis":
		if len(fields) != 2 {
			fmt.Fprintf(a.stdout, "Usage: %s FILE\n", fields[0])
			break
		}
		var err error
		if fields[0] == ":run" {
			err = a.runFile(s, fields[1])
		} else {
			err = a.disassemble(fields[1])
		}
		if err != nil {
			a.report(err)
		}
	case ":reset":
		*s = *a.newSession()
		fmt.Fprintln(a.stdout, "Session reset")
	default:
		fmt.Fprintf(a.stdout, "Unknown command: %s (type :help for commands)\n", fields[0])
	}
	return false
}

// completeWord completes keywords, module names and module members at the
// cursor.
func (a *app) completeWord(line string, pos int) (head string, completions []string, tail string) {
	start := pos
	for start > 0 && isWordByte(line[start-1]) {
		start--
	}
	head, word, tail := line[:start], line[start:pos], line[pos:]

	var candidates []string
	if dot := strings.LastIndexByte(word, '.'); dot >= 0 {
		module := word[:dot]
		if m, ok := a.registry.Lookup(module); ok {
			if lister, ok := m.(vm.MemberLister); ok {
				for _, member := range lister.Members() {
					candidates = append(candidates, module+"."+member)
				}
			}
		}
	} else {
		candidates = append(candidates, replKeywords...)
		candidates = append(candidates, a.registry.Names()...)
	}

	for _, c := range candidates {
		if strings.HasPrefix(c, word) {
			completions = append(completions, c)
		}
	}
	return head, completions, tail
}

func isWordByte(b byte) bool {
	return b == '_' || b == '.' || b >= 0x80 ||
		('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}
