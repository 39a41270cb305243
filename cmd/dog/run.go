package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chazu/dpl/cache"
	"github.com/chazu/dpl/compiler"
	"github.com/chazu/dpl/vm"
)

// session is one VM plus its module context. Globals and imports persist
// across the chunks it executes.
type session struct {
	vm  *vm.VM
	ctx *vm.Context
}

func (a *app) newSession() *session {
	machine := vm.NewVM()
	machine.Trace = a.trace
	ctx := vm.NewContext(a.registry)
	ctx.Out = a.stdout
	return &session{vm: machine, ctx: ctx}
}

func (s *session) execute(chunk *vm.Chunk) error {
	return s.vm.Execute(chunk, s.ctx)
}

// runFile loads a .dog or .dogc file and executes it in s.
func (a *app) runFile(s *session, path string) error {
	chunk, err := a.loadProgram(path)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.execute(chunk)
	log.Infof("ran %s in %s", path, time.Since(start))
	return err
}

// loadProgram returns the chunk for path: decoded from bytecode for .dogc,
// otherwise compiled from source through the cache.
func (a *app) loadProgram(path string) (*vm.Chunk, error) {
	switch filepath.Ext(path) {
	case vm.BytecodeExt:
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return vm.LoadBytecode(path)
	case ".dog":
		return a.compileSource(path)
	default:
		return nil, fmt.Errorf("file must end with .dog or .dogc: %s", path)
	}
}

// compileSource compiles the script at path, consulting the cache first.
func (a *app) compileSource(path string) (*vm.Chunk, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, err
	}

	if a.cache != nil {
		chunk, _, err := a.cache.Get(src)
		if err == nil {
			return chunk, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			log.Warningf("cache lookup for %s: %v", path, err)
		}
	}

	chunk, err := compiler.CompileSource(string(src))
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if _, err := a.cache.Put(path, src, chunk); err != nil {
			log.Warningf("caching %s: %v", path, err)
		}
	}
	return chunk, nil
}

// compileFile compiles src to bytecode at out. An empty out means the
// manifest's build directory, or src with a .dogc extension.
func (a *app) compileFile(src, out string) error {
	if filepath.Ext(src) != ".dog" {
		return fmt.Errorf("source must end with .dog: %s", src)
	}
	if out == "" {
		if a.manifest != nil {
			out = a.manifest.OutputPath(src)
		} else {
			out = strings.TrimSuffix(src, ".dog") + vm.BytecodeExt
		}
	}

	chunk, err := a.compileSource(src)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := vm.SaveBytecode(out, chunk); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Compiled: %s -> %s\n", filepath.Base(src), out)
	return nil
}

// disassemble prints the instruction listing of a .dog or .dogc file.
func (a *app) disassemble(path string) error {
	chunk, err := a.loadProgram(path)
	if err != nil {
		return err
	}
	fmt.Fprint(a.stdout, chunk.DisassembleWithName(filepath.Base(path)))
	return nil
}

// cacheCommand handles `dog cache list` and `dog cache purge`.
func (a *app) cacheCommand(args []string) int {
	if a.cache == nil {
		fmt.Fprintln(a.stderr, "Error: compile cache is not available")
		return 1
	}
	if len(args) != 1 {
		fmt.Fprintln(a.stderr, "Usage: dog cache list|purge")
		return 2
	}

	switch args[0] {
	case "list":
		entries, err := a.cache.List()
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(a.stdout, "%s: %d program(s)\n", a.cache.Path(), len(entries))
		if len(entries) == 0 {
			return 0
		}
		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tSIZE\tCOMPILED\tPATH")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Key[:12], e.Size, e.Time().Format(time.DateTime), e.Path)
		}
		tw.Flush()
		return 0
	case "purge":
		n, err := a.cache.Purge()
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(a.stdout, "Removed %d program(s)\n", n)
		return 0
	default:
		fmt.Fprintf(a.stderr, "Unknown cache command: %s (use list or purge)\n", args[0])
		return 2
	}
}

// renderDiagnostic writes the message, the offending source line and a
// caret under the column.
func renderDiagnostic(w io.Writer, d *vm.Diagnostic) {
	if d.Line <= 0 {
		fmt.Fprintf(w, "Dog error: %s\n", d.Message)
		return
	}
	fmt.Fprintf(w, "Dog error at line %d, column %d: %s\n", d.Line, d.Column, d.Message)
	if d.Source == "" {
		return
	}
	fmt.Fprintln(w, d.Source)

	var caret strings.Builder
	col := 1
	for _, r := range d.Source {
		if col >= d.Column {
			break
		}
		if r == '\t' {
			caret.WriteRune('\t')
		} else {
			caret.WriteRune(' ')
		}
		col++
	}
	for ; col < d.Column; col++ {
		caret.WriteRune(' ')
	}
	caret.WriteRune('^')
	fmt.Fprintln(w, caret.String())
}
