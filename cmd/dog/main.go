// Dog CLI - compiles and runs Dog scripts and bytecode
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"

	"github.com/chazu/dpl/cache"
	"github.com/chazu/dpl/manifest"
	"github.com/chazu/dpl/server"
	"github.com/chazu/dpl/stdlib"
	"github.com/chazu/dpl/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("dpl.cli")

func main() {
	verbose := flag.Bool("v", false, "Verbose output (info-level logging)")
	logLevel := flag.String("log", "", "Log level: none, critical, error, warning, notice, info, debug")
	interactive := flag.Bool("i", false, "Start interactive REPL")
	compileOut := flag.String("c", "", "Compile the .dog file to this .dogc path instead of running it")
	disasm := flag.Bool("d", false, "Disassemble the program instead of running it")
	lspMode := flag.Bool("lsp", false, "Serve the language server protocol on stdio")
	noCache := flag.Bool("no-cache", false, "Bypass the compile cache")
	trace := flag.Bool("trace", false, "Log every executed instruction (with -log debug)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dog [options] [file.dog | file.dogc]\n")
		fmt.Fprintf(os.Stderr, "       dog cache list|purge\n\n")
		fmt.Fprintf(os.Stderr, "Runs Dog scripts. With no file, runs the dog.toml entry or starts the REPL.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  dog hello.dog                  # Compile and run\n")
		fmt.Fprintf(os.Stderr, "  dog -c hello.dogc hello.dog    # Compile to bytecode\n")
		fmt.Fprintf(os.Stderr, "  dog hello.dogc                 # Run bytecode\n")
		fmt.Fprintf(os.Stderr, "  dog -d hello.dog               # Show bytecode listing\n")
		fmt.Fprintf(os.Stderr, "  dog -i                         # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  dog -lsp                       # Language server for editors\n")
		fmt.Fprintf(os.Stderr, "  dog cache list                 # Show cached programs\n")
	}
	flag.Parse()

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}

	if err := configureLogging(m, *verbose, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	a := newApp(os.Stdout, os.Stderr)
	a.manifest = m
	a.trace = *trace

	if *lspMode {
		if err := server.NewLSP(a.registry).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	args := flag.Args()
	cacheCmd := len(args) > 0 && args[0] == "cache"
	if cacheCmd || (!*noCache && (m == nil || !m.Build.NoCache)) {
		if err := a.openCache(); err != nil {
			if cacheCmd {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			log.Warningf("compile cache disabled: %v", err)
		}
	}
	defer a.close()

	if cacheCmd {
		code := a.cacheCommand(args[1:])
		a.close()
		os.Exit(code)
	}
	if len(args) > 1 {
		flag.Usage()
		os.Exit(2)
	}

	var path string
	if len(args) == 1 {
		path = args[0]
	} else if m != nil && !*interactive {
		path, err = m.EntryPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	switch {
	case path == "":
		err = a.runREPL(a.newSession())
	case isFlagSet("c"):
		err = a.compileFile(path, *compileOut)
	case *disasm:
		err = a.disassemble(path)
	default:
		s := a.newSession()
		err = a.runFile(s, path)
		if err == nil && *interactive {
			err = a.runREPL(s)
		}
	}

	if err != nil {
		a.report(err)
		a.close()
		os.Exit(1)
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// configureLogging applies the manifest [log] section, then the -v and -log
// flags.
func configureLogging(m *manifest.Manifest, verbose bool, level string) error {
	maxLevel := commonlog.Error
	var path *string
	if m != nil {
		maxLevel = m.LogLevel()
		if f := m.LogFile(); f != "" {
			if err := os.MkdirAll(filepath.Dir(f), 0o755); err != nil {
				return fmt.Errorf("creating log dir: %w", err)
			}
			path = &f
		}
	}
	if verbose {
		maxLevel = commonlog.Info
	}
	if level != "" {
		l, err := manifest.ParseLevel(level)
		if err != nil {
			return err
		}
		maxLevel = l
	}

	commonlog.Configure(0, path)
	commonlog.SetMaxLevel(maxLevel)
	return nil
}

// app holds what one CLI invocation shares between commands.
type app struct {
	stdout   io.Writer
	stderr   io.Writer
	registry *vm.Registry
	manifest *manifest.Manifest
	cache    *cache.Cache
	trace    bool
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:   stdout,
		stderr:   stderr,
		registry: stdlib.NewRegistry(),
	}
}

// openCache opens the project cache, or the per-user cache outside a
// project.
func (a *app) openCache() error {
	var path string
	if a.manifest != nil {
		path = a.manifest.CachePath()
	} else {
		dir, err := os.UserCacheDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "dog", "cache.db")
	}
	c, err := cache.Open(path)
	if err != nil {
		return err
	}
	a.cache = c
	return nil
}

func (a *app) close() {
	if a.cache != nil {
		a.cache.Close()
		a.cache = nil
	}
}

// report prints err to stderr, with a source excerpt for diagnostics.
func (a *app) report(err error) {
	if d, ok := vm.AsDiagnostic(err); ok {
		renderDiagnostic(a.stderr, d)
		return
	}
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
}
