// Package manifest handles dog.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
)

// FileName is the manifest file looked up in project directories.
const FileName = "dog.toml"

// Manifest represents a dog.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	Source  Source      `toml:"source"`
	Build   BuildConfig `toml:"build"`
	Log     LogConfig   `toml:"log"`

	// Dir is the directory containing the dog.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures source file locations.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// BuildConfig configures bytecode output and the compile cache.
type BuildConfig struct {
	Output string `toml:"output"`
	Cache  string `toml:"cache"`

	// NoCache disables the compile cache.
	NoCache bool `toml:"no-cache"`
}

// LogConfig configures the log level and an optional log file.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Load parses a dog.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes manifest text and fills in defaults. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if _, err := ParseLevel(m.Log.Level); err != nil {
		return nil, err
	}

	// Defaults
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Source.Entry == "" {
		m.Source.Entry = "main.dog"
	}
	if m.Build.Output == "" {
		m.Build.Output = "build"
	}
	if m.Build.Cache == "" {
		m.Build.Cache = filepath.Join(".dog", "cache.db")
	}
	if m.Log.Level == "" {
		m.Log.Level = "error"
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a dog.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

// EntryPath locates the entry script. A relative entry is tried against the
// project directory first, then each source directory.
func (m *Manifest) EntryPath() (string, error) {
	if filepath.IsAbs(m.Source.Entry) {
		return m.Source.Entry, nil
	}
	candidates := []string{m.resolve(m.Source.Entry)}
	for _, d := range m.SourceDirPaths() {
		candidates = append(candidates, filepath.Join(d, m.Source.Entry))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("entry %q not found in %s or its source dirs", m.Source.Entry, m.Dir)
}

// OutputPath returns where the compiled bytecode for the script at src goes.
func (m *Manifest) OutputPath(src string) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(m.resolve(m.Build.Output), base+".dogc")
}

// CachePath returns the absolute path of the compile cache database.
func (m *Manifest) CachePath() string {
	return m.resolve(m.Build.Cache)
}

// LogFile returns the absolute log file path, or "" to log to stderr.
func (m *Manifest) LogFile() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

// LogLevel returns the configured maximum log level.
func (m *Manifest) LogLevel() commonlog.Level {
	level, _ := ParseLevel(m.Log.Level)
	return level
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// levels maps level names accepted in dog.toml and on the command line.
var levels = map[string]commonlog.Level{
	"none":     commonlog.None,
	"critical": commonlog.Critical,
	"error":    commonlog.Error,
	"warning":  commonlog.Warning,
	"notice":   commonlog.Notice,
	"info":     commonlog.Info,
	"debug":    commonlog.Debug,
}

// ParseLevel converts a level name to a commonlog level. The empty string is
// the default level, error.
func ParseLevel(name string) (commonlog.Level, error) {
	if name == "" {
		return commonlog.Error, nil
	}
	level, ok := levels[strings.ToLower(name)]
	if !ok {
		return commonlog.None, fmt.Errorf("unknown log level %q (use none, critical, error, warning, notice, info or debug)", name)
	}
	return level, nil
}
