package compiler

import (
	"runtime/debug"
	"sync"
)

// Version names the compiler release. Raise it whenever code generation
// changes so that caches keyed on BuildID stop serving older output.
const Version = "0.4.0"

var buildID = sync.OnceValue(func() string {
	id := Version
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return id
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		id += "+" + v
	}
	var rev, modified string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			modified = s.Value
		}
	}
	if rev != "" {
		id += "+" + rev
		if modified == "true" {
			id += "-dirty"
		}
	}
	return id
})

// BuildID identifies the compiler that produced a program: Version plus the
// module version and VCS revision recorded in the binary, when present.
func BuildID() string {
	return buildID()
}
