package stdlib

import (
	"os"
	"os/user"
	"runtime"

	"github.com/chazu/dpl/vm"
)

// NewSys returns the sys module describing the host process.
func NewSys() *Library {
	l := NewLibrary("sys")

	l.Define("os", 0, func(c *Call) (vm.Value, error) {
		return vm.String(runtime.GOOS), nil
	})

	l.Define("arch", 0, func(c *Call) (vm.Value, error) {
		return vm.String(runtime.GOARCH), nil
	})

	l.Define("user", 0, func(c *Call) (vm.Value, error) {
		if u, err := user.Current(); err == nil {
			return vm.String(u.Username), nil
		}
		return vm.String(os.Getenv("USER")), nil
	})

	l.Define("cwd", 0, func(c *Call) (vm.Value, error) {
		dir, err := os.Getwd()
		if err != nil {
			return vm.Nil, err
		}
		return vm.String(dir), nil
	})

	// env returns nil for unset variables.
	l.Define("env", 1, func(c *Call) (vm.Value, error) {
		name, err := c.String(0)
		if err != nil {
			return vm.Nil, err
		}
		if v, ok := os.LookupEnv(name); ok {
			return vm.String(v), nil
		}
		return vm.Nil, nil
	})

	return l
}
