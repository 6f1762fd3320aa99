// Package engine wires the compiler, the dispatch engine, configuration and
// the unit cache into one entry point for running guest programs.
package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/fglock/perlcore/compiler"
	"github.com/fglock/perlcore/config"
	"github.com/fglock/perlcore/unitcache"
	"github.com/fglock/perlcore/vm"
)

var log = commonlog.GetLogger("perlcore.engine")

// Engine compiles and runs programs against one runtime. Globals persist
// across runs on the same Engine.
type Engine struct {
	Config  *config.Config
	Runtime *vm.Runtime

	cache *unitcache.Cache
}

// New returns an engine configured by cfg, or by config.Default if cfg is
// nil. It opens the unit cache when enabled.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	rt := vm.NewRuntime(vm.NewGlobalStore())
	rt.MaxDepth = cfg.Runtime.MaxDepth
	e := &Engine{Config: cfg, Runtime: rt}
	rt.UseCompiler(e.compileEval)

	if cfg.Cache.Enabled {
		c, err := unitcache.Open(cfg.CachePath())
		if err != nil {
			return nil, err
		}
		if n, err := c.Prune(); err != nil {
			log.Warningf("pruning unit cache: %s", err.Error())
		} else if n > 0 {
			log.Infof("pruned %d stale units from %s", n, cfg.CachePath())
		}
		e.cache = c
	}
	return e, nil
}

// Close releases the unit cache.
func (e *Engine) Close() error {
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}

// SetOutput redirects the guest's STDOUT and STDERR.
func (e *Engine) SetOutput(stdout, stderr io.Writer) {
	e.Runtime.Stdout = stdout
	e.Runtime.Stderr = stderr
}

func (e *Engine) options(file string) compiler.Options {
	return compiler.Options{
		File:         file,
		Pragmas:      e.Config.VMPragmas(),
		MaxRegisters: e.Config.Runtime.MaxRegisters,
	}
}

// Compile compiles src, consulting the unit cache when it is enabled.
func (e *Engine) Compile(src, file string) (*vm.Unit, error) {
	opts := e.options(file)
	var key string
	if e.cache != nil {
		key = unitcache.Key(src, file, "main", opts.Pragmas)
		u, err := e.cache.Get(key)
		if err == nil {
			log.Debugf("unit cache hit for %s", file)
			return u, nil
		}
		if !errors.Is(err, unitcache.ErrMiss) {
			log.Warningf("unit cache: %s", err.Error())
		}
	}

	u, err := compiler.CompileSource(src, opts)
	if err != nil {
		return nil, err
	}
	if err := e.verify(u); err != nil {
		return nil, err
	}
	if e.cache != nil {
		if err := e.cache.Put(key, u); err != nil {
			log.Warningf("unit cache: %s", err.Error())
		}
	}
	return u, nil
}

// CompileFile reads and compiles the program at path.
func (e *Engine) CompileFile(path string) (*vm.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Can't open perl script \"%s\": %w", path, err)
	}
	return e.Compile(string(data), path)
}

func (e *Engine) compileEval(src string, env *vm.EvalEnv) (*vm.Unit, error) {
	u, err := compiler.CompileEval(src, env)
	if err != nil {
		return nil, err
	}
	if err := e.verify(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (e *Engine) verify(u *vm.Unit) error {
	if !e.Config.Runtime.VerifyUnits {
		return nil
	}
	if err := u.Validate(); err != nil {
		return fmt.Errorf("invalid unit: %w", err)
	}
	return nil
}

// Run executes a compiled program in void context. A loop-control
// transfer that escapes the program is reported as a failure.
func (e *Engine) Run(u *vm.Unit, args ...string) error {
	argv := e.Runtime.Store.Array("main::ARGV")
	argv.Clear()
	for _, a := range args {
		argv.Push(vm.NewStr(a))
	}
	out, err := e.Runtime.Execute(u, nil, vm.VoidContext)
	if err != nil {
		return err
	}
	if out.IsTransfer() {
		return vm.Failf("Can't \"%s\" outside a loop block", out.Transfer)
	}
	return nil
}

// RunSource compiles and runs src.
func (e *Engine) RunSource(src, file string, args ...string) error {
	u, err := e.Compile(src, file)
	if err != nil {
		return err
	}
	return e.Run(u, args...)
}

// RunFile compiles and runs the program at path.
func (e *Engine) RunFile(path string, args ...string) error {
	u, err := e.CompileFile(path)
	if err != nil {
		return err
	}
	return e.Run(u, args...)
}

// ExitCode maps the result of a run to a process exit status: the code of
// an exit, 255 for any other failure and 0 for success.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if es, ok := vm.AsExitStatus(err); ok {
		return es.Code
	}
	return 255
}

// Message is the text reported for a failed run, ending in a newline. An
// exit has none.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if _, ok := vm.AsExitStatus(err); ok {
		return ""
	}
	var msg string
	if gf, ok := vm.AsGuestFailure(err); ok {
		msg = gf.Value.String()
	} else {
		msg = err.Error()
	}
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	return msg
}
