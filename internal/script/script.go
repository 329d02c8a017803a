// Package script runs the JavaScript snippets that plan files attach to
// action, count and wait tasks.
package script

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// ErrTimeout is returned when a snippet runs past the engine's limit.
var ErrTimeout = errors.New("script timed out")

// Engine compiles snippets against a shared library and variable set.
type Engine struct {
	lib     []string
	vars    map[string]any
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLibrary adds JavaScript sources evaluated before every snippet.
func WithLibrary(src ...string) Option {
	return func(e *Engine) { e.lib = append(e.lib, src...) }
}

// WithVars exposes vars to snippets as the global object `vars`.
func WithVars(vars map[string]any) Option {
	return func(e *Engine) { e.vars = vars }
}

// WithTimeout bounds a single call. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// NewEngine creates an engine. Calls time out after one second unless
// WithTimeout says otherwise.
func NewEngine(logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		timeout: time.Second,
		logger:  logger.With("component", "script"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Program is a compiled snippet with its own runtime. Globals the snippet
// assigns, including the `state` object, persist across calls. A Program
// is not safe for concurrent use; the executor only calls it from the
// scheduling goroutine.
type Program struct {
	name    string
	vm      *goja.Runtime
	fn      goja.Callable
	timeout time.Duration
}

// Compile wraps src in a function taking params and prepares it for calls.
func (e *Engine) Compile(name, src string, params ...string) (*Program, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	for i, lib := range e.lib {
		if _, err := vm.RunString(lib); err != nil {
			return nil, fmt.Errorf("script %q: library[%d]: %w", name, i, err)
		}
	}
	if err := vm.Set("vars", e.vars); err != nil {
		return nil, fmt.Errorf("script %q: set vars: %w", name, err)
	}
	if err := vm.Set("state", vm.NewObject()); err != nil {
		return nil, fmt.Errorf("script %q: set state: %w", name, err)
	}
	logger := e.logger.With("script", name)
	if err := vm.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			args = append(args, a.Export())
		}
		logger.Info("script log", "args", args)
		return goja.Undefined()
	}); err != nil {
		return nil, fmt.Errorf("script %q: set log: %w", name, err)
	}

	wrapped := "(function(" + strings.Join(params, ", ") + ") {\n" + src + "\n})"
	val, err := vm.RunScript(name, wrapped)
	if err != nil {
		return nil, fmt.Errorf("script %q: %w", name, err)
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, fmt.Errorf("script %q: not a function", name)
	}
	return &Program{name: name, vm: vm, fn: fn, timeout: e.timeout}, nil
}

// Call invokes the snippet and returns its exported result. A thrown
// exception or a timeout is returned as an error.
func (p *Program) Call(args ...any) (any, error) {
	if p.timeout > 0 {
		timer := time.AfterFunc(p.timeout, func() { p.vm.Interrupt(ErrTimeout) })
		defer func() {
			timer.Stop()
			p.vm.ClearInterrupt()
		}()
	}

	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = p.vm.ToValue(a)
	}
	res, err := p.fn(goja.Undefined(), vals...)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("script %q: %w", p.name, ErrTimeout)
		}
		return nil, fmt.Errorf("script %q: %w", p.name, err)
	}
	if res == nil {
		return nil, nil
	}
	return res.Export(), nil
}

// Bool calls the snippet and reports whether its result is truthy.
func (p *Program) Bool(args ...any) (bool, error) {
	v, err := p.Call(args...)
	if err != nil {
		return false, err
	}
	return p.vm.ToValue(v).ToBoolean(), nil
}
