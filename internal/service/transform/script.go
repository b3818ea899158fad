package transform

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"log-ingest/internal/domain"
)

const scriptEntrypoint = "__transform"

var namedFunctionPattern = regexp.MustCompile(`(?m)^\s*function\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`)

// scriptProgram runs a goja program. goja runtimes are single-threaded, so
// each concurrent caller takes its own runtime from the pool.
type scriptProgram struct {
	name    string
	entry   string
	timeout time.Duration
	pool    sync.Pool
}

type scriptVM struct {
	vm *goja.Runtime
	fn goja.Callable
}

func (r *Runtime) compileScript(t domain.Transform, params []string) (Program, error) {
	src, entry := renderScriptSource(t, params)
	prog, err := goja.Compile(t.Name+".js", src, false)
	if err != nil {
		return nil, domain.ErrValidation("compile transform %q: %v", t.Name, err)
	}

	p := &scriptProgram{name: t.Name, entry: entry, timeout: r.timeout}
	p.pool.New = func() any {
		vm, err := p.newVM(prog)
		if err != nil {
			return err
		}
		return vm
	}

	// Load one runtime eagerly so a missing entrypoint fails at compile time.
	vm, err := p.acquire()
	if err != nil {
		return nil, domain.ErrValidation("compile transform %q: %v", t.Name, err)
	}
	p.pool.Put(vm)
	return p, nil
}

// renderScriptSource returns the script and the name of the function to call.
// A source that declares a function named after the transform is used as is;
// otherwise the source becomes the body of a generated function.
func renderScriptSource(t domain.Transform, params []string) (string, string) {
	for _, m := range namedFunctionPattern.FindAllStringSubmatch(t.Function, -1) {
		if m[1] == t.Name {
			return t.Function, t.Name
		}
	}

	body := strings.TrimSpace(t.Function)
	if !strings.Contains(body, "return") && !strings.Contains(body, ";") && !strings.Contains(body, "\n") {
		body = "return " + body + ";"
	}
	return fmt.Sprintf("function %s(%s) {\n%s\n}\n", scriptEntrypoint, strings.Join(params, ", "), body), scriptEntrypoint
}

func (p *scriptProgram) newVM(prog *goja.Program) (*scriptVM, error) {
	vm := goja.New()
	if _, err := p.runWithTimeout(vm, func() (goja.Value, error) { return vm.RunProgram(prog) }); err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(vm.Get(p.entry))
	if !ok {
		return nil, fmt.Errorf("function %q is not defined", p.entry)
	}
	return &scriptVM{vm: vm, fn: fn}, nil
}

func (p *scriptProgram) acquire() (*scriptVM, error) {
	switch v := p.pool.Get().(type) {
	case *scriptVM:
		return v, nil
	case error:
		return nil, v
	default:
		return nil, fmt.Errorf("unexpected pooled value %T", v)
	}
}

func (p *scriptProgram) Name() string { return p.name }

func (p *scriptProgram) Apply(record map[string]any) (map[string]any, error) {
	svm, err := p.acquire()
	if err != nil {
		return nil, err
	}

	svm.vm.ClearInterrupt()
	arg := svm.vm.ToValue(cloneRecord(record))
	res, err := p.runWithTimeout(svm.vm, func() (goja.Value, error) {
		return svm.fn(goja.Undefined(), arg)
	})
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			// An interrupted runtime is not reused.
			return nil, err
		}
		p.pool.Put(svm)
		return nil, err
	}
	p.pool.Put(svm)

	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return nil, nil
	}
	// Non-object results drop the record like null does.
	out, ok := res.Export().(map[string]any)
	if !ok {
		return nil, nil
	}
	return out, nil
}

func (p *scriptProgram) runWithTimeout(vm *goja.Runtime, fn func() (goja.Value, error)) (goja.Value, error) {
	if p.timeout <= 0 {
		return fn()
	}
	fired := make(chan struct{})
	timer := time.AfterFunc(p.timeout, func() {
		vm.Interrupt(fmt.Sprintf("transform execution timed out after %s", p.timeout))
		close(fired)
	})
	res, err := fn()
	if !timer.Stop() {
		<-fired
	}
	// A timer that fired after fn returned leaves the interrupt pending.
	vm.ClearInterrupt()
	return res, err
}

func cloneRecord(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
