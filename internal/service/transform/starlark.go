package transform

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"log-ingest/internal/domain"
)

const starlarkEntrypoint = "transform"

type starlarkProgram struct {
	name     string
	fn       starlark.Callable
	maxSteps uint64
	timeout  time.Duration
}

func (r *Runtime) compileStarlark(t domain.Transform, params []string) (Program, error) {
	src, err := renderStarlarkSource(t.Function, params)
	if err != nil {
		return nil, fmt.Errorf("transform %q: %w", t.Name, err)
	}

	thread := &starlark.Thread{Name: "transform-compile"}
	thread.SetMaxExecutionSteps(r.maxSteps)
	var globals starlark.StringDict
	if err := runStarlarkWithTimeout(thread, r.timeout, func() error {
		loaded, err := starlark.ExecFileOptions(&syntax.FileOptions{While: true, TopLevelControl: true}, thread, t.Name+".star", src, nil)
		if err != nil {
			return err
		}
		globals = loaded
		return nil
	}); err != nil {
		return nil, domain.ErrValidation("compile transform %q: %v", t.Name, err)
	}

	fn, ok := globals[starlarkEntrypoint].(starlark.Callable)
	if !ok {
		return nil, domain.ErrValidation("transform %q did not define a callable", t.Name)
	}
	return &starlarkProgram{name: t.Name, fn: fn, maxSteps: r.maxSteps, timeout: r.timeout}, nil
}

func (p *starlarkProgram) Name() string { return p.name }

func (p *starlarkProgram) Apply(record map[string]any) (map[string]any, error) {
	row, err := toStarlark(record)
	if err != nil {
		return nil, err
	}

	thread := &starlark.Thread{Name: "transform-" + p.name}
	thread.SetMaxExecutionSteps(p.maxSteps)

	var result starlark.Value
	if err := runStarlarkWithTimeout(thread, p.timeout, func() error {
		v, err := starlark.Call(thread, p.fn, starlark.Tuple{row}, nil)
		if err != nil {
			return err
		}
		result = v
		return nil
	}); err != nil {
		return nil, err
	}

	// Anything other than a dict drops the record.
	dict, ok := result.(*starlark.Dict)
	if !ok {
		return nil, nil
	}
	out, err := fromStarlark(dict)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// renderStarlarkSource wraps a transform body into the entrypoint function.
// A single line that is not a statement becomes the return expression.
func renderStarlarkSource(body string, params []string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", domain.ErrValidation("transform body cannot be empty")
	}

	var b strings.Builder
	b.WriteString("def ")
	b.WriteString(starlarkEntrypoint)
	b.WriteByte('(')
	b.WriteString(params[0])
	for _, extra := range params[1:] {
		b.WriteString(", ")
		b.WriteString(extra)
		b.WriteString("=None")
	}
	b.WriteString("):\n")

	lines := strings.Split(body, "\n")
	if len(lines) == 1 && !looksLikeStatement(lines[0]) {
		b.WriteString("    return ")
		b.WriteString(strings.TrimSpace(lines[0]))
		b.WriteByte('\n')
		return b.String(), nil
	}
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			b.WriteString("    \n")
			continue
		}
		b.WriteString("    ")
		b.WriteString(trimmed)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func looksLikeStatement(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if trimmed == "return" {
		return true
	}
	for _, prefix := range []string{"return ", "if ", "for ", "while ", "def ", "pass", "break", "continue", "load("} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return findTopLevelAssign(trimmed) > 0
}

// findTopLevelAssign returns the index of an assignment '=' outside brackets
// and string literals, or -1. Comparison operators are skipped.
func findTopLevelAssign(s string) int {
	inSingle := false
	inDouble := false
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '(', '[', '{':
			if !inSingle && !inDouble {
				depth++
			}
		case ')', ']', '}':
			if !inSingle && !inDouble && depth > 0 {
				depth--
			}
		case '=':
			if inSingle || inDouble || depth != 0 {
				continue
			}
			if i+1 < len(s) && s[i+1] == '=' {
				i++
				continue
			}
			if i > 0 && strings.IndexByte("=!<>", s[i-1]) >= 0 {
				continue
			}
			return i
		}
	}
	return -1
}

func runStarlarkWithTimeout(thread *starlark.Thread, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		return fn()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		thread.Cancel("transform execution timed out")
		err := <-done
		if err != nil {
			return fmt.Errorf("transform execution timed out after %s: %w", timeout, err)
		}
		return fmt.Errorf("transform execution timed out after %s", timeout)
	}
}

func toStarlark(v any) (starlark.Value, error) {
	switch t := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(t), nil
	case string:
		return starlark.String(t), nil
	case float64:
		return starlark.Float(t), nil
	case float32:
		return starlark.Float(t), nil
	case int:
		return starlark.MakeInt(t), nil
	case int64:
		return starlark.MakeInt64(t), nil
	case uint64:
		return starlark.MakeUint64(t), nil
	case []any:
		elems := make([]starlark.Value, 0, len(t))
		for _, e := range t {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(t))
		for k, e := range t {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported record value of type %T", v)
	}
}

func fromStarlark(v starlark.Value) (any, error) {
	switch t := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(t), nil
	case starlark.String:
		return string(t), nil
	case starlark.Int:
		if i, ok := t.Int64(); ok {
			return i, nil
		}
		return t.Float(), nil
	case starlark.Float:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("transform produced non-finite number")
		}
		return f, nil
	case *starlark.List:
		out := make([]any, 0, t.Len())
		for i := 0; i < t.Len(); i++ {
			e, err := fromStarlark(t.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, 0, len(t))
		for _, e := range t {
			ge, err := fromStarlark(e)
			if err != nil {
				return nil, err
			}
			out = append(out, ge)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, t.Len())
		for _, item := range t.Items() {
			k, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("transform produced non-string key %s", item[0])
			}
			e, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[k] = e
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported transform value of type %s", v.Type())
	}
}
