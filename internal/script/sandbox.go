package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/minasoft/hl7-engine/internal/format"
)

// Role tags which pipeline hook a script runs as; errors carry it so operators
// can tell a broken source transform from a broken routing predicate.
type Role int

const (
	RoleSourceTransform Role = iota
	RoleDestinationTransform
	RoleTemplate
	RoleResponse
	RoleFilter
)

func (r Role) String() string {
	switch r {
	case RoleSourceTransform:
		return "source-transform"
	case RoleDestinationTransform:
		return "destination-transform"
	case RoleTemplate:
		return "template"
	case RoleResponse:
		return "response"
	case RoleFilter:
		return "filter"
	default:
		return "unknown"
	}
}

// TimeoutError reports a script aborted by the wall-clock limit.
type TimeoutError struct {
	Role    Role
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("script zaman aşımına uğradı (%s, limit %s)", e.Role, e.Timeout)
}

// ExecError reports a runtime failure inside a script, with the offending
// script text kept for diagnostics.
type ExecError struct {
	Role   Role
	Script string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("script çalıştırma hatası (%s): %v", e.Role, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Sandbox executes user-authored script fragments against injected bindings.
// Scripts see only their declared bindings plus the two converter helpers; no
// filesystem, network or process access leaks into the runtime.
type Sandbox struct {
	timeout time.Duration
}

func NewSandbox(timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Sandbox{timeout: timeout}
}

// Run executes src with the given bindings. For the transform roles a script
// that completes without producing a value yields the (possibly mutated) "msg"
// binding; every other role uses the completion value directly.
func (s *Sandbox) Run(ctx context.Context, role Role, src string, bindings map[string]any) (any, error) {
	vm := goja.New()

	for name, value := range bindings {
		if err := vm.Set(name, value); err != nil {
			return nil, &ExecError{Role: role, Script: src, Err: err}
		}
	}
	if err := bindConverters(vm); err != nil {
		return nil, &ExecError{Role: role, Script: src, Err: err}
	}

	var timedOut atomic.Bool
	timer := time.AfterFunc(s.timeout, func() {
		timedOut.Store(true)
		vm.Interrupt("zaman aşımı")
	})
	defer timer.Stop()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("iptal edildi")
		case <-watchDone:
		}
	}()

	value, err := vm.RunString(src)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if timedOut.Load() {
				return nil, &TimeoutError{Role: role, Timeout: s.timeout}
			}
			return nil, &ExecError{Role: role, Script: src, Err: ctx.Err()}
		}
		return nil, &ExecError{Role: role, Script: src, Err: err}
	}

	if role == RoleSourceTransform || role == RoleDestinationTransform {
		if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
			return vm.Get("msg").Export(), nil
		}
	}
	if value == nil {
		return nil, nil
	}
	return value.Export(), nil
}

// RunFilter evaluates a routing predicate; a truthy completion value means the
// channel accepts the message.
func (s *Sandbox) RunFilter(ctx context.Context, src string, msg any) (bool, error) {
	vm := goja.New()
	if err := vm.Set("msg", msg); err != nil {
		return false, &ExecError{Role: RoleFilter, Script: src, Err: err}
	}
	if err := bindConverters(vm); err != nil {
		return false, &ExecError{Role: RoleFilter, Script: src, Err: err}
	}

	var timedOut atomic.Bool
	timer := time.AfterFunc(s.timeout, func() {
		timedOut.Store(true)
		vm.Interrupt("zaman aşımı")
	})
	defer timer.Stop()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("iptal edildi")
		case <-watchDone:
		}
	}()

	value, err := vm.RunString(src)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) && timedOut.Load() {
			return false, &TimeoutError{Role: RoleFilter, Timeout: s.timeout}
		}
		return false, &ExecError{Role: RoleFilter, Script: src, Err: err}
	}
	if value == nil {
		return false, nil
	}
	return value.ToBoolean(), nil
}

// bindConverters exposes the two format helpers every script role gets, the
// same contract the channel scripts were written against.
func bindConverters(vm *goja.Runtime) error {
	if err := vm.Set("hl7ToJson", func(raw string) any {
		c, err := format.ToCanonical(raw, format.HL7)
		if err != nil {
			return map[string]any{"error": "Invalid HL7", "raw": raw}
		}
		out, err := format.FromCanonical(c, format.JSON)
		if err != nil {
			return map[string]any{"error": "Invalid HL7", "raw": raw}
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(out), &parsed); err != nil {
			return map[string]any{"error": "Invalid HL7", "raw": raw}
		}
		return parsed
	}); err != nil {
		return err
	}

	return vm.Set("jsonToHl7", func(v any) string {
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		out, err := format.Convert(string(data), format.JSON, format.HL7)
		if err != nil {
			return ""
		}
		return out
	})
}
