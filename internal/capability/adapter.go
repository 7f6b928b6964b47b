// Package capability binds the subsystem's logical transport operations to
// whatever method shapes the vendor SDK of the day actually exposes.
//
// The vendor transport's operation names drift across SDK releases, so the
// adapter pattern-matches method names once at startup and caches a callable
// handle per logical operation. Consumers never inspect the provider's shape.
package capability

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/wearable"
)

// Binding records the outcome of resolving one logical operation.
type Binding struct {
	Op         Op
	MethodName string
	Resolved   bool
}

// handle is a resolved callable cached for Invoke
type handle struct {
	method reflect.Value
	name   string
}

// Adapter resolves and invokes logical operations against an opaque vendor
// transport provider. Resolve runs once at startup; the binding cache is
// read-only afterwards.
type Adapter struct {
	provider any
	handles  *hashmap.Map[string, handle]
	missing  []Op
	resolved bool
	logger   *logrus.Logger
}

// New creates an adapter for the given provider. Call Resolve before use.
func New(provider any, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		provider: provider,
		handles:  hashmap.New[string, handle](),
		logger:   logger,
	}
}

// Resolve matches every logical operation against the provider's methods and
// caches callable handles. It returns one Binding per operation; mandatory
// operations that stay unresolved put the adapter into degraded mode.
func (a *Adapter) Resolve() []Binding {
	pv := reflect.ValueOf(a.provider)

	ops := AllOps()
	bindings := make([]Binding, 0, len(ops))
	a.missing = nil

	for _, op := range ops {
		b := Binding{Op: op}
		if a.provider != nil {
			if m, name, ok := findMethod(pv, candidatesFor(op)); ok {
				a.handles.Set(string(op), handle{method: m, name: name})
				b.MethodName = name
				b.Resolved = true
			}
		}
		if !b.Resolved && isMandatory(op) {
			a.missing = append(a.missing, op)
		}
		bindings = append(bindings, b)

		a.logger.WithFields(logrus.Fields{
			"operation": string(op),
			"method":    b.MethodName,
			"resolved":  b.Resolved,
		}).Debug("Capability resolution")
	}

	a.resolved = true
	if len(a.missing) > 0 {
		a.logger.WithField("missing", a.missing).Warn("Mandatory transport operations unresolved, adapter degraded")
	}
	return bindings
}

// findMethod locates the first provider method whose name matches a
// candidate, case-insensitively
func findMethod(pv reflect.Value, candidates []string) (reflect.Value, string, bool) {
	if !pv.IsValid() {
		return reflect.Value{}, "", false
	}
	t := pv.Type()
	for _, want := range candidates {
		for i := 0; i < t.NumMethod(); i++ {
			name := t.Method(i).Name
			if strings.EqualFold(name, want) {
				return pv.Method(i), name, true
			}
		}
	}
	return reflect.Value{}, "", false
}

func isMandatory(op Op) bool {
	for _, m := range MandatoryOps {
		if m == op {
			return true
		}
	}
	return false
}

// Available reports whether a logical operation resolved
func (a *Adapter) Available(op Op) bool {
	_, ok := a.handles.Get(string(op))
	return ok
}

// Degraded reports whether any mandatory operation failed to resolve
func (a *Adapter) Degraded() bool {
	return !a.resolved || len(a.missing) > 0
}

// DegradedError returns the startup-degraded error naming the unresolved
// mandatory operations, or nil when the adapter is healthy.
func (a *Adapter) DegradedError() error {
	if !a.resolved {
		return wearable.NewError(wearable.CodeStartupDegraded, "capabilities not resolved")
	}
	if len(a.missing) == 0 {
		return nil
	}
	names := make([]string, len(a.missing))
	for i, op := range a.missing {
		names[i] = string(op)
	}
	return wearable.NewError(wearable.CodeStartupDegraded,
		"mandatory operations unresolved: %s", strings.Join(names, ", "))
}

// Invoke calls the resolved handle for op. Unresolved operations fail with
// OperationUnavailable. Provider panics are recovered and provider errors are
// normalized into the taxonomy; raw vendor errors never escape this boundary.
func (a *Adapter) Invoke(op Op, args ...any) (results []any, err error) {
	h, ok := a.handles.Get(string(op))
	if !ok {
		return nil, wearable.NewError(wearable.CodeOperationUnavailable, "operation %s is not resolved", op)
	}

	mt := h.method.Type()
	if mt.NumIn() != len(args) {
		return nil, wearable.NewError(wearable.CodeOperationUnavailable,
			"operation %s: method %s wants %d args, got %d", op, h.name, mt.NumIn(), len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil {
			in[i] = reflect.Zero(mt.In(i))
			continue
		}
		av := reflect.ValueOf(arg)
		if !av.Type().AssignableTo(mt.In(i)) {
			return nil, wearable.NewError(wearable.CodeOperationUnavailable,
				"operation %s: arg %d has type %s, method %s wants %s", op, i, av.Type(), h.name, mt.In(i))
		}
		in[i] = av
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.WithFields(logrus.Fields{
				"operation": string(op),
				"panic":     r,
			}).Error("Transport operation panicked")
			err = wearable.NormalizeError(fmt.Errorf("transport %s panicked: %v", op, r))
			results = nil
		}
	}()

	out := h.method.Call(in)

	results = make([]any, 0, len(out))
	for _, v := range out {
		if v.Type().Implements(errorType) {
			if !v.IsNil() {
				return nil, wearable.NormalizeError(v.Interface().(error))
			}
			continue
		}
		results = append(results, v.Interface())
	}
	return results, nil
}

// InvokeBool runs an operation expected to yield a single boolean, such as
// is_connected or radio_enabled.
func (a *Adapter) InvokeBool(op Op, args ...any) (bool, error) {
	results, err := a.Invoke(op, args...)
	if err != nil {
		return false, err
	}
	if len(results) != 1 {
		return false, wearable.NewError(wearable.CodeOperationUnavailable,
			"operation %s: expected one result, got %d", op, len(results))
	}
	b, ok := results[0].(bool)
	if !ok {
		return false, wearable.NewError(wearable.CodeOperationUnavailable,
			"operation %s: expected bool result, got %T", op, results[0])
	}
	return b, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()
