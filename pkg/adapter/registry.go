package adapter

import (
	"cmp"
	"errors"
	"log/slog"
	"reflect"
	"slices"
	"strconv"

	"github.com/vango-dev/uisync/pkg/model"
	"github.com/vango-dev/uisync/pkg/protocol"
)

// Sink receives the outbound output of a registry.
type Sink interface {
	// Emit queues an outbound event.
	Emit(ev protocol.Event)

	// Describe queues the initial description of a newly attached adapter.
	Describe(data protocol.AdapterData)
}

type discardSink struct{}

func (discardSink) Emit(protocol.Event)           {}
func (discardSink) Describe(protocol.AdapterData) {}

// Registry maps models to adapters for one session.
type Registry struct {
	sink   Sink
	logger *slog.Logger

	seq     uint64
	byID    map[string]*Adapter
	byModel map[model.Model]*Adapter

	fault error

	// journal records what the current request changed. pending holds
	// dispose events a rolled back request could not deliver.
	journal *journal
	pending []string
}

type journal struct {
	observers map[*Observer]observerState
	attached  []*Adapter
	disposed  []string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry writing to sink. A nil sink discards
// all output.
func NewRegistry(sink Sink, opts ...RegistryOption) *Registry {
	if sink == nil {
		sink = discardSink{}
	}
	r := &Registry{
		sink:    sink,
		logger:  slog.Default(),
		byID:    make(map[string]*Adapter),
		byModel: make(map[model.Model]*Adapter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach returns the adapter bound to m, creating a root adapter if m has
// none. Attaching the same model twice returns the same adapter.
func (r *Registry) Attach(m model.Model) (*Adapter, error) {
	return r.attach(m, nil)
}

func (r *Registry) attach(m model.Model, parent *Adapter) (*Adapter, error) {
	if err := validModel(m); err != nil {
		return nil, err
	}
	if a, ok := r.byModel[m]; ok {
		if parent != nil && (a == parent || a.isAncestorOf(parent)) {
			return nil, protocol.Errorf(protocol.ErrInvalidModel, "attach",
				"%s %s would become its own descendant", m.ObjectType(), a.id)
		}
		return a, nil
	}
	if parent != nil && parent.state == StateDisposed {
		return nil, protocol.Errorf(protocol.ErrIllegalState, "attach", "parent adapter %s is disposed", parent.id)
	}

	r.seq++
	a := newAdapter(r, r.seq, strconv.FormatUint(r.seq, 10), m, parent)
	r.byID[a.id] = a
	r.byModel[m] = a
	if r.journal != nil {
		r.journal.attached = append(r.journal.attached, a)
	}

	if err := a.init(); err != nil {
		r.dispose(a, false)
		var perr *protocol.Error
		if !errors.As(err, &perr) {
			err = protocol.Wrap(protocol.ErrInternal, "attach", err)
		}
		return nil, err
	}
	a.state = StateAttached
	r.sink.Describe(a.describe())

	r.logger.Debug("adapter attached",
		"adapter_id", a.id,
		"object_type", m.ObjectType(),
		"parent", parentID(parent))
	return a, nil
}

func validModel(m model.Model) error {
	if m == nil {
		return protocol.Errorf(protocol.ErrInvalidModel, "attach", "nil model")
	}
	v := reflect.ValueOf(m)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		if v.IsNil() {
			return protocol.Errorf(protocol.ErrInvalidModel, "attach", "nil %T", m)
		}
	}
	if !v.Type().Comparable() {
		return protocol.Errorf(protocol.ErrInvalidModel, "attach", "%T is not comparable", m)
	}
	if !m.Alive() {
		return protocol.Errorf(protocol.ErrInvalidModel, "attach", "%s is disposed", m.ObjectType())
	}
	return nil
}

func (a *Adapter) isAncestorOf(b *Adapter) bool {
	for p := b.parent; p != nil; p = p.parent {
		if p == a {
			return true
		}
	}
	return false
}

// Resolve returns the attached adapter with the given identity.
func (r *Registry) Resolve(id string) (*Adapter, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, protocol.Errorf(protocol.ErrUnknownAdapter, "resolve", "adapter %q not found", id)
	}
	return a, nil
}

// Lookup returns the adapter bound to m, if any.
func (r *Registry) Lookup(m model.Model) (*Adapter, bool) {
	if m == nil || !reflect.TypeOf(m).Comparable() {
		return nil, false
	}
	a, ok := r.byModel[m]
	return a, ok
}

// Dispose disposes a and its descendants, children first, and queues a
// dispose event for each. Disposing a disposed adapter does nothing.
func (r *Registry) Dispose(a *Adapter) {
	r.dispose(a, true)
}

// DisposeAll disposes every adapter without queuing events. It is used when
// the whole session goes away.
func (r *Registry) DisposeAll() {
	for _, a := range r.roots() {
		r.dispose(a, false)
	}
}

func (r *Registry) dispose(a *Adapter, notify bool) {
	if a == nil || a.state == StateDisposed || r.byID[a.id] != a {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.state = StateDisposed

	for _, c := range slices.Clone(a.children) {
		r.dispose(c, notify)
	}
	a.children = nil

	delete(r.byID, a.id)
	delete(r.byModel, a.model)

	if notify {
		r.sink.Emit(protocol.DisposeEvent(a.id))
		if r.journal != nil {
			r.journal.disposed = append(r.journal.disposed, a.id)
		}
	}

	parent := a.parent
	if parent != nil && parent.state != StateDisposed {
		parent.removeChild(a)
		if notify {
			parent.checkChildren()
		}
	}
	r.logger.Debug("adapter disposed", "adapter_id", a.id, "parent", parentID(parent))
}

// roots returns the adapters without parent, in identity order.
func (r *Registry) roots() []*Adapter {
	var roots []*Adapter
	for _, a := range r.byID {
		if a.parent == nil {
			roots = append(roots, a)
		}
	}
	slices.SortFunc(roots, func(x, y *Adapter) int {
		return cmp.Compare(x.seq, y.seq)
	})
	return roots
}

// Refresh diffs every attached adapter against its model, in identity
// order, and reconciles children. It picks up changes of models that did
// not notify.
func (r *Registry) Refresh() {
	all := make([]*Adapter, 0, len(r.byID))
	for _, a := range r.byID {
		all = append(all, a)
	}
	slices.SortFunc(all, func(x, y *Adapter) int {
		return cmp.Compare(x.seq, y.seq)
	})
	for _, a := range all {
		a.refresh()
	}
}

// Begin starts recording the changes of a request so Rollback can undo
// them. Dispose events left over from a rolled back request are queued
// again.
func (r *Registry) Begin() {
	r.journal = &journal{observers: make(map[*Observer]observerState)}
	for _, id := range r.pending {
		r.sink.Emit(protocol.DisposeEvent(id))
		r.journal.disposed = append(r.journal.disposed, id)
	}
	r.pending = nil
}

// Commit ends the request started by Begin. Its output has been delivered.
func (r *Registry) Commit() {
	r.journal = nil
}

// Rollback undoes the bookkeeping of a request whose output was discarded.
// Adapters it attached are disposed without events, observers return to
// the values the client last received, and its dispose events are kept
// for the next request. Model changes are not undone, the next Refresh
// sends them.
func (r *Registry) Rollback() {
	j := r.journal
	if j == nil {
		return
	}
	r.journal = nil
	r.fault = nil

	attached := make(map[string]bool, len(j.attached))
	for _, a := range j.attached {
		attached[a.id] = true
	}
	// An older adapter moved under a new one goes away with it.
	disposed := j.disposed
	for i := len(j.attached) - 1; i >= 0; i-- {
		a := j.attached[i]
		if a.state == StateDisposed {
			continue
		}
		for _, d := range a.descendants() {
			if !attached[d.id] {
				disposed = append(disposed, d.id)
			}
		}
		r.dispose(a, false)
	}
	for o, st := range j.observers {
		o.restore(st)
	}
	for _, id := range disposed {
		if !attached[id] && !slices.Contains(r.pending, id) {
			r.pending = append(r.pending, id)
		}
	}
	r.logger.Debug("request rolled back",
		"attached", len(j.attached),
		"disposed", len(j.disposed))
}

func (a *Adapter) descendants() []*Adapter {
	var out []*Adapter
	for _, c := range a.children {
		out = append(out, c)
		out = append(out, c.descendants()...)
	}
	return out
}

func (r *Registry) track(o *Observer) {
	if r.journal == nil {
		return
	}
	if _, ok := r.journal.observers[o]; !ok {
		r.journal.observers[o] = o.save()
	}
}

// Len returns the number of attached adapters.
func (r *Registry) Len() int {
	return len(r.byID)
}

// fail records the first failure raised inside a model listener, which has
// no caller to return it to.
func (r *Registry) fail(err error) {
	r.logger.Warn("adapter listener failed", "error", err)
	if r.fault == nil {
		r.fault = err
	}
}

// TakeFault returns and clears the first failure recorded by a model
// listener since the last call.
func (r *Registry) TakeFault() error {
	err := r.fault
	r.fault = nil
	return err
}

func parentID(p *Adapter) string {
	if p == nil {
		return ""
	}
	return p.id
}
