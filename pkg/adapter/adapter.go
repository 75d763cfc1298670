package adapter

import (
	"errors"
	"fmt"
	"slices"

	"github.com/vango-dev/uisync/pkg/model"
	"github.com/vango-dev/uisync/pkg/protocol"
)

// ChildrenProperty is the reserved property carrying the ordered child
// identities of an adapter.
const ChildrenProperty = "children"

// PropertyEventName is the inbound event name for client-side property
// writes. Its payload is {"name": <property>, "value": <value>}.
const PropertyEventName = "property"

// State is the lifecycle state of an Adapter.
type State int

const (
	StateCreated State = iota
	StateAttached
	StateDisposed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAttached:
		return "attached"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Adapter binds one model to one wire identity within a session.
type Adapter struct {
	id    string
	seq   uint64
	model model.Model
	reg   *Registry

	parent   *Adapter
	children []*Adapter

	observers []*Observer
	byName    map[string]*Observer
	childObs  *Observer

	cancel func()
	state  State
}

func newAdapter(reg *Registry, seq uint64, id string, m model.Model, parent *Adapter) *Adapter {
	return &Adapter{
		id:     id,
		seq:    seq,
		model:  m,
		reg:    reg,
		parent: parent,
		byName: make(map[string]*Observer),
	}
}

// ID returns the wire identity.
func (a *Adapter) ID() string {
	return a.id
}

// Model returns the bound model.
func (a *Adapter) Model() model.Model {
	return a.model
}

// Parent returns the parent adapter, or nil for a root.
func (a *Adapter) Parent() *Adapter {
	return a.parent
}

// Children returns the child adapters in model order.
func (a *Adapter) Children() []*Adapter {
	return slices.Clone(a.children)
}

// State returns the lifecycle state.
func (a *Adapter) State() State {
	return a.state
}

// Properties returns the last transmitted value of every observed property,
// including the children list.
func (a *Adapter) Properties() map[string]any {
	props := make(map[string]any, len(a.observers)+1)
	for _, o := range a.observers {
		props[o.Name()] = o.Last()
	}
	if a.childObs != nil {
		props[ChildrenProperty] = a.childObs.Last()
	}
	return props
}

// init builds the observers, attaches the current children and subscribes
// to the model. The registry disposes the adapter if init fails.
func (a *Adapter) init() error {
	for _, p := range a.model.Properties() {
		if err := a.observe(p); err != nil {
			return err
		}
	}

	for _, m := range a.model.Children() {
		c, err := a.reg.attach(m, a)
		if err != nil {
			return err
		}
		a.adopt(c)
	}

	a.childObs = NewObserver(ChildrenProperty, a.childIDs)
	a.childObs.track = a.reg.track
	if _, err := a.childObs.Snapshot(); err != nil {
		return err
	}

	a.cancel = a.model.Subscribe(a.handleModelEvent)
	return nil
}

// observe adds an observer for p and records its current value.
func (a *Adapter) observe(p model.Property) error {
	if p.Name == ChildrenProperty || p.Read == nil {
		return nil
	}
	if _, ok := a.byName[p.Name]; ok {
		return nil
	}
	o := NewObserver(p.Name, p.Read)
	o.track = a.reg.track
	if _, err := o.Snapshot(); err != nil {
		return err
	}
	a.observers = append(a.observers, o)
	a.byName[p.Name] = o
	return nil
}

func (a *Adapter) describe() protocol.AdapterData {
	data := protocol.AdapterData{
		ID:         a.id,
		ObjectType: a.model.ObjectType(),
		Properties: make(map[string]any, len(a.observers)+1),
	}
	if a.parent != nil {
		data.Parent = a.parent.id
	}
	for _, o := range a.observers {
		data.Properties[o.Name()] = o.Last()
	}
	if len(a.children) > 0 {
		data.Properties[ChildrenProperty] = a.childObs.Last()
	}
	return data
}

func (a *Adapter) childIDs() any {
	ids := make([]string, len(a.children))
	for i, c := range a.children {
		ids[i] = c.id
	}
	return ids
}

// adopt makes c a child of a, moving it away from a previous parent.
func (a *Adapter) adopt(c *Adapter) {
	if c.parent != nil && c.parent != a {
		old := c.parent
		old.removeChild(c)
		old.checkChildren()
	}
	c.parent = a
	if !slices.Contains(a.children, c) {
		a.children = append(a.children, c)
	}
}

func (a *Adapter) removeChild(c *Adapter) {
	if idx := slices.Index(a.children, c); idx >= 0 {
		a.children = slices.Delete(a.children, idx, idx+1)
	}
}

// HandleEvent applies an inbound wire event to the model.
func (a *Adapter) HandleEvent(name string, data map[string]any) error {
	if a.state != StateAttached {
		return protocol.Errorf(protocol.ErrUnknownAdapter, "event", "adapter %s is %s", a.id, a.state)
	}
	if name == "" {
		return protocol.Errorf(protocol.ErrBadRequest, "event", "missing event name for adapter %s", a.id)
	}
	if name == PropertyEventName {
		return a.writeProperty(data)
	}

	err := a.model.Invoke(name, data)
	if errors.Is(err, model.ErrUnknownAction) {
		return protocol.Wrap(protocol.ErrBadRequest, "event", err)
	}
	return err
}

// writeProperty sets a property from the client. The written value is
// recorded as transmitted first, so the model's change notification is only
// sent back when the model stored something different.
func (a *Adapter) writeProperty(data map[string]any) error {
	name, _ := data["name"].(string)
	if name == "" {
		return protocol.Errorf(protocol.ErrBadRequest, "property", "adapter %s: missing property name", a.id)
	}
	w, ok := a.model.(model.Writable)
	if !ok {
		return protocol.Errorf(protocol.ErrBadRequest, "property", "%s %s has no writable properties", a.model.ObjectType(), a.id)
	}
	o, ok := a.byName[name]
	if !ok {
		return protocol.Errorf(protocol.ErrBadRequest, "property", "%s %s has no property %q", a.model.ObjectType(), a.id, name)
	}

	value := data["value"]
	prev := o.save()
	if err := o.Accept(value); err != nil {
		return protocol.Wrap(protocol.ErrBadRequest, "property", err)
	}
	if err := w.SetProperty(name, value); err != nil {
		o.restore(prev)
		if errors.Is(err, model.ErrReadOnly) {
			return protocol.Wrap(protocol.ErrBadRequest, "property", err)
		}
		return err
	}
	return nil
}

func (a *Adapter) handleModelEvent(ev model.Event) {
	if a.state != StateAttached {
		return
	}
	switch ev.Type {
	case model.PropertyChanged:
		if ev.Name == "" {
			a.checkProperties()
			return
		}
		a.checkProperty(ev.Name)
	case model.ChildrenChanged:
		a.syncChildren()
	case model.ActionFired:
		a.reg.sink.Emit(protocol.ActionEvent(a.id, ev.Name, ev.Data))
	}
}

// checkProperty diffs one property. A property the model declared after
// the adapter was attached gets a new observer and is always sent.
func (a *Adapter) checkProperty(name string) {
	o, ok := a.byName[name]
	if !ok {
		a.discover(name)
		return
	}
	v, changed, err := o.Check()
	if err != nil {
		a.reg.fail(fmt.Errorf("adapter %s: %w", a.id, err))
		return
	}
	if changed {
		a.reg.sink.Emit(protocol.PropertyEvent(a.id, name, v))
	}
}

func (a *Adapter) discover(name string) {
	for _, p := range a.model.Properties() {
		if p.Name != name {
			continue
		}
		if err := a.observe(p); err != nil {
			a.reg.fail(fmt.Errorf("adapter %s: %w", a.id, err))
			return
		}
		if o, ok := a.byName[name]; ok {
			a.reg.sink.Emit(protocol.PropertyEvent(a.id, name, o.Last()))
		}
		return
	}
}

func (a *Adapter) checkProperties() {
	for _, o := range slices.Clone(a.observers) {
		a.checkProperty(o.Name())
	}
}

func (a *Adapter) checkChildren() {
	if a.childObs == nil || a.state != StateAttached {
		return
	}
	v, changed, err := a.childObs.Check()
	if err != nil {
		a.reg.fail(err)
		return
	}
	if changed {
		a.reg.sink.Emit(protocol.PropertyEvent(a.id, ChildrenProperty, v))
	}
}

// syncChildren reconciles the child adapters with the model's children:
// new children are attached, vanished ones disposed.
func (a *Adapter) syncChildren() {
	prev := a.children
	next := make([]*Adapter, 0, len(prev))
	keep := make(map[*Adapter]bool, len(prev))

	for _, m := range a.model.Children() {
		c, err := a.reg.attach(m, a)
		if err != nil {
			a.reg.fail(fmt.Errorf("adapter %s: attach child: %w", a.id, err))
			continue
		}
		if c.parent != nil && c.parent != a {
			old := c.parent
			old.removeChild(c)
			old.checkChildren()
		}
		c.parent = a
		if !keep[c] {
			keep[c] = true
			next = append(next, c)
		}
	}

	a.children = next
	for _, c := range prev {
		if !keep[c] {
			a.reg.dispose(c, true)
		}
	}
	a.checkChildren()
}

// refresh diffs every property and reconciles the children.
func (a *Adapter) refresh() {
	if a.state != StateAttached {
		return
	}
	a.checkProperties()
	a.syncChildren()
}
