package model

import (
	"fmt"
	"slices"
	"sync"
)

// ActionFunc handles a named action invoked on a Node.
type ActionFunc func(n *Node, data map[string]any) error

// Node is a generic Model with named attributes, actions and children.
// It is safe for concurrent use; listeners are notified outside its lock.
type Node struct {
	objectType string

	mu       sync.RWMutex
	attrs    map[string]any
	order    []string
	computed map[string]func() any
	writable map[string]bool
	actions  map[string]ActionFunc
	children []*Node
	parent   *Node
	disposed bool

	subMu     sync.RWMutex
	listeners map[uint64]Listener
	subOrder  []uint64
	nextSub   uint64
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithProperty declares a read-only attribute with an initial value.
func WithProperty(name string, value any) NodeOption {
	return func(n *Node) {
		n.declare(name, value)
	}
}

// WithWritableProperty declares an attribute the client may set.
func WithWritableProperty(name string, value any) NodeOption {
	return func(n *Node) {
		n.declare(name, value)
		n.writable[name] = true
	}
}

// WithComputed declares an attribute whose value is derived on every read.
// Changes are announced with Notify.
func WithComputed(name string, fn func() any) NodeOption {
	return func(n *Node) {
		n.declare(name, nil)
		n.computed[name] = fn
	}
}

// WithAction registers an action handler.
func WithAction(name string, fn ActionFunc) NodeOption {
	return func(n *Node) {
		n.actions[name] = fn
	}
}

// NewNode creates a Node of the given object type.
func NewNode(objectType string, opts ...NodeOption) *Node {
	n := &Node{
		objectType: objectType,
		attrs:      make(map[string]any),
		computed:   make(map[string]func() any),
		writable:   make(map[string]bool),
		actions:    make(map[string]ActionFunc),
		listeners:  make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// declare must be called before the node is shared or with mu held.
func (n *Node) declare(name string, value any) {
	if _, ok := n.attrs[name]; !ok {
		n.order = append(n.order, name)
	}
	n.attrs[name] = value
}

// ObjectType implements Model.
func (n *Node) ObjectType() string {
	return n.objectType
}

// Properties implements Model.
func (n *Node) Properties() []Property {
	n.mu.RLock()
	defer n.mu.RUnlock()

	props := make([]Property, 0, len(n.order))
	for _, name := range n.order {
		name := name
		props = append(props, Property{
			Name: name,
			Read: func() any { return n.Get(name) },
		})
	}
	return props
}

// Get returns the current value of an attribute.
func (n *Node) Get(name string) any {
	n.mu.RLock()
	fn := n.computed[name]
	v := n.attrs[name]
	n.mu.RUnlock()

	if fn != nil {
		return fn()
	}
	return v
}

// Set assigns an attribute and notifies listeners. Undeclared attributes are
// declared on first use. Listeners are notified even if the value did not
// change; deciding what to transmit is the observer's job.
func (n *Node) Set(name string, value any) {
	n.mu.Lock()
	n.declare(name, value)
	n.mu.Unlock()

	n.emit(Event{Type: PropertyChanged, Name: name})
}

// SetProperty implements Writable for attributes declared writable.
func (n *Node) SetProperty(name string, value any) error {
	n.mu.RLock()
	ok := n.writable[name]
	disposed := n.disposed
	n.mu.RUnlock()

	if disposed {
		return ErrDisposed
	}
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrReadOnly, n.objectType, name)
	}
	n.Set(name, value)
	return nil
}

// Notify announces that a computed attribute may have changed.
func (n *Node) Notify(name string) {
	n.emit(Event{Type: PropertyChanged, Name: name})
}

// Fire raises a model-originated action.
func (n *Node) Fire(name string, data map[string]any) {
	n.emit(Event{Type: ActionFired, Name: name, Data: data})
}

// OnAction registers or replaces an action handler.
func (n *Node) OnAction(name string, fn ActionFunc) {
	n.mu.Lock()
	n.actions[name] = fn
	n.mu.Unlock()
}

// Invoke implements Model.
func (n *Node) Invoke(action string, data map[string]any) error {
	n.mu.RLock()
	fn, ok := n.actions[action]
	disposed := n.disposed
	n.mu.RUnlock()

	if disposed {
		return ErrDisposed
	}
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownAction, n.objectType, action)
	}
	return fn(n, data)
}

// Children implements Model.
func (n *Node) Children() []Model {
	n.mu.RLock()
	defer n.mu.RUnlock()

	children := make([]Model, len(n.children))
	for i, c := range n.children {
		children[i] = c
	}
	return children
}

// Parent returns the parent node, or nil for a root.
func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// AddChild appends c and notifies listeners. A child that already has a
// parent is moved.
func (n *Node) AddChild(c *Node) {
	if c == nil || c == n {
		return
	}
	if old := c.Parent(); old != nil {
		old.RemoveChild(c)
	}

	n.mu.Lock()
	n.children = append(n.children, c)
	n.mu.Unlock()

	c.mu.Lock()
	c.parent = n
	c.mu.Unlock()

	n.emit(Event{Type: ChildrenChanged})
}

// RemoveChild detaches c without disposing it. It reports whether c was a child.
func (n *Node) RemoveChild(c *Node) bool {
	n.mu.Lock()
	idx := slices.Index(n.children, c)
	if idx < 0 {
		n.mu.Unlock()
		return false
	}
	n.children = slices.Delete(n.children, idx, idx+1)
	n.mu.Unlock()

	c.mu.Lock()
	if c.parent == n {
		c.parent = nil
	}
	c.mu.Unlock()

	n.emit(Event{Type: ChildrenChanged})
	return true
}

// Dispose tears the node and its subtree down and detaches it from its
// parent. A disposed node is no longer Alive and rejects actions.
func (n *Node) Dispose() {
	if parent := n.Parent(); parent != nil {
		parent.RemoveChild(n)
	}
	n.disposeTree()
}

func (n *Node) disposeTree() {
	n.mu.Lock()
	if n.disposed {
		n.mu.Unlock()
		return
	}
	n.disposed = true
	children := slices.Clone(n.children)
	n.mu.Unlock()

	for _, c := range children {
		c.disposeTree()
	}
}

// Alive implements Model.
func (n *Node) Alive() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return !n.disposed
}

// Subscribe implements Model.
func (n *Node) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}

	n.subMu.Lock()
	n.nextSub++
	id := n.nextSub
	n.listeners[id] = l
	n.subOrder = append(n.subOrder, id)
	n.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.subMu.Lock()
			delete(n.listeners, id)
			if idx := slices.Index(n.subOrder, id); idx >= 0 {
				n.subOrder = slices.Delete(n.subOrder, idx, idx+1)
			}
			n.subMu.Unlock()
		})
	}
}

// emit notifies listeners in subscription order, copying them first so a
// listener may unsubscribe itself.
func (n *Node) emit(ev Event) {
	n.subMu.RLock()
	subs := make([]Listener, 0, len(n.subOrder))
	for _, id := range n.subOrder {
		subs = append(subs, n.listeners[id])
	}
	n.subMu.RUnlock()

	for _, l := range subs {
		l(ev)
	}
}
