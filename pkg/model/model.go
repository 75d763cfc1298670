package model

import "errors"

// EventType identifies the kind of model notification.
type EventType int

const (
	// PropertyChanged reports that the attribute Name may have a new value.
	PropertyChanged EventType = iota

	// ChildrenChanged reports that the child set was modified.
	ChildrenChanged

	// ActionFired reports a named action raised by the model itself,
	// for example a request to focus a field.
	ActionFired
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case PropertyChanged:
		return "PropertyChanged"
	case ChildrenChanged:
		return "ChildrenChanged"
	case ActionFired:
		return "ActionFired"
	default:
		return "Unknown"
	}
}

// Event is a notification emitted by a model.
type Event struct {
	Type EventType
	Name string
	Data map[string]any
}

// Listener receives model notifications. Listeners run synchronously on the
// goroutine that mutated the model.
type Listener func(Event)

// Property is a named model attribute with its accessor.
type Property struct {
	Name string
	Read func() any
}

// Model is the capability set required to mirror an object to a client.
// Implementations must be comparable (typically pointer types) because the
// registry indexes adapters by model.
type Model interface {
	// ObjectType names the widget kind on the client, e.g. "StringField".
	ObjectType() string

	// Properties returns the observable attributes in a stable order.
	Properties() []Property

	// Children returns the child models in display order.
	Children() []Model

	// Subscribe registers l and returns a function that removes it.
	Subscribe(l Listener) (cancel func())

	// Invoke runs the named action with its client payload.
	Invoke(action string, data map[string]any) error

	// Alive reports whether the model is still part of its owner's tree.
	Alive() bool
}

// Writable is implemented by models whose attributes the client may set
// directly, such as the value of an input field.
type Writable interface {
	Model
	SetProperty(name string, value any) error
}

var (
	// ErrUnknownAction is returned by Invoke for actions the model does not handle.
	ErrUnknownAction = errors.New("model: unknown action")

	// ErrReadOnly is returned by SetProperty for attributes the client may not set.
	ErrReadOnly = errors.New("model: property is read-only")

	// ErrDisposed is returned when a disposed model is used.
	ErrDisposed = errors.New("model: disposed")
)
