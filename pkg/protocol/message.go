package protocol

import "encoding/json"

// Kind is the kind of a wire request.
type Kind string

const (
	KindPing    Kind = "ping"
	KindStartup Kind = "startup"
	KindEvent   Kind = "event"
	KindUnload  Kind = "unload"

	// KindInvalid labels a request that could not be decoded. It is never
	// accepted on the wire.
	KindInvalid Kind = "invalid"
)

// Valid reports whether k is a known request kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPing, KindStartup, KindEvent, KindUnload:
		return true
	}
	return false
}

// Request is a decoded wire request.
type Request struct {
	// Session is the client-supplied session identifier. Empty for pings.
	Session string `json:"session,omitempty"`

	// Kind selects the handling path.
	Kind Kind `json:"kind,omitempty"`

	// Target is the adapter identity an event is addressed to.
	Target string `json:"target,omitempty"`

	// Event is the event name, interpreted by the target adapter.
	Event string `json:"event,omitempty"`

	// Data is the event-specific payload.
	Data map[string]any `json:"data,omitempty"`
}

// IsPing reports whether the request must be answered without touching any
// session. A request without a session identifier is always a ping.
func (r *Request) IsPing() bool {
	return r.Kind == KindPing || r.Session == ""
}

// EventType is the type of an outbound event.
type EventType string

const (
	// EventProperty carries changed property values of one adapter.
	EventProperty EventType = "property"

	// EventAction carries a named action fired by the model.
	EventAction EventType = "action"

	// EventDispose tells the client an adapter identity is gone.
	EventDispose EventType = "dispose"
)

// Event is one outbound event, scoped to an adapter identity.
type Event struct {
	Target string    `json:"target"`
	Type   EventType `json:"type"`

	// Properties is set for EventProperty.
	Properties map[string]any `json:"properties,omitempty"`

	// Name and Data are set for EventAction.
	Name string         `json:"name,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// PropertyEvent creates an EventProperty for a single property.
func PropertyEvent(target, name string, value any) Event {
	return Event{
		Target:     target,
		Type:       EventProperty,
		Properties: map[string]any{name: value},
	}
}

// ActionEvent creates an EventAction.
func ActionEvent(target, name string, data map[string]any) Event {
	return Event{Target: target, Type: EventAction, Name: name, Data: data}
}

// DisposeEvent creates an EventDispose.
func DisposeEvent(target string) Event {
	return Event{Target: target, Type: EventDispose}
}

// AdapterData describes an adapter the client has not seen before.
type AdapterData struct {
	ID         string         `json:"id"`
	ObjectType string         `json:"objectType"`
	Parent     string         `json:"parent,omitempty"`
	Properties map[string]any `json:"properties"`
}

// StartupData is included in the response to a startup request.
type StartupData struct {
	RootAdapter string `json:"rootAdapter"`
}

// ErrorBody is the error object of an error response.
type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Response is a wire response. Exactly one of the success fields or Error is
// meaningful. A success response always encodes "events", possibly empty.
type Response struct {
	Events      []Event                `json:"-"`
	AdapterData map[string]AdapterData `json:"-"`
	StartupData *StartupData           `json:"-"`
	Error       *ErrorBody             `json:"-"`
}

// NewResponse returns an empty success response.
func NewResponse() *Response {
	return &Response{Events: []Event{}}
}

// NewErrorResponse returns an error response for code. An empty message
// uses the code's default client-facing message.
func NewErrorResponse(code ErrorCode, message string) *Response {
	if message == "" {
		message = code.DefaultMessage()
	}
	return &Response{Error: &ErrorBody{Code: code, Message: message}}
}

// ErrorResponseFor classifies err and returns the matching error response.
// The client only ever sees the code's default message; details stay in logs.
func ErrorResponseFor(err error) *Response {
	return NewErrorResponse(CodeOf(err), "")
}

// IsError reports whether r is an error response.
func (r *Response) IsError() bool {
	return r != nil && r.Error != nil
}

// Code returns the error code of r, or ErrNone for success responses.
func (r *Response) Code() ErrorCode {
	if r == nil || r.Error == nil {
		return ErrNone
	}
	return r.Error.Code
}

type successWire struct {
	Events      []Event                `json:"events"`
	AdapterData map[string]AdapterData `json:"adapterData,omitempty"`
	StartupData *StartupData           `json:"startupData,omitempty"`
}

type errorWire struct {
	Error *ErrorBody `json:"error"`
}

// MarshalJSON encodes r in its success or error shape.
func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(errorWire{Error: r.Error})
	}
	events := r.Events
	if events == nil {
		events = []Event{}
	}
	return json.Marshal(successWire{
		Events:      events,
		AdapterData: r.AdapterData,
		StartupData: r.StartupData,
	})
}

// UnmarshalJSON decodes either response shape. Used by clients and tests.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		successWire
		Error *ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Response{
		Events:      raw.Events,
		AdapterData: raw.AdapterData,
		StartupData: raw.StartupData,
		Error:       raw.Error,
	}
	return nil
}
