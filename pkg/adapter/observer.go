package adapter

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Observer tracks the last transmitted value of one model attribute.
// Values are normalized to their JSON form before comparison, so the stored
// value is exactly what the client has seen and numeric types compare
// the way they arrive from the client.
type Observer struct {
	name string
	read func() any
	last any
	sent bool

	// track is called before the transmitted value changes.
	track func(*Observer)
}

// observerState is the part of an Observer a failed request rolls back.
type observerState struct {
	last any
	sent bool
}

// NewObserver creates an Observer for the attribute name. The observer has
// no last value until Snapshot or Accept is called.
func NewObserver(name string, read func() any) *Observer {
	return &Observer{name: name, read: read}
}

// Name returns the observed attribute name.
func (o *Observer) Name() string {
	return o.name
}

// Last returns the last transmitted value.
func (o *Observer) Last() any {
	return o.last
}

// Snapshot reads the attribute and records it as transmitted.
func (o *Observer) Snapshot() (any, error) {
	v, err := o.current()
	if err != nil {
		return nil, err
	}
	o.record(v)
	return v, nil
}

// Check reads the attribute and reports whether it differs from the last
// transmitted value. A changed value is recorded as transmitted. An
// observer that has never transmitted always reports a change.
func (o *Observer) Check() (any, bool, error) {
	v, err := o.current()
	if err != nil {
		return nil, false, err
	}
	if o.sent && reflect.DeepEqual(v, o.last) {
		return nil, false, nil
	}
	o.record(v)
	return v, true, nil
}

// Accept records v as transmitted without reading the model. It is used for
// values that originate from the client.
func (o *Observer) Accept(v any) error {
	n, err := normalize(v)
	if err != nil {
		return fmt.Errorf("property %q: %w", o.name, err)
	}
	o.record(n)
	return nil
}

func (o *Observer) record(v any) {
	if o.track != nil {
		o.track(o)
	}
	o.last = v
	o.sent = true
}

func (o *Observer) save() observerState {
	return observerState{last: o.last, sent: o.sent}
}

func (o *Observer) restore(st observerState) {
	o.last = st.last
	o.sent = st.sent
}

func (o *Observer) current() (any, error) {
	v, err := normalize(o.read())
	if err != nil {
		return nil, fmt.Errorf("property %q: %w", o.name, err)
	}
	return v, nil
}

// normalize converts v to the value the client would decode from its JSON
// encoding. Scalars that already have that form are returned unchanged.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
