package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"testing"

	"github.com/vango-dev/uisync/pkg/model"
	"github.com/vango-dev/uisync/pkg/protocol"
)

// testRoot builds a form(1) with two counter fields(2, 3). The "bump" action
// on the form increments a shared counter and writes it to both fields. The
// "fail", "grow" and "shrink" actions change the model and then fail.
func testRoot(block chan struct{}, entered chan struct{}) RootFactory {
	return func(_ context.Context, _ *protocol.Request) (model.Model, error) {
		form := model.NewNode("Form", model.WithProperty("title", "Test"))
		a := model.NewNode("IntegerField", model.WithWritableProperty("value", 0))
		b := model.NewNode("IntegerField", model.WithWritableProperty("value", 0))
		form.AddChild(a)
		form.AddChild(b)

		var n int
		form.OnAction("bump", func(*model.Node, map[string]any) error {
			n++
			a.Set("value", n)
			b.Set("value", n)
			return nil
		})
		form.OnAction("block", func(*model.Node, map[string]any) error {
			if entered != nil {
				entered <- struct{}{}
			}
			<-block
			return nil
		})
		form.OnAction("fail", func(*model.Node, map[string]any) error {
			a.Set("value", -1)
			return errors.New("business rule violated")
		})
		form.OnAction("panic", func(*model.Node, map[string]any) error {
			panic("boom")
		})
		form.OnAction("noop", func(*model.Node, map[string]any) error {
			return nil
		})
		form.OnAction("grow", func(*model.Node, map[string]any) error {
			form.AddChild(model.NewNode("IntegerField", model.WithProperty("value", 99)))
			return errors.New("grow rejected")
		})
		form.OnAction("shrink", func(*model.Node, map[string]any) error {
			form.RemoveChild(b)
			return errors.New("shrink rejected")
		})
		return form, nil
	}
}

func startupRequest(id string) *protocol.Request {
	return &protocol.Request{Session: id, Kind: protocol.KindStartup}
}

func eventRequest(id, target, event string) *protocol.Request {
	return &protocol.Request{Session: id, Kind: protocol.KindEvent, Target: target, Event: event}
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s := newSession("c1", "s1", slog.Default())
	resp, err := s.Start(context.Background(), startupRequest("s1"), testRoot(nil, nil))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if resp.StartupData == nil || resp.StartupData.RootAdapter != "1" {
		t.Fatalf("StartupData = %+v", resp.StartupData)
	}
	return s
}

func TestSessionStart(t *testing.T) {
	s := newSession("c1", "s1", slog.Default())
	if s.State() != StateUninitialized {
		t.Fatalf("State() = %v", s.State())
	}

	resp, err := s.Start(context.Background(), startupRequest("s1"), testRoot(nil, nil))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.State() != StateActive {
		t.Errorf("State() = %v, want active", s.State())
	}
	if len(resp.AdapterData) != 3 {
		t.Errorf("adapterData = %d entries, want 3", len(resp.AdapterData))
	}
	if len(resp.Events) != 0 {
		t.Errorf("startup events = %+v", resp.Events)
	}

	_, err = s.Start(context.Background(), startupRequest("s1"), testRoot(nil, nil))
	if code := protocol.CodeOf(err); code != protocol.ErrIllegalState {
		t.Errorf("second Start() code = %v, want illegal-state", code)
	}
}

func TestSessionStartFailure(t *testing.T) {
	tests := []struct {
		name    string
		factory RootFactory
	}{
		{"nil factory", nil},
		{"factory error", func(context.Context, *protocol.Request) (model.Model, error) {
			return nil, errors.New("no desktop")
		}},
		{"nil model", func(context.Context, *protocol.Request) (model.Model, error) {
			return nil, nil
		}},
		{"panic", func(context.Context, *protocol.Request) (model.Model, error) {
			panic("init")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession("c1", "s1", slog.Default())
			_, err := s.Start(context.Background(), startupRequest("s1"), tt.factory)
			if code := protocol.CodeOf(err); code != protocol.ErrStartupFailed {
				t.Errorf("Start() code = %v, want startup-failed (err = %v)", code, err)
			}
			if s.State() != StateDisposed {
				t.Errorf("State() = %v, want disposed", s.State())
			}
		})
	}
}

func TestSessionProcess(t *testing.T) {
	s := newTestSession(t)

	resp, err := s.Process(context.Background(), eventRequest("s1", "1", "bump"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("events = %+v", resp.Events)
	}
	if resp.Events[0].Target != "2" || resp.Events[1].Target != "3" {
		t.Errorf("event order = %s, %s", resp.Events[0].Target, resp.Events[1].Target)
	}
	if resp.Events[0].Properties["value"] != 1.0 {
		t.Errorf("value = %v", resp.Events[0].Properties["value"])
	}
}

func TestSessionProcessBeforeStart(t *testing.T) {
	s := newSession("c1", "s1", slog.Default())
	_, err := s.Process(context.Background(), eventRequest("s1", "1", "bump"))
	if code := protocol.CodeOf(err); code != protocol.ErrIllegalState {
		t.Errorf("code = %v, want illegal-state", code)
	}
}

func TestSessionProcessUnknownAdapter(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Process(context.Background(), eventRequest("s1", "99", "bump"))
	if code := protocol.CodeOf(err); code != protocol.ErrUnknownAdapter {
		t.Errorf("code = %v, want unknown-adapter", code)
	}
}

func TestSessionProcessFailureDiscardsBuffer(t *testing.T) {
	s := newTestSession(t)

	for _, event := range []string{"fail", "panic"} {
		t.Run(event, func(t *testing.T) {
			_, err := s.Process(context.Background(), eventRequest("s1", "1", event))
			if code := protocol.CodeOf(err); code != protocol.ErrInternal {
				t.Fatalf("code = %v, want internal (err = %v)", code, err)
			}
			if s.State() != StateActive {
				t.Fatalf("State() = %v after failure, want active", s.State())
			}
		})
	}

	// The discarded -1 is overwritten before the next response.
	resp, err := s.Process(context.Background(), eventRequest("s1", "1", "bump"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	for _, ev := range resp.Events {
		if ev.Properties["value"] == -1.0 {
			t.Errorf("discarded change leaked: %+v", ev)
		}
	}
}

func TestSessionProcessFailureResendsModelChanges(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	if _, err := s.Process(ctx, eventRequest("s1", "1", "fail")); err == nil {
		t.Fatal("fail succeeded")
	}

	// Nothing touches field 2 here, the refresh must still report the value
	// the failed request left in the model.
	resp, err := s.Process(ctx, eventRequest("s1", "1", "noop"))
	if err != nil {
		t.Fatalf("Process(noop) error = %v", err)
	}
	found := false
	for _, ev := range resp.Events {
		if ev.Target == "2" && ev.Type == protocol.EventProperty && ev.Properties["value"] == -1.0 {
			found = true
		}
	}
	if !found {
		t.Errorf("value of field 2 not resent: %+v", resp.Events)
	}

	resp, err = s.Process(ctx, eventRequest("s1", "1", "noop"))
	if err != nil || len(resp.Events) != 0 {
		t.Errorf("second noop = %+v, %v, want no events", resp.Events, err)
	}
}

func TestSessionProcessFailureRollsBackAttach(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	if _, err := s.Process(ctx, eventRequest("s1", "1", "grow")); err == nil {
		t.Fatal("grow succeeded")
	}
	if n := s.AdapterCount(); n != 3 {
		t.Fatalf("AdapterCount() = %d after rolled back attach, want 3", n)
	}
	if _, err := s.Process(ctx, eventRequest("s1", "4", "noop")); protocol.CodeOf(err) != protocol.ErrUnknownAdapter {
		t.Errorf("event for rolled back adapter = %v, want unknown-adapter", err)
	}

	// The child is still in the model, so the next request attaches and
	// describes it under a fresh identity.
	resp, err := s.Process(ctx, eventRequest("s1", "1", "noop"))
	if err != nil {
		t.Fatalf("Process(noop) error = %v", err)
	}
	data, ok := resp.AdapterData["5"]
	if !ok || data.Parent != "1" || data.Properties["value"] != 99.0 {
		t.Fatalf("adapterData = %+v, want adapter 5 under 1", resp.AdapterData)
	}
	if !hasChildren(resp.Events, "1", []any{"2", "3", "5"}) {
		t.Errorf("children of 1 not sent: %+v", resp.Events)
	}
}

func TestSessionProcessFailureKeepsDisposeEvents(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	if _, err := s.Process(ctx, eventRequest("s1", "1", "shrink")); err == nil {
		t.Fatal("shrink succeeded")
	}
	// A second failure must not lose the undelivered dispose.
	if _, err := s.Process(ctx, eventRequest("s1", "1", "fail")); err == nil {
		t.Fatal("fail succeeded")
	}

	resp, err := s.Process(ctx, eventRequest("s1", "1", "noop"))
	if err != nil {
		t.Fatalf("Process(noop) error = %v", err)
	}
	disposed := 0
	for _, ev := range resp.Events {
		if ev.Type == protocol.EventDispose && ev.Target == "3" {
			disposed++
		}
	}
	if disposed != 1 {
		t.Errorf("dispose events for 3 = %d, want 1: %+v", disposed, resp.Events)
	}
	if !hasChildren(resp.Events, "1", []any{"2"}) {
		t.Errorf("children of 1 not sent: %+v", resp.Events)
	}

	resp, _ = s.Process(ctx, eventRequest("s1", "1", "noop"))
	for _, ev := range resp.Events {
		if ev.Type == protocol.EventDispose {
			t.Errorf("dispose sent twice: %+v", ev)
		}
	}
}

func hasChildren(events []protocol.Event, target string, want []any) bool {
	for _, ev := range events {
		if ev.Target != target || ev.Type != protocol.EventProperty {
			continue
		}
		if got, ok := ev.Properties["children"]; ok && reflect.DeepEqual(got, want) {
			return true
		}
	}
	return false
}

func TestSessionDispose(t *testing.T) {
	s := newTestSession(t)

	if !s.Dispose() {
		t.Fatal("Dispose() = false")
	}
	if s.Dispose() {
		t.Error("second Dispose() = true")
	}
	if s.State() != StateDisposed || s.AdapterCount() != 0 || s.Root() != nil {
		t.Errorf("state after dispose: %v, %d adapters", s.State(), s.AdapterCount())
	}

	_, err := s.Process(context.Background(), eventRequest("s1", "1", "bump"))
	if code := protocol.CodeOf(err); code != protocol.ErrSessionTimeout {
		t.Errorf("Process() after Dispose code = %v, want session-timeout", code)
	}
}

func TestSessionSerializesRequests(t *testing.T) {
	s := newTestSession(t)

	const requests = 20
	results := make(chan []protocol.Event, requests)
	errs := make(chan error, requests)
	for i := 0; i < requests; i++ {
		go func() {
			resp, err := s.Process(context.Background(), eventRequest("s1", "1", "bump"))
			if err != nil {
				errs <- err
				return
			}
			results <- resp.Events
		}()
	}

	seen := make(map[float64]bool)
	for i := 0; i < requests; i++ {
		select {
		case err := <-errs:
			t.Fatalf("Process() error = %v", err)
		case events := <-results:
			if len(events) != 2 {
				t.Fatalf("events = %+v", events)
			}
			a := events[0].Properties["value"]
			b := events[1].Properties["value"]
			if a != b {
				t.Fatalf("interleaved response: %v / %v", a, b)
			}
			v := a.(float64)
			if seen[v] {
				t.Fatalf("value %v in two responses", v)
			}
			seen[v] = true
		}
	}
	for i := 1; i <= requests; i++ {
		if !seen[float64(i)] {
			t.Errorf("missing value %d", i)
		}
	}
}

func ExampleSession_Process() {
	s := newSession("container", "s1", slog.Default())
	s.Start(context.Background(), startupRequest("s1"), testRoot(nil, nil))

	resp, _ := s.Process(context.Background(), eventRequest("s1", "1", "bump"))
	for _, ev := range resp.Events {
		fmt.Println(ev.Target, ev.Type, ev.Properties["value"])
	}
	// Output:
	// 2 property 1
	// 3 property 1
}
