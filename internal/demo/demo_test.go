package demo

import (
	"context"
	"fmt"
	"testing"

	"github.com/vango-dev/uisync/pkg/protocol"
	"github.com/vango-dev/uisync/pkg/session"
)

type client struct {
	t   *testing.T
	dir *session.Directory
	ids map[string]string // label or text -> adapter id
}

func startDemo(t *testing.T) (*client, *protocol.Response) {
	t.Helper()
	dir := session.NewDirectory(session.DirectoryConfig{})
	t.Cleanup(func() { dir.Shutdown(context.Background()) })

	resp, err := dir.Start(context.Background(), "c", &protocol.Request{Session: "S", Kind: protocol.KindStartup}, Desktop)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	c := &client{t: t, dir: dir, ids: make(map[string]string)}
	c.learn(resp)
	return c, resp
}

func (c *client) learn(resp *protocol.Response) {
	for id, a := range resp.AdapterData {
		for _, key := range []string{"label", "text"} {
			if v, ok := a.Properties[key].(string); ok {
				c.ids[v] = id
			}
		}
		if a.ObjectType == "Form" {
			c.ids["form"] = id
		}
	}
}

func (c *client) id(name string) string {
	c.t.Helper()
	id, ok := c.ids[name]
	if !ok {
		c.t.Fatalf("no adapter for %q", name)
	}
	return id
}

func (c *client) send(target, event string, data map[string]any) *protocol.Response {
	c.t.Helper()
	resp, err := c.dir.Process(context.Background(), "c", &protocol.Request{
		Session: "S", Kind: protocol.KindEvent, Target: target, Event: event, Data: data,
	})
	if err != nil {
		c.t.Fatalf("Process(%s %s) error = %v", target, event, err)
	}
	c.learn(resp)
	return resp
}

// props merges the property events of resp per target.
func props(resp *protocol.Response) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, ev := range resp.Events {
		if ev.Type != protocol.EventProperty {
			continue
		}
		if out[ev.Target] == nil {
			out[ev.Target] = make(map[string]string)
		}
		for k, v := range ev.Properties {
			out[ev.Target][k] = fmt.Sprint(v)
		}
	}
	return out
}

func TestDesktopStartup(t *testing.T) {
	c, resp := startDemo(t)

	if len(resp.AdapterData) != 9 {
		t.Fatalf("len(adapterData) = %d, want 9", len(resp.AdapterData))
	}
	root := resp.AdapterData[resp.StartupData.RootAdapter]
	if root.ObjectType != "Desktop" || root.Properties["session"] != "S" {
		t.Errorf("root = %+v", root)
	}
	form := resp.AdapterData[c.id("form")]
	if form.Properties["greeting"] != "Hello!" {
		t.Errorf("greeting = %v", form.Properties["greeting"])
	}
}

func TestDesktopGreetingFollowsNameFields(t *testing.T) {
	c, _ := startDemo(t)

	resp := c.send(c.id("First name"), "property", map[string]any{"name": "value", "value": "Ada"})
	got := props(resp)
	if got[c.id("form")]["greeting"] != "Hello, Ada!" {
		t.Errorf("greeting events = %v", got)
	}
	if _, echoed := got[c.id("First name")]; echoed {
		t.Error("client write echoed back")
	}

	resp = c.send(c.id("Last name"), "property", map[string]any{"name": "value", "value": "Lovelace"})
	if g := props(resp)[c.id("form")]["greeting"]; g != "Hello, Ada Lovelace!" {
		t.Errorf("greeting = %q", g)
	}
}

func TestDesktopNotes(t *testing.T) {
	c, _ := startDemo(t)

	resp := c.send(c.id("Add note"), "click", nil)
	if len(resp.AdapterData) != 1 {
		t.Fatalf("adapterData = %+v", resp.AdapterData)
	}
	note := c.id("Note 1")
	if resp.AdapterData[note].Parent != c.id("Notes") {
		t.Errorf("note parent = %q", resp.AdapterData[note].Parent)
	}
	if v := props(resp)[c.id("Visits")]["value"]; v != "1" {
		t.Errorf("visits = %q", v)
	}

	c.send(c.id("Add note"), "click", nil)
	second := c.id("Note 2")

	resp = c.send(c.id("Clear notes"), "click", nil)
	disposed := make(map[string]bool)
	for _, ev := range resp.Events {
		if ev.Type == protocol.EventDispose {
			disposed[ev.Target] = true
		}
	}
	if !disposed[note] || !disposed[second] {
		t.Errorf("dispose events = %v, want %s and %s", disposed, note, second)
	}

	_, err := c.dir.Process(context.Background(), "c", &protocol.Request{
		Session: "S", Kind: protocol.KindEvent, Target: note, Event: "click",
	})
	if protocol.CodeOf(err) != protocol.ErrUnknownAdapter {
		t.Errorf("event for disposed note: %v", err)
	}
}

func TestDesktopReset(t *testing.T) {
	c, _ := startDemo(t)
	c.send(c.id("First name"), "property", map[string]any{"name": "value", "value": "Ada"})
	c.send(c.id("Add note"), "click", nil)

	resp := c.send(c.id("Reset"), "click", nil)
	got := props(resp)
	if got[c.id("First name")]["value"] != "" || got[c.id("Visits")]["value"] != "0" {
		t.Errorf("property events = %v", got)
	}
	if got[c.id("form")]["greeting"] != "Hello!" {
		t.Errorf("greeting = %q", got[c.id("form")]["greeting"])
	}

	var focus bool
	for _, ev := range resp.Events {
		if ev.Type == protocol.EventAction && ev.Name == "requestFocus" && ev.Target == c.id("First name") {
			focus = true
		}
	}
	if !focus {
		t.Errorf("no requestFocus action in %+v", resp.Events)
	}
}

func TestDesktopCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Desktop(ctx, &protocol.Request{Session: "S"}); err == nil {
		t.Error("Desktop() with cancelled context succeeded")
	}
}

func TestGreeting(t *testing.T) {
	tests := []struct {
		first, last any
		want        string
	}{
		{nil, nil, "Hello!"},
		{"", "", "Hello!"},
		{"Ada", "", "Hello, Ada!"},
		{"", "Lovelace", "Hello, Lovelace!"},
		{"Ada", "Lovelace", "Hello, Ada Lovelace!"},
	}
	for _, tt := range tests {
		if got := greeting(tt.first, tt.last); got != tt.want {
			t.Errorf("greeting(%v, %v) = %q, want %q", tt.first, tt.last, got, tt.want)
		}
	}
}
