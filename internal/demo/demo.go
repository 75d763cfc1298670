// Package demo provides the root model served by the uisync command: a
// customer form with a few fields, a list that grows and shrinks, and
// menus that drive them.
package demo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vango-dev/uisync/pkg/model"
	"github.com/vango-dev/uisync/pkg/protocol"
)

// Desktop is a session.RootFactory building a fresh model tree per session:
//
//	Desktop
//	└── Form "Customer"
//	    ├── StringField  firstName (writable)
//	    ├── StringField  lastName  (writable)
//	    ├── IntegerField visits    (writable)
//	    ├── List         notes
//	    ├── Menu         addNote
//	    ├── Menu         clearNotes
//	    └── Menu         reset
//
// The form's "greeting" is computed from the name fields.
func Desktop(ctx context.Context, req *protocol.Request) (model.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	desktop := model.NewNode("Desktop",
		model.WithProperty("title", "uisync demo"),
		model.WithProperty("session", req.Session),
		model.WithProperty("started", time.Now().UTC().Format(time.RFC3339)))

	firstName := field("StringField", "First name", "")
	lastName := field("StringField", "Last name", "")
	visits := field("IntegerField", "Visits", 0)
	notes := model.NewNode("List", model.WithProperty("label", "Notes"))

	form := model.NewNode("Form",
		model.WithProperty("title", "Customer"),
		model.WithComputed("greeting", func() any {
			return greeting(firstName.Get("value"), lastName.Get("value"))
		}))

	// Name fields recompute the greeting whenever the client edits them.
	for _, f := range []*model.Node{firstName, lastName} {
		f.Subscribe(func(ev model.Event) {
			if ev.Type == model.PropertyChanged && ev.Name == "value" {
				form.Notify("greeting")
			}
		})
	}

	addNote := menu("Add note", func(*model.Node, map[string]any) error {
		n := len(notes.Children()) + 1
		notes.AddChild(model.NewNode("Note",
			model.WithProperty("text", fmt.Sprintf("Note %d", n))))
		visits.Set("value", toInt(visits.Get("value"))+1)
		return nil
	})
	clearNotes := menu("Clear notes", func(*model.Node, map[string]any) error {
		for _, c := range notes.Children() {
			if n, ok := c.(*model.Node); ok {
				n.Dispose()
			}
		}
		return nil
	})
	reset := menu("Reset", func(*model.Node, map[string]any) error {
		firstName.Set("value", "")
		lastName.Set("value", "")
		visits.Set("value", 0)
		firstName.Fire("requestFocus", nil)
		return nil
	})

	form.AddChild(firstName)
	form.AddChild(lastName)
	form.AddChild(visits)
	form.AddChild(notes)
	form.AddChild(addNote)
	form.AddChild(clearNotes)
	form.AddChild(reset)
	desktop.AddChild(form)
	return desktop, nil
}

func field(objectType, label string, value any) *model.Node {
	return model.NewNode(objectType,
		model.WithProperty("label", label),
		model.WithWritableProperty("value", value))
}

func menu(text string, click model.ActionFunc) *model.Node {
	return model.NewNode("Menu",
		model.WithProperty("text", text),
		model.WithAction("click", click))
}

func greeting(first, last any) string {
	name := strings.TrimSpace(fmt.Sprintf("%v %v", orEmpty(first), orEmpty(last)))
	if name == "" {
		return "Hello!"
	}
	return "Hello, " + name + "!"
}

func orEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}

// toInt accepts the integer forms a value takes before and after a
// round trip through JSON.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
