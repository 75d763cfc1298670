// Package model defines the capability set a UI model object must offer to
// be mirrored to a client, and provides Node, a general purpose
// implementation of it.
//
// The synchronization core never depends on concrete widget types. Any type
// implementing [Model] can be represented on the wire: forms, fields, menus
// and tables differ only in their object type, their properties and the
// actions they accept.
//
// # Capabilities
//
//   - Properties: a declarative list of (name, accessor) pairs
//   - Subscribe: notifications when an attribute, the child set, or an action fires
//   - Invoke: named actions triggered by the client
//   - Children: a stable, ordered child structure
//   - Alive: whether the owner has torn the object down
//
// # Node
//
//	form := model.NewNode("Form", model.WithProperty("title", "Customer"))
//	name := model.NewNode("StringField", model.WithProperty("value", ""))
//	form.AddChild(name)
//
//	save := model.NewNode("Menu", model.WithProperty("text", "Save"))
//	save.OnAction("click", func(n *model.Node, data map[string]any) error {
//	    form.Set("title", "Saved")
//	    return nil
//	})
//	form.AddChild(save)
package model
