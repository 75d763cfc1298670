// Package adapter binds model objects to wire identities.
//
// An [Adapter] proxies one [model.Model] for one session. It owns a
// [Observer] per model property, tracks its child adapters, translates model
// notifications into outbound wire events and inbound wire events into model
// calls. A [Registry] holds the model to adapter bijection for one session
// and assigns identities from a monotonic counter that is never reset, so
// an identity is never reused after its adapter is disposed.
//
// Nothing in this package locks. A Registry, its adapters and the models
// they observe must only be touched by the goroutine holding the owning
// session's lock. In particular models must only be mutated from within a
// request, since their listeners call straight into the registry.
package adapter
