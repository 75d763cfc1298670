// Package httpsession provides the HTTP-level session container UI
// sessions are bound to.
//
// A [Container] is identified by a cookie. The [Store] creates containers
// on demand from its [Store.Middleware], expires idle ones from a background
// loop, and tells its invalidation listeners about every container that
// ends, whether by logout, by idle timeout or by Close.
//
//	store := httpsession.NewStore(httpsession.DefaultConfig())
//	store.OnInvalidate(func(c *httpsession.Container) {
//	    directory.EvictContainer(c.ID)
//	})
//	handler = store.Middleware(handler)
package httpsession
