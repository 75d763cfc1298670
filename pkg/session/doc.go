// Package session owns UI sessions and the directory that maps client
// session identifiers to them.
//
// A [Session] holds one adapter registry, one outbound buffer and one root
// adapter. All of its state is guarded by a per-session mutex, so two
// requests for the same session are totally ordered and an eviction never
// disposes a session underneath a running request.
//
// A [Directory] maps (container, session) pairs to sessions, where the
// container is the HTTP-level session the UI session is bound to. Creation
// is atomic: of two concurrent startups for the same identifier exactly one
// creates the session and the other fails with an illegal-state error.
//
//	dir := session.NewDirectory(session.DefaultDirectoryConfig())
//	defer dir.Shutdown(ctx)
//
//	resp, err := dir.Start(ctx, containerID, req, rootFactory)
//	resp, err = dir.Process(ctx, containerID, eventReq)
//	dir.Evict(containerID, sessionID)
//
// The directory lock is never held while waiting for a session lock.
package session
