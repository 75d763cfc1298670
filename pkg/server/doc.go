// Package server provides the HTTP entry point of the sync protocol.
//
// The server accepts JSON wire requests on a single POST endpoint, routes
// them to the session directory and writes the response. Every request is
// answered with a well-formed response: failures become error responses
// with a code, sent with status 200 when the client can recover and 500
// otherwise.
//
// # Request Kinds
//
//   - ping: answered immediately, touches no session
//   - startup: creates the session and returns the root adapter
//   - event: applied to one adapter of an existing session
//   - unload: disposes the session, always succeeds
//
// # Routes
//
//	POST /json       wire requests
//	GET  /json/ws    the same requests over WebSocket, one per text frame
//	POST /logout     ends the HTTP-level session and all its UI sessions
//	GET  /metrics    Prometheus metrics
//	GET  /*          static resources, when configured
//
// # Usage
//
//	srv := server.New(&server.ServerConfig{
//	    Address:     ":8080",
//	    RootFactory: func(ctx context.Context, req *protocol.Request) (model.Model, error) {
//	        return newDesktop(), nil
//	    },
//	})
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The router returned by Handler is a chi router, so the server can also be
// mounted under an existing chi or net/http mux.
package server
