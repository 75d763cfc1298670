// Package protocol defines the JSON wire protocol between a uisync server and
// its remote UI client.
//
// Every exchange is a single request object POSTed to the JSON endpoint and a
// single response object returned in the HTTP body.
//
// # Requests
//
//	{"session": "s1", "kind": "startup"}
//	{"session": "s1", "kind": "event", "target": "7", "event": "action", "data": {...}}
//	{"session": "s1", "kind": "unload"}
//	{"kind": "ping"}
//
// A request without a session identifier is always treated as a ping.
//
// # Responses
//
// A success response carries the outbound events accumulated while the
// request was processed, in the order they occurred:
//
//	{"events": [{"target": "7", "type": "property", "properties": {"label": "Name"}}]}
//
// Adapters attached during the request are described once in adapterData so
// the client can construct widgets for identities it has not seen before.
//
// An error response carries a code and a message:
//
//	{"error": {"code": 10, "message": "The session has expired, please reload the page."}}
//
// # Error Codes
//
// Codes are grouped into recoverable conditions (the client reloads or
// retries) and defects (logged server side, sent with HTTP 500). See
// [ErrorCode] and [IsRecoverable].
package protocol
