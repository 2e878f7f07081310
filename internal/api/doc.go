// Package api provides the HTTP client for the LockBox backend. It handles
// bearer-token authentication, request/response serialization, per-path
// timeouts, and automatic retry with exponential backoff for transient
// failures.
//
// # Session Invalidation
//
// Every authenticated call carries the session bearer token. A 401 response
// anywhere clears the token via the configured invalidation hook; subsequent
// calls fail with [ErrNoSession] until a new token is installed with
// [Client.SetToken]. This is a hard contract with the backend.
//
// # Retry Behavior
//
// Requests are retried with exponential backoff and jitter for the usual
// transient status codes (408, 429, 500, 502, 503, 504). 401 is never
// retried. Read paths (GET) use a shorter timeout than write paths (POST)
// so that polling stays cheap while sends get room to finish.
//
// # Thread Safety
//
// The [Client] type is safe for concurrent use.
package api
