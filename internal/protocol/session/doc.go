// Package session owns the per-connection simulation lifecycle.
//
// Ownership boundary:
// - lifecycle phases and request legality per phase
// - two-step transitions committed or aborted after the host call
// - connection timeouts and client reconnect backoff
package session
