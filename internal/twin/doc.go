// Package twin serves the simulation control protocol.
//
// Ownership boundary:
// - execution host contract (Host, HostError)
// - per-request dispatch against the session machine and the envelope registry
// - accept loop, single active session, bounded wait queue
// - admin HTTP surface and process service runner
package twin
