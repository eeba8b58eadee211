// Package workflow maps workflow names to executable handlers. Typed
// definitions are erased to raw-JSON handlers at registration time, so
// the dispatcher can run any workflow from a persisted input snapshot
// without knowing its types.
package workflow
