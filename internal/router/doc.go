// Package router owns all live render state. Every wire message from an
// execution context passes through a single dispatch goroutine, so frame
// state never needs cross-session locking and stale frames are dropped
// at one choke point.
//
// State is scoped to render sessions, one per processed message. A new
// session for a message supersedes and tears down the previous one, so
// re-rendering never leaks contexts or routes messages to dead frames.
package router
