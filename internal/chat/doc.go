// Package chat is the boundary to the hosting conversation: message
// source storage, lifecycle events, and the context-injection surface
// exposed to sandboxed code.
package chat
