// Package sandbox builds and runs isolated execution contexts for code
// units on top of goja.
//
// Each context owns its own JavaScript VM, its own lightweight DOM with a
// single mount element, and a restricted host-capability object. The three
// guarantees of the browser sandboxed-frame mechanism are preserved: no
// mutable state shared with the host, a narrow opt-in message channel, and
// script-failure containment (a throwing unit emits an error message, it
// never panics the host).
package sandbox
