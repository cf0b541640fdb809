// Package wire defines the message protocol between sandboxed execution
// contexts and the host-side router.
//
// Every message is a JSON object carrying a channel marker, a type, and a
// frame identifier used as the correlation key. Messages from foreign
// channels or with unrecognized types are dropped by the decoder so that
// unrelated traffic can never reach a dispatch handler.
package wire
