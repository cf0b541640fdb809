// Package ws provides the WebSocket event feed for live frame state.
//
// Clients connect once per conversation view and receive every router
// update (phase changes, resizes, logs, warnings, repair notices) as it
// happens, instead of polling the session endpoints.
//
// Message Types (Client → Server):
//   - heal: manually trigger a repair attempt for a message
//   - frame: wire traffic posted back by a client-rendered frame
//   - ping: keep-alive ping
//
// Message Types (Server → Client):
//   - system: connection established
//   - update: one router update
//   - pong: ping reply
//   - error: request failed
package ws
