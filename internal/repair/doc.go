// Package repair implements the automatic fix loop: when a code unit
// fails at execution time, the original source and the error are sent to
// a completion service, the corrected code is spliced back into the
// message at the unit's recorded span, and the message is reprocessed.
//
// The loop is deliberately conservative. Setup failures never reach it,
// a session runs at most one attempt at a time, and each unit gets one
// attempt per message so a fix that does not stick cannot ping-pong.
package repair
