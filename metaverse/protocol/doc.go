// Package protocol defines the JSON frames exchanged over a presence
// connection.
//
// Every frame is an envelope:
//
//	{"type": "<kind>", "payload": { ... }}
//
// Client frames are join and move. Server frames are space-joined,
// user-joined, movement, movement-rejected, user-left and join-rejected.
// Both directions are closed sets: DecodeClient and DecodeServer return
// one of the concrete message structs, and anything else is reported as
// ErrUnknownType so callers can switch exhaustively on the result.
package protocol
