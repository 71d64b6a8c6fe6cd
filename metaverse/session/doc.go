// Package session implements the per-connection side of the presence core.
//
// A Connection is the identity and outbound queue of one live socket: its
// id, the user and room it joined, its position, and a bounded buffer of
// encoded frames the transport writer drains. Sending never blocks; a full
// buffer or a closed connection drops the frame.
//
// A Session is the protocol state machine bound to a Connection:
//
//	Unjoined --join ok--> Joined --move--> Joined
//	Unjoined --join failed--> Closed
//	any --Close--> Closed
//
// Join verifies the token, looks the space up, registers the connection in
// the room directory, replies with the spawn point and current peers, and
// announces the newcomer. A failed join closes the connection without a
// reply. Moves must stay inside the space (edges inclusive) and be exactly
// one orthogonal step; refused moves are answered with the authoritative
// position. Close runs once and, for a joined session, removes the member
// and announces the departure.
//
// Handler holds the collaborators shared by all sessions and is safe for
// concurrent use. Session.Handle must be called from one goroutine per
// connection; Close may be called from any goroutine.
package session
