// Package room keeps the process-wide table of rooms and their members.
//
// A Directory is built once by the composition root and shared by every
// protocol session. Rooms are created on first join and pruned when their
// last member leaves. Membership is kept in insertion order so broadcasts
// reach members in the order they joined.
//
// All operations are safe for concurrent use. Broadcast sends to a snapshot
// taken under the read lock, so a slow member never holds the directory.
package room
