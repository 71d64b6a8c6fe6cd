// Package presence mirrors join and leave events to external systems.
//
// The in-memory room directory stays authoritative. Sinks only publish a
// copy of each transition so other services can observe who is where:
//
//   - RedisSink keeps a metaverse:presence:<userId> hash of
//     connectionId -> roomId and a metaverse:room:<roomId> hash of
//     connectionId -> userId. Both expire unless refreshed events keep
//     renewing them.
//   - NATSSink publishes joined and left events as JSON on
//     <prefix>.<roomId>.<kind>. Refreshes are not published.
//   - Multi fans out to several sinks and joins their errors.
//
// Publishing failures are returned to the caller, which logs them; they
// never affect the connection that triggered the event.
package presence
