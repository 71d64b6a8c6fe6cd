// Package service exposes read-only views of the presence core to the REST
// and MCP surfaces.
//
// PresenceService answers questions about live state (which rooms exist,
// who is in them and where, where a user currently is) and about the space
// catalog. It never mutates rooms; all mutation goes through protocol
// sessions.
//
// Usage:
//
//	svc := service.NewPresenceService(directory, spaces,
//		service.WithCounters(handler),
//		service.WithConnections(listener),
//	)
//	rooms, err := svc.ListRooms(ctx)
package service
