// Package api provides the HTTP REST surface of the presence server.
//
// All endpoints are read-only. Live state changes only through the
// WebSocket protocol mounted at /ws.
//
// Endpoints:
//
//   - GET /api - endpoint index
//   - GET /api/health - status, uptime, room and member totals, handler counters
//   - GET /api/rooms - live rooms with member counts
//   - GET /api/rooms/{id} - members of one room with their positions
//   - GET /api/users/{userId}/location - room and position of a connected user
//   - GET /api/spaces - space catalog
//   - GET /api/spaces/{id} - one space
//   - GET /ws - WebSocket upgrade
//
// Errors are returned as JSON with an appropriate status code:
//
//	{"error": "room not found"}
//
// Usage:
//
//	srv := api.NewServer(presenceService, listener, logger)
//	http.ListenAndServe(":8080", srv)
package api
