// Package mcp exposes the presence server to AI agents over the Model
// Context Protocol.
//
// Client is a thin proxy: every tool calls the REST API and renders the
// response as text. It holds no state of its own.
//
// MCP Tools:
//   - health: status, uptime, totals and protocol counters
//   - list_rooms: rooms with connected members
//   - get_room: members of a room with positions
//   - locate_user: room and position of a user
//   - list_spaces: the space catalog
//   - get_space: one space
//
// Transport Modes:
//   - Stdio: `metaverse-presence mcp` starts an internal API server and
//     speaks MCP on stdin/stdout
//   - HTTP: `serve` mounts a streamable HTTP endpoint at /mcp
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
