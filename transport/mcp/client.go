package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/metaverse-presence/metaverse/service"
	"github.com/wricardo/metaverse-presence/metaverse/space"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Metaverse Presence",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Metaverse Presence - MCP Interface

Read-only view of the live presence server. Users join spaces (rectangular
grids) over WebSocket and move one cell at a time; these tools let you observe
who is where.

AVAILABLE TOOLS:
- health: server status, uptime and counters
- list_rooms: rooms that currently have members
- get_room: members of one room with their positions
- locate_user: which room a user is in and where
- list_spaces: the space catalog
- get_space: dimensions of one space

Coordinates are (x,y) with x growing to the right and y growing downwards.`),
	)

	c.registerTools()
}

func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "health",
		Description: "Get server health, uptime, live totals and protocol counters",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleHealth)

	// Presence
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_rooms",
		Description: "List rooms that currently have connected members",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListRooms)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_room",
		Description: "List the members of a room and their positions",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": map[string]interface{}{
					"type":        "string",
					"description": "Room ID (same as the space ID)",
				},
			},
			Required: []string{"room_id"},
		},
	}, c.handleGetRoom)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "locate_user",
		Description: "Find the room and position of a connected user",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User ID (the token subject)",
				},
			},
			Required: []string{"user_id"},
		},
	}, c.handleLocateUser)

	// Spaces
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_spaces",
		Description: "List the spaces users can join",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSpaces)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_space",
		Description: "Get the name and dimensions of a space",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"space_id": map[string]interface{}{
					"type":        "string",
					"description": "Space ID",
				},
			},
			Required: []string{"space_id"},
		},
	}, c.handleGetSpace)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// stringArg returns a required string argument.
func stringArg(request mcp.CallToolRequest, name string) (string, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	v, _ := args[name].(string)
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

// Tool handlers

func (c *Client) handleHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var info service.HealthInfo
	if err := c.apiCall(ctx, "GET", "/api/health", nil, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatHealth(&info)), nil
}

func (c *Client) handleListRooms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count int                 `json:"count"`
		Rooms []*service.RoomInfo `json:"rooms"`
	}
	if err := c.apiCall(ctx, "GET", "/api/rooms", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if response.Count == 0 {
		return mcp.NewToolResultText("No active rooms"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active rooms: %d\n", response.Count)
	for _, r := range response.Rooms {
		fmt.Fprintf(&b, "- %s (%d members)\n", r.ID, r.MemberCount)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGetRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, err := stringArg(request, "room_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var info service.RoomInfo
	if err := c.apiCall(ctx, "GET", "/api/rooms/"+url.PathEscape(roomID), nil, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatRoom(&info)), nil
}

func (c *Client) handleLocateUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := stringArg(request, "user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var loc service.UserLocation
	path := fmt.Sprintf("/api/users/%s/location", url.PathEscape(userID))
	if err := c.apiCall(ctx, "GET", path, nil, &loc); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if loc.Source == service.SourceMirror {
		result := fmt.Sprintf("User %s is in room %s (position unknown, seen by another server)\nConnection: %s\n",
			loc.UserID, loc.RoomID, loc.ConnectionID)
		return mcp.NewToolResultText(result), nil
	}
	result := fmt.Sprintf("User %s is in room %s at (%d,%d)\nConnection: %s\n",
		loc.UserID, loc.RoomID, loc.X, loc.Y, loc.ConnectionID)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListSpaces(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count  int           `json:"count"`
		Spaces []space.Space `json:"spaces"`
	}
	if err := c.apiCall(ctx, "GET", "/api/spaces", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if response.Count == 0 {
		return mcp.NewToolResultText("No spaces available"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Spaces: %d\n", response.Count)
	for _, sp := range response.Spaces {
		fmt.Fprintf(&b, "- %s", formatSpace(&sp))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGetSpace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spaceID, err := stringArg(request, "space_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var sp space.Space
	if err := c.apiCall(ctx, "GET", "/api/spaces/"+url.PathEscape(spaceID), nil, &sp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := formatSpace(&sp)
	if sp.Description != "" {
		result += sp.Description + "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func formatHealth(info *service.HealthInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", info.Status)
	fmt.Fprintf(&b, "Uptime: %s\n", info.Uptime)
	fmt.Fprintf(&b, "Connections: %d\n", info.Connections)
	fmt.Fprintf(&b, "Rooms: %d, Members: %d\n", info.Rooms, info.Members)
	if c := info.Counters; c != nil {
		fmt.Fprintf(&b, "Sessions: %d, Joins: %d, Join failures: %d\n", c.Sessions, c.Joins, c.JoinFailures)
		fmt.Fprintf(&b, "Moves accepted: %d, rejected: %d\n", c.MovesAccepted, c.MovesRejected)
	}
	return b.String()
}

func formatRoom(info *service.RoomInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Room %s: %d members\n", info.ID, info.MemberCount)
	for _, m := range info.Members {
		if info.Source == service.SourceMirror {
			fmt.Fprintf(&b, "- %s [conn %s]\n", m.UserID, m.ConnectionID)
			continue
		}
		fmt.Fprintf(&b, "- %s at (%d,%d) [conn %s]\n", m.UserID, m.X, m.Y, m.ConnectionID)
	}
	return b.String()
}

func formatSpace(sp *space.Space) string {
	name := sp.Name
	if name == "" {
		name = sp.ID
	}
	return fmt.Sprintf("%s: %s (%dx%d)\n", sp.ID, name, sp.Width, sp.Height)
}
