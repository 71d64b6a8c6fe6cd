package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wricardo/metaverse-presence/metaverse/service"
	"github.com/wricardo/metaverse-presence/metaverse/session"
	"github.com/wricardo/metaverse-presence/metaverse/space"
)

// MockPresenceService implements service.PresenceService for testing
type MockPresenceService struct {
	HealthFunc     func(ctx context.Context) *service.HealthInfo
	ListRoomsFunc  func(ctx context.Context) ([]*service.RoomInfo, error)
	GetRoomFunc    func(ctx context.Context, roomID string) (*service.RoomInfo, error)
	LocateUserFunc func(ctx context.Context, userID string) (*service.UserLocation, error)
	ListSpacesFunc func(ctx context.Context) ([]space.Space, error)
	GetSpaceFunc   func(ctx context.Context, spaceID string) (*space.Space, error)
}

func (m *MockPresenceService) Health(ctx context.Context) *service.HealthInfo {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return &service.HealthInfo{Status: "ok", StartedAt: time.Now()}
}

func (m *MockPresenceService) ListRooms(ctx context.Context) ([]*service.RoomInfo, error) {
	if m.ListRoomsFunc != nil {
		return m.ListRoomsFunc(ctx)
	}
	return []*service.RoomInfo{}, nil
}

func (m *MockPresenceService) GetRoom(ctx context.Context, roomID string) (*service.RoomInfo, error) {
	if m.GetRoomFunc != nil {
		return m.GetRoomFunc(ctx, roomID)
	}
	return nil, service.ErrRoomNotFound
}

func (m *MockPresenceService) LocateUser(ctx context.Context, userID string) (*service.UserLocation, error) {
	if m.LocateUserFunc != nil {
		return m.LocateUserFunc(ctx, userID)
	}
	return nil, service.ErrUserNotFound
}

func (m *MockPresenceService) ListSpaces(ctx context.Context) ([]space.Space, error) {
	if m.ListSpacesFunc != nil {
		return m.ListSpacesFunc(ctx)
	}
	return []space.Space{}, nil
}

func (m *MockPresenceService) GetSpace(ctx context.Context, spaceID string) (*space.Space, error) {
	if m.GetSpaceFunc != nil {
		return m.GetSpaceFunc(ctx, spaceID)
	}
	return nil, space.ErrSpaceNotFound
}

// Test helpers
func setupTestServer(mockService *MockPresenceService) *Server {
	return NewServer(mockService, nil, nil)
}

func doGet(server *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder, target interface{}) {
	if err := json.Unmarshal(w.Body.Bytes(), target); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
}

func TestIndex(t *testing.T) {
	server := setupTestServer(&MockPresenceService{})
	w := doGet(server, "/api")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp struct {
		Endpoints []string `json:"endpoints"`
	}
	parseResponse(t, w, &resp)
	if len(resp.Endpoints) == 0 {
		t.Error("Expected endpoint list")
	}
}

func TestHealth(t *testing.T) {
	mock := &MockPresenceService{
		HealthFunc: func(ctx context.Context) *service.HealthInfo {
			return &service.HealthInfo{
				Status:   "ok",
				Rooms:    2,
				Members:  5,
				Counters: &session.Counters{Joins: 7},
			}
		},
	}
	server := setupTestServer(mock)
	w := doGet(server, "/api/health")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp service.HealthInfo
	parseResponse(t, w, &resp)
	if resp.Rooms != 2 || resp.Members != 5 {
		t.Errorf("Unexpected health: %+v", resp)
	}
	if resp.Counters == nil || resp.Counters.Joins != 7 {
		t.Errorf("Expected counters with 7 joins, got %+v", resp.Counters)
	}
}

func TestListRooms(t *testing.T) {
	tests := []struct {
		name           string
		setupMock      func(*MockPresenceService)
		expectedStatus int
		expectedCount  int
	}{
		{
			name: "Rooms listed",
			setupMock: func(m *MockPresenceService) {
				m.ListRoomsFunc = func(ctx context.Context) ([]*service.RoomInfo, error) {
					return []*service.RoomInfo{
						{ID: "lobby", MemberCount: 2},
						{ID: "plaza", MemberCount: 1},
					}, nil
				}
			},
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name:           "No rooms",
			expectedStatus: http.StatusOK,
			expectedCount:  0,
		},
		{
			name: "Service error",
			setupMock: func(m *MockPresenceService) {
				m.ListRoomsFunc = func(ctx context.Context) ([]*service.RoomInfo, error) {
					return nil, fmt.Errorf("boom")
				}
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockPresenceService{}
			if tt.setupMock != nil {
				tt.setupMock(mock)
			}

			w := doGet(setupTestServer(mock), "/api/rooms")
			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var resp struct {
				Count int                 `json:"count"`
				Rooms []*service.RoomInfo `json:"rooms"`
			}
			parseResponse(t, w, &resp)
			if resp.Count != tt.expectedCount || len(resp.Rooms) != tt.expectedCount {
				t.Errorf("Expected %d rooms, got count=%d len=%d", tt.expectedCount, resp.Count, len(resp.Rooms))
			}
		})
	}
}

func TestGetRoom(t *testing.T) {
	mock := &MockPresenceService{
		GetRoomFunc: func(ctx context.Context, roomID string) (*service.RoomInfo, error) {
			if roomID != "lobby" {
				return nil, fmt.Errorf("get %s: %w", roomID, service.ErrRoomNotFound)
			}
			return &service.RoomInfo{
				ID:          "lobby",
				MemberCount: 1,
				Members:     []*service.MemberInfo{{ConnectionID: "c1", UserID: "alice", X: 3, Y: 4}},
			}, nil
		},
	}
	server := setupTestServer(mock)

	t.Run("Existing room", func(t *testing.T) {
		w := doGet(server, "/api/rooms/lobby")
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		var resp service.RoomInfo
		parseResponse(t, w, &resp)
		if len(resp.Members) != 1 || resp.Members[0].UserID != "alice" {
			t.Errorf("Unexpected room: %+v", resp)
		}
	})

	t.Run("Unknown room", func(t *testing.T) {
		w := doGet(server, "/api/rooms/attic")
		if w.Code != http.StatusNotFound {
			t.Fatalf("Expected status 404, got %d", w.Code)
		}
		var resp map[string]string
		parseResponse(t, w, &resp)
		if resp["error"] == "" {
			t.Error("Expected error message")
		}
	})
}

func TestLocateUser(t *testing.T) {
	mock := &MockPresenceService{
		LocateUserFunc: func(ctx context.Context, userID string) (*service.UserLocation, error) {
			if userID != "alice" {
				return nil, service.ErrUserNotFound
			}
			return &service.UserLocation{UserID: "alice", RoomID: "lobby", ConnectionID: "c1", X: 1, Y: 1}, nil
		},
	}
	server := setupTestServer(mock)

	w := doGet(server, "/api/users/alice/location")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var loc service.UserLocation
	parseResponse(t, w, &loc)
	if loc.RoomID != "lobby" {
		t.Errorf("Expected room lobby, got %s", loc.RoomID)
	}

	w = doGet(server, "/api/users/bob/location")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestListSpaces(t *testing.T) {
	tests := []struct {
		name           string
		listFunc       func(ctx context.Context) ([]space.Space, error)
		expectedStatus int
	}{
		{
			name: "Spaces listed",
			listFunc: func(ctx context.Context) ([]space.Space, error) {
				return []space.Space{{ID: "lobby", Name: "Lobby", Width: 10, Height: 10}}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "Listing unsupported",
			listFunc: func(ctx context.Context) ([]space.Space, error) {
				return nil, service.ErrListingUnsupported
			},
			expectedStatus: http.StatusNotImplemented,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(&MockPresenceService{ListSpacesFunc: tt.listFunc})
			w := doGet(server, "/api/spaces")
			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestGetSpace(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{"Existing space", "/api/spaces/lobby", http.StatusOK},
		{"Unknown space", "/api/spaces/void", http.StatusNotFound},
		{"Broken space", "/api/spaces/broken", http.StatusUnprocessableEntity},
		{"Invalid id", "/api/spaces/bad.id", http.StatusBadRequest},
	}

	mock := &MockPresenceService{
		GetSpaceFunc: func(ctx context.Context, spaceID string) (*space.Space, error) {
			switch spaceID {
			case "lobby":
				return &space.Space{ID: "lobby", Name: "Lobby", Width: 10, Height: 10}, nil
			case "broken":
				return nil, fmt.Errorf("space broken: %w", space.ErrInvalidSpace)
			default:
				return nil, space.ErrSpaceNotFound
			}
		},
	}
	server := setupTestServer(mock)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGet(server, tt.path)
			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := setupTestServer(&MockPresenceService{})
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/rooms/lobby", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestWebSocket(t *testing.T) {
	t.Run("Transport not configured", func(t *testing.T) {
		w := doGet(setupTestServer(&MockPresenceService{}), "/ws")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Code)
		}
	})

	t.Run("Delegates to transport", func(t *testing.T) {
		called := false
		ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		})
		server := NewServer(&MockPresenceService{}, ws, nil)

		w := doGet(server, "/ws")
		if !called {
			t.Error("Expected websocket handler to be called")
		}
		if w.Code != http.StatusTeapot {
			t.Errorf("Expected status 418, got %d", w.Code)
		}
	})
}
