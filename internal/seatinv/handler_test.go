package seatinv

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func setupRouter(service *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(service).RegisterRoutes(router.Group("/api/v1/seats"))
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSeedLayoutEndpoint(t *testing.T) {
	service, _, _ := newTestService(&recordingPublisher{})
	router := setupRouter(service)

	w := postJSON(t, router, "/api/v1/seats/layout/room-1/seed", seedLayoutRequest{
		Rows:       2,
		Cols:       3,
		PriceRatio: 1.5,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool          `json:"success"`
		Data    []*LayoutSeat `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(resp.Data) != 6 {
		t.Fatalf("Expected 6 seats, got %d", len(resp.Data))
	}
	for _, seat := range resp.Data {
		if seat.RoomID != "room-1" || seat.PriceRatio != 1.5 {
			t.Errorf("Unexpected seat %+v", seat)
		}
	}

	// Seeding again keeps the existing grid
	w = postJSON(t, router, "/api/v1/seats/layout/room-1/seed", seedLayoutRequest{
		Rows: 2,
		Cols: 3,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on re-seed, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(resp.Data) != 6 {
		t.Errorf("Expected 6 seats after re-seed, got %d", len(resp.Data))
	}
}

func TestSeedLayoutEndpointValidation(t *testing.T) {
	service, _, _ := newTestService(&recordingPublisher{})
	router := setupRouter(service)

	w := postJSON(t, router, "/api/v1/seats/layout/room-1/seed", seedLayoutRequest{Rows: 2})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing cols, got %d", w.Code)
	}
}

func TestHoldSeatsEndpoint(t *testing.T) {
	service, _, _ := newTestService(&recordingPublisher{})
	router := setupRouter(service)

	w := postJSON(t, router, "/api/v1/seats/hold", holdSeatsRequest{
		ShowtimeID: "show-1",
		SeatIDs:    []string{"A1", "A2"},
		UserID:     "user-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool       `json:"success"`
		Data    HoldResult `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if !resp.Success {
		t.Error("Expected envelope success")
	}
	if !resp.Data.Success || len(resp.Data.HeldSeatIDs) != 2 {
		t.Errorf("Expected both seats held, got %+v", resp.Data)
	}
}

func TestHoldSeatsEndpointValidation(t *testing.T) {
	service, _, _ := newTestService(&recordingPublisher{})
	router := setupRouter(service)

	w := postJSON(t, router, "/api/v1/seats/hold", holdSeatsRequest{
		ShowtimeID: "show-1",
		UserID:     "user-1",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing seatIds, got %d", w.Code)
	}
}

func TestBookAndReleaseEndpoints(t *testing.T) {
	service, store, _ := newTestService(&recordingPublisher{})
	router := setupRouter(service)
	ctx := context.Background()

	if _, err := service.HoldSeats(ctx, "show-1", []string{"A1", "A2"}, "user-1", 0); err != nil {
		t.Fatalf("Setup hold failed: %v", err)
	}

	w := postJSON(t, router, "/api/v1/seats/book", bookSeatsRequest{
		ShowtimeID: "show-1",
		SeatIDs:    []string{"A1"},
		UserID:     "user-1",
		BookingID:  "booking-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	booked, _ := store.Get(ctx, "show-1", "A1")
	if booked.State != SeatBooked {
		t.Errorf("Expected A1 BOOKED, got %s", booked.State)
	}

	w = postJSON(t, router, "/api/v1/seats/release", releaseSeatsRequest{
		ShowtimeID: "show-1",
		SeatIDs:    []string{"A2"},
		UserID:     "user-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	released, _ := store.Get(ctx, "show-1", "A2")
	if released.State != SeatAvailable {
		t.Errorf("Expected A2 AVAILABLE, got %s", released.State)
	}
}

func TestGetSeatStatusEndpoint(t *testing.T) {
	service, store, _ := newTestService(&recordingPublisher{})
	router := setupRouter(service)

	if err := store.Hold(context.Background(),
		"show-1", "A1", "user-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Setup hold failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/seats/status/show-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Success bool          `json:"success"`
		Data    []*SeatStatus `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].State != SeatHold {
		t.Errorf("Expected one HOLD row, got %+v", resp.Data)
	}
}
