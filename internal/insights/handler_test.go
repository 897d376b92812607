package insights

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func insightRouter(store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(store).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func TestListInsightsFiltersByCategory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, rec := range []Record{
		{ID: "1", UserID: "u1", Category: CategoryStrength, Name: "Algebra", Score: 60, CreatedAt: at, UpdatedAt: at},
		{ID: "2", UserID: "u1", Category: CategoryStrength, Name: "Geometry", Score: 80, CreatedAt: at, UpdatedAt: at},
		{ID: "3", UserID: "u1", Category: CategoryWeakness, Name: "Fractions", Score: 40, CreatedAt: at, UpdatedAt: at},
		{ID: "4", UserID: "u2", Category: CategoryStrength, Name: "Algebra", Score: 90, CreatedAt: at, UpdatedAt: at},
	} {
		if err := store.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	resp := httptest.NewRecorder()
	insightRouter(store).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/users/u1/insights?category=strengths", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		UserID   string   `json:"userId"`
		Insights []Record `json:"insights"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UserID != "u1" || len(body.Insights) != 2 {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Insights[0].Name != "Geometry" || body.Insights[1].Name != "Algebra" {
		t.Fatalf("expected score order, got %+v", body.Insights)
	}
}

func TestListInsightsRejectsUnknownCategory(t *testing.T) {
	resp := httptest.NewRecorder()
	insightRouter(NewMemoryStore()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/users/u1/insights?category=hobby", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
