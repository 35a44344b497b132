package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mr1hm/disaster-live-feed/internal/broadcast"
	"github.com/mr1hm/disaster-live-feed/internal/metrics"
	"github.com/mr1hm/disaster-live-feed/internal/models"
	"github.com/mr1hm/disaster-live-feed/internal/repository"
)

const testToken = "s3cret"

// mockStore implements repository.ReportStore for testing. reports is kept
// newest first.
type mockStore struct {
	mu      sync.Mutex
	reports []models.Report
	pingErr error
	listErr error
}

func (m *mockStore) Insert(ctx context.Context, r *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append([]models.Report{*r}, m.reports...)
	return nil
}

func (m *mockStore) GetByID(ctx context.Context, id string) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reports {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockStore) ListRecent(ctx context.Context, limit int) ([]models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	results := m.reports
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return append([]models.Report(nil), results...), nil
}

func (m *mockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.reports {
		if r.ID == id {
			m.reports = append(m.reports[:i], m.reports[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *mockStore) SubscribeInserts(ctx context.Context, resumeToken string) (repository.InsertStream, error) {
	return nil, errors.New("not supported")
}

func (m *mockStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockStore) Close() error { return nil }

type testEnv struct {
	router   *gin.Engine
	store    *mockStore
	registry *broadcast.Registry
	hub      *broadcast.Hub
}

func setupTestRouter(store *mockStore, opts Options) *testEnv {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	registry := broadcast.NewRegistry(nil)
	hub := broadcast.NewHub(registry, time.Second, metrics.NewForTesting())
	handler := NewHandler(store, registry, hub, NewStaticTokenAuth(testToken), opts)
	handler.RegisterRoutes(router)

	return &testEnv{router: router, store: store, registry: registry, hub: hub}
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	e.router.ServeHTTP(w, req)
	return w
}

func float(f float64) *float64 { return &f }

func seededStore(n int) *mockStore {
	store := &mockStore{}
	base := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		store.Insert(context.Background(), &models.Report{
			ID:           fmt.Sprintf("r%d", i),
			DisasterType: "Flood",
			Severity:     "High",
			LocationText: "Assam",
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			CreatedAt:    base,
		})
	}
	return store
}

func TestListAlerts_NewestFirst(t *testing.T) {
	env := setupTestRouter(seededStore(3), Options{})

	w := env.do("GET", "/api/alerts", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var alerts []alertResponse
	if err := json.Unmarshal(w.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(alerts))
	}
	if alerts[0].ID != "r2" || alerts[2].ID != "r0" {
		t.Errorf("expected newest first, got %s..%s", alerts[0].ID, alerts[2].ID)
	}
}

func TestListAlerts_DefaultLimit(t *testing.T) {
	env := setupTestRouter(seededStore(26), Options{})
	for i := 0; i < 40; i++ {
		env.store.Insert(context.Background(), &models.Report{ID: fmt.Sprintf("extra%d", i), DisasterType: "Fire"})
	}

	w := env.do("GET", "/api/alerts", "", "")

	var alerts []alertResponse
	json.Unmarshal(w.Body.Bytes(), &alerts)
	if len(alerts) != repository.DefaultListLimit {
		t.Errorf("expected %d alerts, got %d", repository.DefaultListLimit, len(alerts))
	}
}

func TestListAlerts_LimitParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"limit=2", 2},
		{"limit=0", 5},
		{"limit=abc", 5},
		{"limit=100000", 5},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			env := setupTestRouter(seededStore(5), Options{})
			w := env.do("GET", "/api/alerts?"+tt.query, "", "")

			var alerts []alertResponse
			json.Unmarshal(w.Body.Bytes(), &alerts)
			if len(alerts) != tt.want {
				t.Errorf("expected %d alerts, got %d", tt.want, len(alerts))
			}
		})
	}
}

func TestListAlerts_GeoJSON(t *testing.T) {
	store := &mockStore{}
	store.Insert(context.Background(), &models.Report{ID: "nowhere", DisasterType: "Storm"})
	store.Insert(context.Background(), &models.Report{
		ID:           "assam",
		DisasterType: "Flood",
		Latitude:     float(26.2),
		Longitude:    float(92.93),
	})
	env := setupTestRouter(store, Options{})

	w := env.do("GET", "/api/alerts?format=geojson", "", "")
	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("expected content-type application/geo+json, got %s", ct)
	}

	var fc FeatureCollection
	if err := json.Unmarshal(w.Body.Bytes(), &fc); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 {
		t.Fatalf("unexpected collection: %+v", fc)
	}
	if g := fc.Features[0].Geometry; g == nil || g.Coordinates[0] != 92.93 || g.Coordinates[1] != 26.2 {
		t.Errorf("expected [lon, lat] point, got %+v", g)
	}
	if fc.Features[1].Geometry != nil {
		t.Errorf("expected null geometry for report without location")
	}
}

func TestListAlerts_StoreError(t *testing.T) {
	env := setupTestRouter(&mockStore{listErr: errors.New("disk gone")}, Options{})

	w := env.do("GET", "/api/alerts", "", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestGetAlert(t *testing.T) {
	env := setupTestRouter(seededStore(2), Options{})

	w := env.do("GET", "/api/alerts/r0", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var alert alertResponse
	json.Unmarshal(w.Body.Bytes(), &alert)
	if alert.ID != "r0" || alert.DisasterType != "Flood" || alert.Timestamp == nil {
		t.Errorf("unexpected alert: %+v", alert)
	}

	if w := env.do("GET", "/api/alerts/missing", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestDeleteAlert_RequiresAdmin(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong token", "nope", http.StatusUnauthorized},
		{"admin token", testToken, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestRouter(seededStore(1), Options{})
			w := env.do("DELETE", "/api/alerts/r0", tt.token, "")
			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestDeleteAlert_NotFound(t *testing.T) {
	env := setupTestRouter(&mockStore{}, Options{})

	if w := env.do("DELETE", "/api/alerts/missing", testToken, ""); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	env := setupTestRouter(&mockStore{}, Options{})

	w := env.do("GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %v", resp["status"])
	}
}

func TestReady(t *testing.T) {
	env := setupTestRouter(&mockStore{}, Options{})
	if w := env.do("GET", "/readyz", "", ""); w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	env = setupTestRouter(&mockStore{pingErr: errors.New("down")}, Options{})
	if w := env.do("GET", "/readyz", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestRouter(&mockStore{}, Options{})

	w := env.do("GET", "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestTestAlert_DisabledByDefault(t *testing.T) {
	env := setupTestRouter(&mockStore{}, Options{})

	if w := env.do("POST", "/api/debug/test-alert", testToken, ""); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestTestAlert_BroadcastsWithoutPersisting(t *testing.T) {
	store := &mockStore{}
	env := setupTestRouter(store, Options{DebugRoutes: true})

	session := broadcast.NewChannelSession(4)
	env.registry.Connect(session)
	defer session.Close()

	w := env.do("POST", "/api/debug/test-alert", testToken, `{"disaster_type":"Flood","severity":"medium"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	select {
	case ev := <-session.Events():
		if ev.DisasterType != "Flood" || ev.Severity != models.SeverityMedium {
			t.Errorf("unexpected event: %+v", ev)
		}
		if !strings.HasPrefix(ev.SourceID, "test_") {
			t.Errorf("expected test_ id, got %s", ev.SourceID)
		}
	case <-time.After(time.Second):
		t.Fatal("test alert not delivered")
	}

	if len(store.reports) != 0 {
		t.Errorf("test alert was persisted")
	}
}

func TestTestAlert_RequiresAdmin(t *testing.T) {
	env := setupTestRouter(&mockStore{}, Options{DebugRoutes: true})

	if w := env.do("POST", "/api/debug/test-alert", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(2))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	var limited int
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		router.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
			if w.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After header")
			}
		}
	}
	if limited == 0 {
		t.Error("expected some requests to be rate limited")
	}
}
