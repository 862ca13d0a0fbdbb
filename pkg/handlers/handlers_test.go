package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	config "product-insight-api/configs"
	"product-insight-api/pkg/models"
	"product-insight-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const phonesPayload = `{
	"category": "Phones",
	"metrics": {"best_model": "XGB", "MAE": 2.1, "RMSE": 3.0, "R2": 0.87},
	"insights": {"Top brand": "Acme"},
	"visualization": "iVBORw0KGgo="
}`

type testEnv struct {
	router          *gin.Engine
	sessions        *services.SessionStore
	resolver        *services.CategoryResolver
	categoriesCalls *atomic.Int32
}

// newTestEnv は分析バックエンドのスタブとハンドラーを組み立てます。
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var categoriesCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/categories", func(w http.ResponseWriter, r *http.Request) {
		categoriesCalls.Add(1)
		w.Write([]byte(`{"categories":["Phones","Broken","Down"]}`))
	})
	mux.HandleFunc("/analyze/Phones", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(phonesPayload))
	})
	mux.HandleFunc("/analyze/Phones/product", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ProductName string `json:"productName"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.ProductName == "Unknown" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Product not found"}`))
			return
		}
		w.Write([]byte(`{"marketShare":12.5,"growthPrediction":4,"competitorPercentage":60,"trends":{"Q1":"up"}}`))
	})
	mux.HandleFunc("/analyze/Broken", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"metrics":{"best_model":"XGB"}}`))
	})
	mux.HandleFunc("/analyze/Down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model crashed"}`))
	})
	backend := httptest.NewServer(mux)
	t.Cleanup(backend.Close)

	client := services.NewAnalysisClient(backend.URL, 5*time.Second, 0, 1)
	resolver := services.NewCategoryResolver()
	sessions := services.NewSessionStore(client, resolver, nil, time.Minute)
	dashboard := NewDashboardHandler(client, resolver, sessions)

	r := gin.New()
	r.Use(MaintenanceMiddleware())
	v1 := r.Group("/api/v1")
	v1.GET("/categories", dashboard.GetCategories)
	v1.POST("/sessions", dashboard.CreateSession)
	v1.GET("/sessions/:id", dashboard.GetSession)
	v1.DELETE("/sessions/:id", dashboard.CloseSession)
	v1.PUT("/sessions/:id/category", dashboard.SelectCategory)
	v1.POST("/sessions/:id/product", dashboard.SearchProduct)
	v1.PUT("/sessions/:id/product-query", dashboard.UpdateProductQuery)
	v1.DELETE("/sessions/:id/requests/:kind", dashboard.CancelRequests)
	v1.GET("/sessions/:id/export", dashboard.ExportSession)

	return &testEnv{router: r, sessions: sessions, resolver: resolver, categoriesCalls: &categoriesCalls}
}

type apiResponse struct {
	Success bool               `json:"success"`
	Seq     uint64             `json:"seq"`
	Kind    string             `json:"kind"`
	Error   string             `json:"error"`
	Data    models.SessionView `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp apiResponse
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	w, resp := e.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotEmpty(t, resp.Data.SessionID)
	return resp.Data.SessionID
}

func sectionKinds(view models.SessionView) []models.SectionKind {
	kinds := make([]models.SectionKind, 0, len(view.Sections))
	for _, s := range view.Sections {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

func TestGetCategories(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodGet, "/api/v1/categories", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"categories":["Phones","Broken","Down"],"datasets":null}`, w.Body.String())
	assert.True(t, env.resolver.Loaded())
}

func TestSelectCategoryAndWait(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w, resp := env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/category?wait=true", gin.H{"category": "Phones"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)
	assert.Equal(t, models.PhaseSuccess, resp.Data.CategoryPhase)
	assert.Equal(t, []models.SectionKind{
		models.SectionProductSearch,
		models.SectionCategoryMetrics,
		models.SectionVisualization,
		models.SectionInsights,
	}, sectionKinds(resp.Data))
	assert.Equal(t, []models.Entry{
		{Label: "Best Model", Value: "XGB"},
		{Label: "MAE", Value: "2.10"},
		{Label: "RMSE", Value: "3.00"},
		{Label: "R²", Value: "0.87"},
	}, resp.Data.Sections[1].Entries)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", resp.Data.Sections[2].Image)

	// カテゴリ一覧は選択時に一度だけ取得される
	assert.Equal(t, int32(1), env.categoriesCalls.Load())
}

func TestSelectCategoryAsync(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w, resp := env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/category", gin.H{"category": "Phones"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, uint64(1), resp.Seq)

	session, err := env.sessions.Get(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return session.View().CategoryPhase == models.PhaseSuccess
	}, 5*time.Second, 10*time.Millisecond)

	_, resp = env.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Len(t, resp.Data.Sections, 4)
}

func TestSelectCategoryErrors(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	tests := []struct {
		name     string
		category string
		status   int
		kind     string
		message  string
	}{
		{"unknown", "Laptops", http.StatusNotFound, "UnknownCategory", ""},
		{"empty", "", http.StatusNotFound, "UnknownCategory", ""},
		{"malformed payload", "Broken", http.StatusBadGateway, "DecodeError", "analysis unavailable"},
		{"backend failure", "Down", http.StatusBadGateway, "NetworkError", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/category?wait=true", gin.H{"category": tt.category})
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.kind, resp.Kind)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Error)
			}
		})
	}

	_, resp := env.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, models.PhaseFailure, resp.Data.CategoryPhase)
	require.Len(t, resp.Data.Sections, 1)
	assert.Equal(t, "Failed to load analysis for Down", resp.Data.Sections[0].Error)
}

func TestSearchProduct(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w, resp := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/product", gin.H{"productName": "Galaxy"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidInput", resp.Kind)

	w, _ = env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/category?wait=true", gin.H{"category": "Phones"})
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/product", gin.H{"productName": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidInput", resp.Kind)

	w, resp = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/product?wait=true", gin.H{"productName": "Galaxy"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.PhaseSuccess, resp.Data.ProductPhase)
	assert.Equal(t, models.SectionProductMetrics, resp.Data.Sections[1].Kind)
	assert.Equal(t, "12.5%", resp.Data.Sections[1].Entries[0].Value)

	w, resp = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/product?wait=true", gin.H{"productName": "Unknown"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "NetworkError", resp.Kind)
	assert.Contains(t, resp.Error, "Product not found")
	assert.Equal(t, "Failed to analyze product Unknown", resp.Data.Sections[0].Error)
	assert.Equal(t, models.SectionCategoryMetrics, resp.Data.Sections[1].Kind)
}

func TestUpdateProductQuery(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/category?wait=true", gin.H{"category": "Phones"})

	w, resp := env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/product-query", gin.H{"query": "Gal"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Gal", resp.Data.ProductQuery)
	assert.Equal(t, "Gal", resp.Data.Sections[0].Query)
	assert.Equal(t, models.PhaseIdle, resp.Data.ProductPhase)
}

func TestCancelRequests(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w, resp := env.do(t, http.MethodDelete, "/api/v1/sessions/"+id+"/requests/everything", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidInput", resp.Kind)

	w, resp = env.do(t, http.MethodDelete, "/api/v1/sessions/"+id+"/requests/product", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.PhaseIdle, resp.Data.ProductPhase)
}

func TestCloseSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	w, _ := env.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := env.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SessionNotFound", resp.Kind)

	w, _ = env.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/category?wait=true", gin.H{"category": "Phones"})

	w, _ := env.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/export", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Phones-analysis.xlsx")

	book, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows("Analysis")
	require.NoError(t, err)
	assert.Contains(t, rows, []string{"Category Overview", "Best Model", "XGB"})
	assert.Contains(t, rows, []string{"Market Insights", "Top brand", "Acme"})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: x", services.ErrUnknownCategory), http.StatusNotFound},
		{fmt.Errorf("%w: x", services.ErrSessionNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", services.ErrSessionClosed), http.StatusNotFound},
		{fmt.Errorf("%w: x", services.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: x", services.ErrSuperseded), http.StatusConflict},
		{fmt.Errorf("%w: x", services.ErrDecode), http.StatusBadGateway},
		{fmt.Errorf("%w: x", services.ErrNetwork), http.StatusBadGateway},
		{fmt.Errorf("wait: %w", errors.New("other")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}

func TestAdminMaintenance(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Cleanup(func() { isMaintenanceMode.Store(false) })

	resolver := services.NewCategoryResolver()
	sessions := services.NewSessionStore(nil, resolver, nil, 0)
	admin := NewAdminHandler(&config.Config{AdminUsername: "admin", AdminPassword: "secret"}, sessions, resolver)

	r := gin.New()
	r.Use(MaintenanceMiddleware())
	r.GET("/health", HealthCheck)
	r.GET("/api/v1/categories", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/admin/health-status", admin.GetHealthStatus)
	r.POST("/api/v1/admin/maintenance/start", admin.StartMaintenance)
	r.POST("/api/v1/admin/maintenance/stop", admin.StopMaintenance)

	send := func(method, path, body string) *httptest.ResponseRecorder {
		req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, send(http.MethodPost, "/api/v1/admin/maintenance/start", `{"username":"admin","password":"wrong"}`).Code)
	assert.Equal(t, http.StatusBadRequest, send(http.MethodPost, "/api/v1/admin/maintenance/start", `{}`).Code)

	assert.Equal(t, http.StatusOK, send(http.MethodPost, "/api/v1/admin/maintenance/start", `{"username":"admin","password":"secret"}`).Code)
	assert.Equal(t, http.StatusServiceUnavailable, send(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, send(http.MethodGet, "/api/v1/categories", "").Code)

	w := send(http.MethodGet, "/api/v1/admin/health-status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"isMaintenanceMode":true,"activeSessions":0,"categoriesLoaded":false,"categories":[]}`, w.Body.String())

	assert.Equal(t, http.StatusOK, send(http.MethodPost, "/api/v1/admin/maintenance/stop", `{"username":"admin","password":"secret"}`).Code)
	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/api/v1/categories", "").Code)
}

func TestMonitoringGetLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := services.NewMonitoringService()
	handler := NewMonitoringHandler(service)

	r := gin.New()
	r.GET("/logs", handler.GetLogs)

	for period, buckets := range map[string]int{"1h": 1, "24h": 24, "7d": 168, "bogus": 24} {
		req, _ := http.NewRequest(http.MethodGet, "/logs?period="+period, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var data services.DashboardData
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
		assert.Len(t, data.RequestsOverTime, buckets, period)
	}
}
