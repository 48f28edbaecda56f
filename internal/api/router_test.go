package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gaiageo/gaia/internal/api/middleware"
	"github.com/gaiageo/gaia/internal/domain"
	"github.com/gaiageo/gaia/internal/logger"
	"github.com/gaiageo/gaia/internal/repository"
	"github.com/gaiageo/gaia/internal/service"
	"github.com/gaiageo/gaia/internal/storage"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&domain.Job{}, &domain.JobLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := storage.NewMemoryStorage()
	jobService := service.NewJobService(repository.NewJobRepository(db), storage.NewStager(store), nil)
	return SetupRouter(jobService, db, store, logger.GetDefault(),
		middleware.CORSConfig{AllowAllOrigins: true}, "test")
}

func submitBody() []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"scenario":        "sparse",
		"x_column":        "x",
		"y_column":        "y",
		"value_column":    "value",
		"station_spacing": 10.0,
		"columns":         []string{"x", "y", "value"},
		"rows": []map[string]string{
			{"x": "0", "y": "0", "value": "1.5"},
			{"x": "10", "y": "0", "value": "2.5"},
		},
	})
	return body
}

func doJSON(t *testing.T, router http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", resp["status"])
	}
}

func TestJobLifecycleEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/jobs", submitBody())
	if w.Code != http.StatusAccepted {
		t.Fatalf("create status = %d, want 202: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Status != "pending" {
		t.Errorf("status = %q, want pending", created.Status)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/jobs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+created.ID+"/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d, want 200", w.Code)
	}
	var status struct {
		Progress string `json:"progress"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status.Progress == "" {
		t.Error("progress text missing")
	}

	// Result is not available until the pipeline completes.
	w = doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+created.ID+"/result", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("result status = %d, want 409: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/jobs/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", w.Code)
	}
}

func TestCreateJobValidation(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(map[string]interface{}{
		"scenario":     "sparse",
		"x_column":     "x",
		"y_column":     "y",
		"value_column": "value",
		"columns":      []string{"x", "y", "value"},
		"rows":         []map[string]string{{"x": "0", "y": "0", "value": "1"}},
	})
	w := doJSON(t, router, http.MethodPost, "/api/v1/jobs", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if want := "station_spacing"; !bytes.Contains([]byte(resp.Error), []byte(want)) {
		t.Errorf("error = %q, want mention of %q", resp.Error, want)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/jobs", nil)
	var list struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if list.Total != 0 {
		t.Errorf("jobs after rejected submission = %d, want 0", list.Total)
	}
}

func TestUnknownJobReturns404(t *testing.T) {
	router := newTestRouter(t)
	for _, path := range []string{
		"/api/v1/jobs/gaia-missing00000",
		"/api/v1/jobs/gaia-missing00000/status",
		"/api/v1/jobs/gaia-missing00000/result",
	} {
		w := doJSON(t, router, http.MethodGet, path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", path, w.Code)
		}
	}

	w := doJSON(t, router, http.MethodDelete, "/api/v1/jobs/gaia-missing00000", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("delete = %d, want 404", w.Code)
	}
}
