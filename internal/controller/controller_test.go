package controller

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mongoreindex/mongoreindex"
	"github.com/mongoreindex/mongoreindex/internal/gateway/fake"
	"github.com/mongoreindex/mongoreindex/internal/router"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(groups ...router.Group) *gin.Engine {
	e := gin.New()
	router.Register(e, groups...)
	return e
}

func TestHealthLivenessAndReadiness(t *testing.T) {
	gw := fake.New()
	h := NewHealthController(gw)
	e := newEngine(h)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for /healthz, got %d", w.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w2 := httptest.NewRecorder()
	e.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Errorf("expected 200 for /readyz, got %d", w2.Code)
	}
}

func TestMetricsEndpointServesExposition(t *testing.T) {
	e := newEngine(NewMetricsController())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestJobControllerNotFoundWithoutRunningJob(t *testing.T) {
	j := NewJobController(func() *mongoreindex.JobState { return nil })
	e := newEngine(j)

	req := httptest.NewRequest(http.MethodGet, "/v1/job", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestJobControllerReturnsCollection(t *testing.T) {
	js := &mongoreindex.JobState{
		ClusterName: "rs0",
		DBName:      "shop",
		Collections: []*mongoreindex.CollectionRecord{{Name: "users", Status: mongoreindex.CollectionRunning}},
	}
	j := NewJobController(func() *mongoreindex.JobState { return js })
	e := newEngine(j)

	req := httptest.NewRequest(http.MethodGet, "/v1/collections/users", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/v1/collections/missing", nil)
	w2 := httptest.NewRecorder()
	e.ServeHTTP(w2, req2)
	if w2.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing collection, got %d", w2.Code)
	}
}
