package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabelsAndFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/v1/scripts/:id/likes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"script_id": c.Param("id"), "like_count": 0})
	})
	r.DELETE("/api/v1/scripts/:id", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	const likes = "/api/v1/scripts/:id/likes"
	baseLikes := testutil.ToFloat64(httpReqs.WithLabelValues("GET", likes, "200"))
	baseDel := testutil.ToFloat64(httpReqs.WithLabelValues("DELETE", "/api/v1/scripts/:id", "204"))
	baseMissing := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/api/v1/nowhere", "404"))

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/scripts/"+id+"/likes", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET likes/%s -> %d", id, w.Code)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/scripts/a", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE -> %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nowhere", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET missing -> %d", w.Code)
	}

	// Both ids collapse onto the route template.
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", likes, "200")); got != baseLikes+2 {
		t.Fatalf("likes counter = %v; want %v", got, baseLikes+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("DELETE", "/api/v1/scripts/:id", "204")); got != baseDel+1 {
		t.Fatalf("delete counter = %v; want %v", got, baseDel+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/api/v1/nowhere", "404")); got != baseMissing+1 {
		t.Fatalf("fallback counter = %v; want %v", got, baseMissing+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}

func TestMetrics_WebsocketSkipsLatency(t *testing.T) {
	gin.SetMode(gin.TestMode)

	const path = "/metrics-test/ws/notifications"
	r := gin.New()
	r.Use(Metrics())
	r.GET(path, func(c *gin.Context) {
		c.Status(http.StatusBadRequest)
	})

	baseReqs := testutil.ToFloat64(httpReqs.WithLabelValues("GET", path, "400"))
	baseSeries := testutil.CollectAndCount(httpLat)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", path, "400")); got != baseReqs+1 {
		t.Fatalf("ws counter = %v; want %v", got, baseReqs+1)
	}
	// No latency series was created for the websocket route.
	if got := testutil.CollectAndCount(httpLat); got != baseSeries {
		t.Fatalf("latency series = %d; want %d", got, baseSeries)
	}
}
