package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/promptbridge-backend/internal/observability"
)

func TestMetricsRecordsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := observability.New()
	r := gin.New()
	r.Use(Metrics(m, "/metrics"))
	r.GET("/api/pipeline-runs/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/pipeline-runs/abc", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	if !strings.Contains(text, `promptbridge_api_requests_total{method="GET",route="/api/pipeline-runs/:id",status="404"} 1`) {
		t.Fatalf("route series missing:\n%s", text)
	}
	if strings.Contains(text, `route="/metrics"`) {
		t.Fatalf("skipped route was recorded:\n%s", text)
	}
}
