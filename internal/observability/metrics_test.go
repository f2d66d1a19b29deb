package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgelink/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("admin", "GET", "/health", 200, 12*time.Millisecond)
	RecordConnect("obs-a", "tcp-client")
	RecordDisconnect("obs-a", "read")
	RecordRejectedPeer("obs-a")
	RecordRequests("obs-a", OutcomeTimeout, 2)
	SetChannelState("obs-a", "tcp-client", 3)
	SetQueuedBytes("obs-a", 42)
}

func TestRecordTrafficCountsFramesAndBytes(t *testing.T) {
	testlog.Start(t)
	RecordTraffic("obs-b", DirectionOut, 10)
	RecordTraffic("obs-b", DirectionOut, 6)
	if got := testutil.ToFloat64(channelFrames.WithLabelValues("obs-b", DirectionOut)); got != 2 {
		t.Fatalf("frames got=%v", got)
	}
	if got := testutil.ToFloat64(channelBytes.WithLabelValues("obs-b", DirectionOut)); got != 16 {
		t.Fatalf("bytes got=%v", got)
	}
}

func TestRequestLoggerLevels(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := gin.New()
	r.Use(RequestLogger(logger), RequestMetricsMiddleware("admin"))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/ok", "/bad", "/health"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"info"`) || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
	if !strings.Contains(out, `"level":"debug"`) {
		t.Fatalf("health check hits should log at debug: %s", out)
	}
}
