package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmb-dev/mmb-engine/internal/exchange"
	"github.com/mmb-dev/mmb-engine/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSupervisor struct {
	health     HealthStatus
	uptimeMs   int64
	stats      []StrategyStats
	stopCalled bool
	proposed   []byte
	proposeErr error
	currentCfg any
}

func (s *stubSupervisor) Health() HealthStatus { return s.health }
func (s *stubSupervisor) UptimeMs() int64      { return s.uptimeMs }
func (s *stubSupervisor) Stats() []StrategyStats { return s.stats }
func (s *stubSupervisor) RequestStop(ctx context.Context) error {
	s.stopCalled = true
	return nil
}
func (s *stubSupervisor) CurrentConfig() (any, error) { return s.currentCfg, nil }
func (s *stubSupervisor) ProposeConfig(ctx context.Context, raw []byte) error {
	s.proposed = raw
	return s.proposeErr
}

func newTestServer(sup Supervisor) *Server {
	gin.SetMode(gin.TestMode)
	return &Server{sup: sup, limiter: exchange.NewRateLimiter(), logger: logging.New("controlplane", logging.Info)}
}

func buildRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(s.rateLimit())
	r.GET("/health", s.health)
	r.POST("/stop", s.stop)
	r.GET("/stats", s.stats)
	r.GET("/config", s.getConfig)
	r.POST("/config", s.postConfig)
	return r
}

func TestHealthReportsSupervisorStatus(t *testing.T) {
	sup := &stubSupervisor{health: StatusOK, uptimeMs: 42}
	r := buildRouter(newTestServer(sup))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStopRequestsSupervisorShutdown(t *testing.T) {
	sup := &stubSupervisor{}
	r := buildRouter(newTestServer(sup))

	req := httptest.NewRequest(http.MethodPost, "/stop", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, sup.stopCalled)
}

func TestPostConfigRejectsWhenSupervisorRejects(t *testing.T) {
	sup := &stubSupervisor{proposeErr: assert.AnError}
	r := buildRouter(newTestServer(sup))

	req := httptest.NewRequest(http.MethodPost, "/config", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsReturnsPerStrategySummary(t *testing.T) {
	sup := &stubSupervisor{stats: []StrategyStats{{Name: "pmm-1", ActiveOrders: 2}}}
	r := buildRouter(newTestServer(sup))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Strategies, 1)
	assert.Equal(t, "pmm-1", body.Strategies[0].Name)
}
