// Package controlplane exposes the engine's operator-facing HTTP surface
// (spec.md §6): health, stop, stats, config read/write. It directly
// generalizes the teacher's internal/api/http package (gin router, JSON
// handlers) and internal/middleware's rate limiter, swapped from a
// per-client-header throttle to a per-endpoint-class token bucket
// (spec.md §5).
package controlplane

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmb-dev/mmb-engine/internal/exchange"
	"github.com/mmb-dev/mmb-engine/internal/logging"
)

// HealthStatus mirrors spec.md §6's GET /health contract.
type HealthStatus string

const (
	StatusOK           HealthStatus = "ok"
	StatusStarting     HealthStatus = "starting"
	StatusShuttingDown HealthStatus = "shutting_down"
)

// StrategyStats is one strategy's row in GET /stats.
type StrategyStats struct {
	Name             string            `json:"name"`
	Degraded         bool              `json:"degraded"`
	ActiveOrders     int               `json:"active_orders"`
	ReservedBalances map[string]string `json:"reserved_balances"`
	RealizedPnl      map[string]string `json:"realized_pnl"`
	ErrorCounts      map[string]int    `json:"error_counts"`
}

// Stats is the full GET /stats payload.
type Stats struct {
	UptimeMs   int64           `json:"uptime_ms"`
	Strategies []StrategyStats `json:"strategies"`
}

// Supervisor is the subset of the engine supervisor's surface the control
// plane drives. Defined here so controlplane has no import-time dependency
// on the supervisor package.
type Supervisor interface {
	Health() HealthStatus
	UptimeMs() int64
	Stats() []StrategyStats
	RequestStop(ctx context.Context) error
	CurrentConfig() (any, error)
	ProposeConfig(ctx context.Context, raw []byte) error
}

// Server is the gin-based control-plane HTTP server.
type Server struct {
	sup     Supervisor
	limiter *exchange.RateLimiter
	logger  *logging.Logger
	addr    string
}

// New builds a Server bound to sup, listening on addr once Run is called.
func New(sup Supervisor, addr string, logger *logging.Logger) *Server {
	return &Server{
		sup:     sup,
		limiter: exchange.NewRateLimiter(),
		logger:  logger,
		addr:    addr,
	}
}

// Run blocks serving the control plane until the process exits or the
// underlying gin Run returns an error.
func (s *Server) Run() error {
	r := gin.Default()
	r.Use(s.rateLimit())

	r.GET("/health", s.health)
	r.POST("/stop", s.stop)
	r.GET("/stats", s.stats)
	r.GET("/config", s.getConfig)
	r.POST("/config", s.postConfig)

	return r.Run(s.addr)
}

// rateLimit throttles the control plane itself at the exchange.ClassAccount
// rate (control-plane calls are treated like account-level calls for
// budgeting purposes, spec.md §5).
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.limiter.Wait(ctx, exchange.ClassAccount); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    s.sup.Health(),
		"uptime_ms": s.sup.UptimeMs(),
	})
}

func (s *Server) stop(c *gin.Context) {
	if err := s.sup.RequestStop(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "shutdown requested"})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, Stats{
		UptimeMs:   s.sup.UptimeMs(),
		Strategies: s.sup.Stats(),
	})
}

func (s *Server) getConfig(c *gin.Context) {
	cfg, err := s.sup.CurrentConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) postConfig(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.sup.ProposeConfig(c.Request.Context(), body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "config accepted, engine will restart"})
}
