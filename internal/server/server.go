// Package server is the REST backend of record for student records.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smis/internal/auth"
	"smis/internal/httpmiddleware"
	"smis/internal/metrics"
	"smis/internal/store"
)

// Pinger reports database liveness for /health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Credentials is the single account allowed to log in.
type Credentials struct {
	Email        string
	UserID       string
	PasswordHash string
}

// Config wires the server's collaborators.
type Config struct {
	Students        *store.Students
	DB              Pinger
	Signer          *auth.Signer
	Credentials     Credentials
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	Gatherer        prometheus.Gatherer
	RateLimitPerMin int
	CORSOrigins     []string
}

// Server serves /api/students over the store.
type Server struct {
	students *store.Students
	db       Pinger
	signer   *auth.Signer
	creds    Credentials
	logger   *slog.Logger
	now      func() time.Time
	engine   *gin.Engine
}

// New builds the router.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		students: cfg.Students,
		db:       cfg.DB,
		signer:   cfg.Signer,
		creds:    cfg.Credentials,
		logger:   cfg.Logger,
		now:      time.Now,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLog(cfg.Logger, "/health", "/metrics"))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.Metrics(cfg.Metrics))

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/health", s.health)

	api := r.Group("/api")
	api.GET("/health", s.health)
	limits := httpmiddleware.NewLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	api.POST("/auth/login", limits.Handler(httpmiddleware.ByIP), s.login)

	students := api.Group("/students", auth.BearerAuth(cfg.Signer), limits.Handler(bySubject))
	students.GET("", s.listStudents)
	students.GET("/search", s.searchStudents)
	students.POST("/sync", s.syncStudents)
	students.GET("/:id", s.getStudent)
	students.POST("", s.createStudent)
	students.PUT("/:id", s.updateStudent)
	students.DELETE("/:id", s.deleteStudent)

	s.engine = r
	return s
}

// bySubject keys authenticated requests by the token's subject.
func bySubject(c *gin.Context) string {
	if claims, ok := auth.FromContext(c); ok && claims.Subject != "" {
		return "user:" + claims.Subject
	}
	return httpmiddleware.ByIP(c)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       24 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func (s *Server) health(c *gin.Context) {
	dbHealthy := s.db == nil || s.db.PingContext(c.Request.Context()) == nil
	status := http.StatusOK
	if !dbHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": strings.ToLower(http.StatusText(status)), "db": dbHealthy})
}
