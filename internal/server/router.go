package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/sidewatch/internal/health"
	"github.com/loykin/sidewatch/internal/history"
	"github.com/loykin/sidewatch/internal/monitor"
)

// Backend is the supervisor surface the HTTP API exposes.
type Backend interface {
	Status() monitor.Snapshot
	Health(ctx context.Context) (health.Status, error)
	Shutdown(ctx context.Context) error
	Restart(ctx context.Context) error
}

// HistoryReader is optionally implemented by history sinks that can be
// queried back (the SQLite journal can, the export-only sinks cannot).
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Event, error)
}

// Router provides embeddable HTTP handlers for the supervisor.
// Endpoints:
//
//	GET  {basePath}/status    current snapshot
//	GET  {basePath}/health    one ad-hoc probe of the backend
//	POST {basePath}/shutdown  begin the exit sequence, replies 202
//	POST {basePath}/restart   restart a stopped/crashed backend
//	GET  {basePath}/history   recent lifecycle events (when a reader is set)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	backend  Backend
	reader   HistoryReader
	basePath string
}

func NewRouter(b Backend, basePath string) *Router {
	return &Router{backend: b, basePath: sanitizeBase(basePath)}
}

// WithHistory enables GET /history backed by r.
func (rt *Router) WithHistory(r HistoryReader) *Router {
	rt.reader = r
	return rt
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (rt *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(rt.basePath)
	group.GET("/status", rt.handleStatus)
	group.GET("/health", rt.handleHealth)
	group.POST("/shutdown", rt.handleShutdown)
	group.POST("/restart", rt.handleRestart)
	if rt.reader != nil {
		group.GET("/history", rt.handleHistory)
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Stop it with http.Server's Shutdown or Close.
func NewServer(addr, basePath string, b Backend) *http.Server {
	r := NewRouter(b, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

func (rt *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, rt.backend.Status())
}

func (rt *Router) handleHealth(c *gin.Context) {
	st, err := rt.backend.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleShutdown is asynchronous: it acknowledges immediately and runs
// the exit sequence in the background, so the caller is not held for the
// full shutdown timeout.
func (rt *Router) handleShutdown(c *gin.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		_ = rt.backend.Shutdown(ctx)
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "shutting down"})
}

func (rt *Router) handleRestart(c *gin.Context) {
	if err := rt.backend.Restart(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rt.backend.Status())
}

func (rt *Router) handleHistory(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := rt.reader.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}
