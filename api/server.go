// Package api is the HTTP and websocket surface of the detection server.
package api

import (
	"PersonDetServer/engine"
	iface "PersonDetServer/interface"
	"PersonDetServer/logger"
	"PersonDetServer/monitor"
	"PersonDetServer/worker"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MaxFrameBytes bounds request bodies and websocket messages.
const MaxFrameBytes = 20 * 1024 * 1024

type Server struct {
	Registry    *worker.Registry
	Pool        *worker.Pool
	NewBackend  worker.Factory
	ModelsDir   string
	StaticDir   string
	IdleTimeout time.Duration

	sessionMu sync.RWMutex
	sessions  map[string]*session
	upgrader  websocket.Upgrader
}

func NewServer(registry *worker.Registry, pool *worker.Pool, factory worker.Factory) *Server {
	return &Server{
		Registry:    registry,
		Pool:        pool,
		NewBackend:  factory,
		ModelsDir:   "models",
		IdleTimeout: 1000 * time.Millisecond,
		sessions:    map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// initEngineRequest leaves threshold and personIndex nil when the caller
// omits them, so an explicit zero survives.
type initEngineRequest struct {
	ModelPath   string   `json:"modelPath"`
	Threshold   *float32 `json:"threshold"`
	PersonIndex *int     `json:"personIndex"`
	ArenaSize   int      `json:"arenaSize"`
	NumThreads  int      `json:"numThreads"`
	UseEdgeTPU  bool     `json:"useEdgeTPU"`
	Description string   `json:"description"`
	SetDefault  bool     `json:"setDefault"`
}

func (r initEngineRequest) config() iface.EngineConfig {
	cfg := engine.DefaultConfig()
	cfg.ModelPath = r.ModelPath
	if r.Threshold != nil {
		cfg.Threshold = *r.Threshold
	}
	if r.PersonIndex != nil {
		cfg.PersonIndex = *r.PersonIndex
	}
	if r.ArenaSize != 0 {
		cfg.ArenaSize = r.ArenaSize
	}
	if r.NumThreads != 0 {
		cfg.NumThreads = r.NumThreads
	}
	cfg.UseEdgeTPU = r.UseEdgeTPU
	return cfg
}

type engineView struct {
	ID          string             `json:"id"`
	Description string             `json:"description"`
	State       string             `json:"state"`
	IsDefault   bool               `json:"isDefault"`
	Config      iface.EngineConfig `json:"config"`
	Created     time.Time          `json:"created"`
}

func (s *Server) view(e *worker.Engine) engineView {
	def, ok := s.Registry.Default()
	return engineView{
		ID:          e.ID,
		Description: e.Description,
		State:       e.Backend.Status(),
		IsDefault:   ok && def.ID == e.ID,
		Config:      e.Backend.CheckConfig(),
		Created:     e.Created,
	}
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog())
	if s.StaticDir != "" {
		if _, err := os.Stat(s.StaticDir); err == nil {
			r.Use(static.Serve("/", static.LocalFile(s.StaticDir, true)))
		}
	}
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/engines", s.listEngines)
	r.POST("/api/engines", s.initEngine)
	r.GET("/api/engines/:id", s.checkEngine)
	r.DELETE("/api/engines/:id", s.destroyEngine)
	r.POST("/api/engines/:id/detect", s.detect)
	r.POST("/api/detect", s.detect)
	r.POST("/api/models/upload", s.uploadModel)
	r.POST("/api/sessions", s.allocSession)
	r.POST("/api/sessions/:sessionID/release", s.releaseSession)
	r.GET("/ws/:sessionID", s.serveSession)
	return r
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log().Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) listEngines(c *gin.Context) {
	all := s.Registry.All()
	views := make([]engineView, 0, len(all))
	for _, e := range all {
		views = append(views, s.view(e))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) initEngine(c *gin.Context) {
	var req initEngineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := req.config()
	if cfg.ModelPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "modelPath is required"})
		return
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be between 0.0 and 1.0"})
		return
	}
	if cfg.PersonIndex < 0 || cfg.ArenaSize < 0 || cfg.NumThreads < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "personIndex, arenaSize and numThreads must not be negative"})
		return
	}
	backend, err := s.NewBackend(cfg)
	if err != nil {
		logger.Log().Error("engine init failed", zap.String("ModelPath", req.ModelPath), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	id := s.Registry.Add(backend, req.Description)
	if req.SetDefault {
		s.Registry.SetDefault(id)
	}
	c.JSON(http.StatusOK, gin.H{"data": id})
}

func (s *Server) checkEngine(c *gin.Context) {
	e, ok := s.Registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Engine not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.view(e)})
}

func (s *Server) destroyEngine(c *gin.Context) {
	id := c.Param("id")
	s.releaseEngineSessions(id)
	if !s.Registry.Remove(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Engine not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": "Engine destroyed"})
}

func (s *Server) engineFor(c *gin.Context) (*worker.Engine, bool) {
	if id := c.Param("id"); id != "" {
		e, ok := s.Registry.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Engine not found"})
		}
		return e, ok
	}
	e, ok := s.Registry.Default()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No default engine"})
	}
	return e, ok
}

func (s *Server) detect(c *gin.Context) {
	monitor.Request(monitor.TransportHTTP)
	e, ok := s.engineFor(c)
	if !ok {
		return
	}
	size := 0
	if q := c.Query("size"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid size"})
			return
		}
		size = n
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxFrameBytes)
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty body"})
		return
	}
	det, err := s.Pool.DetectFrame(c.Request.Context(), e.Backend, data, size, frameKind(c.ContentType()))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": det})
}

// frameKind maps a request Content-Type onto how the body is read;
// anything else is sniffed.
func frameKind(contentType string) worker.FrameKind {
	switch {
	case contentType == "application/octet-stream":
		return worker.FrameRaw
	case strings.HasPrefix(contentType, "image/"):
		return worker.FrameEncoded
	default:
		return worker.FrameAuto
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNilImage), errors.Is(err, engine.ErrInputSize), errors.Is(err, worker.ErrBadFrame):
		return http.StatusBadRequest
	case errors.Is(err, worker.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) uploadModel(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return
	}
	name := filepath.Base(filepath.Clean("/" + file.Filename))
	if name == "/" || name == "." || !strings.EqualFold(filepath.Ext(name), ".tflite") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Model must be a .tflite file"})
		return
	}
	if err := os.MkdirAll(s.ModelsDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create models dir: " + err.Error()})
		return
	}
	modelPath := filepath.Join(s.ModelsDir, name)
	if err := c.SaveUploadedFile(file, modelPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file: " + err.Error()})
		return
	}
	logger.Log().Info("model uploaded", zap.String("path", modelPath), zap.Int64("bytes", file.Size))
	c.JSON(http.StatusOK, gin.H{"data": modelPath})
}

// Start serves the router until Shutdown is called on the returned server.
func (s *Server) Start(port int) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Log().Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return srv
}
