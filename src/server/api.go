package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// APIServer serves the REST state, the websocket price stream and /metrics.
// -----------------------------------------------------------------------------

type APIServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	engine *gin.Engine
	http   *http.Server

	feeds   interfaces.IFeedController
	db      interfaces.IDatabase // optional
	metrics http.Handler         // optional

	// onUpdate persists accepted parameter changes, e.g. into the config file.
	onUpdate func(name string, params models.MFeedParameters) error

	// WebSocket clients, owned by the hub loop
	clients    map[*Client]struct{}
	broadcast  chan *models.MLatestData
	register   chan *Client
	unregister chan *Client
	replies    chan clientReply
	done       chan struct{}
	hubOnce    sync.Once
	stopOnce   sync.Once

	latestState *models.MLatestData
	stateMutex  sync.RWMutex
	connections int
}

// Option configures an APIServer.
type Option func(*APIServer)

// WithDatabase enables /api/cycles.
func WithDatabase(db interfaces.IDatabase) Option {
	return func(s *APIServer) { s.db = db }
}

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *APIServer) { s.metrics = h }
}

// WithParametersHook runs fn after PATCH /api/feeds/:name was applied.
func WithParametersHook(fn func(name string, params models.MFeedParameters) error) Option {
	return func(s *APIServer) { s.onUpdate = fn }
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewAPIServer(cfg *models.MConfig, feeds interfaces.IFeedController, log *logger.Logger, opts ...Option) *APIServer {
	if !strings.EqualFold(cfg.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}
	if log == nil {
		log = logger.NewLogger(cfg, "Server")
	}

	s := &APIServer{
		Config:     cfg,
		Logger:     log,
		engine:     gin.New(),
		feeds:      feeds,
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *models.MLatestData, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		replies:    make(chan clientReply, 16),
		done:       make(chan struct{}),
		latestState: &models.MLatestData{
			Type: "INITIAL",
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())

	// CORS for local dashboards
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

func (s *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Handler exposes the router, mostly for tests.
func (s *APIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/price", s.getPrice)
	api.GET("/feeds", s.getFeeds)
	api.GET("/feeds/:name", s.getFeed)
	api.PATCH("/feeds/:name", s.patchFeed)
	api.POST("/feeds/:name/start", s.startFeed)
	api.POST("/feeds/:name/stop", s.stopFeed)
	api.GET("/cycles", s.getCycles)
	api.GET("/config", s.getConfig)
	api.GET("/health", s.getHealth)

	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start serves until Stop is called.
func (s *APIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	s.startHub()

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *APIServer) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if s.http != nil {
			err = s.http.Shutdown(ctx)
		}
	})
	return err
}
