package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yume-project/yume/internal/bancho"
	"github.com/yume-project/yume/internal/beatmap"
	"github.com/yume-project/yume/internal/channel"
	"github.com/yume-project/yume/internal/config"
	"github.com/yume-project/yume/internal/db"
	"github.com/yume-project/yume/internal/match"
	intnet "github.com/yume-project/yume/internal/network"
	"github.com/yume-project/yume/internal/osu"
	"github.com/yume-project/yume/internal/presence"
	"github.com/yume-project/yume/internal/scoring"
)

// ScoreStore is the score lookup the web endpoints need beyond the pipeline.
type ScoreStore interface {
	BestScore(ctx context.Context, userID int32, checksum string, mode osu.PlayMode, variant osu.Variant) (*db.Score, error)
	GetScore(ctx context.Context, id int64) (*db.Score, error)
	GetReplay(ctx context.Context, checksum string) ([]byte, error)
}

// Deps are the services the HTTP handlers act on.
type Deps struct {
	Presences *presence.Registry
	Table     *bancho.Table
	Channels  *channel.Manager
	Matches   *match.Manager
	Beatmaps  *beatmap.Registry
	Pipeline  *scoring.Pipeline
	Scores    ScoreStore
}

// Server is the HTTP server for Yume.
type Server struct {
	cfg       *config.Config
	deps      Deps
	startedAt time.Time

	logins *RateLimiter

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server and builds its router.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		startedAt: time.Now(),
		logins:    NewLoginLimiter(cfg.GetSecurity().LoginPerMinute),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.ListenAddr()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("HTTP server starting")

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				s.httpServer.Shutdown(shutdownCtx)
				return
			case <-ticker.C:
				s.logins.Prune(10 * time.Minute)
			}
		}
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	sec := s.cfg.GetSecurity()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := sec.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "osu-token"},
		ExposeHeaders:    []string{"Content-Length", "cho-token"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(sec.RateLimitRPS).Middleware())

	router.POST("/", s.handleBancho)
	router.GET("/", s.handleBanchoIndex)

	web := router.Group("/web")
	{
		web.GET("/osu-osz2-getscores.php", s.handleGetScores)
		web.POST("/osu-submit-modular.php", s.handleSubmitScore)
		web.POST("/osu-submit-modular-selector.php", s.handleSubmitScore)
		web.GET("/osu-getreplay.php", s.handleGetReplay)
	}

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/online", s.handleOnline)
		public.GET("/matches", s.handleMatches)
		public.GET("/channels", s.handleChannels)
		public.GET("/leaderboard/:checksum", s.handleLeaderboard)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.String(http.StatusNotFound, "")
	})

	return router
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
