package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elskow/memorial-auth/internal/api"
	"github.com/elskow/memorial-auth/internal/auth"
	"github.com/elskow/memorial-auth/internal/config"
)

// HealthChecker reports whether the datastore answers.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	config     *config.AppConfig
	log        *zap.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

type Params struct {
	fx.In

	Config      *config.AppConfig
	Logger      *zap.Logger
	AuthHandler *auth.Handler
	Health      HealthChecker
}

func NewServer(p Params) *Server {
	if p.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(requestLogger(p.Logger.Named("http")), gin.CustomRecovery(func(c *gin.Context, recovered any) {
		p.Logger.Error("panic while handling request",
			zap.String("path", c.FullPath()),
			zap.Any("panic", recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "Something went wrong. Please try again.",
		})
	}))

	engine.GET(api.Health, healthHandler(p.Health))
	p.AuthHandler.RegisterRoutes(engine)

	addr := net.JoinHostPort(p.Config.Server.Host, p.Config.Server.Port)
	return &Server{
		config: p.Config,
		log:    p.Logger,
		engine: engine,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadTimeout:       p.Config.Server.ReadTimeout,
			ReadHeaderTimeout: p.Config.Server.ReadTimeout,
			WriteTimeout:      p.Config.Server.WriteTimeout,
		},
	}
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Start() error {
	s.log.Info("Starting HTTP server",
		zap.String("address", s.httpServer.Addr),
		zap.Object("config", serverConfigToField(s.config)),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func serverConfigToField(config *config.AppConfig) zapcore.ObjectMarshaler {
	return zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddString("environment", config.Env)
		enc.AddString("frontend_url", config.Server.FrontendURL)
		enc.AddBool("secure_cookies", config.Auth.SecureCookies)
		enc.AddString("oauth_state_backend", config.OAuthState.Backend)
		enc.AddBool("email_enabled", config.Email.Enabled)
		enc.AddBool("breach_screening", config.Breach.Enabled)
		return nil
	})
}

func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if timeout := s.config.Server.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

func healthHandler(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := checker.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// requestLogger logs one line per request. Query strings are left out since
// they carry sign-in and reset tokens.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
