package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cpomsoft/clev2er/pkg/common/logger"
)

// Server 运行状态HTTP服务器
type Server struct {
	host   string
	port   int
	engine *gin.Engine
	server *http.Server
}

// NewServer 创建状态服务器并注册路由Provider
func NewServer(host string, port int, providers ...RouteProvider) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// 恢复中间件
	engine.Use(gin.Recovery())

	// 日志中间件
	engine.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health"},
	}))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for _, provider := range providers {
		group := engine.Group(provider.GetGroupPath())
		group.Use(provider.GetMiddlewares()...)
		provider.RegisterRoutes(group)
		logger.Debugf("route provider %s registered at %s", provider.GetName(), provider.GetGroupPath())
	}

	return &Server{
		host:   host,
		port:   port,
		engine: engine,
	}
}

// Start 启动监听，非阻塞
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.engine,
	}

	go func() {
		logger.Infof("status server listening on %s:%d", s.host, s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("status server failed: %v", err)
		}
	}()
}

// Shutdown 优雅停止
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown failed: %w", err)
	}

	logger.Infof("status server stopped")
	return nil
}
