package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
)

// NewServer builds an HTTP server with the WebSocket endpoint and the REST API.
func NewServer(hub *core.Hub, tokens TokenValidator, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, cfg.MaxMessageBytes, cfg.MaxRequestsPerMinute, logger)))

	handlers := NewAPIHandlers(hub, logger)
	api := router.Group("/api")
	api.GET("/users/:username", handlers.GetUser)

	protected := api.Group("")
	protected.Use(AuthMiddleware(tokens, logger))
	protected.GET("/messages", handlers.ListMessages)
	protected.GET("/presence", handlers.GetPresence)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
