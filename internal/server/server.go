package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/handler"
)

// Server assembles the gin router with middleware and routes.
type Server struct {
	router *gin.Engine
	logger *zap.Logger
}

// New builds the router in release mode with recovery and CORS.
func New(h *handler.Handler, maxUploadBytes int64, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.MaxMultipartMemory = 8 << 20

	if maxUploadBytes > 0 {
		router.Use(limitBodySize(maxUploadBytes))
	}

	h.RegisterRoutes(router)

	return &Server{
		router: router,
		logger: logger,
	}
}

// Router exposes the configured engine for the HTTP server.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// limitBodySize caps upload size; oversized requests fail at read time
// instead of filling scratch space.
func limitBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
