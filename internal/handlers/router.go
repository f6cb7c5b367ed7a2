package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires the endpoints. maxUploadBytes bounds the request body of
// predict routes.
func NewRouter(h *Handler, maxUploadBytes int64, logger *zap.Logger) *gin.Engine {
	eng := gin.New()
	eng.MaxMultipartMemory = 8 << 20

	eng.Use(gin.Recovery(), accessLog(logger.Named("http")), cors.New(corsConfig()))

	eng.GET("/health", h.Health)
	eng.GET("/uploads/:filename", h.Uploaded)

	for _, ep := range h.endpoints {
		eng.OPTIONS(ep.Route, h.Preflight)
		eng.POST(ep.Route, limitBody(maxUploadBytes), h.Predict(ep))
	}

	return eng
}

func corsConfig() cors.Config {
	return cors.Config{
		AllowAllOrigins:           true,
		AllowMethods:              []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:              []string{"Content-Type", "Authorization"},
		ExposeHeaders:             []string{PredictionHeader},
		MaxAge:                    12 * time.Hour,
		OptionsResponseStatusCode: http.StatusOK,
	}
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
