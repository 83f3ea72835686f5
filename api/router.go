package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"caff_back/authorization"
	"caff_back/logging"
)

// RouterConfig describes the outer HTTP surface.
type RouterConfig struct {
	UIURL      string
	PreviewDir string
	Gatherer   prometheus.Gatherer
	Logger     logrus.FieldLogger
}

// NewRouter builds the gin engine with CORS, request logging, the public
// preview and metrics routes, and the routes of auth and module.
func NewRouter(cfg RouterConfig, auth *authorization.Module, module *Module) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logging.Component(cfg.Logger, "http")))

	if origin := strings.TrimSpace(cfg.UIURL); origin != "" {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     []string{strings.TrimRight(origin, "/")},
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			ExposeHeaders:    []string{"Content-Disposition", "ETag"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	if cfg.PreviewDir != "" {
		router.Static("/preview", cfg.PreviewDir)
	}
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		})))
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if auth != nil {
		auth.RegisterRoutes(router.Group("/api"))
	}
	if module != nil {
		module.RegisterRoutes(router)
	}
	return router
}

func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(started).Round(time.Millisecond).String(),
			"client":  c.ClientIP(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}
