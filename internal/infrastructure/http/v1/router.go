package v1

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/config"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(handler *handler.Handler, l logger.Logger, cfg *config.Config) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORS.AllowedOrigins) == 0 || cfg.CORS.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.ExposeHeaders = []string{"X-Tile-Source", requestIDHeader}
	r.Use(cors.New(corsConfig))

	if cfg.Telemetry.Enabled {
		r.Use(telemetry.GinMiddleware())
	}

	r.Use(ginZapLogger(l))

	api := r.Group("/api")
	v1 := api.Group("/v1")

	v1.GET("/healthz", handler.Healthz)
	v1.GET("/tile/:z/:x/:y", handler.Tile)
	v1.GET("/cache/stats", handler.CacheStats)
	v1.POST("/origin", handler.Origin)
	v1.PUT("/window", handler.Window)
	v1.POST("/hover", handler.Hover)
	v1.DELETE("/hover", handler.Leave)
	v1.GET("/legend", handler.Legend)
	v1.GET("/agencies", handler.Agencies)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

const (
	requestIDHeader = "X-Request-ID"
	tileRoute       = "/api/v1/tile/:z/:x/:y"
)

// ginZapLogger hands every request a child logger tagged with its request
// id, and tile requests with their tile, then logs the outcome.
func ginZapLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		rl := l.With("request_id", id)
		if z := c.Param("z"); z != "" {
			rl = rl.With("tile", z+"/"+c.Param("x")+"/"+c.Param("y"))
		}
		c.Set("logger", rl)
		c.Request = c.Request.WithContext(logger.WithLogger(c.Request.Context(), rl))

		start := time.Now()

		c.Next()

		fields := []any{
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"ip", c.ClientIP(),
			"latency", time.Since(start),
			"size", c.Writer.Size(),
		}
		if src := c.Writer.Header().Get("X-Tile-Source"); src != "" {
			fields = append(fields, "source", src)
		}

		// tiles are requested in bursts and would drown everything else
		if c.FullPath() == tileRoute && c.Writer.Status() < http.StatusBadRequest {
			rl.Debug("request", fields...)
			return
		}
		rl.Info("request", fields...)
	}
}
