package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/signalrelay/internal/adapters/signal"
	"github.com/dkeye/signalrelay/internal/app"
	"github.com/dkeye/signalrelay/internal/auth"
	"github.com/dkeye/signalrelay/internal/config"
	"github.com/dkeye/signalrelay/internal/metrics"
	transport "github.com/dkeye/signalrelay/internal/transport/http"
)

// BearerAuthMiddleware verifies "Authorization: Bearer <token>" and stores
// the resulting user under transport.UserKey.
func BearerAuthMiddleware(v auth.Verifier, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		ctx := c.Request.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		user, err := v.Verify(ctx, token)
		if err != nil {
			log.Info().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("bearer auth rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(transport.UserKey, user)
		c.Next()
	}
}

type healthResponse struct {
	Status string `json:"status"`
	metrics.Stats
}

func SetupRouter(ctx context.Context, cfg *config.Config, gate *app.Gate, verifier auth.Verifier, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, healthResponse{Status: "ok", Stats: gate.Stats()})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")

	ctrl := signal.NewSignalWSController(gate, signal.Config{
		ReadLimit:  cfg.ReadLimit,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	devices := api.Group("", BearerAuthMiddleware(verifier, cfg.Auth.VerifyTimeout))
	(&transport.DeviceHandlers{Devices: gate}).Register(devices)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
