package router

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"grit-backend/internal/config"
	"grit-backend/internal/handlers"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Market   *handlers.MarketHandler
	Treasury *handlers.TreasuryHandler
	Access   *handlers.AccessHandler
	Relay    *handlers.RelayHandler
	DB       *gorm.DB
}

// corsMiddleware CORS middleware
// Priority: Environment Variable > YAML Config > Default (*)
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowedOrigins := []string{"*"}
		allowCredentials := true
		maxAge := 3600

		if envOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); envOrigins != "" {
			parts := strings.Split(envOrigins, ",")
			allowedOrigins = allowedOrigins[:0]
			for _, o := range parts {
				if trimmed := strings.TrimSpace(o); trimmed != "" {
					allowedOrigins = append(allowedOrigins, trimmed)
				}
			}
		} else if config.AppConfig != nil && len(config.AppConfig.CORS.AllowedOrigins) > 0 {
			allowedOrigins = config.AppConfig.CORS.AllowedOrigins
			allowCredentials = config.AppConfig.CORS.AllowCredentials
			if config.AppConfig.CORS.MaxAge > 0 {
				maxAge = config.AppConfig.CORS.MaxAge
			}
		}

		origin := c.GetHeader("Origin")
		if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowed := range allowedOrigins {
				if strings.TrimSpace(allowed) == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
			if allowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		if allowCredentials && origin != "" {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Next()
	}
}

// requestLogMiddleware logs one structured line per request.
func requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}).Debug("request completed")
	}
}

// SetupRouter builds the gin engine and mounts all routes.
func SetupRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware(), requestLogMiddleware())

	r.GET("/health", handlers.HealthCheckHandler)
	if h.DB != nil {
		r.GET("/health/db", handlers.DatabaseHealthCheckHandler(h.DB))
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")

	market := v1.Group("/market")
	{
		market.GET("/state", h.Market.GetMarketStateHandler)
		market.POST("/quote/buy", h.Market.QuoteBuyHandler)
		market.POST("/quote/sell", h.Market.QuoteSellHandler)
		market.POST("/trade", h.Market.TradeHandler)
	}

	treasury := v1.Group("/treasury")
	{
		treasury.POST("/withdraw", h.Treasury.WithdrawHandler)
		treasury.GET("/capacity/:actor", h.Treasury.GetCapacityHandler)
		treasury.GET("/withdrawals/:actor", h.Treasury.GetWithdrawalHistoryHandler)
		treasury.POST("/scars", h.Treasury.RecordScarHandler)
	}

	staking := v1.Group("/staking")
	{
		staking.POST("/open", h.Treasury.OpenStakeHandler)
		staking.POST("/withdraw", h.Treasury.WithdrawStakeHandler)
	}

	v1.POST("/attributes/resonance", h.Treasury.AddResonanceHandler)
	v1.GET("/access/:actor/:domain", h.Access.CheckAccessHandler)

	relay := v1.Group("/relay")
	{
		relay.GET("/status", h.Relay.GetRelayStatusHandler)
		relay.GET("/deadletters", h.Relay.ListDeadLettersHandler)
	}

	return r
}
