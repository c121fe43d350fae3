package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const brandIDKey = "brandId"

// CORS handles Cross-Origin Resource Sharing for the dashboard origins
func CORS(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Brand-ID", "X-Tenant-ID", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	var wildcards []string
	for _, o := range allowedOrigins {
		if strings.HasPrefix(o, "https://*.") {
			wildcards = append(wildcards, strings.TrimPrefix(o, "https://*"))
			continue
		}
		config.AllowOrigins = append(config.AllowOrigins, o)
	}
	if len(allowedOrigins) == 0 {
		// Same policy as the progress websocket: no list means any origin
		config.AllowOriginFunc = func(string) bool { return true }
	} else if len(wildcards) > 0 {
		exact := config.AllowOrigins
		config.AllowOrigins = nil
		config.AllowOriginFunc = func(origin string) bool {
			for _, o := range exact {
				if o == origin {
					return true
				}
			}
			for _, suffix := range wildcards {
				if strings.HasPrefix(origin, "https://") && strings.HasSuffix(origin, suffix) {
					return true
				}
			}
			return false
		}
	}

	return cors.New(config)
}

// BrandContext resolves the acting brand from IstioAuth, the X-Brand-ID header
// or the brandId query parameter. Browsers cannot set headers on EventSource
// requests, so the progress stream relies on the query fallback.
func BrandContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		brandID := c.GetString("tenant_id")
		if brandID == "" {
			brandID = c.GetHeader("X-Brand-ID")
		}
		if brandID == "" {
			brandID = c.Query("brandId")
		}
		if brandID = strings.TrimSpace(brandID); brandID != "" {
			c.Set(brandIDKey, brandID)
		}
		c.Next()
	}
}

// RequireBrandID ensures a brand ID is present
func RequireBrandID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetBrandID(c) == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "brand ID is required"})
			return
		}
		c.Next()
	}
}

// GetBrandID retrieves the brand ID from the context
func GetBrandID(c *gin.Context) string {
	return c.GetString(brandIDKey)
}

// RequestLogger logs one line per request
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Health probes and metrics scrapes would drown everything else
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/metrics" {
			return
		}

		entry := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"brand_id": GetBrandID(c),
			"ip":       c.ClientIP(),
		})
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("Request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Debug("Request handled")
		}
	}
}
