package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func brandRouter(preset string) *gin.Engine {
	r := gin.New()
	if preset != "" {
		r.Use(func(c *gin.Context) {
			c.Set("tenant_id", preset)
			c.Next()
		})
	}
	r.Use(BrandContext())
	r.GET("/open", func(c *gin.Context) {
		c.String(http.StatusOK, GetBrandID(c))
	})
	r.GET("/scoped", RequireBrandID(), func(c *gin.Context) {
		c.String(http.StatusOK, GetBrandID(c))
	})
	return r
}

func TestBrandContext_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		tenant string
		header string
		query  string
		want   string
	}{
		{"istio tenant wins", "brand-istio", "brand-header", "brand-query", "brand-istio"},
		{"header before query", "", "brand-header", "brand-query", "brand-header"},
		{"query fallback", "", "", "brand-query", "brand-query"},
		{"whitespace ignored", "", "  ", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := brandRouter(tt.tenant)
			path := "/open"
			if tt.query != "" {
				path += "?brandId=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if tt.header != "" {
				req.Header.Set("X-Brand-ID", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}

func TestRequireBrandID(t *testing.T) {
	r := brandRouter("")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scoped", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "brand ID is required")

	req := httptest.NewRequest(http.MethodGet, "/scoped", nil)
	req.Header.Set("X-Brand-ID", "brand-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "brand-1", w.Body.String())
}

func TestCORS_AllowedOrigins(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://app.example.com", "https://*.brands.example.com"}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://app.example.com", true},
		{"https://acme.brands.example.com", true},
		{"http://acme.brands.example.com", false},
		{"https://evil.example.org", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if tt.allowed {
				assert.Equal(t, http.StatusOK, w.Code)
				assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Equal(t, http.StatusForbidden, w.Code)
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://app.example.com"}))
	r.PATCH("/connections/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/connections/1", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	req.Header.Set("Access-Control-Request-Headers", "X-Brand-ID")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Contains(t, strings.ToLower(w.Header().Get("Access-Control-Allow-Headers")), "x-brand-id")
}

func TestCORS_EmptyListAllowsAnyOrigin(t *testing.T) {
	r := gin.New()
	r.Use(CORS(nil))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://anywhere.example.net")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://anywhere.example.net", w.Header().Get("Access-Control-Allow-Origin"))
}
