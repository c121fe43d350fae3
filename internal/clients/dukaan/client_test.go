package dukaan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"passport-sync-service/internal/clients"
)

const productsPayload = `{
  "success": true,
  "data": {
    "products": [
      {
        "id": "p-1",
        "name": "Linen Shirt",
        "description": "Breathable",
        "category": "Shirts",
        "price": 1999,
        "sale_price": 1499,
        "sku": " LS-1 ",
        "images": ["https://cdn.example.com/ls.jpg"],
        "status": "published",
        "updated_at": "2026-01-02T03:04:05Z"
      },
      {
        "id": "p-2",
        "name": "Canvas Tote",
        "price": 899,
        "status": "hidden",
        "variants": [
          {"id": "v-1", "sku": "CT-RED-M", "price": 899, "options": [{"name": "Colour", "value": "Red"}, {"name": "Size", "value": "M"}]},
          {"id": "v-2", "sku": "CT-BLU-M", "price": 799, "options": [{"name": "color", "value": "Blue"}]}
        ]
      }
    ],
    "pagination": {"current_page": 1, "total_pages": 2, "total": 3, "has_next": true}
  }
}`

func newTestServer(t *testing.T, handler http.HandlerFunc) *DukaanClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewDukaanClient(WithBaseURL(srv.URL+"/"), WithRateLimit(rate.Inf, 1))
	require.NoError(t, c.Initialize(context.Background(), "store-9", map[string]string{"api_key": "secret"}))
	return c
}

func TestInitialize_RequiresAccountAndKey(t *testing.T) {
	c := NewDukaanClient()
	assert.Error(t, c.Initialize(context.Background(), "", map[string]string{"api_key": "k"}))
	assert.Error(t, c.Initialize(context.Background(), "store", map[string]string{}))
	assert.NoError(t, c.Initialize(context.Background(), "store", map[string]string{"api_key": "k"}))
}

func TestListProducts_NormalizesPage(t *testing.T) {
	var storeCalls int32
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "store-9", r.Header.Get("X-Store-ID"))
		switch r.URL.Path {
		case "/store":
			atomic.AddInt32(&storeCalls, 1)
			_, _ = w.Write([]byte(`{"data":{"currency":"USD"}}`))
		case "/products":
			assert.Equal(t, "25", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(productsPayload))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	page, err := c.ListProducts(context.Background(), &clients.ListOptions{Limit: 25})
	require.NoError(t, err)
	require.Len(t, page.Products, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "2", page.NextCursor)
	require.NotNil(t, page.Total)
	assert.Equal(t, 3, *page.Total)

	simple := page.Products[0]
	assert.Equal(t, "p-1", simple.ExternalID)
	assert.Equal(t, "active", simple.Status)
	assert.Equal(t, "USD", simple.Currency)
	assert.Equal(t, "https://cdn.example.com/ls.jpg", simple.ImageURL)
	require.Len(t, simple.Variants, 1)
	assert.Equal(t, "LS-1", simple.Variants[0].SKU)
	require.NotNil(t, simple.Price)
	assert.Equal(t, "1499", simple.Price.String())

	tote := page.Products[1]
	assert.Equal(t, "draft", tote.Status)
	require.Len(t, tote.Variants, 2)
	assert.Equal(t, "Red", tote.Variants[0].Color)
	assert.Equal(t, "M", tote.Variants[0].Size)
	assert.Equal(t, "Blue", tote.Variants[1].Color)
	require.NotNil(t, tote.Price)
	assert.Equal(t, "799", tote.Price.String())

	// Store currency is fetched once per client
	_, err = c.ListProducts(context.Background(), &clients.ListOptions{Limit: 25, Cursor: "2"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&storeCalls))
}

func TestListProducts_DefaultsCurrency(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/store" {
			_, _ = w.Write([]byte(`{"data":{}}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"products":[{"id":"p","name":"n","price":10}],"pagination":{"current_page":1,"total":1}}}`))
	})

	page, err := c.ListProducts(context.Background(), &clients.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Products, 1)
	assert.Equal(t, "INR", page.Products[0].Currency)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
}

func TestTestConnection_ClassifiesErrors(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid token"}`))
	})

	err := c.TestConnection(context.Background())
	require.Error(t, err)
	assert.True(t, clients.IsAuthError(err))
}

func TestListProducts_MalformedBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/store" {
			_, _ = w.Write([]byte(`{"data":{"currency":"INR"}}`))
			return
		}
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := c.ListProducts(context.Background(), &clients.ListOptions{})
	require.Error(t, err)
	pe, ok := clients.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, clients.ErrorKindInvalidResponse, pe.Kind)
}
