package dukaan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"passport-sync-service/internal/clients"
	"passport-sync-service/internal/models"
)

const (
	defaultBaseURL  = "https://api.mydukaan.io/api/v1"
	defaultCurrency = "INR"
)

// Option configures a DukaanClient
type Option func(*DukaanClient)

// WithBaseURL points the client at another API host
func WithBaseURL(baseURL string) Option {
	return func(c *DukaanClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithRateLimit replaces the default request rate
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *DukaanClient) {
		c.rateLimiter = rate.NewLimiter(limit, burst)
	}
}

// DukaanClient implements ProviderClient for Dukaan
type DukaanClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	storeID     string
	rateLimiter *rate.Limiter

	mu            sync.Mutex
	storeCurrency string
	storeLoaded   bool
}

// NewDukaanClient creates a new Dukaan API client
func NewDukaanClient(opts ...Option) *DukaanClient {
	c := &DukaanClient{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     defaultBaseURL,
		rateLimiter: rate.NewLimiter(rate.Limit(10), 1), // 10 requests per second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Slug returns the connector slug
func (c *DukaanClient) Slug() models.ConnectorSlug {
	return models.ConnectorDukaan
}

// Initialize sets up the client with the store id and API key
func (c *DukaanClient) Initialize(ctx context.Context, account string, credentials map[string]string) error {
	if account == "" {
		return fmt.Errorf("missing store_id")
	}
	c.storeID = account

	apiKey := credentials["api_key"]
	if apiKey == "" {
		return fmt.Errorf("missing api_key")
	}
	c.apiKey = apiKey

	return nil
}

// TestConnection verifies the connection is working
func (c *DukaanClient) TestConnection(ctx context.Context) error {
	_, err := c.currency(ctx)
	return err
}

// ListProducts fetches one page of products
func (c *DukaanClient) ListProducts(ctx context.Context, opts *clients.ListOptions) (*clients.ProductsPage, error) {
	currency, err := c.currency(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	} else {
		params.Set("limit", "50")
	}
	if opts.Cursor != "" {
		params.Set("page", opts.Cursor)
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/products", params)
	if err != nil {
		return nil, err
	}

	var response struct {
		Success bool `json:"success"`
		Data    struct {
			Products   []dukaanProduct `json:"products"`
			Pagination struct {
				CurrentPage int  `json:"current_page"`
				TotalPages  int  `json:"total_pages"`
				Total       int  `json:"total"`
				HasNext     bool `json:"has_next"`
			} `json:"pagination"`
		} `json:"data"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return nil, clients.NewDecodeError(models.ConnectorDukaan, fmt.Errorf("failed to parse products response: %w", err))
	}

	products := make([]clients.SourceProduct, 0, len(response.Data.Products))
	for _, p := range response.Data.Products {
		products = append(products, convertDukaanProduct(p, currency))
	}

	nextCursor := ""
	if response.Data.Pagination.HasNext {
		nextCursor = strconv.Itoa(response.Data.Pagination.CurrentPage + 1)
	}
	total := response.Data.Pagination.Total

	return &clients.ProductsPage{
		Products:   products,
		NextCursor: nextCursor,
		HasMore:    response.Data.Pagination.HasNext,
		Total:      &total,
	}, nil
}

func (c *DukaanClient) currency(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storeLoaded {
		return c.storeCurrency, nil
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/store", nil)
	if err != nil {
		return "", err
	}
	var response struct {
		Data struct {
			Currency string `json:"currency"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", clients.NewDecodeError(models.ConnectorDukaan, fmt.Errorf("failed to parse store response: %w", err))
	}
	c.storeCurrency = response.Data.Currency
	if c.storeCurrency == "" {
		c.storeCurrency = defaultCurrency
	}
	c.storeLoaded = true
	return c.storeCurrency, nil
}

func (c *DukaanClient) doRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	// Rate limiting
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Store-ID", c.storeID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, clients.NewTransportError(models.ConnectorDukaan, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, clients.NewTransportError(models.ConnectorDukaan, err)
	}

	if resp.StatusCode >= 400 {
		return nil, clients.NewHTTPError(models.ConnectorDukaan, resp, respBody)
	}

	return respBody, nil
}

// Dukaan data structures
type dukaanProduct struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       float64         `json:"price"`
	SalePrice   *float64        `json:"sale_price"`
	SKU         string          `json:"sku"`
	Images      []string        `json:"images"`
	Variants    []dukaanVariant `json:"variants"`
	Status      string          `json:"status"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type dukaanVariant struct {
	ID        string   `json:"id"`
	SKU       string   `json:"sku"`
	Price     float64  `json:"price"`
	SalePrice *float64 `json:"sale_price"`
	Options   []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"options"`
}

func convertDukaanProduct(p dukaanProduct, currency string) clients.SourceProduct {
	product := clients.SourceProduct{
		ExternalID:  p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Status:      mapDukaanStatus(p.Status),
		Currency:    currency,
		UpdatedAt:   p.UpdatedAt,
	}
	if len(p.Images) > 0 {
		product.ImageURL = p.Images[0]
	}

	// Simple products carry their SKU on the product itself
	if len(p.Variants) == 0 {
		price := effectivePrice(p.Price, p.SalePrice)
		product.Variants = []clients.SourceVariant{{
			ExternalID: p.ID,
			SKU:        strings.TrimSpace(p.SKU),
			Price:      &price,
		}}
	} else {
		for _, v := range p.Variants {
			price := effectivePrice(v.Price, v.SalePrice)
			variant := clients.SourceVariant{
				ExternalID: v.ID,
				SKU:        strings.TrimSpace(v.SKU),
				Price:      &price,
			}
			for _, opt := range v.Options {
				switch strings.ToLower(opt.Name) {
				case "color", "colour":
					variant.Color = opt.Value
				case "size":
					variant.Size = opt.Value
				}
			}
			product.Variants = append(product.Variants, variant)
		}
	}
	product.Price = clients.LowestVariantPrice(product.Variants)

	return product
}

func effectivePrice(price float64, salePrice *float64) decimal.Decimal {
	if salePrice != nil {
		return decimal.NewFromFloat(*salePrice)
	}
	return decimal.NewFromFloat(price)
}

func mapDukaanStatus(status string) string {
	switch strings.ToLower(status) {
	case "active", "published", "live":
		return "active"
	case "archived", "deleted":
		return "archived"
	default:
		return "draft"
	}
}
