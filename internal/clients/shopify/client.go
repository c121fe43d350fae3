package shopify

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
	apiVersion = "2024-01"
)

// Option configures a ShopifyClient
type Option func(*ShopifyClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *ShopifyClient) {
		c.httpClient = httpClient
	}
}

// WithRateLimit replaces the default request rate
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *ShopifyClient) {
		c.rateLimiter = rate.NewLimiter(limit, burst)
	}
}

// ShopifyClient implements ProviderClient for the Shopify Admin REST API
type ShopifyClient struct {
	httpClient  *http.Client
	storeURL    string
	accessToken string
	rateLimiter *rate.Limiter

	mu           sync.Mutex
	shopCurrency string
	shopLoaded   bool
}

// NewShopifyClient creates a new Shopify Admin API client
func NewShopifyClient(opts ...Option) *ShopifyClient {
	c := &ShopifyClient{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		rateLimiter: rate.NewLimiter(rate.Limit(2), 1), // 2 requests per second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Slug returns the connector slug
func (c *ShopifyClient) Slug() models.ConnectorSlug {
	return models.ConnectorShopify
}

// Initialize sets up the client for a store.
// account is the store name, a myshopify domain, or a full base URL.
func (c *ShopifyClient) Initialize(ctx context.Context, account string, credentials map[string]string) error {
	if account == "" {
		return fmt.Errorf("missing store name")
	}
	c.storeURL = StoreURL(account)

	accessToken := credentials["access_token"]
	if accessToken == "" {
		return fmt.Errorf("missing access_token")
	}
	c.accessToken = accessToken

	return nil
}

// StoreURL normalizes a store identifier to its base URL
func StoreURL(account string) string {
	if strings.HasPrefix(account, "http://") || strings.HasPrefix(account, "https://") {
		return strings.TrimRight(account, "/")
	}
	if strings.HasSuffix(account, ".myshopify.com") {
		return "https://" + account
	}
	return fmt.Sprintf("https://%s.myshopify.com", account)
}

// ShopDomain normalizes a store identifier to its myshopify domain
func ShopDomain(account string) string {
	u, err := url.Parse(StoreURL(account))
	if err != nil {
		return account
	}
	return u.Host
}

// TestConnection verifies the connection is working
func (c *ShopifyClient) TestConnection(ctx context.Context) error {
	_, err := c.currency(ctx)
	return err
}

// ListProducts fetches one page of products.
// The first page also resolves the shop currency and the product count.
func (c *ShopifyClient) ListProducts(ctx context.Context, opts *clients.ListOptions) (*clients.ProductsPage, error) {
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

	var total *int
	if opts.Cursor != "" {
		// Shopify rejects filters alongside page_info
		params.Set("page_info", opts.Cursor)
	} else {
		if !opts.UpdatedAfter.IsZero() {
			params.Set("updated_at_min", opts.UpdatedAfter.Format(time.RFC3339))
		}
		count, err := c.countProducts(ctx, opts.UpdatedAfter)
		if err != nil {
			return nil, err
		}
		total = &count
	}

	body, headers, err := c.doRequestWithHeaders(ctx, http.MethodGet, "/products.json", params)
	if err != nil {
		return nil, err
	}

	var response struct {
		Products []shopifyProduct `json:"products"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, clients.NewDecodeError(models.ConnectorShopify, fmt.Errorf("failed to parse products response: %w", err))
	}

	products := make([]clients.SourceProduct, 0, len(response.Products))
	for _, p := range response.Products {
		products = append(products, convertShopifyProduct(p, currency))
	}

	// Parse pagination from Link header
	nextCursor := ""
	hasMore := false
	if linkHeader := headers.Get("Link"); linkHeader != "" {
		nextCursor, hasMore = parseShopifyPagination(linkHeader)
	}

	return &clients.ProductsPage{
		Products:   products,
		NextCursor: nextCursor,
		HasMore:    hasMore,
		Total:      total,
	}, nil
}

func (c *ShopifyClient) currency(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shopLoaded {
		return c.shopCurrency, nil
	}

	body, _, err := c.doRequestWithHeaders(ctx, http.MethodGet, "/shop.json", nil)
	if err != nil {
		return "", err
	}
	var response struct {
		Shop struct {
			Currency string `json:"currency"`
		} `json:"shop"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", clients.NewDecodeError(models.ConnectorShopify, fmt.Errorf("failed to parse shop response: %w", err))
	}
	c.shopCurrency = response.Shop.Currency
	c.shopLoaded = true
	return c.shopCurrency, nil
}

func (c *ShopifyClient) countProducts(ctx context.Context, updatedAfter time.Time) (int, error) {
	params := url.Values{}
	if !updatedAfter.IsZero() {
		params.Set("updated_at_min", updatedAfter.Format(time.RFC3339))
	}
	body, _, err := c.doRequestWithHeaders(ctx, http.MethodGet, "/products/count.json", params)
	if err != nil {
		return 0, err
	}
	var response struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, clients.NewDecodeError(models.ConnectorShopify, fmt.Errorf("failed to parse count response: %w", err))
	}
	return response.Count, nil
}

func (c *ShopifyClient) doRequestWithHeaders(ctx context.Context, method, path string, params url.Values) ([]byte, http.Header, error) {
	// Rate limiting
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	fullURL := fmt.Sprintf("%s/admin/api/%s%s", c.storeURL, apiVersion, path)
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, nil, err
	}

	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, clients.NewTransportError(models.ConnectorShopify, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, clients.NewTransportError(models.ConnectorShopify, err)
	}

	if resp.StatusCode >= 400 {
		return nil, nil, clients.NewHTTPError(models.ConnectorShopify, resp, respBody)
	}

	return respBody, resp.Header, nil
}

// Shopify data structures
type shopifyProduct struct {
	ID          int64            `json:"id"`
	Title       string           `json:"title"`
	BodyHTML    string           `json:"body_html"`
	ProductType string           `json:"product_type"`
	Status      string           `json:"status"`
	Tags        string           `json:"tags"`
	Variants    []shopifyVariant `json:"variants"`
	Image       *shopifyImage    `json:"image"`
	Options     []shopifyOption  `json:"options"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type shopifyVariant struct {
	ID      int64  `json:"id"`
	SKU     string `json:"sku"`
	Barcode string `json:"barcode"`
	Price   string `json:"price"`
	Option1 string `json:"option1"`
	Option2 string `json:"option2"`
	Option3 string `json:"option3"`
}

type shopifyImage struct {
	Src string `json:"src"`
}

type shopifyOption struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

func convertShopifyProduct(p shopifyProduct, currency string) clients.SourceProduct {
	product := clients.SourceProduct{
		ExternalID:  strconv.FormatInt(p.ID, 10),
		Name:        p.Title,
		Description: p.BodyHTML,
		Category:    p.ProductType,
		Status:      p.Status,
		Currency:    currency,
		UpdatedAt:   p.UpdatedAt,
	}

	if p.Tags != "" {
		for _, tag := range strings.Split(p.Tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				product.Tags = append(product.Tags, tag)
			}
		}
	}
	if p.Image != nil {
		product.ImageURL = p.Image.Src
	}

	colorPos, sizePos := optionPositions(p.Options)
	for _, v := range p.Variants {
		variant := clients.SourceVariant{
			ExternalID: strconv.FormatInt(v.ID, 10),
			SKU:        strings.TrimSpace(v.SKU),
			Barcode:    strings.TrimSpace(v.Barcode),
			Color:      v.option(colorPos),
			Size:       v.option(sizePos),
		}
		if price, err := decimal.NewFromString(v.Price); err == nil {
			variant.Price = &price
		}
		product.Variants = append(product.Variants, variant)
	}
	product.Price = clients.LowestVariantPrice(product.Variants)

	return product
}

func optionPositions(options []shopifyOption) (colorPos, sizePos int) {
	for _, opt := range options {
		switch strings.ToLower(opt.Name) {
		case "color", "colour":
			colorPos = opt.Position
		case "size":
			sizePos = opt.Position
		}
	}
	return colorPos, sizePos
}

func (v shopifyVariant) option(position int) string {
	switch position {
	case 1:
		return v.Option1
	case 2:
		return v.Option2
	case 3:
		return v.Option3
	}
	return ""
}

func parseShopifyPagination(linkHeader string) (string, bool) {
	// Format: <url>; rel="previous", <url>; rel="next"
	parts := strings.Split(linkHeader, ",")
	for _, part := range parts {
		if strings.Contains(part, `rel="next"`) {
			urlPart := strings.TrimSpace(strings.Split(part, ";")[0])
			urlPart = strings.Trim(urlPart, "<>")
			if parsedURL, err := url.Parse(urlPart); err == nil {
				if cursor := parsedURL.Query().Get("page_info"); cursor != "" {
					return cursor, true
				}
			}
		}
	}
	return "", false
}
