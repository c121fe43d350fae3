package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"passport-sync-service/internal/clients"
	"passport-sync-service/internal/metrics"
	"passport-sync-service/internal/models"
	"passport-sync-service/internal/progress"
	"passport-sync-service/internal/repository"
	"passport-sync-service/internal/secrets"
	"passport-sync-service/internal/testutil"
)

const testBrand = "brand-1"

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// fakeProvider serves a fixed product list in cursor pages
type fakeProvider struct {
	mu          sync.Mutex
	products    []clients.SourceProduct
	reportTotal bool
	failures    map[int][]error
	gate        chan struct{}
	calls       int
	initErr     error
	testErr     error
}

func (p *fakeProvider) Slug() models.ConnectorSlug { return models.ConnectorShopify }

func (p *fakeProvider) Initialize(ctx context.Context, account string, credentials map[string]string) error {
	return p.initErr
}

func (p *fakeProvider) TestConnection(ctx context.Context) error { return p.testErr }

func (p *fakeProvider) ListProducts(ctx context.Context, opts *clients.ListOptions) (*clients.ProductsPage, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	page := 0
	if opts.Cursor != "" {
		page, _ = strconv.Atoi(opts.Cursor)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if queue := p.failures[page]; len(queue) > 0 {
		err := queue[0]
		p.failures[page] = queue[1:]
		return nil, err
	}

	start := page * opts.Limit
	end := start + opts.Limit
	if start > len(p.products) {
		start = len(p.products)
	}
	if end > len(p.products) {
		end = len(p.products)
	}
	result := &clients.ProductsPage{
		Products: append([]clients.SourceProduct(nil), p.products[start:end]...),
		HasMore:  end < len(p.products),
	}
	if result.HasMore {
		result.NextCursor = strconv.Itoa(page + 1)
	}
	if p.reportTotal {
		total := len(p.products)
		result.Total = &total
	}
	return result, nil
}

func (p *fakeProvider) setProducts(products []clients.SourceProduct) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.products = products
}

func makeProducts(n int) []clients.SourceProduct {
	products := make([]clients.SourceProduct, 0, n)
	for i := 0; i < n; i++ {
		price := decimal.NewFromInt(int64(10 + i))
		products = append(products, clients.SourceProduct{
			ExternalID: fmt.Sprintf("p-%d", i),
			Name:       fmt.Sprintf("Product %d", i),
			Status:     "active",
			Price:      &price,
			Currency:   "USD",
			Variants: []clients.SourceVariant{{
				ExternalID: fmt.Sprintf("v-%d", i),
				SKU:        fmt.Sprintf("SKU-%d", i),
				Color:      "black",
				Price:      &price,
			}},
		})
	}
	return products
}

type syncHarness struct {
	db        *gorm.DB
	conn      *models.BrandIntegrationConnection
	provider  *fakeProvider
	vault     *secrets.Vault
	providers *ProviderFactory
	conns     *repository.ConnectionRepository
	jobs      *repository.SyncRepository
	catalog   *repository.CatalogRepository
	ownership *FieldOwnershipService
	hub       *progress.Hub
	syncs     *SyncService
}

func testSyncConfig() SyncConfig {
	return SyncConfig{
		PageSize:      50,
		ProgressEvery: 10,
		Timeout:       30 * time.Second,
		StaleAfter:    15 * time.Minute,
		Retry: &clients.RetryConfig{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			BackoffFactor:  2,
		},
		Concurrency: &ConcurrencyConfig{
			MaxConcurrentJobs:  4,
			MaxConcurrentBrand: 2,
			QueueTimeout:       5 * time.Second,
		},
	}
}

func newSyncHarness(t *testing.T, provider clients.ProviderClient, cfg SyncConfig) *syncHarness {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	conn := testutil.SeedConnection(t, db, testBrand, models.ConnectorShopify)

	vault, err := secrets.NewEphemeralVault(db)
	require.NoError(t, err)
	require.NoError(t, vault.Put(context.Background(), conn.CredentialRef, &secrets.ConnectorSecret{
		Connector:   string(conn.ConnectorSlug),
		Credentials: map[string]string{"access_token": "shpat_test"},
	}))

	logger := testLogger()
	h := &syncHarness{
		db:      db,
		conn:    conn,
		conns:   repository.NewConnectionRepository(db),
		jobs:    repository.NewSyncRepository(db),
		catalog: repository.NewCatalogRepository(db),
		hub:     progress.NewHub(logger),
		vault:   vault,
	}
	h.providers = NewProviderFactory(vault, func(models.ConnectorSlug) (clients.ProviderClient, error) {
		return provider, nil
	})
	if fp, ok := provider.(*fakeProvider); ok {
		h.provider = fp
	}
	h.ownership = NewFieldOwnershipService(h.conns, repository.NewFieldMappingRepository(db), logger)

	reg := prometheus.NewRegistry()
	h.syncs = NewSyncService(SyncDependencies{
		Connections: h.conns,
		Jobs:        h.jobs,
		Catalog:     h.catalog,
		Ownership:   h.ownership,
		Providers:   h.providers,
		Progress:    h.hub,
		Metrics:     metrics.NewWithRegistry(reg, reg),
	}, cfg, logger)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.syncs.Shutdown(ctx)
	})
	return h
}

// ownEverything completes setup with every field enabled
func (h *syncHarness) ownEverything(t *testing.T) {
	t.Helper()
	_, err := h.ownership.BatchSetMappings(context.Background(), testBrand, h.conn.ID, []FieldToggle{
		{FieldKey: "product.name", Enabled: true},
	})
	require.NoError(t, err)
}

// runSync triggers a sync and waits for it to finish
func (h *syncHarness) runSync(t *testing.T) *models.SyncJob {
	t.Helper()
	job, err := h.syncs.TriggerSync(context.Background(), testBrand, h.conn.ID, models.TriggerManual)
	require.NoError(t, err)
	h.syncs.Wait()

	finished, err := h.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	return finished
}

func (h *syncHarness) waitForStatus(t *testing.T, jobID uuid.UUID, status models.SyncStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := h.jobs.GetByID(context.Background(), jobID)
		return err == nil && job.Status == status
	}, 5*time.Second, 10*time.Millisecond)
}
