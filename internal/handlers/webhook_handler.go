package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goshopify "github.com/bold-commerce/go-shopify/v4"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"passport-sync-service/internal/models"
	"passport-sync-service/internal/services"
)

// WebhookConnections resolves and updates connections named by provider webhooks
type WebhookConnections interface {
	FindByExternalAccount(ctx context.Context, slug models.ConnectorSlug, accounts []string) ([]models.BrandIntegrationConnection, error)
	MarkUninstalled(ctx context.Context, slug models.ConnectorSlug, accounts []string) (int, error)
}

// WebhookSyncTrigger starts syncs on behalf of provider webhooks
type WebhookSyncTrigger interface {
	TriggerSync(ctx context.Context, brandID string, connectionID uuid.UUID, trigger models.TriggerType) (*models.SyncJob, error)
	RequestResync(ctx context.Context, connectionID uuid.UUID) error
}

// WebhookHandler handles provider webhook endpoints
type WebhookHandler struct {
	connections WebhookConnections
	syncs       WebhookSyncTrigger
	shopifyApp  goshopify.App
	logger      *logrus.Entry
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(connections WebhookConnections, syncs WebhookSyncTrigger, shopifySecret string, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		connections: connections,
		syncs:       syncs,
		shopifyApp:  goshopify.App{ApiSecret: shopifySecret},
		logger:      logger.WithField("component", "webhook_handler"),
	}
}

// HandleShopifyWebhook handles webhooks from Shopify.
// Product topics trigger a sync of every connection of the shop; app/uninstalled flags them.
func (h *WebhookHandler) HandleShopifyWebhook(c *gin.Context) {
	if h.shopifyApp.ApiSecret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shopify webhooks are not configured"})
		return
	}
	if !h.shopifyApp.VerifyWebhookRequest(c.Request) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
		return
	}

	topic := c.GetHeader("X-Shopify-Topic")
	domain := strings.ToLower(strings.TrimSpace(c.GetHeader("X-Shopify-Shop-Domain")))
	if domain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing shop domain"})
		return
	}
	accounts := shopifyAccountCandidates(domain)
	ctx := c.Request.Context()

	log := h.logger.WithFields(logrus.Fields{"topic": topic, "shop": domain})

	switch {
	case topic == "app/uninstalled":
		updated, err := h.connections.MarkUninstalled(ctx, models.ConnectorShopify, accounts)
		if err != nil {
			log.WithError(err).Error("Failed to mark connections uninstalled")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
			return
		}
		log.WithField("connections", updated).Info("Shopify app uninstalled")

	case strings.HasPrefix(topic, "products/"):
		conns, err := h.connections.FindByExternalAccount(ctx, models.ConnectorShopify, accounts)
		if err != nil {
			log.WithError(err).Error("Failed to resolve connections for webhook")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
			return
		}
		triggered := 0
		for _, conn := range conns {
			_, err := h.syncs.TriggerSync(ctx, conn.BrandID, conn.ID, models.TriggerWebhook)
			if errors.Is(err, services.ErrAlreadySyncing) {
				// The job in flight may have read past this change already
				if err := h.syncs.RequestResync(ctx, conn.ID); err != nil {
					log.WithError(err).WithField("connection_id", conn.ID).Warn("Failed to request resync")
					continue
				}
				// It may also have finished before the flag was written
				_, err = h.syncs.TriggerSync(ctx, conn.BrandID, conn.ID, models.TriggerWebhook)
			}
			if err != nil {
				if services.IsTriggerRejection(err) {
					continue
				}
				log.WithError(err).WithField("connection_id", conn.ID).Warn("Failed to trigger webhook sync")
				continue
			}
			triggered++
		}
		log.WithField("triggered", triggered).Debug("Shopify product webhook handled")

	default:
		log.Debug("Ignoring unhandled webhook topic")
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// shopifyAccountCandidates lists the ways a brand may have entered the shop when connecting
func shopifyAccountCandidates(domain string) []string {
	candidates := []string{domain}
	if short := strings.TrimSuffix(domain, ".myshopify.com"); short != domain {
		candidates = append(candidates, short)
	}
	return append(candidates, "https://"+domain)
}
