package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"square-sync-service/internal/broker"
	"square-sync-service/internal/models"
	"square-sync-service/internal/redisclient"
	"square-sync-service/internal/service"
	"square-sync-service/internal/util"
	"square-sync-service/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	validator    *webhook.Validator
	dedup        *redisclient.Client
	events       *broker.EventPublisher
	payments     *service.PaymentSyncService
	catalog      *service.CatalogSyncService
	syncHistory  SyncHistoryStore
	maxBodyBytes int64
	logger       *zap.Logger
}

// SyncHistoryStore exposes the sync run history.
type SyncHistoryStore interface {
	GetSyncHistory(ctx context.Context, limit int) ([]models.SyncStatusRecord, error)
}

// NewHandler creates a new HTTP handler
func NewHandler(
	validator *webhook.Validator,
	dedup *redisclient.Client,
	events *broker.EventPublisher,
	payments *service.PaymentSyncService,
	catalog *service.CatalogSyncService,
	syncHistory SyncHistoryStore,
	maxBodyBytes int64,
) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = webhook.DefaultMaxBodyBytes
	}
	return &Handler{
		validator:    validator,
		dedup:        dedup,
		events:       events,
		payments:     payments,
		catalog:      catalog,
		syncHistory:  syncHistory,
		maxBodyBytes: maxBodyBytes,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/square", h.handleSquareWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sync/payments", h.syncPayments)
		v1.POST("/sync/payments/all", h.syncAllPayments)
		v1.POST("/sync/catalog", h.syncCatalog)
		v1.POST("/sync/ordinals", h.resyncOrdinals)
		v1.GET("/sync/history", h.getSyncHistory)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// handleSquareWebhook authenticates, deduplicates and hands off one Square
// webhook delivery. Square retries on non-2xx, so only failures we want
// retried return an error status.
func (h *Handler) handleSquareWebhook(c *gin.Context) {
	header := c.Request.Header

	if err := webhook.CheckRequest(header, c.Request.ContentLength, h.maxBodyBytes); err != nil {
		h.logger.Warn("Rejected webhook before validation", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if int64(len(rawBody)) > h.maxBodyBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body too large"})
		return
	}

	result := h.validator.Validate(header, rawBody)
	if !result.Valid {
		h.logger.Warn("Webhook validation failed",
			zap.String("error_kind", string(result.ErrorKind)),
			zap.String("detail", result.ErrorDetail),
			zap.String("environment", result.Environment))
		c.JSON(statusForValidationError(result.ErrorKind), gin.H{
			"error":      "webhook validation failed",
			"error_kind": result.ErrorKind,
		})
		return
	}

	ctx := c.Request.Context()
	envelope := result.Envelope

	alreadyProcessed, err := h.dedup.CheckAndMarkEvent(ctx, envelope.EventID)
	if err != nil {
		// Redis down: better to double-process than to drop the event.
		h.logger.Error("Event dedup check failed, processing anyway",
			zap.String("event_id", envelope.EventID),
			zap.Error(err))
	} else if alreadyProcessed {
		util.WebhookEventsDeduplicated.Inc()
		h.logger.Info("Duplicate webhook event, acknowledging",
			zap.String("event_id", envelope.EventID),
			zap.String("event_type", envelope.Type))
		c.JSON(http.StatusOK, gin.H{"status": "duplicate", "event_id": envelope.EventID})
		return
	}

	event := &models.WebhookValidatedEvent{
		SquareEventID:   envelope.EventID,
		SquareEventType: envelope.Type,
		MerchantID:      envelope.MerchantID,
		Environment:     result.Environment,
		Payload:         rawBody,
	}
	if err := h.events.PublishWebhookValidated(ctx, event); err != nil {
		h.logger.Error("Failed to hand off validated webhook",
			zap.String("event_id", envelope.EventID),
			zap.Error(err))

		// Unmark so Square's retry is not deduplicated away, then run the
		// fallback sync in case the retry never lands.
		if unmarkErr := h.dedup.UnmarkEvent(ctx, envelope.EventID); unmarkErr != nil {
			h.logger.Error("Failed to unmark event for retry", zap.Error(unmarkErr))
		}
		go h.payments.EmergencySync(context.Background(), envelope.EventID)

		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "accepted",
		"event_id":    envelope.EventID,
		"environment": result.Environment,
	})
}

// statusForValidationError maps a validation failure to an HTTP status.
// Signature problems are 401; everything else about the request is 400.
func statusForValidationError(kind webhook.ErrorKind) int {
	switch kind {
	case webhook.ErrMissingSignature, webhook.ErrInvalidSignature, webhook.ErrMissingSecret:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

// syncPayments triggers a payment sync for one environment
func (h *Handler) syncPayments(c *gin.Context) {
	var req service.PaymentSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}
	}
	if req.SyncType == "" {
		req.SyncType = models.SyncTypeManual
	}

	result := h.payments.SyncPayments(c.Request.Context(), &req)
	c.JSON(statusForSyncResult(result.Success), result)
}

// syncAllPayments triggers a payment sync across all configured environments
func (h *Handler) syncAllPayments(c *gin.Context) {
	var req service.PaymentSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}
	}
	if req.SyncType == "" {
		req.SyncType = models.SyncTypeManual
	}

	result := h.payments.SyncAllEnvironments(c.Request.Context(), &req)
	c.JSON(statusForSyncResult(result.Success), result)
}

// syncCatalog triggers a full catalog sync
func (h *Handler) syncCatalog(c *gin.Context) {
	result := h.catalog.SyncCatalog(c.Request.Context())
	c.JSON(statusForSyncResult(result.Success), result)
}

// resyncOrdinals triggers an ordinal-only resync
func (h *Handler) resyncOrdinals(c *gin.Context) {
	result := h.catalog.ResyncOrdinals(c.Request.Context())
	c.JSON(statusForSyncResult(result.Success), result)
}

func statusForSyncResult(success bool) int {
	if success {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

// getSyncHistory returns recent sync runs, newest first
func (h *Handler) getSyncHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	records, err := h.syncHistory.GetSyncHistory(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load sync history",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"history": records,
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
