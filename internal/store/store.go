package store

import (
	"context"
	"errors"
	"time"

	"partsopt/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Carts
	CreateCarts(ctx context.Context, tenantID string, carts []model.CartIn) (importID string, created, skipped int, err error)
	GetCart(ctx context.Context, tenantID, cartID string) (model.CartIn, error)
	ListCarts(ctx context.Context, tenantID, status, cursor string, limit int) (items []model.CartOut, nextCursor string, err error)
	SetCartStatus(ctx context.Context, tenantID, cartID, status string) error

	// Supplier offers
	UpsertOffers(ctx context.Context, tenantID, supplierID, supplierName string, rows []model.OfferImportRow) (attached int, err error)

	// Optimization plans
	SavePlan(ctx context.Context, plan model.Plan) error
	GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error)
	ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.Plan, string, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error
	WebhookMetrics(ctx context.Context, tenantID string, since time.Time) ([]map[string]any, error)

	// Optimizer config per tenant
	GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error)
	SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error
}

// WebhookDelivery is one queued outbound notification.
type WebhookDelivery struct {
	ID             string
	TenantID       string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}

var ErrNotFound = errors.New("not found")
