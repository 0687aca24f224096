package integrations

import "partsopt/internal/model"

// SupplierFeedAdapter defines the minimal interface for supplier price feed
// integrations. Feeds deliver quoted offers keyed by part number; the API
// attaches them to pending cart items.
type SupplierFeedAdapter interface {
	Name() string
	Authenticate(cfg map[string]any) (AuthState, error)
	FetchOffers(since string, cursor string) (OfferBatch, error)
	Webhooks() WebhookInfo
}

type AuthState struct {
	Method string
	Token  string
}

type OfferBatch struct {
	SupplierID   string
	SupplierName string
	Rows         []model.OfferImportRow
	Cursor       string
}

type WebhookInfo struct {
	Events []string
	Verify func(sig string, body []byte) bool
}
