package model

// Core domain types shared by the API, store, and optimizer mapping layer.

// CartIn is a cart submitted for sourcing. Each item carries the candidate
// supplier offers quoted for it; the service never fetches live prices.
type CartIn struct {
	ExternalRef string            `json:"externalRef,omitempty"`
	Attributes  map[string]any    `json:"attributes,omitempty"`
	Items       []PartRequirement `json:"items"`
}

// PartRequirement is one cart line needing sourcing from a supplier.
type PartRequirement struct {
	PartID     string       `json:"partId"`
	PartNumber string       `json:"partNumber"`
	PartName   string       `json:"partName,omitempty"`
	Quantity   int          `json:"quantity"`
	WeightKg   float64      `json:"weightKg,omitempty"`
	Offers     []PriceOffer `json:"offers"`
}

// PriceOffer is a single supplier's quoted terms for a part.
// FreeShippingThreshold and MaxAvailableQty are optional; nil means
// no free-shipping tier and unlimited quantity respectively.
type PriceOffer struct {
	SupplierID            string   `json:"supplierId"`
	SupplierName          string   `json:"supplierName"`
	UnitPrice             float64  `json:"unitPrice"`
	ShippingFee           float64  `json:"shippingFee"`
	FreeShippingThreshold *float64 `json:"freeShippingThreshold,omitempty"`
	InStock               bool     `json:"inStock"`
	MaxAvailableQty       *int     `json:"maxAvailableQty,omitempty"`
}

// OptimizeRequest is the body of POST /v1/optimize. Either CartID references
// a stored cart or Items carries the cart inline.
type OptimizeRequest struct {
	TenantID  string            `json:"tenantId,omitempty"`
	CartID    string            `json:"cartId,omitempty"`
	Items     []PartRequirement `json:"items,omitempty"`
	TaxRate   *float64          `json:"taxRate,omitempty"`
	MaxPasses int               `json:"maxPasses,omitempty"`
	MaxEvals  int               `json:"maxEvals,omitempty"`
}

// OrderLine is one line of a per-supplier purchase order.
type OrderLine struct {
	PartID     string  `json:"partId"`
	PartNumber string  `json:"partNumber,omitempty"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unitPrice"`
	LineTotal  float64 `json:"lineTotal"`
}

// SupplierOrder groups the lines assigned to one supplier with final
// shipping, tax, and landed total.
type SupplierOrder struct {
	SupplierID   string      `json:"supplierId"`
	SupplierName string      `json:"supplierName"`
	Lines        []OrderLine `json:"lines"`
	Subtotal     float64     `json:"subtotal"`
	ShippingFee  float64     `json:"shippingFee"`
	TaxAmount    float64     `json:"taxAmount"`
	OrderTotal   float64     `json:"orderTotal"`
}

// Unmet item reason codes.
const (
	ReasonNoSupplier        = "no_supplier_available"
	ReasonInsufficientStock = "insufficient_stock"
)

// UnmetItem reports a cart line that cannot be sourced.
type UnmetItem struct {
	PartID     string `json:"partId"`
	PartNumber string `json:"partNumber,omitempty"`
	Reason     string `json:"reason"`
}

// OptimizationResult is the full outcome of one optimizer invocation.
type OptimizationResult struct {
	Orders          []SupplierOrder `json:"orders"`
	TotalCost       float64         `json:"totalCost"`
	BaselineCost    float64         `json:"baselineCost"`
	WorstCaseCost   float64         `json:"worstCaseCost,omitempty"`
	Savings         float64         `json:"savings"`
	SavingsPercent  float64         `json:"savingsPercent"`
	SuppliersUsed   int             `json:"suppliersUsed"`
	UnmetItems      []UnmetItem     `json:"unmetItems,omitempty"`
}

// Plan is a persisted optimization run.
type Plan struct {
	ID        string             `json:"id"`
	TenantID  string             `json:"tenantId"`
	CartID    string             `json:"cartId,omitempty"`
	TaxRate   float64            `json:"taxRate"`
	Result    OptimizationResult `json:"result"`
	CreatedAt string             `json:"createdAt"`
}

// Read models for API responses.
type CartOut struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	ExternalRef string `json:"externalRef,omitempty"`
	ItemCount   int    `json:"itemCount"`
	Status      string `json:"status"`
}

// OfferImportRow is one parsed row from a supplier price feed.
type OfferImportRow struct {
	PartNumber string     `json:"partNumber"`
	Offer      PriceOffer `json:"offer"`
}

// SubscriptionRequest registers a webhook endpoint for cart events.
type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}
