package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"partsopt/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu     sync.Mutex
	carts  map[string]model.CartIn  // id -> full cart
	outs   map[string]model.CartOut // id -> read model
	byTen  map[string][]string      // tenant -> cart ids
	plans  map[string]model.Plan    // id -> plan
	plansT map[string][]string      // tenant -> plan ids
	subs   map[string][]model.Subscription
	// Webhook queue state
	deliveries         map[string]*memDelivery
	deliveriesByTenant map[string][]string
	optCfg             map[string]map[string]any
}

func NewMemory() *Memory {
	return &Memory{
		carts:              map[string]model.CartIn{},
		outs:               map[string]model.CartOut{},
		byTen:              map[string][]string{},
		plans:              map[string]model.Plan{},
		plansT:             map[string][]string{},
		subs:               map[string][]model.Subscription{},
		deliveries:         map[string]*memDelivery{},
		deliveriesByTenant: map[string][]string{},
		optCfg:             map[string]map[string]any{},
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
	CreatedAt     time.Time
}

func (m *Memory) CreateCarts(ctx context.Context, tenantID string, carts []model.CartIn) (string, int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created, skipped := 0, 0
	for _, c := range carts {
		if c.ExternalRef != "" && m.refExists(tenantID, c.ExternalRef) {
			skipped++
			continue
		}
		id := uuid.New().String()
		m.carts[id] = c
		m.outs[id] = model.CartOut{ID: id, TenantID: tenantID, ExternalRef: c.ExternalRef, ItemCount: len(c.Items), Status: "pending"}
		m.byTen[tenantID] = append(m.byTen[tenantID], id)
		created++
	}
	return "imp_mem", created, skipped, nil
}

func (m *Memory) refExists(tenantID, ref string) bool {
	for _, id := range m.byTen[tenantID] {
		if m.outs[id].ExternalRef == ref {
			return true
		}
	}
	return false
}

func (m *Memory) GetCart(ctx context.Context, tenantID, cartID string) (model.CartIn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.outs[cartID]
	if !ok || out.TenantID != tenantID {
		return model.CartIn{}, ErrNotFound
	}
	return m.carts[cartID], nil
}

func (m *Memory) ListCarts(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.CartOut, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.CartOut{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		o := m.outs[ids[i]]
		if status == "" || o.Status == status {
			out = append(out, o)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) SetCartStatus(ctx context.Context, tenantID, cartID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outs[cartID]
	if !ok || o.TenantID != tenantID {
		return ErrNotFound
	}
	o.Status = status
	m.outs[cartID] = o
	return nil
}

// UpsertOffers attaches feed rows to pending cart items by part number.
// An existing offer from the same supplier on an item is replaced.
func (m *Memory) UpsertOffers(ctx context.Context, tenantID, supplierID, supplierName string, rows []model.OfferImportRow) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPart := map[string]model.PriceOffer{}
	for _, r := range rows {
		o := r.Offer
		o.SupplierID = supplierID
		if o.SupplierName == "" {
			o.SupplierName = supplierName
		}
		byPart[strings.ToUpper(r.PartNumber)] = o
	}
	attached := 0
	for _, id := range m.byTen[tenantID] {
		c := m.carts[id]
		changed := false
		for i := range c.Items {
			o, ok := byPart[strings.ToUpper(c.Items[i].PartNumber)]
			if !ok {
				continue
			}
			replaced := false
			for j := range c.Items[i].Offers {
				if c.Items[i].Offers[j].SupplierID == supplierID {
					c.Items[i].Offers[j] = o
					replaced = true
					break
				}
			}
			if !replaced {
				c.Items[i].Offers = append(c.Items[i].Offers, o)
			}
			attached++
			changed = true
		}
		if changed {
			m.carts[id] = c
		}
	}
	return attached, nil
}

func (m *Memory) SavePlan(ctx context.Context, plan model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = plan
	m.plansT[plan.TenantID] = append(m.plansT[plan.TenantID], plan.ID)
	return nil
}

func (m *Memory) GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok || p.TenantID != tenantID {
		return model.Plan{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.Plan, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.plansT[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.Plan{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		out = append(out, m.plans[ids[i]])
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	start := 0
	if cursor != "" {
		for i, s := range list {
			if s.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	items := append([]model.Subscription(nil), list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id {
			out = append(out, s)
		}
	}
	m.subs[tenantID] = out
	return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: time.Now(), CreatedAt: time.Now()}
	m.deliveries[id] = d
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, lst := range m.deliveriesByTenant {
		for _, id := range lst {
			d := m.deliveries[id]
			if d == nil {
				continue
			}
			if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
				out = append(out, d.WebhookDelivery)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(1 * time.Minute)
		}
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil {
		d.Status = "failed"
		d.LastError = lastError
		d.ResponseCode = responseCode
		d.LatencyMs = latencyMs
	}
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []map[string]any{}
	for _, id := range m.deliveriesByTenant[tenantID] {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if status == "" || d.Status == status {
			item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
			if !d.NextAttemptAt.IsZero() {
				item["nextAttemptAt"] = d.NextAttemptAt
			}
			if d.LastError != "" {
				item["lastError"] = d.LastError
			}
			out = append(out, item)
		}
	}
	return out, "", nil
}

func (m *Memory) WebhookMetrics(ctx context.Context, tenantID string, since time.Time) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type agg struct {
		count      int
		latencySum int
		latencyN   int
	}
	groups := map[[2]string]*agg{}
	for _, id := range m.deliveriesByTenant[tenantID] {
		d := m.deliveries[id]
		if d == nil || (!since.IsZero() && d.CreatedAt.Before(since)) {
			continue
		}
		key := [2]string{d.EventType, d.Status}
		a := groups[key]
		if a == nil {
			a = &agg{}
			groups[key] = a
		}
		a.count++
		if d.LatencyMs > 0 {
			a.latencySum += d.LatencyMs
			a.latencyN++
		}
	}
	out := []map[string]any{}
	for key, a := range groups {
		item := map[string]any{"eventType": key[0], "status": key[1], "count": a.count}
		if a.latencyN > 0 {
			item["avgLatencyMs"] = a.latencySum / a.latencyN
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i]["eventType"].(string) != out[j]["eventType"].(string) {
			return out[i]["eventType"].(string) < out[j]["eventType"].(string)
		}
		return out[i]["status"].(string) < out[j]["status"].(string)
	})
	return out, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil && d.TenantID == tenantID {
		d.Status = "pending"
		d.NextAttemptAt = time.Now()
	}
	return nil
}

func (m *Memory) GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.optCfg[tenantID]; ok {
		return cfg, nil
	}
	return nil, nil
}

func (m *Memory) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.optCfg[tenantID] = cfg
	return nil
}
