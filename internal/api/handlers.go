package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"partsopt/internal/events"
	"partsopt/internal/integrations/csvfeed"
	"partsopt/internal/metrics"
	"partsopt/internal/model"
	"partsopt/internal/opt"
	"partsopt/internal/store"
)

// CartsHandler handles POST/GET /v1/carts
func (s *Server) CartsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		p := s.getPrincipal(r)
		if !p.CanOptimize() {
			writeProblem(w, 403, "Forbidden", "purchaser or admin required", r.URL.Path)
			return
		}
		var req struct {
			TenantID string         `json:"tenantId"`
			Carts    []model.CartIn `json:"carts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.TenantID == "" {
			req.TenantID = p.Tenant
		}
		if len(req.Carts) == 0 {
			writeProblem(w, http.StatusBadRequest, "Missing carts", "at least one cart required", r.URL.Path)
			return
		}
		imp, created, skipped, err := s.Store.CreateCarts(r.Context(), req.TenantID, req.Carts)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create carts failed", err.Error(), r.URL.Path)
			return
		}
		if created > 0 {
			s.Pub.Emit(r.Context(), req.TenantID, "cart.created", map[string]any{"importId": imp, "created": created})
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"importId": imp, "created": created, "skipped": skipped})
	case http.MethodGet:
		_, tenant := s.withTenant(r)
		status := r.URL.Query().Get("status")
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListCarts(r.Context(), tenant, status, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List carts failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// CartByIDHandler handles GET /v1/carts/{id} and GET /v1/carts/{id}/events/stream
func (s *Server) CartByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/carts/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) > 2 && parts[1] == "events" && parts[2] == "stream" {
		s.streamCartEvents(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	cart, err := s.Store.GetCart(r.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Cart not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Get cart failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "externalRef": cart.ExternalRef, "items": cart.Items, "attributes": cart.Attributes})
}

// streamCartEvents serves SSE for one cart's events.
func (s *Server) streamCartEvents(w http.ResponseWriter, r *http.Request, cartID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(cartID)
	defer s.Broker.Unsubscribe(cartID, ch)
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"cartId\":\"%s\",\"ts\":\"%s\"}\n\n", cartID, time.Now().Format(time.RFC3339))
	flusher.Flush()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"cartId\":\"%s\",\"ts\":\"%s\"}\n\n", cartID, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanOptimize() {
		writeProblem(w, 403, "Forbidden", "purchaser or admin required", r.URL.Path)
		return
	}
	if !s.limiter.Allow(p.Tenant) {
		writeProblem(w, http.StatusTooManyRequests, "Rate limited", "optimize rate limit exceeded", r.URL.Path)
		return
	}
	var req model.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptimizeRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}
	if req.TenantID == "" {
		req.TenantID = p.Tenant
	}

	items := req.Items
	if req.CartID != "" {
		cart, err := s.Store.GetCart(r.Context(), req.TenantID, req.CartID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeProblem(w, http.StatusNotFound, "Cart not found", "", r.URL.Path)
				return
			}
			writeProblem(w, http.StatusInternalServerError, "Get cart failed", err.Error(), r.URL.Path)
			return
		}
		items = cart.Items
	}

	prob := s.buildProblem(r.Context(), req.TenantID, items, req)
	start := time.Now()
	result, runMetrics, err := opt.Solve(prob)
	metrics.OptimizeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, opt.ErrValidation) {
			metrics.OptimizeRuns.WithLabelValues(req.TenantID, "invalid").Inc()
			writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
			return
		}
		metrics.OptimizeRuns.WithLabelValues(req.TenantID, "error").Inc()
		log.Printf("optimize failed for tenant %s: %v", req.TenantID, err)
		writeProblem(w, http.StatusInternalServerError, "Optimize failed", err.Error(), r.URL.Path)
		return
	}
	metrics.OptimizeRuns.WithLabelValues(req.TenantID, "ok").Inc()
	metrics.OptimizeSavingsPercent.Observe(result.SavingsPercent)

	plan := model.Plan{
		ID:        uuid.New().String(),
		TenantID:  req.TenantID,
		CartID:    req.CartID,
		TaxRate:   prob.TaxRate,
		Result:    result,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.Store.SavePlan(r.Context(), plan); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save plan failed", err.Error(), r.URL.Path)
		return
	}
	opt.RecordMetrics(req.TenantID, plan.ID, runMetrics)
	if req.CartID != "" {
		_ = s.Store.SetCartStatus(r.Context(), req.TenantID, req.CartID, "optimized")
	}

	summary := map[string]any{
		"planId":         plan.ID,
		"cartId":         req.CartID,
		"totalCost":      result.TotalCost,
		"savings":        result.Savings,
		"savingsPercent": result.SavingsPercent,
		"suppliersUsed":  result.SuppliersUsed,
		"unmetItems":     len(result.UnmetItems),
	}
	s.Pub.Emit(r.Context(), req.TenantID, "plan.created", summary)
	if req.CartID != "" {
		s.Pub.Emit(r.Context(), req.TenantID, "cart.optimized", summary)
		s.Broker.Publish(req.CartID, SSEEvent{Type: "cart.optimized", Data: summary})
	}
	if s.Events != nil {
		_ = s.Events.Publish(r.Context(), events.TypeCartOptimized, req.TenantID, req.CartID, summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{"planId": plan.ID, "result": result})
}

// buildProblem applies config defaults and tenant overrides to the request.
func (s *Server) buildProblem(ctx context.Context, tenant string, items []model.PartRequirement, req model.OptimizeRequest) opt.Problem {
	prob := opt.Problem{
		Items:     items,
		TaxRate:   s.Cfg.DefaultTaxRate,
		MaxPasses: s.Cfg.MaxPasses,
		MaxEvals:  s.Cfg.MaxEvals,
	}
	if cfg, _ := s.Store.GetOptimizerConfig(ctx, tenant); cfg != nil {
		if v, ok := cfg["taxRate"].(float64); ok {
			prob.TaxRate = v
		}
		if v, ok := cfg["maxPasses"].(float64); ok {
			prob.MaxPasses = int(v)
		}
		if v, ok := cfg["maxEvals"].(float64); ok {
			prob.MaxEvals = int(v)
		}
	}
	if req.TaxRate != nil {
		prob.TaxRate = *req.TaxRate
	}
	if req.MaxPasses > 0 {
		prob.MaxPasses = req.MaxPasses
	}
	if req.MaxEvals > 0 {
		prob.MaxEvals = req.MaxEvals
	}
	return prob
}

// PlansHandler handles GET /v1/plans
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/plans" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListPlans(r.Context(), tenant, cursor, limit)
	if err != nil {
		writeProblem(w, 500, "List plans failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// PlanByIDHandler handles GET /v1/plans/{id}
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/plans/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	plan, err := s.Store.GetPlan(r.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Plan not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Get plan failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// OffersImportHandler handles POST /v1/offers/import.
// Accepts text/csv (see csvfeed) or JSON {supplierId, supplierName, rows}.
func (s *Server) OffersImportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanOptimize() {
		writeProblem(w, 403, "Forbidden", "purchaser or admin required", r.URL.Path)
		return
	}
	var supplierID, supplierName string
	var rows []model.OfferImportRow
	var parseErrs []string
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "text/csv") {
		supplierID = r.URL.Query().Get("supplierId")
		supplierName = r.URL.Query().Get("supplierName")
		if supplierID == "" {
			writeProblem(w, http.StatusBadRequest, "Missing supplierId", "supplierId query parameter required for CSV import", r.URL.Path)
			return
		}
		var err error
		rows, parseErrs, err = csvfeed.ParseOffers(r.Body)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
			return
		}
	} else {
		var req struct {
			SupplierID   string                 `json:"supplierId"`
			SupplierName string                 `json:"supplierName"`
			Rows         []model.OfferImportRow `json:"rows"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.SupplierID == "" {
			writeProblem(w, http.StatusBadRequest, "Missing supplierId", "", r.URL.Path)
			return
		}
		supplierID, supplierName, rows = req.SupplierID, req.SupplierName, req.Rows
	}
	if len(rows) == 0 {
		writeProblem(w, http.StatusBadRequest, "No rows", "feed contained no usable rows", r.URL.Path)
		return
	}
	attached, err := s.Store.UpsertOffers(r.Context(), p.Tenant, supplierID, supplierName, rows)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Import failed", err.Error(), r.URL.Path)
		return
	}
	s.Pub.Emit(r.Context(), p.Tenant, "offers.imported", map[string]any{"supplierId": supplierID, "rows": len(rows), "attached": attached})
	if s.Events != nil {
		_ = s.Events.Publish(r.Context(), events.TypeOffersImported, p.Tenant, "", map[string]any{"supplierId": supplierID, "rows": len(rows), "attached": attached})
	}
	resp := map[string]any{"rows": len(rows), "attached": attached}
	if len(parseErrs) > 0 {
		resp["errors"] = parseErrs
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.TenantID == "" {
			req.TenantID = p.Tenant
		}
		if err := validateSubscriptionRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
		if err != nil {
			writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(405)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil {
		writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(204)
}

// OptimizerConfigHandler returns effective optimizer configuration
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/optimizer/config" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	defaults := map[string]any{
		"taxRate":   s.Cfg.DefaultTaxRate,
		"maxPasses": s.Cfg.MaxPasses,
		"maxEvals":  s.Cfg.MaxEvals,
	}
	p := s.getPrincipal(r)
	cfg, _ := s.Store.GetOptimizerConfig(r.Context(), p.Tenant)
	for k, v := range cfg {
		defaults[k] = v
	}
	writeJSON(w, 200, map[string]any{"defaults": defaults})
}

// AdminOptimizerConfigHandler gets/sets per-tenant optimizer config
func (s *Server) AdminOptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/optimizer/config" {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, _ := s.Store.GetOptimizerConfig(r.Context(), p.Tenant)
		if cfg == nil {
			cfg = map[string]any{}
		}
		writeJSON(w, 200, map[string]any{"config": cfg})
	case http.MethodPut:
		var body struct {
			Config map[string]any `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if body.Config == nil {
			writeProblem(w, 400, "Missing config", "", r.URL.Path)
			return
		}
		if err := s.Store.SaveOptimizerConfig(r.Context(), p.Tenant, body.Config); err != nil {
			writeProblem(w, 500, "Save failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]bool{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-deliveries" {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(405)
		return
	}
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, status, cursor, limit)
	if err != nil {
		writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(405)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
	if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id); err != nil {
		writeProblem(w, 500, "Retry delivery failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 202, map[string]int{"accepted": 1})
}

// WebhookMetricsHandler handles GET /v1/admin/webhook-metrics
func (s *Server) WebhookMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-metrics" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	sinceHours := 24
	if v := r.URL.Query().Get("sinceHours"); v != "" {
		fmt.Sscanf(v, "%d", &sinceHours)
	}
	since := time.Now().Add(-time.Duration(sinceHours) * time.Hour)
	items, err := s.Store.WebhookMetrics(r.Context(), p.Tenant, since)
	if err != nil {
		writeProblem(w, 500, "Metrics failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, 200, map[string]any{"items": items})
}

// WebhookDLQHandler handles /v1/admin/webhook-dlq and /v1/admin/webhook-dlq/{id}/requeue.
// The DLQ is the set of deliveries that exhausted their attempts.
func (s *Server) WebhookDLQHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	if r.URL.Path == "/v1/admin/webhook-dlq" && r.Method == http.MethodGet {
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, "failed", cursor, limit)
		if err != nil {
			writeProblem(w, 500, "List DLQ failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
		return
	}
	if r.URL.Path == "/v1/admin/webhook-dlq" && r.Method == http.MethodPost {
		var req struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if len(req.IDs) == 0 {
			writeProblem(w, 400, "Missing ids", "", r.URL.Path)
			return
		}
		for _, id := range req.IDs {
			if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id); err != nil {
				writeProblem(w, 500, "Bulk requeue failed", err.Error(), r.URL.Path)
				return
			}
		}
		writeJSON(w, 202, map[string]int{"accepted": len(req.IDs)})
		return
	}
	if strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-dlq/") && strings.HasSuffix(r.URL.Path, "/requeue") && r.Method == http.MethodPost {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-dlq/"), "/requeue")
		if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id); err != nil {
			writeProblem(w, 500, "Requeue failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, 202, map[string]int{"accepted": 1})
		return
	}
	writeProblem(w, 404, "Not Found", "", r.URL.Path)
}

// PlanMetricsHandler handles GET /v1/admin/plan-metrics
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/plan-metrics" || r.Method != http.MethodGet {
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path)
		return
	}
	planID := r.URL.Query().Get("planId")
	ms := opt.GetMetrics(p.Tenant)
	items := []map[string]any{}
	for id, m := range ms {
		if planID != "" && id != planID {
			continue
		}
		items = append(items, map[string]any{
			"planId":         id,
			"passes":         m.Passes,
			"movesEvaluated": m.MovesEvaluated,
			"movesApplied":   m.MovesApplied,
			"mergesApplied":  m.MergesApplied,
			"pinnedItems":    m.PinnedItems,
			"seedCost":       m.SeedCost,
			"finalCost":      m.FinalCost,
		})
	}
	writeJSON(w, 200, map[string]any{"items": items})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}
