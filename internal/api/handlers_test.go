package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestCartsCreateListDedup(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"tenantId":"t_test","carts":[{"externalRef":"C1","items":[
		{"partId":"p1","partNumber":"BP-1044","quantity":2,"offers":[
			{"supplierId":"sup_a","supplierName":"A","unitPrice":10,"shippingFee":5,"inStock":true}
		]}
	]}]}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/carts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	s.CartsHandler(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("carts create: got %d body=%s", rr.Code, rr.Body.String())
	}
	var created struct {
		Created int `json:"created"`
		Skipped int `json:"skipped"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &created)
	if created.Created != 1 || created.Skipped != 0 {
		t.Fatalf("first import: %+v", created)
	}

	// Same externalRef again is skipped
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/carts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	s.CartsHandler(rr, req)
	_ = json.Unmarshal(rr.Body.Bytes(), &created)
	if created.Created != 0 || created.Skipped != 1 {
		t.Fatalf("second import: %+v", created)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/carts?limit=5", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.CartsHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("carts list: got %d", rr.Code)
	}
	var list struct {
		Items []struct {
			ID        string `json:"id"`
			ItemCount int    `json:"itemCount"`
			Status    string `json:"status"`
		} `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list.Items) != 1 || list.Items[0].ItemCount != 1 || list.Items[0].Status != "pending" {
		t.Fatalf("carts list body: %s", rr.Body.String())
	}
}

func TestOptimizeInlineItemsPicksCheapestLanded(t *testing.T) {
	s := newTestServer(t)
	// sup_a lands at 2*10+5=25, sup_b at 2*12+0=24
	body := []byte(`{"tenantId":"t_test","taxRate":0,"items":[
		{"partId":"p1","partNumber":"BP-1044","quantity":2,"offers":[
			{"supplierId":"sup_a","supplierName":"A","unitPrice":10,"shippingFee":5,"inStock":true},
			{"supplierId":"sup_b","supplierName":"B","unitPrice":12,"shippingFee":0,"inStock":true}
		]}
	]}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/optimize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	s.OptimizeHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("optimize: %d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		PlanID string `json:"planId"`
		Result struct {
			Orders []struct {
				SupplierID string  `json:"supplierId"`
				OrderTotal float64 `json:"orderTotal"`
			} `json:"orders"`
			TotalCost     float64 `json:"totalCost"`
			SuppliersUsed int     `json:"suppliersUsed"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PlanID == "" {
		t.Fatal("missing planId")
	}
	if resp.Result.SuppliersUsed != 1 || len(resp.Result.Orders) != 1 {
		t.Fatalf("orders: %+v", resp.Result)
	}
	if resp.Result.Orders[0].SupplierID != "sup_b" {
		t.Fatalf("picked %s, want sup_b", resp.Result.Orders[0].SupplierID)
	}
	if resp.Result.TotalCost != 24 {
		t.Fatalf("totalCost: %v, want 24", resp.Result.TotalCost)
	}

	// Saved plan is retrievable
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/plans/"+resp.PlanID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.PlanByIDHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("get plan: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/plans?limit=5", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.PlansHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("list plans: %d", rr.Code)
	}
}

func TestOptimizeFreeShippingThreshold(t *testing.T) {
	s := newTestServer(t)
	// Subtotal 60 crosses the 50 threshold so shipping is waived.
	body := []byte(`{"tenantId":"t_test","taxRate":0,"items":[
		{"partId":"p1","partNumber":"BP-1","quantity":3,"offers":[
			{"supplierId":"sup_a","supplierName":"A","unitPrice":20,"shippingFee":9.5,"freeShippingThreshold":50,"inStock":true}
		]}
	]}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/optimize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	s.OptimizeHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("optimize: %d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Result struct {
			Orders []struct {
				ShippingFee float64 `json:"shippingFee"`
			} `json:"orders"`
			TotalCost float64 `json:"totalCost"`
		} `json:"result"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.Result.Orders) != 1 || resp.Result.Orders[0].ShippingFee != 0 {
		t.Fatalf("shipping not waived: %s", rr.Body.String())
	}
	if resp.Result.TotalCost != 60 {
		t.Fatalf("totalCost: %v, want 60", resp.Result.TotalCost)
	}
}

func TestOptimizeUnmetItems(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"tenantId":"t_test","taxRate":0,"items":[
		{"partId":"p1","partNumber":"BP-1","quantity":1,"offers":[]}
	]}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/optimize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	s.OptimizeHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("optimize: %d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Result struct {
			UnmetItems []struct {
				PartID string `json:"partId"`
				Reason string `json:"reason"`
			} `json:"unmetItems"`
		} `json:"result"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.Result.UnmetItems) != 1 || resp.Result.UnmetItems[0].Reason != "no_supplier_available" {
		t.Fatalf("unmet: %s", rr.Body.String())
	}
}

func TestOptimizeValidation(t *testing.T) {
	s := newTestServer(t)
	cases := []string{
		`{}`,
		`{"cartId":"c1","items":[{"partId":"p1","quantity":1}]}`,
		`{"items":[{"partId":"p1","quantity":1}],"taxRate":1.5}`,
		`{"items":[{"partId":"p1","quantity":1}],"maxPasses":-1}`,
	}
	for i, c := range cases {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/optimize", strings.NewReader(c))
		req.Header.Set("Content-Type", "application/json")
		s.OptimizeHandler(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("case %d: got %d, want 400", i, rr.Code)
		}
	}
}

func TestOptimizeRoleForbidden(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"items":[{"partId":"p1","quantity":1,"offers":[]}]}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/optimize", bytes.NewReader(body))
	req.Header.Set("X-Tenant-Id", "t_test")
	req.Header.Set("X-Role", "viewer")
	s.OptimizeHandler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer optimize: got %d, want 403", rr.Code)
	}
}

func TestOptimizeRateLimited(t *testing.T) {
	t.Setenv("RATE_RPS", "1")
	t.Setenv("RATE_BURST", "1")
	s := newTestServer(t)
	body := `{"tenantId":"t_rate","taxRate":0,"items":[
		{"partId":"p1","quantity":1,"offers":[{"supplierId":"sup_a","unitPrice":1,"shippingFee":0,"inStock":true}]}
	]}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/optimize", strings.NewReader(body))
	req.Header.Set("X-Tenant-Id", "t_rate")
	s.OptimizeHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("first call: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/optimize", strings.NewReader(body))
	req.Header.Set("X-Tenant-Id", "t_rate")
	s.OptimizeHandler(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second call: got %d, want 429", rr.Code)
	}
}

func TestOffersImportCSVThenOptimize(t *testing.T) {
	s := newTestServer(t)
	// Cart with no offers yet
	cart := []byte(`{"tenantId":"t_test","carts":[{"externalRef":"CSV1","items":[
		{"partId":"p1","partNumber":"BP-1044","quantity":2,"offers":[]}
	]}]}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/carts", bytes.NewReader(cart))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	s.CartsHandler(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("cart create: %d", rr.Code)
	}

	csv := "part_number,unit_price,shipping_fee,free_shipping_threshold,in_stock\nBP-1044,10.25,4.5,,true\n"
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/offers/import?supplierId=sup_csv&supplierName=CSV+Co", strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("X-Tenant-Id", "t_test")
	s.OffersImportHandler(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("import: %d body=%s", rr.Code, rr.Body.String())
	}
	var imp struct {
		Rows     int `json:"rows"`
		Attached int `json:"attached"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &imp)
	if imp.Rows != 1 || imp.Attached < 1 {
		t.Fatalf("import counts: %+v", imp)
	}

	// Find the cart id and optimize it using the imported offer
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/carts", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.CartsHandler(rr, req)
	var list struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list.Items) == 0 {
		t.Fatal("no carts listed")
	}
	cartID := list.Items[0].ID

	optBody := fmt.Sprintf(`{"cartId":%q,"taxRate":0}`, cartID)
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/optimize", strings.NewReader(optBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	s.OptimizeHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("optimize by cartId: %d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Result struct {
			TotalCost float64 `json:"totalCost"`
		} `json:"result"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if want := 2*10.25 + 4.5; resp.Result.TotalCost != want {
		t.Fatalf("totalCost: %v, want %v", resp.Result.TotalCost, want)
	}

	// Cart transitions to optimized
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/carts?status=optimized", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.CartsHandler(rr, req)
	_ = json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list.Items) != 1 {
		t.Fatalf("optimized list: %s", rr.Body.String())
	}
}

func TestSubscriptionsCRUD(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"url":"https://example.com/hook","events":["plan.created"],"secret":"sh"}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_test")
	s.SubscriptionsHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create sub: %d body=%s", rr.Code, rr.Body.String())
	}
	var sub struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &sub)
	if sub.ID == "" {
		t.Fatal("missing subscription id")
	}

	// Unknown event type is rejected
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/subscriptions", strings.NewReader(`{"url":"https://example.com","events":["bogus.event"]}`))
	req.Header.Set("X-Tenant-Id", "t_test")
	s.SubscriptionsHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad event: got %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/subscriptions", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.SubscriptionsHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("list subs: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.SubscriptionByIDHandler(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete sub: %d", rr.Code)
	}
}

func TestOptimizerConfigOverlay(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/optimizer/config", strings.NewReader(`{"config":{"taxRate":0.05}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_cfg")
	s.AdminOptimizerConfigHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("put config: %d body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/optimizer/config", nil)
	req.Header.Set("X-Tenant-Id", "t_cfg")
	s.OptimizerConfigHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("get config: %d", rr.Code)
	}
	var got struct {
		Defaults map[string]any `json:"defaults"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got.Defaults["taxRate"] != 0.05 {
		t.Fatalf("overlay: %+v", got.Defaults)
	}

	// Tenant override applies to optimization
	body := `{"tenantId":"t_cfg","items":[
		{"partId":"p1","quantity":1,"offers":[{"supplierId":"sup_a","unitPrice":100,"shippingFee":0,"inStock":true}]}
	]}`
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/optimize", strings.NewReader(body))
	req.Header.Set("X-Tenant-Id", "t_cfg")
	s.OptimizeHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("optimize: %d", rr.Code)
	}
	var resp struct {
		Result struct {
			TotalCost float64 `json:"totalCost"`
		} `json:"result"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Result.TotalCost != 105 {
		t.Fatalf("totalCost with 5%% tax: %v, want 105", resp.Result.TotalCost)
	}
}

func TestPlanMetricsAdmin(t *testing.T) {
	s := newTestServer(t)
	body := `{"tenantId":"t_metrics","taxRate":0,"items":[
		{"partId":"p1","quantity":1,"offers":[{"supplierId":"sup_a","unitPrice":1,"shippingFee":0,"inStock":true}]}
	]}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/optimize", strings.NewReader(body))
	req.Header.Set("X-Tenant-Id", "t_metrics")
	s.OptimizeHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("optimize: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/plan-metrics", nil)
	req.Header.Set("X-Tenant-Id", "t_metrics")
	s.PlanMetricsHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("plan metrics: %d", rr.Code)
	}
	var got struct {
		Items []map[string]any `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if len(got.Items) == 0 {
		t.Fatalf("no metrics recorded: %s", rr.Body.String())
	}

	// Non-admin cannot read
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/plan-metrics", nil)
	req.Header.Set("X-Tenant-Id", "t_metrics")
	req.Header.Set("X-Role", "purchaser")
	s.PlanMetricsHandler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("purchaser plan metrics: got %d, want 403", rr.Code)
	}
}

func TestWebhookDeliveriesAdmin(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/webhook-deliveries", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.WebhookDeliveriesHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("deliveries list: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/webhook-deliveries", nil)
	req.Header.Set("X-Role", "viewer")
	s.WebhookDeliveriesHandler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer deliveries: got %d, want 403", rr.Code)
	}
}

func TestCartNotFound(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/carts/nope", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.CartByIDHandler(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing cart: got %d, want 404", rr.Code)
	}
}
