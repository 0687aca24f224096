package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"partsopt/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order.
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil { return err }
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil { return err }
		if _, err := p.db.Exec(string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", n, err)
		}
	}
	return nil
}

// CreateCarts inserts carts and their items. Dedup by (tenant_id, external_ref).
func (p *Postgres) CreateCarts(ctx context.Context, tenantID string, carts []model.CartIn) (string, int, int, error) {
	importID := fmt.Sprintf("imp_%d", time.Now().UnixNano())
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil { return "", 0, 0, err }
	defer func(){ _ = tx.Rollback() }()

	created := 0
	skipped := 0
	for _, c := range carts {
		cid := uuid.New()
		if c.ExternalRef != "" {
			var existsID string
			err = tx.QueryRowContext(ctx, `SELECT id::text FROM carts WHERE tenant_id=$1 AND external_ref=$2`, tenantID, c.ExternalRef).Scan(&existsID)
			if err == nil {
				skipped++
				continue
			}
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return "", 0, 0, err
			}
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO carts (id, tenant_id, external_ref, status, attrs) VALUES ($1,$2,$3,$4,$5)`,
			cid, tenantID, nullIfEmpty(c.ExternalRef), "pending", toJSON(c.Attributes))
		if err != nil { return "", 0, 0, err }
		for seq, it := range c.Items {
			iid := uuid.New()
			offers, _ := json.Marshal(it.Offers)
			_, err = tx.ExecContext(ctx, `INSERT INTO cart_items (id, tenant_id, cart_id, seq, part_id, part_number, part_name, quantity, weight_kg, offers) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
				iid, tenantID, cid, seq, it.PartID, nullIfEmpty(it.PartNumber), nullIfEmpty(it.PartName), it.Quantity, it.WeightKg, offers)
			if err != nil { return "", 0, 0, err }
		}
		created++
	}
	if err := tx.Commit(); err != nil { return "", 0, 0, err }
	return importID, created, skipped, nil
}

func (p *Postgres) GetCart(ctx context.Context, tenantID, cartID string) (model.CartIn, error) {
	var c model.CartIn
	var ext sql.NullString
	var attrs []byte
	err := p.db.QueryRowContext(ctx, `SELECT external_ref, attrs FROM carts WHERE tenant_id=$1 AND id=$2`, tenantID, cartID).Scan(&ext, &attrs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) { return c, ErrNotFound }
		return c, err
	}
	c.ExternalRef = ext.String
	if len(attrs) > 0 { _ = json.Unmarshal(attrs, &c.Attributes) }
	rows, err := p.db.QueryContext(ctx, `SELECT part_id, COALESCE(part_number,''), COALESCE(part_name,''), quantity, weight_kg, offers FROM cart_items WHERE tenant_id=$1 AND cart_id=$2 ORDER BY seq`, tenantID, cartID)
	if err != nil { return c, err }
	defer rows.Close()
	for rows.Next() {
		var it model.PartRequirement
		var offers []byte
		if err := rows.Scan(&it.PartID, &it.PartNumber, &it.PartName, &it.Quantity, &it.WeightKg, &offers); err != nil { return c, err }
		_ = json.Unmarshal(offers, &it.Offers)
		c.Items = append(c.Items, it)
	}
	return c, rows.Err()
}

func (p *Postgres) ListCarts(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.CartOut, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	base := `SELECT c.id::text, c.external_ref, c.status, COUNT(i.id) FROM carts c LEFT JOIN cart_items i ON i.cart_id = c.id AND i.tenant_id = c.tenant_id WHERE c.tenant_id=$1`
	args := []any{tenantID}
	idx := 2
	if status != "" { base += ` AND c.status=$` + fmt.Sprint(idx); args = append(args, status); idx++ }
	if cursor != "" { base += ` AND c.id::text > $` + fmt.Sprint(idx); args = append(args, cursor); idx++ }
	base += ` GROUP BY c.id ORDER BY c.id LIMIT $` + fmt.Sprint(idx)
	args = append(args, limit)
	rows, err := p.db.QueryContext(ctx, base, args...)
	if err != nil { return nil, "", err }
	defer rows.Close()
	out := []model.CartOut{}
	var last string
	for rows.Next() {
		var o model.CartOut
		var ext sql.NullString
		if err := rows.Scan(&o.ID, &ext, &o.Status, &o.ItemCount); err != nil { return nil, "", err }
		o.TenantID = tenantID
		o.ExternalRef = ext.String
		out = append(out, o)
		last = o.ID
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, nil
}

func (p *Postgres) SetCartStatus(ctx context.Context, tenantID, cartID, status string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE carts SET status=$1, updated_at=now() WHERE tenant_id=$2 AND id=$3`, status, tenantID, cartID)
	if err != nil { return err }
	if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
	return nil
}

// UpsertOffers merges feed rows into the offers of pending cart items matching
// the row's part number. One offer per supplier per item.
func (p *Postgres) UpsertOffers(ctx context.Context, tenantID, supplierID, supplierName string, rows []model.OfferImportRow) (int, error) {
	byPart := map[string]model.PriceOffer{}
	for _, r := range rows {
		o := r.Offer
		o.SupplierID = supplierID
		if o.SupplierName == "" { o.SupplierName = supplierName }
		byPart[strings.ToUpper(r.PartNumber)] = o
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil { return 0, err }
	defer func(){ _ = tx.Rollback() }()

	itemRows, err := tx.QueryContext(ctx, `SELECT i.id::text, UPPER(COALESCE(i.part_number,'')), i.offers FROM cart_items i JOIN carts c ON c.id = i.cart_id WHERE i.tenant_id=$1 AND c.status='pending'`, tenantID)
	if err != nil { return 0, err }
	type pending struct {
		id     string
		offers []model.PriceOffer
	}
	updates := []pending{}
	for itemRows.Next() {
		var id, pn string
		var raw []byte
		if err := itemRows.Scan(&id, &pn, &raw); err != nil { itemRows.Close(); return 0, err }
		o, ok := byPart[pn]
		if !ok { continue }
		var offers []model.PriceOffer
		_ = json.Unmarshal(raw, &offers)
		replaced := false
		for j := range offers {
			if offers[j].SupplierID == supplierID {
				offers[j] = o
				replaced = true
				break
			}
		}
		if !replaced { offers = append(offers, o) }
		updates = append(updates, pending{id: id, offers: offers})
	}
	if err := itemRows.Err(); err != nil { itemRows.Close(); return 0, err }
	itemRows.Close()

	for _, u := range updates {
		b, _ := json.Marshal(u.offers)
		if _, err := tx.ExecContext(ctx, `UPDATE cart_items SET offers=$1 WHERE tenant_id=$2 AND id=$3`, b, tenantID, u.id); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil { return 0, err }
	return len(updates), nil
}

func (p *Postgres) SavePlan(ctx context.Context, plan model.Plan) error {
	res, _ := json.Marshal(plan.Result)
	_, err := p.db.ExecContext(ctx, `INSERT INTO plans (id, tenant_id, cart_id, tax_rate, result) VALUES ($1,$2,$3,$4,$5)`,
		plan.ID, plan.TenantID, nullIfEmpty(plan.CartID), plan.TaxRate, res)
	return err
}

func (p *Postgres) GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error) {
	var pl model.Plan
	var cartID sql.NullString
	var res []byte
	var created time.Time
	err := p.db.QueryRowContext(ctx, `SELECT id::text, COALESCE(cart_id::text,''), tax_rate, result, created_at FROM plans WHERE tenant_id=$1 AND id=$2`, tenantID, planID).
		Scan(&pl.ID, &cartID, &pl.TaxRate, &res, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) { return pl, ErrNotFound }
		return pl, err
	}
	pl.TenantID = tenantID
	pl.CartID = cartID.String
	pl.CreatedAt = created.UTC().Format(time.RFC3339)
	_ = json.Unmarshal(res, &pl.Result)
	return pl, nil
}

func (p *Postgres) ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.Plan, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, COALESCE(cart_id::text,''), tax_rate, result, created_at FROM plans WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, COALESCE(cart_id::text,''), tax_rate, result, created_at FROM plans WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil { return nil, "", err }
	defer rows.Close()
	out := []model.Plan{}
	var last string
	for rows.Next() {
		var pl model.Plan
		var cartID string
		var res []byte
		var created time.Time
		if err := rows.Scan(&pl.ID, &cartID, &pl.TaxRate, &res, &created); err != nil { return nil, "", err }
		pl.TenantID = tenantID
		pl.CartID = cartID
		pl.CreatedAt = created.UTC().Format(time.RFC3339)
		_ = json.Unmarshal(res, &pl.Result)
		out = append(out, pl)
		last = pl.ID
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.TenantID, req.URL, ev, req.Secret)
	if err != nil { return model.Subscription{}, err }
	return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND (events @> $2::jsonb OR events @> '["*"]'::jsonb)`, tenantID, fmt.Sprintf("[%q]", eventType))
	if err != nil { return nil, err }
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
		s.TenantID = tenantID
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
	}
	return out, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
	}
	if err != nil { return nil, "", err }
	defer rows.Close()
	var out []model.Subscription
	var last string
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
		s.TenantID = tenantID
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
		last = s.ID
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
	if err != nil { return "", err }
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		var payload []byte
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &payload, &d.Status, &d.Attempts); err != nil { return nil, err }
		d.Payload = payload
		out = append(out, d)
	}
	return out, nil
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`, nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries WHERE tenant_id=$1`
	var rows *sql.Rows
	var err error
	if status != "" {
		q += ` AND status=$2 ORDER BY id LIMIT $3`
		rows, err = p.db.QueryContext(ctx, q, tenantID, status, limit)
	} else {
		q += ` ORDER BY id LIMIT $2`
		rows, err = p.db.QueryContext(ctx, q, tenantID, limit)
	}
	if err != nil { return nil, "", err }
	defer rows.Close()
	out := []map[string]any{}
	var last string
	for rows.Next() {
		var id, typ, st, lastErr, url string
		var attempts int
		var nextAt sql.NullTime
		if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil { return nil, "", err }
		m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
		if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
		if lastErr != "" { m["lastError"] = lastErr }
		out = append(out, m)
		last = id
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, nil
}

func (p *Postgres) WebhookMetrics(ctx context.Context, tenantID string, since time.Time) ([]map[string]any, error) {
	q := `SELECT event_type, status, COUNT(*), AVG(latency_ms) FROM webhook_deliveries
		WHERE tenant_id=$1 AND created_at >= $2
		GROUP BY event_type, status ORDER BY event_type, status`
	if since.IsZero() {
		since = time.Unix(0, 0)
	}
	rows, err := p.db.QueryContext(ctx, q, tenantID, since)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		var typ, st string
		var count int
		var avg sql.NullFloat64
		if err := rows.Scan(&typ, &st, &count, &avg); err != nil { return nil, err }
		item := map[string]any{"eventType": typ, "status": st, "count": count}
		if avg.Valid { item["avgLatencyMs"] = int(avg.Float64) }
		out = append(out, item)
	}
	return out, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return err
}

func (p *Postgres) GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	row := p.db.QueryRowContext(ctx, `SELECT config FROM optimizer_config WHERE tenant_id=$1`, tenantID)
	var js []byte
	if err := row.Scan(&js); err != nil {
		if errors.Is(err, sql.ErrNoRows) { return nil, nil }
		return nil, err
	}
	var cfg map[string]any
	if err := json.Unmarshal(js, &cfg); err != nil { return nil, err }
	return cfg, nil
}

func (p *Postgres) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	js, _ := json.Marshal(cfg)
	_, err := p.db.ExecContext(ctx, `INSERT INTO optimizer_config (tenant_id, config, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (tenant_id) DO UPDATE SET config=$2, updated_at=now()`, tenantID, js)
	return err
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
func toJSON(m map[string]any) any {
	if m == nil { return nil }
	b, _ := json.Marshal(m)
	return b
}

func computeDedupKey(payload []byte) string {
	// prefer the event id when the payload carries one
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}
