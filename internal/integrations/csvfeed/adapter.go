// Package csvfeed parses supplier price feeds delivered as CSV files.
package csvfeed

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"partsopt/internal/integrations"
	"partsopt/internal/model"
)

// Expected header: part_number,unit_price,shipping_fee,free_shipping_threshold,in_stock,max_available_qty
// free_shipping_threshold and max_available_qty may be empty.

// ParseOffers reads CSV rows into offer import rows. Rows with a bad numeric
// field are skipped and reported in errs by line number.
func ParseOffers(r io.Reader) (rows []model.OfferImportRow, errs []string, err error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"part_number", "unit_price"} {
		if _, ok := col[required]; !ok {
			return nil, nil, fmt.Errorf("missing column %s", required)
		}
	}
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			errs = append(errs, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		pn := get("part_number")
		if pn == "" {
			errs = append(errs, fmt.Sprintf("line %d: empty part_number", line))
			continue
		}
		price, err := strconv.ParseFloat(get("unit_price"), 64)
		if err != nil || price < 0 {
			errs = append(errs, fmt.Sprintf("line %d: bad unit_price", line))
			continue
		}
		offer := model.PriceOffer{UnitPrice: price, InStock: true}
		if v := get("shipping_fee"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 {
				errs = append(errs, fmt.Sprintf("line %d: bad shipping_fee", line))
				continue
			}
			offer.ShippingFee = f
		}
		if v := get("free_shipping_threshold"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 {
				errs = append(errs, fmt.Sprintf("line %d: bad free_shipping_threshold", line))
				continue
			}
			offer.FreeShippingThreshold = &f
		}
		if v := get("in_stock"); v != "" {
			offer.InStock = strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
		}
		if v := get("max_available_qty"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				errs = append(errs, fmt.Sprintf("line %d: bad max_available_qty", line))
				continue
			}
			offer.MaxAvailableQty = &n
		}
		rows = append(rows, model.OfferImportRow{PartNumber: pn, Offer: offer})
	}
	return rows, errs, nil
}

// Adapter serves CSV feeds fetched out of band (SFTP drop, object storage).
type Adapter struct {
	SupplierID   string
	SupplierName string
	Fetch        func(since, cursor string) (io.ReadCloser, string, error)
}

var _ integrations.SupplierFeedAdapter = Adapter{}

func (a Adapter) Name() string { return "csv-feed" }

func (a Adapter) Authenticate(cfg map[string]any) (integrations.AuthState, error) {
	return integrations.AuthState{Method: "sftp", Token: "keyref://feed"}, nil
}

func (a Adapter) FetchOffers(since string, cursor string) (integrations.OfferBatch, error) {
	batch := integrations.OfferBatch{SupplierID: a.SupplierID, SupplierName: a.SupplierName}
	if a.Fetch == nil {
		return batch, nil
	}
	rc, next, err := a.Fetch(since, cursor)
	if err != nil {
		return batch, err
	}
	defer func() { _ = rc.Close() }()
	rows, _, err := ParseOffers(rc)
	if err != nil {
		return batch, err
	}
	batch.Rows = rows
	batch.Cursor = next
	return batch, nil
}

func (a Adapter) Webhooks() integrations.WebhookInfo {
	return integrations.WebhookInfo{Events: []string{"offers.imported"}, Verify: func(sig string, body []byte) bool { return true }}
}
