package opt

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"partsopt/internal/model"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

func offer(supID, supName string, unit, ship float64, threshold *float64) model.PriceOffer {
	return model.PriceOffer{
		SupplierID:            supID,
		SupplierName:          supName,
		UnitPrice:             unit,
		ShippingFee:           ship,
		FreeShippingThreshold: threshold,
		InStock:               true,
	}
}

func solve(t *testing.T, items []model.PartRequirement, taxRate float64) model.OptimizationResult {
	t.Helper()
	res, _, err := Solve(Problem{Items: items, TaxRate: taxRate})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	return res
}

func TestSingleItemPicksCheapestLandedCost(t *testing.T) {
	// A is cheaper per unit but its shipping makes B the better landed cost.
	items := []model.PartRequirement{{
		PartID: "p1", PartNumber: "BRK-100", Quantity: 1,
		Offers: []model.PriceOffer{
			offer("supA", "Alpha Parts", 100, 15, fp(150)),
			offer("supB", "Beta Supply", 110, 0, nil),
		},
	}}
	res := solve(t, items, 0)
	if len(res.Orders) != 1 || res.Orders[0].SupplierID != "supB" {
		t.Fatalf("expected single order from supB, got %+v", res.Orders)
	}
	if res.TotalCost != 110 {
		t.Fatalf("total: want 110, got %v", res.TotalCost)
	}
	if res.BaselineCost != 115 {
		t.Fatalf("baseline: want 115, got %v", res.BaselineCost)
	}
}

func TestConsolidationCrossesFreeShippingThreshold(t *testing.T) {
	offers := func() []model.PriceOffer {
		return []model.PriceOffer{
			offer("supA", "Alpha Parts", 60, 20, fp(100)),
			offer("supB", "Beta Supply", 65, 0, nil),
		}
	}
	items := []model.PartRequirement{
		{PartID: "p1", Quantity: 1, Offers: offers()},
		{PartID: "p2", Quantity: 1, Offers: offers()},
	}
	res := solve(t, items, 0)
	if len(res.Orders) != 1 || res.Orders[0].SupplierID != "supA" {
		t.Fatalf("expected both items consolidated at supA, got %+v", res.Orders)
	}
	o := res.Orders[0]
	if o.Subtotal != 120 || o.ShippingFee != 0 || res.TotalCost != 120 {
		t.Fatalf("want subtotal 120 free shipping, got subtotal=%v ship=%v total=%v", o.Subtotal, o.ShippingFee, res.TotalCost)
	}
}

func TestOutOfStockItemIsUnmetAndIsolated(t *testing.T) {
	dead := model.PriceOffer{SupplierID: "supA", SupplierName: "Alpha Parts", UnitPrice: 10, InStock: false}
	items := []model.PartRequirement{
		{PartID: "p1", PartNumber: "OIL-1", Quantity: 2, Offers: []model.PriceOffer{dead}},
		{PartID: "p2", Quantity: 1, Offers: []model.PriceOffer{offer("supB", "Beta Supply", 30, 5, nil)}},
	}
	res := solve(t, items, 0)
	if len(res.UnmetItems) != 1 || res.UnmetItems[0].PartID != "p1" || res.UnmetItems[0].Reason != model.ReasonNoSupplier {
		t.Fatalf("unmet: %+v", res.UnmetItems)
	}
	if len(res.Orders) != 1 || len(res.Orders[0].Lines) != 1 || res.Orders[0].Lines[0].PartID != "p2" {
		t.Fatalf("p2 assignment disturbed: %+v", res.Orders)
	}
}

func TestInsufficientStockReason(t *testing.T) {
	o := offer("supA", "Alpha Parts", 10, 0, nil)
	o.MaxAvailableQty = ip(3)
	items := []model.PartRequirement{{PartID: "p1", Quantity: 5, Offers: []model.PriceOffer{o}}}
	res := solve(t, items, 0)
	if len(res.UnmetItems) != 1 || res.UnmetItems[0].Reason != model.ReasonInsufficientStock {
		t.Fatalf("unmet: %+v", res.UnmetItems)
	}
	if len(res.Orders) != 0 || res.TotalCost != 0 {
		t.Fatalf("expected empty plan, got %+v", res)
	}
}

func TestZeroPricedLineStillPaysShipping(t *testing.T) {
	// A promotional $0 line is still a real shipment below threshold.
	items := []model.PartRequirement{{
		PartID: "p1", PartNumber: "PROMO-1", Quantity: 1,
		Offers: []model.PriceOffer{
			offer("supA", "Alpha Parts", 0, 10, fp(50)),
		},
	}}
	res := solve(t, items, 0)
	if len(res.Orders) != 1 {
		t.Fatalf("expected one order, got %+v", res.Orders)
	}
	o := res.Orders[0]
	if o.Subtotal != 0 || o.ShippingFee != 10 || o.OrderTotal != 10 {
		t.Fatalf("zero-priced order: subtotal=%v shipping=%v total=%v, want 0/10/10",
			o.Subtotal, o.ShippingFee, o.OrderTotal)
	}
	if res.TotalCost != 10 {
		t.Fatalf("total: want 10, got %v", res.TotalCost)
	}
}

func TestZeroPricedLineRelocatesOffZeroValueOrder(t *testing.T) {
	// The $0 line seeds at A on the lower-fee tie-break and alone pays
	// A's fee; consolidating it into the paid order at B drops the extra
	// shipment even though A's subtotal was already zero.
	items := []model.PartRequirement{
		{
			PartID: "p1", PartNumber: "PROMO-1", Quantity: 1,
			Offers: []model.PriceOffer{
				offer("supA", "Alpha Parts", 0, 4, nil),
				offer("supB", "Beta Supply", 0, 5, nil),
			},
		},
		{
			PartID: "p2", PartNumber: "BRK-200", Quantity: 1,
			Offers: []model.PriceOffer{
				offer("supB", "Beta Supply", 30, 5, nil),
			},
		},
	}
	res := solve(t, items, 0)
	if len(res.Orders) != 1 || res.Orders[0].SupplierID != "supB" {
		t.Fatalf("expected everything consolidated at supB, got %+v", res.Orders)
	}
	if res.TotalCost != 35 {
		t.Fatalf("total: want 35, got %v", res.TotalCost)
	}
}

func TestBaselineTieBreaks(t *testing.T) {
	items := []model.PartRequirement{{
		PartID: "p1", Quantity: 1,
		Offers: []model.PriceOffer{
			offer("supC", "Gamma", 50, 10, nil),
			offer("supB", "Beta", 50, 5, nil),
			offer("supA", "Alpha", 50, 5, nil),
		},
	}}
	idx := buildIndex([]feasibleItem{{item: items[0], offers: items[0].Offers}})
	asg := baselineAssignment(idx)
	// Same price: lower shipping wins, then supplier name ascending.
	if got := items[0].Offers[asg[0]].SupplierID; got != "supA" {
		t.Fatalf("tie-break: want supA, got %s", got)
	}
}

func TestWholeSupplierMerge(t *testing.T) {
	// Single-item moves all make things worse; only merging one supplier's
	// whole order onto the other crosses the threshold.
	mk := func(home, away string, homeName, awayName string) []model.PriceOffer {
		return []model.PriceOffer{
			offer(home, homeName, 30, 10, fp(100)),
			offer(away, awayName, 31, 10, fp(100)),
		}
	}
	items := []model.PartRequirement{
		{PartID: "x", Quantity: 1, Offers: mk("supA", "supB", "Alpha", "Beta")},
		{PartID: "y", Quantity: 1, Offers: mk("supA", "supB", "Alpha", "Beta")},
		{PartID: "z", Quantity: 1, Offers: mk("supB", "supA", "Beta", "Alpha")},
		{PartID: "w", Quantity: 1, Offers: mk("supB", "supA", "Beta", "Alpha")},
	}
	res := solve(t, items, 0)
	if len(res.Orders) != 1 {
		t.Fatalf("expected one merged order, got %d", len(res.Orders))
	}
	if res.TotalCost != 122 {
		t.Fatalf("merged total: want 122, got %v", res.TotalCost)
	}
	if res.SuppliersUsed != 1 {
		t.Fatalf("suppliersUsed: want 1, got %d", res.SuppliersUsed)
	}
}

func TestPinnedItemNeverMoves(t *testing.T) {
	items := []model.PartRequirement{
		{PartID: "pinned", Quantity: 1, Offers: []model.PriceOffer{offer("supA", "Alpha", 40, 25, fp(500))}},
		{PartID: "free", Quantity: 1, Offers: []model.PriceOffer{
			offer("supA", "Alpha", 90, 25, fp(500)),
			offer("supB", "Beta", 92, 0, nil),
		}},
	}
	res, m, err := Solve(Problem{Items: items, TaxRate: 0})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if m.PinnedItems != 1 {
		t.Fatalf("pinned count: %d", m.PinnedItems)
	}
	var pinnedSupplier string
	for _, o := range res.Orders {
		for _, ln := range o.Lines {
			if ln.PartID == "pinned" {
				pinnedSupplier = o.SupplierID
			}
		}
	}
	if pinnedSupplier != "supA" {
		t.Fatalf("pinned item left its only supplier: %s", pinnedSupplier)
	}
}

func TestTaxAppliedToSubtotalOnly(t *testing.T) {
	items := []model.PartRequirement{{
		PartID: "p1", Quantity: 2,
		Offers: []model.PriceOffer{offer("supA", "Alpha", 50, 12.5, nil)},
	}}
	res := solve(t, items, 0.0825)
	o := res.Orders[0]
	if o.Subtotal != 100 || o.ShippingFee != 12.5 {
		t.Fatalf("subtotal/ship: %v/%v", o.Subtotal, o.ShippingFee)
	}
	if o.TaxAmount != 8.25 {
		t.Fatalf("tax: want 8.25, got %v", o.TaxAmount)
	}
	if o.OrderTotal != 120.75 || res.TotalCost != 120.75 {
		t.Fatalf("orderTotal: want 120.75, got %v", o.OrderTotal)
	}
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		p    Problem
	}{
		{"empty cart", Problem{Items: nil}},
		{"zero quantity", Problem{Items: []model.PartRequirement{{PartID: "p", Quantity: 0}}}},
		{"missing partId", Problem{Items: []model.PartRequirement{{Quantity: 1}}}},
		{"negative price", Problem{Items: []model.PartRequirement{{PartID: "p", Quantity: 1,
			Offers: []model.PriceOffer{offer("s", "S", -1, 0, nil)}}}}},
		{"negative tax", Problem{TaxRate: -0.1, Items: []model.PartRequirement{{PartID: "p", Quantity: 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := Solve(tc.p); !errors.Is(err, ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}
}

func propertyCarts() [][]model.PartRequirement {
	return [][]model.PartRequirement{
		{
			{PartID: "a", Quantity: 3, Offers: []model.PriceOffer{
				offer("s1", "One", 12.5, 9.99, fp(75)),
				offer("s2", "Two", 11.8, 14.5, fp(120)),
				offer("s3", "Three", 13.1, 0, nil),
			}},
			{PartID: "b", Quantity: 1, Offers: []model.PriceOffer{
				offer("s1", "One", 48, 9.99, fp(75)),
				offer("s3", "Three", 52, 0, nil),
			}},
			{PartID: "c", Quantity: 2, Offers: []model.PriceOffer{
				offer("s2", "Two", 21, 14.5, fp(120)),
				offer("s3", "Three", 22.75, 0, nil),
			}},
		},
		{
			{PartID: "x", Quantity: 10, Offers: []model.PriceOffer{
				offer("s1", "One", 3.25, 6, fp(40)),
				offer("s2", "Two", 3.10, 8, nil),
			}},
			{PartID: "y", Quantity: 1, Offers: []model.PriceOffer{
				offer("s2", "Two", 199, 8, nil),
			}},
		},
		{
			{PartID: "solo", Quantity: 1, Offers: []model.PriceOffer{
				offer("s9", "Nine", 5, 4, fp(10)),
			}},
		},
	}
}

func TestConservationProperty(t *testing.T) {
	for ci, items := range propertyCarts() {
		res := solve(t, items, 0.0825)
		for _, it := range items {
			n, q := 0, 0
			for _, o := range res.Orders {
				for _, ln := range o.Lines {
					if ln.PartID == it.PartID {
						n++
						q += ln.Quantity
					}
				}
			}
			if n != 1 || q != it.Quantity {
				t.Fatalf("cart %d part %s: appears %d times with qty %d (want 1/%d)", ci, it.PartID, n, q, it.Quantity)
			}
		}
	}
}

func TestNonRegressionProperty(t *testing.T) {
	for ci, items := range propertyCarts() {
		res := solve(t, items, 0.0825)
		if res.TotalCost > res.BaselineCost+0.01 {
			t.Fatalf("cart %d: total %v exceeds baseline %v", ci, res.TotalCost, res.BaselineCost)
		}
		if res.WorstCaseCost+0.01 < res.TotalCost {
			t.Fatalf("cart %d: worst case %v below total %v", ci, res.WorstCaseCost, res.TotalCost)
		}
	}
}

func TestDeterminismProperty(t *testing.T) {
	for ci, items := range propertyCarts() {
		first := solve(t, items, 0.0825)
		for run := 0; run < 5; run++ {
			again := solve(t, items, 0.0825)
			if !reflect.DeepEqual(first, again) {
				t.Fatalf("cart %d run %d: result differs", ci, run)
			}
		}
	}
}

func TestThresholdCorrectnessProperty(t *testing.T) {
	for ci, items := range propertyCarts() {
		res := solve(t, items, 0)
		terms := map[string]model.PriceOffer{}
		for _, it := range items {
			for _, o := range it.Offers {
				if _, ok := terms[o.SupplierID]; !ok {
					terms[o.SupplierID] = o
				}
			}
		}
		for _, o := range res.Orders {
			tm := terms[o.SupplierID]
			free := tm.FreeShippingThreshold != nil && o.Subtotal >= *tm.FreeShippingThreshold
			if free && o.ShippingFee != 0 {
				t.Fatalf("cart %d supplier %s: subtotal %v over threshold but shipped at %v", ci, o.SupplierID, o.Subtotal, o.ShippingFee)
			}
			if !free && math.Abs(o.ShippingFee-tm.ShippingFee) > 1e-9 {
				t.Fatalf("cart %d supplier %s: want base fee %v, got %v", ci, o.SupplierID, tm.ShippingFee, o.ShippingFee)
			}
		}
	}
}

func TestLineTotalsSumToSubtotal(t *testing.T) {
	for ci, items := range propertyCarts() {
		res := solve(t, items, 0.0825)
		for _, o := range res.Orders {
			sum := 0.0
			for _, ln := range o.Lines {
				sum += ln.LineTotal
			}
			if math.Abs(sum-o.Subtotal) > 0.005 {
				t.Fatalf("cart %d supplier %s: lines sum %v != subtotal %v", ci, o.SupplierID, sum, o.Subtotal)
			}
		}
	}
}

func TestEvalBudgetStopsSearch(t *testing.T) {
	items := propertyCarts()[0]
	res, m, err := Solve(Problem{Items: items, TaxRate: 0, MaxEvals: 1})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if m.MovesEvaluated > 1 {
		t.Fatalf("eval budget ignored: %d", m.MovesEvaluated)
	}
	// Budget exhaustion still yields a complete plan.
	if len(res.Orders) == 0 {
		t.Fatalf("no orders despite feasible items")
	}
}
