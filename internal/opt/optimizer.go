package opt

import (
	"errors"
	"fmt"
	"sort"

	"partsopt/internal/model"
)

// Sentinel errors. ErrValidation rejects the whole call; ErrInternal marks an
// invariant violation that indicates a bug rather than bad input.
var (
	ErrValidation = errors.New("invalid optimization input")
	ErrInternal   = errors.New("optimizer invariant violated")
)

// DefaultMaxEvals caps total candidate-move evaluations across all passes so
// the search terminates even on pathological carts.
const DefaultMaxEvals = 10000

const costEps = 1e-6

// Problem is one optimizer invocation. It is consumed by Solve and never
// mutated; a Problem carries no state between calls.
type Problem struct {
	Items     []model.PartRequirement
	TaxRate   float64
	MaxPasses int // 0 means items x candidate suppliers
	MaxEvals  int // 0 means DefaultMaxEvals
}

// Metrics describes one run of the local search for admin views.
type Metrics struct {
	Passes         int     `json:"passes"`
	MovesEvaluated int     `json:"movesEvaluated"`
	MovesApplied   int     `json:"movesApplied"`
	MergesApplied  int     `json:"mergesApplied"`
	PinnedItems    int     `json:"pinnedItems"`
	SeedCost       float64 `json:"seedCost"`
	FinalCost      float64 `json:"finalCost"`
}

// supplier holds the order-level shipping terms quoted by one supplier.
// Terms come from the first offer seen for the supplier in input order;
// unit prices stay per-line.
type supplier struct {
	id        string
	name      string
	fee       float64
	threshold *float64
}

// feasibleItem is a cart line that survived the feasibility filter together
// with its usable offers, input order preserved.
type feasibleItem struct {
	item   model.PartRequirement
	offers []model.PriceOffer
}

// problemIndex is the immutable working view built once per Solve call.
type problemIndex struct {
	items     []feasibleItem
	suppliers map[string]*supplier
}

// Solve runs the full pipeline: validate, filter, seed from the cheapest
// per-item baseline, consolidate via local search, assemble per-supplier
// orders, and report savings. Pure; safe to call concurrently.
func Solve(p Problem) (model.OptimizationResult, Metrics, error) {
	var m Metrics
	if err := validate(p); err != nil {
		return model.OptimizationResult{}, m, err
	}

	feasible, unmet := filterFeasible(p.Items)
	if len(feasible) == 0 {
		// Nothing sourceable: still a successful, empty result.
		return model.OptimizationResult{UnmetItems: unmet, SavingsPercent: 0}, m, nil
	}

	idx := buildIndex(feasible)
	for _, it := range idx.items {
		if len(it.offers) == 1 {
			m.PinnedItems++
		}
	}

	asg := baselineAssignment(idx)
	m.SeedCost = objective(idx, asg)

	asg = consolidate(idx, asg, p.effectiveMaxPasses(), p.effectiveMaxEvals(), &m)
	m.FinalCost = objective(idx, asg)

	res, err := assemble(idx, asg, p.TaxRate)
	if err != nil {
		return model.OptimizationResult{}, m, err
	}
	report(&res, idx, p.TaxRate)
	res.UnmetItems = unmet
	return res, m, nil
}

func (p Problem) effectiveMaxPasses() int {
	if p.MaxPasses > 0 {
		return p.MaxPasses
	}
	n := 0
	seen := map[string]struct{}{}
	for _, it := range p.Items {
		for _, o := range it.Offers {
			seen[o.SupplierID] = struct{}{}
		}
	}
	n = len(p.Items) * len(seen)
	if n < 1 {
		n = 1
	}
	return n
}

func (p Problem) effectiveMaxEvals() int {
	if p.MaxEvals > 0 {
		return p.MaxEvals
	}
	return DefaultMaxEvals
}

func validate(p Problem) error {
	if p.TaxRate < 0 {
		return fmt.Errorf("%w: taxRate must be >= 0", ErrValidation)
	}
	if len(p.Items) == 0 {
		return fmt.Errorf("%w: cart has no items", ErrValidation)
	}
	for i, it := range p.Items {
		if it.PartID == "" {
			return fmt.Errorf("%w: item %d missing partId", ErrValidation, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %s quantity must be positive", ErrValidation, it.PartID)
		}
		for j, o := range it.Offers {
			if o.SupplierID == "" {
				return fmt.Errorf("%w: item %s offer %d missing supplierId", ErrValidation, it.PartID, j)
			}
			if o.UnitPrice < 0 {
				return fmt.Errorf("%w: item %s offer from %s has negative unitPrice", ErrValidation, it.PartID, o.SupplierID)
			}
			if o.ShippingFee < 0 {
				return fmt.Errorf("%w: item %s offer from %s has negative shippingFee", ErrValidation, it.PartID, o.SupplierID)
			}
		}
	}
	return nil
}

// filterFeasible drops offers that are out of stock or short on quantity.
// Items left with no usable offer are reported unmet and excluded from all
// later stages.
func filterFeasible(items []model.PartRequirement) ([]feasibleItem, []model.UnmetItem) {
	feasible := make([]feasibleItem, 0, len(items))
	var unmet []model.UnmetItem
	for _, it := range items {
		usable := make([]model.PriceOffer, 0, len(it.Offers))
		stockShort := false
		for _, o := range it.Offers {
			if !o.InStock {
				continue
			}
			if o.MaxAvailableQty != nil && *o.MaxAvailableQty < it.Quantity {
				stockShort = true
				continue
			}
			usable = append(usable, o)
		}
		if len(usable) == 0 {
			reason := model.ReasonNoSupplier
			if stockShort {
				reason = model.ReasonInsufficientStock
			}
			unmet = append(unmet, model.UnmetItem{PartID: it.PartID, PartNumber: it.PartNumber, Reason: reason})
			continue
		}
		feasible = append(feasible, feasibleItem{item: it, offers: usable})
	}
	return feasible, unmet
}

func buildIndex(items []feasibleItem) problemIndex {
	idx := problemIndex{items: items, suppliers: map[string]*supplier{}}
	for _, it := range items {
		for _, o := range it.offers {
			if _, ok := idx.suppliers[o.SupplierID]; !ok {
				s := &supplier{id: o.SupplierID, name: o.SupplierName, fee: o.ShippingFee}
				if o.FreeShippingThreshold != nil {
					t := *o.FreeShippingThreshold
					s.threshold = &t
				}
				idx.suppliers[o.SupplierID] = s
			}
		}
	}
	return idx
}

// cheaperOffer is the deterministic comparator for baseline selection:
// unit price, then shipping fee, then supplier name, then input order.
func cheaperOffer(a, b model.PriceOffer) bool {
	if a.UnitPrice != b.UnitPrice {
		return a.UnitPrice < b.UnitPrice
	}
	if a.ShippingFee != b.ShippingFee {
		return a.ShippingFee < b.ShippingFee
	}
	return a.SupplierName < b.SupplierName
}

// baselineAssignment picks the cheapest unit-price offer per item.
func baselineAssignment(idx problemIndex) []int {
	asg := make([]int, len(idx.items))
	for i, it := range idx.items {
		best := 0
		for j := 1; j < len(it.offers); j++ {
			if cheaperOffer(it.offers[j], it.offers[best]) {
				best = j
			}
		}
		asg[i] = best
	}
	return asg
}

// shipCost applies the supplier's free-shipping rule to an order subtotal.
// Callers guarantee the supplier has at least one line; an order of
// zero-priced lines below threshold still pays the base fee.
func shipCost(s *supplier, subtotal float64) float64 {
	if s.threshold != nil && subtotal >= *s.threshold {
		return 0
	}
	return s.fee
}

// subtotals groups the assignment's parts value per supplier. A key is
// present exactly when the supplier has at least one assigned line, so
// presence, not value, is the emptiness signal.
func subtotals(idx problemIndex, asg []int) map[string]float64 {
	subs := make(map[string]float64, len(idx.suppliers))
	for i, it := range idx.items {
		o := it.offers[asg[i]]
		subs[o.SupplierID] += o.UnitPrice * float64(it.item.Quantity)
	}
	return subs
}

// lineCounts groups the assignment's line count per supplier.
func lineCounts(idx problemIndex, asg []int) map[string]int {
	counts := make(map[string]int, len(idx.suppliers))
	for i, it := range idx.items {
		counts[it.offers[asg[i]].SupplierID]++
	}
	return counts
}

// objective is the consolidated pre-tax cost of an assignment: per-supplier
// parts subtotal plus shipping under the threshold rule. Tax is uniform and
// excluded since it never changes which assignment is cheapest.
func objective(idx problemIndex, asg []int) float64 {
	total := 0.0
	for sid, sub := range subtotals(idx, asg) {
		total += sub + shipCost(idx.suppliers[sid], sub)
	}
	return total
}

// naiveBaselineCost prices every item at its baseline offer with that offer's
// shipping fee applied per item independently, no consolidation. This is the
// savings comparison base.
func naiveBaselineCost(idx problemIndex, asg []int) float64 {
	total := 0.0
	for i, it := range idx.items {
		o := it.offers[asg[i]]
		sub := o.UnitPrice * float64(it.item.Quantity)
		total += sub + shipCost(idx.suppliers[o.SupplierID], sub)
	}
	return total
}

// worstCaseCost prices every item at its most expensive usable offer with
// per-item shipping, as the pessimistic comparison bound.
func worstCaseCost(idx problemIndex) float64 {
	total := 0.0
	for _, it := range idx.items {
		worst := it.offers[0]
		for _, o := range it.offers[1:] {
			if o.UnitPrice > worst.UnitPrice {
				worst = o
			}
		}
		sub := worst.UnitPrice * float64(it.item.Quantity)
		total += sub + shipCost(idx.suppliers[worst.SupplierID], sub)
	}
	return total
}

// suppliersUsed counts suppliers with at least one assigned line.
func suppliersUsed(subs map[string]float64) int {
	return len(subs)
}

// sortedSupplierIDs returns supplier ids with non-empty orders in name order,
// for deterministic iteration.
func sortedSupplierIDs(idx problemIndex, subs map[string]float64) []string {
	ids := make([]string, 0, len(subs))
	for sid := range subs {
		ids = append(ids, sid)
	}
	sort.Slice(ids, func(a, b int) bool {
		sa, sb := idx.suppliers[ids[a]], idx.suppliers[ids[b]]
		if sa.name != sb.name {
			return sa.name < sb.name
		}
		return sa.id < sb.id
	})
	return ids
}
