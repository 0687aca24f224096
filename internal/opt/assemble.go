package opt

import (
	"fmt"
	"sort"

	"partsopt/internal/model"
	"partsopt/internal/money"
)

// assemble groups the final assignment into per-supplier orders with final
// shipping, tax, and landed totals. Orders are sorted by supplier name and
// lines keep cart order.
func assemble(idx problemIndex, asg []int, taxRate float64) (model.OptimizationResult, error) {
	orders := map[string]*model.SupplierOrder{}
	for i, it := range idx.items {
		o := it.offers[asg[i]]
		so := orders[o.SupplierID]
		if so == nil {
			sup := idx.suppliers[o.SupplierID]
			so = &model.SupplierOrder{SupplierID: sup.id, SupplierName: sup.name}
			orders[o.SupplierID] = so
		}
		line := model.OrderLine{
			PartID:     it.item.PartID,
			PartNumber: it.item.PartNumber,
			Quantity:   it.item.Quantity,
			UnitPrice:  o.UnitPrice,
			LineTotal:  money.Line(o.UnitPrice, it.item.Quantity),
		}
		so.Lines = append(so.Lines, line)
	}

	out := make([]model.SupplierOrder, 0, len(orders))
	for sid, so := range orders {
		lineTotals := make([]float64, len(so.Lines))
		for i, ln := range so.Lines {
			lineTotals[i] = ln.LineTotal
		}
		so.Subtotal = money.Sum(lineTotals...)
		so.ShippingFee = money.Round2(shipCost(idx.suppliers[sid], so.Subtotal))
		so.TaxAmount = money.Tax(so.Subtotal, taxRate)
		so.OrderTotal = money.Sum(so.Subtotal, so.ShippingFee, so.TaxAmount)
		out = append(out, *so)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].SupplierName != out[b].SupplierName {
			return out[a].SupplierName < out[b].SupplierName
		}
		return out[a].SupplierID < out[b].SupplierID
	})

	res := model.OptimizationResult{Orders: out, SuppliersUsed: len(out)}
	if err := checkConservation(idx, res); err != nil {
		return model.OptimizationResult{}, err
	}
	totals := make([]float64, len(out))
	for i, so := range out {
		totals[i] = so.OrderTotal
	}
	res.TotalCost = money.Sum(totals...)
	return res, nil
}

// checkConservation verifies every feasible item landed in exactly one order
// line with the requested quantity. A failure here is a bug, never bad input.
func checkConservation(idx problemIndex, res model.OptimizationResult) error {
	qty := map[string]int{}
	count := map[string]int{}
	for _, so := range res.Orders {
		for _, ln := range so.Lines {
			qty[ln.PartID] += ln.Quantity
			count[ln.PartID]++
		}
	}
	for _, it := range idx.items {
		if count[it.item.PartID] != 1 || qty[it.item.PartID] != it.item.Quantity {
			return fmt.Errorf("%w: part %s assigned %d times for qty %d/%d",
				ErrInternal, it.item.PartID, count[it.item.PartID], qty[it.item.PartID], it.item.Quantity)
		}
	}
	return nil
}

// report fills the savings view: the comparison base is the unconsolidated
// cheapest-per-item plan with each item shipped on its own, taxed the same
// way as the optimized result.
func report(res *model.OptimizationResult, idx problemIndex, taxRate float64) {
	base := baselineAssignment(idx)
	partsSub := 0.0
	for i, it := range idx.items {
		partsSub += it.offers[base[i]].UnitPrice * float64(it.item.Quantity)
	}
	baseCost := naiveBaselineCost(idx, base)
	res.BaselineCost = money.Sum(baseCost, money.Tax(partsSub, taxRate))

	worst := worstCaseCost(idx)
	worstParts := 0.0
	for _, it := range idx.items {
		w := it.offers[0]
		for _, o := range it.offers[1:] {
			if o.UnitPrice > w.UnitPrice {
				w = o
			}
		}
		worstParts += w.UnitPrice * float64(it.item.Quantity)
	}
	res.WorstCaseCost = money.Sum(worst, money.Tax(worstParts, taxRate))

	res.Savings = money.Round2(res.BaselineCost - res.TotalCost)
	if res.Savings < 0 {
		res.Savings = 0
	}
	if res.BaselineCost > 0 {
		res.SavingsPercent = money.Round2(res.Savings / res.BaselineCost * 100)
	}
}
