package opt

import "partsopt/internal/model"

// Local search over one-supplier-per-item assignments. Each pass scans every
// candidate move, applies only the single best strictly-improving one, and
// stops when no move improves, the pass cap is hit, or the global evaluation
// budget runs out. Accepted moves strictly decrease the objective, so the
// search terminates and never regresses past its seed.

// move is a candidate reassignment: either one item to another offer, or a
// whole supplier's lines onto another supplier's pricing.
type move struct {
	delta     float64
	suppliers int // suppliers used after applying, for tie-breaks
	order     int // discovery order within the pass
	items     []int
	offers    []int
}

func (mv move) betterThan(other move) bool {
	if mv.delta+costEps < other.delta {
		return true
	}
	if other.delta+costEps < mv.delta {
		return false
	}
	if mv.suppliers != other.suppliers {
		return mv.suppliers < other.suppliers
	}
	return mv.order < other.order
}

func consolidate(idx problemIndex, asg []int, maxPasses, maxEvals int, m *Metrics) []int {
	evals := 0
	for pass := 0; pass < maxPasses; pass++ {
		m.Passes++
		best, found := bestMove(idx, asg, maxEvals, &evals)
		if !found {
			break
		}
		for k, i := range best.items {
			asg[i] = best.offers[k]
		}
		m.MovesApplied++
		if len(best.items) > 1 {
			m.MergesApplied++
		}
		m.MovesEvaluated = evals
		if evals >= maxEvals {
			break
		}
	}
	m.MovesEvaluated = evals
	return asg
}

// bestMove scans single-item relocations away from fee-paying suppliers and
// whole-supplier merges between two fee-paying suppliers, returning the
// lowest-delta strictly-improving move.
func bestMove(idx problemIndex, asg []int, maxEvals int, evals *int) (move, bool) {
	subs := subtotals(idx, asg)
	counts := lineCounts(idx, asg)
	used := suppliersUsed(subs)
	var best move
	found := false
	order := 0

	consider := func(mv move) {
		if mv.delta >= -costEps {
			return
		}
		if !found || mv.betterThan(best) {
			best = mv
			found = true
		}
	}

	paying := map[string]bool{}
	for sid, sub := range subs {
		if shipCost(idx.suppliers[sid], sub) > 0 {
			paying[sid] = true
		}
	}

	// Single-item relocations: only items currently billed shipping are worth
	// moving; items with a single usable offer are pinned.
	for i, it := range idx.items {
		if len(it.offers) < 2 {
			continue
		}
		cur := it.offers[asg[i]]
		if !paying[cur.SupplierID] {
			continue
		}
		for j, alt := range it.offers {
			if j == asg[i] || alt.SupplierID == cur.SupplierID {
				continue
			}
			if *evals >= maxEvals {
				return best, found
			}
			*evals++
			order++
			d, usedAfter := relocationDelta(idx, subs, counts, used, it, cur, alt)
			consider(move{delta: d, suppliers: usedAfter, order: order, items: []int{i}, offers: []int{j}})
		}
	}

	// Whole-supplier merges: combine two below-threshold orders to kill one
	// shipping fee when the donor's every item is quoted by the target.
	bySupplier := map[string][]int{}
	for i, it := range idx.items {
		bySupplier[it.offers[asg[i]].SupplierID] = append(bySupplier[it.offers[asg[i]].SupplierID], i)
	}
	payingIDs := sortedSupplierIDs(idx, subs)
	for _, from := range payingIDs {
		if !paying[from] {
			continue
		}
		for _, to := range payingIDs {
			if to == from || !paying[to] {
				continue
			}
			if *evals >= maxEvals {
				return best, found
			}
			*evals++
			order++
			mv, ok := mergeMove(idx, subs, used, bySupplier[from], from, to, asg)
			if ok {
				mv.order = order
				consider(mv)
			}
		}
	}
	return best, found
}

// relocationDelta computes the objective change from moving one item from its
// current offer to alt, recomputing both suppliers' shipping status. Shipping
// is only owed by suppliers that actually hold lines, so emptiness comes from
// line counts rather than subtotal value (zero-priced lines still ship).
func relocationDelta(idx problemIndex, subs map[string]float64, counts map[string]int, used int, it feasibleItem, cur, alt model.PriceOffer) (float64, int) {
	qty := float64(it.item.Quantity)
	from := idx.suppliers[cur.SupplierID]
	to := idx.suppliers[alt.SupplierID]

	fromSub := subs[cur.SupplierID]
	toSub := subs[alt.SupplierID]
	before := fromSub + shipCost(from, fromSub) + toSub
	if counts[alt.SupplierID] > 0 {
		before += shipCost(to, toSub)
	}

	fromEmpty := counts[cur.SupplierID] == 1
	fromAfter := fromSub - cur.UnitPrice*qty
	if fromEmpty || fromAfter < 0 {
		fromAfter = 0
	}
	toAfter := toSub + alt.UnitPrice*qty
	after := fromAfter + toAfter + shipCost(to, toAfter)
	if !fromEmpty {
		after += shipCost(from, fromAfter)
	}

	usedAfter := used
	if fromEmpty {
		usedAfter--
	}
	if counts[alt.SupplierID] == 0 {
		usedAfter++
	}
	return after - before, usedAfter
}

// mergeMove evaluates moving every line of supplier from onto supplier to.
func mergeMove(idx problemIndex, subs map[string]float64, used int, items []int, from, to string, asg []int) (move, bool) {
	target := idx.suppliers[to]
	source := idx.suppliers[from]

	moved := 0.0
	offers := make([]int, 0, len(items))
	for _, i := range items {
		it := idx.items[i]
		foundOffer := -1
		for j, o := range it.offers {
			if o.SupplierID == to {
				foundOffer = j
				break
			}
		}
		if foundOffer == -1 {
			return move{}, false
		}
		moved += it.offers[foundOffer].UnitPrice * float64(it.item.Quantity)
		offers = append(offers, foundOffer)
	}

	fromSub := subs[from]
	toSub := subs[to]
	before := fromSub + shipCost(source, fromSub) + toSub + shipCost(target, toSub)
	toAfter := toSub + moved
	after := toAfter + shipCost(target, toAfter)

	return move{
		delta:     after - before,
		suppliers: used - 1,
		items:     append([]int(nil), items...),
		offers:    offers,
	}, true
}
