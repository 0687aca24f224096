package api

import (
	"fmt"

	"partsopt/internal/model"
)

func validateOptimizeRequest(req *model.OptimizeRequest) error {
	if req.CartID == "" && len(req.Items) == 0 {
		return fmt.Errorf("either cartId or items is required")
	}
	if req.CartID != "" && len(req.Items) > 0 {
		return fmt.Errorf("cartId and items are mutually exclusive")
	}
	if req.TaxRate != nil && (*req.TaxRate < 0 || *req.TaxRate >= 1) {
		return fmt.Errorf("taxRate must be in [0,1)")
	}
	if req.MaxPasses < 0 {
		return fmt.Errorf("maxPasses must be >= 0")
	}
	if req.MaxEvals < 0 {
		return fmt.Errorf("maxEvals must be >= 0")
	}
	return nil
}

func validateSubscriptionRequest(req *model.SubscriptionRequest) error {
	if req.URL == "" {
		return fmt.Errorf("url is required")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events is required")
	}
	allowed := map[string]struct{}{"cart.created": {}, "cart.optimized": {}, "plan.created": {}, "offers.imported": {}, "*": {}}
	for _, e := range req.Events {
		if _, ok := allowed[e]; !ok {
			return fmt.Errorf("unknown event type: %s", e)
		}
	}
	return nil
}
