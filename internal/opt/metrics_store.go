package opt

import "sync"

type runKey struct {
	Tenant string
	PlanID string
}

var (
	mu   sync.Mutex
	runs = map[runKey]Metrics{}
)

// RecordMetrics keeps the search metrics of a plan for admin views.
func RecordMetrics(tenant, planID string, m Metrics) {
	mu.Lock()
	runs[runKey{Tenant: tenant, PlanID: planID}] = m
	mu.Unlock()
}

// GetMetrics returns recorded run metrics for a tenant, keyed by plan id.
func GetMetrics(tenant string) map[string]Metrics {
	mu.Lock()
	defer mu.Unlock()
	out := map[string]Metrics{}
	for k, v := range runs {
		if k.Tenant == tenant {
			out[k.PlanID] = v
		}
	}
	return out
}
