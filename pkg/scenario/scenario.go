// Package scenario reduces analysis records into per-scenario totals.
package scenario

import (
	"time"

	"github.com/raterudder/gridsync/pkg/types"
	"github.com/samber/lo"
)

// DefaultInterval is the length of one analysis record.
const DefaultInterval = 30 * time.Minute

// Aggregate sums records per scenario. Cost is summed as is while
// consumption and import are average kW values converted to kWh by
// multiplying by intervalHours. The result follows order; scenarios with no
// records are omitted and scenarios not in order are dropped. A nil order
// uses types.DefaultScenarioOrder.
func Aggregate(records []types.AnalysisRecord, order []string, intervalHours float64) []types.ScenarioAggregate {
	if order == nil {
		order = types.DefaultScenarioOrder
	}
	groups := lo.GroupBy(records, func(r types.AnalysisRecord) string { return r.Scenario })

	return lo.FilterMap(lo.Uniq(order), func(name string, _ int) (types.ScenarioAggregate, bool) {
		rs, ok := groups[name]
		if !ok {
			return types.ScenarioAggregate{}, false
		}
		return types.ScenarioAggregate{
			Scenario:       name,
			Cost:           lo.SumBy(rs, func(r types.AnalysisRecord) float64 { return r.Cost }),
			ConsumptionKWH: lo.SumBy(rs, func(r types.AnalysisRecord) float64 { return r.HomeConsumption }) * intervalHours,
			ImportKWH:      lo.SumBy(rs, func(r types.AnalysisRecord) float64 { return r.GridImport }) * intervalHours,
		}, true
	})
}

// Hours converts an interval to the fractional hours Aggregate expects.
func Hours(interval time.Duration) float64 {
	return interval.Hours()
}
