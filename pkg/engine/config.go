package engine

import (
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/gridsync/pkg/metrics"
	"github.com/raterudder/gridsync/pkg/storage"
	"github.com/raterudder/gridsync/pkg/telemetry"
	"github.com/robfig/cron/v3"
)

// Configured returns an Engine configured from flags.
func Configured(svc telemetry.Service, archive storage.Database, m *metrics.Metrics, sinks ...Sink) *Engine {
	def := DefaultOptions()

	pollInterval := lflag.Duration("poll-interval", def.PollInterval, "Time between telemetry polls")
	notificationTTL := lflag.Duration("notification-ttl", def.NotificationTTL, "How long a notification stays active")
	analysisInterval := lflag.Duration("analysis-interval", def.AnalysisInterval, "Length of one analysis record, used to convert kW to kWh")
	analysisSchedule := lflag.String("analysis-schedule", "", "Cron spec for periodic analysis runs (e.g. \"0 * * * *\"). Empty disables.")
	windowCapacity := def.WindowCapacity
	lflag.JSON(&windowCapacity, "window-capacity", windowCapacity, "Number of samples kept in the window")
	maxNotifications := def.MaxNotifications
	lflag.JSON(&maxNotifications, "max-notifications", maxNotifications, "Maximum notifications kept at once, 0 for no limit")
	maxPendingCycles := def.MaxPendingCycles
	lflag.JSON(&maxPendingCycles, "pending-intent-cycles", maxPendingCycles, "Unchanged polls before a pending device command is forgotten, 0 to wait forever")
	scenarioOrder := def.ScenarioOrder
	lflag.JSON(&scenarioOrder, "scenario-order", scenarioOrder, "JSON list of scenarios in the order they are reported")

	e := &Engine{}

	lflag.Do(func() {
		if *analysisSchedule != "" {
			if _, err := cron.ParseStandard(*analysisSchedule); err != nil {
				panic(fmt.Sprintf("invalid analysis-schedule: %v", err))
			}
		}
		if windowCapacity < 1 {
			panic(fmt.Sprintf("window-capacity must be positive: %d", windowCapacity))
		}
		opts := Options{
			PollInterval:     *pollInterval,
			WindowCapacity:   windowCapacity,
			NotificationTTL:  *notificationTTL,
			MaxNotifications: maxNotifications,
			MaxPendingCycles: maxPendingCycles,
			ScenarioOrder:    scenarioOrder,
			AnalysisInterval: *analysisInterval,
			AnalysisSchedule: *analysisSchedule,
		}
		e.init(svc, archive, m, opts, sinks)
	})

	return e
}
