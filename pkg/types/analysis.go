package types

import "time"

// Canonical scenario names produced by the analysis run.
const (
	ScenarioBaseline   = "Baseline"
	ScenarioSolar      = "Solar"
	ScenarioSmartShift = "SmartShift"
)

// DefaultScenarioOrder is the order scenarios are reported in.
var DefaultScenarioOrder = []string{ScenarioBaseline, ScenarioSolar, ScenarioSmartShift}

// AnalysisRecord is a single simulated interval for one scenario. Power values
// are average kW over the interval.
type AnalysisRecord struct {
	TimeStep        string  `json:"time_step"` // "HH:MM"
	Scenario        string  `json:"scenario"`
	SolarGeneration float64 `json:"solar_generation"`
	HomeConsumption float64 `json:"home_consumption"`
	GridImport      float64 `json:"grid_import"`
	GridExport      float64 `json:"grid_export"`
	Cost            float64 `json:"cost"`
	IsPeak          bool    `json:"is_peak"`
}

// AnalysisResponse is returned by the analysis generation endpoint.
type AnalysisResponse struct {
	Success bool             `json:"success"`
	Files   []string         `json:"files"`
	Summary string           `json:"summary"`
	Data    []AnalysisRecord `json:"data"`
}

// ScenarioAggregate is the per-scenario total of an analysis run.
type ScenarioAggregate struct {
	Scenario       string  `json:"scenario"`
	Cost           float64 `json:"cost"`
	ConsumptionKWH float64 `json:"consumption_kwh"`
	ImportKWH      float64 `json:"import_kwh"`
}

// AnalysisReport is the last successful analysis run kept by the engine.
type AnalysisReport struct {
	GeneratedAt time.Time           `json:"generatedAt"`
	Summary     string              `json:"summary"`
	Files       []string            `json:"files"`
	Scenarios   []ScenarioAggregate `json:"scenarios"`
}
