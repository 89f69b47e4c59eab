package worker

import "encoding/json"

// PlanFile is the deterministic-path JSON a planner worker writes
// (`<featureId>-<role>.plan.json`, e.g. `f1-plannerA.plan.json`). Its shape is the input to the competitive
// planner evaluator's scoring.
type PlanFile struct {
	Summary   string   `json:"summary"`
	Steps     []string `json:"steps,omitempty"`
	RiskNotes string   `json:"riskNotes,omitempty"`
}

// ParsePlanFile unmarshals raw plan JSON written by a planner worker.
func ParsePlanFile(data []byte) (*PlanFile, error) {
	var p PlanFile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
