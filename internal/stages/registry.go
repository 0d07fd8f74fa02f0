package stages

import (
	"time"

	"github.com/costscope/costscope/pkg/pipeline"
)

// Endpoints names the service URLs for the handoff stages.
type Endpoints struct {
	Planning  string
	Enriching string
	Costing   string
}

// NewRegistry builds the stage registry the orchestrator consumes. It is
// constructed once at process start and injected by reference; nothing
// here is a package-level singleton.
func NewRegistry(endpoints Endpoints, plans PlanSource, requestTimeout time.Duration) pipeline.Registry {
	return pipeline.Registry{
		pipeline.StagePlanning: NewHandoff(HandoffConfig{
			Stage:             pipeline.StagePlanning,
			Endpoint:          endpoints.Planning,
			ExpectStates:      []pipeline.JobState{pipeline.StateCreated, pipeline.StateUploaded},
			RequireOutputKeys: []string{"plan_key"},
			RequestTimeout:    requestTimeout,
		}),
		pipeline.StageParsing: NewParsing(plans),
		pipeline.StageEnriching: NewHandoff(HandoffConfig{
			Stage:          pipeline.StageEnriching,
			Endpoint:       endpoints.Enriching,
			ExpectStates:   []pipeline.JobState{pipeline.StateParsing},
			RequestTimeout: requestTimeout,
		}),
		pipeline.StageCosting: NewHandoff(HandoffConfig{
			Stage:             pipeline.StageCosting,
			Endpoint:          endpoints.Costing,
			ExpectStates:      []pipeline.JobState{pipeline.StateEnriching},
			RequireOutputKeys: []string{"estimate_key"},
			RequestTimeout:    requestTimeout,
		}),
	}
}
