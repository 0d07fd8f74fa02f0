package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/costscope/costscope/pkg/jobspec"
	"github.com/costscope/costscope/pkg/pipeline"
	"github.com/costscope/costscope/pkg/projectstore"
	"github.com/costscope/costscope/pkg/resourcegraph"
	"github.com/costscope/costscope/pkg/tfplan"
)

// PlanSource fetches the plan JSON artifact the planning stage produced
// for a job.
type PlanSource interface {
	Fetch(ctx context.Context, job *pipeline.Job) ([]byte, error)
}

// FilePlanSource reads plan artifacts from <dir>/<job_id>/plan.json.
type FilePlanSource struct {
	Dir string
}

// Fetch implements PlanSource.
func (f *FilePlanSource) Fetch(_ context.Context, job *pipeline.Job) ([]byte, error) {
	path := filepath.Join(f.Dir, job.ID, "plan.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan artifact: %w", err)
	}
	return data, nil
}

// ObjectPlanSource reads plan artifacts from the project store under
// <prefix>/<job_id>/plan.json.
type ObjectPlanSource struct {
	Store  *projectstore.Store
	Prefix string
}

// Fetch implements PlanSource.
func (o *ObjectPlanSource) Fetch(ctx context.Context, job *pipeline.Job) ([]byte, error) {
	key := job.ID + "/plan.json"
	if o.Prefix != "" {
		key = o.Prefix + "/" + key
	}
	return o.Store.Get(ctx, key)
}

// Parsing interprets a job's plan JSON in-process: it applies the job
// spec's address filters, builds the resource dependency graph, and
// records the dependencies-first evaluation order for the downstream
// enrichment and costing stages.
type Parsing struct {
	plans PlanSource
}

// NewParsing creates the parsing stage executor.
func NewParsing(plans PlanSource) *Parsing {
	return &Parsing{plans: plans}
}

var _ pipeline.Executor = (*Parsing)(nil)

// ValidateInput implements pipeline.Executor.
func (p *Parsing) ValidateInput(_ context.Context, job *pipeline.Job) error {
	if job.State != pipeline.StatePlanning {
		return pipeline.NewInputValidationError(pipeline.StageParsing,
			fmt.Sprintf("job %s has no plan to parse (state %q)", job.ID, job.State))
	}
	return nil
}

// Execute implements pipeline.Executor.
func (p *Parsing) Execute(ctx context.Context, job *pipeline.Job) (map[string]any, error) {
	data, err := p.plans.Fetch(ctx, job)
	if err != nil {
		return nil, err
	}

	plan, err := tfplan.Parse(data)
	if err != nil {
		return nil, err
	}

	resources := plan.GraphResources()
	if job.SpecPath != "" {
		spec, err := jobspec.Load(job.SpecPath)
		if err != nil {
			return nil, err
		}
		filter, err := spec.Filters.Compile()
		if err != nil {
			return nil, err
		}
		kept := resources[:0]
		for _, r := range resources {
			if filter.Match(r.Address) {
				kept = append(kept, r)
			}
		}
		resources = kept
	}

	graph := resourcegraph.Build(resources)
	order := graph.EvaluationOrder()

	output := map[string]any{
		"terraform_version": plan.TerraformVersion,
		"resource_count":    graph.Len(),
		"edge_count":        graph.EdgeCount(),
		"evaluation_order":  toAnySlice(order.Addresses),
		"cyclic":            order.Cyclic,
	}
	if order.Cyclic {
		// Degraded ordering must be observable downstream, never silent.
		output["unordered"] = toAnySlice(order.Unordered)
	}
	return output, nil
}

// ValidateOutput implements pipeline.Executor.
func (p *Parsing) ValidateOutput(_ context.Context, output map[string]any) error {
	if _, ok := output["evaluation_order"]; !ok {
		return pipeline.NewOutputValidationError(pipeline.StageParsing,
			"interpretation produced no evaluation order")
	}
	return nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
