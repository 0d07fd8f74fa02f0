package stages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costscope/costscope/pkg/pipeline"
)

const parsingPlan = `{
  "format_version": "1.2",
  "terraform_version": "1.9.5",
  "planned_values": {
    "root_module": {
      "resources": [
        {"address": "aws_instance.web", "type": "aws_instance", "name": "web",
         "values": {"subnet_id": "${aws_subnet.a.id}"}},
        {"address": "aws_subnet.a", "type": "aws_subnet", "name": "a",
         "values": {"vpc_id": "${aws_vpc.main.id}"}},
        {"address": "aws_vpc.main", "type": "aws_vpc", "name": "main",
         "values": {"cidr_block": "10.0.0.0/16"}}
      ]
    }
  }
}`

type memPlanSource struct {
	data []byte
	err  error
}

func (m *memPlanSource) Fetch(_ context.Context, _ *pipeline.Job) ([]byte, error) {
	return m.data, m.err
}

func TestParsingValidateInputRequiresPlanningState(t *testing.T) {
	p := NewParsing(&memPlanSource{})

	err := p.ValidateInput(context.Background(), &pipeline.Job{ID: "j", State: pipeline.StateCreated})
	var verr *pipeline.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "input", verr.Phase)

	assert.NoError(t, p.ValidateInput(context.Background(),
		&pipeline.Job{ID: "j", State: pipeline.StatePlanning}))
}

func TestParsingBuildsEvaluationOrder(t *testing.T) {
	p := NewParsing(&memPlanSource{data: []byte(parsingPlan)})
	job := &pipeline.Job{ID: "job-1", State: pipeline.StatePlanning}

	output, err := p.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, "1.9.5", output["terraform_version"])
	assert.Equal(t, 3, output["resource_count"])
	assert.Equal(t, 2, output["edge_count"])
	assert.Equal(t, false, output["cyclic"])

	order, ok := output["evaluation_order"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"aws_vpc.main", "aws_subnet.a", "aws_instance.web"}, order)

	require.NoError(t, p.ValidateOutput(context.Background(), output))
}

func TestParsingReportsCycles(t *testing.T) {
	cyclic := `{
	  "format_version": "1.2",
	  "planned_values": {"root_module": {"resources": [
	    {"address": "aws_security_group.a", "values": {"peer": "${aws_security_group.b.id}"}},
	    {"address": "aws_security_group.b", "values": {"peer": "${aws_security_group.a.id}"}}
	  ]}}
	}`
	p := NewParsing(&memPlanSource{data: []byte(cyclic)})

	output, err := p.Execute(context.Background(), &pipeline.Job{ID: "j", State: pipeline.StatePlanning})
	require.NoError(t, err, "cycles degrade the order, they do not fail the stage")

	assert.Equal(t, true, output["cyclic"])
	unordered, ok := output["unordered"].([]any)
	require.True(t, ok)
	assert.Len(t, unordered, 2)

	order, ok := output["evaluation_order"].([]any)
	require.True(t, ok)
	assert.Len(t, order, 2, "every resource still appears in the order")
}

func TestParsingAppliesSpecFilters(t *testing.T) {
	dir := t.TempDir()
	specPath := filepath.Join(dir, "job.yaml")
	spec := `project:
  bucket: b
  key: k
filters:
  exclude:
    - "aws_instance.*"
`
	require.NoError(t, os.WriteFile(specPath, []byte(spec), 0o644))

	p := NewParsing(&memPlanSource{data: []byte(parsingPlan)})
	job := &pipeline.Job{ID: "job-1", State: pipeline.StatePlanning, SpecPath: specPath}

	output, err := p.Execute(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 2, output["resource_count"])
	order := output["evaluation_order"].([]any)
	assert.NotContains(t, order, "aws_instance.web")
}

func TestParsingPlanFetchFailure(t *testing.T) {
	p := NewParsing(&memPlanSource{err: errors.New("object not found")})

	_, err := p.Execute(context.Background(), &pipeline.Job{ID: "j", State: pipeline.StatePlanning})
	assert.ErrorContains(t, err, "object not found")
}

func TestFilePlanSource(t *testing.T) {
	dir := t.TempDir()
	jobDir := filepath.Join(dir, "job-1")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "plan.json"), []byte(parsingPlan), 0o644))

	src := &FilePlanSource{Dir: dir}

	data, err := src.Fetch(context.Background(), &pipeline.Job{ID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, []byte(parsingPlan), data)

	_, err = src.Fetch(context.Background(), &pipeline.Job{ID: "absent"})
	assert.Error(t, err)
}

func TestNewRegistryCoversEveryStage(t *testing.T) {
	reg := NewRegistry(Endpoints{
		Planning:  "http://planner",
		Enriching: "http://enricher",
		Costing:   "http://coster",
	}, &memPlanSource{}, 0)

	for _, stage := range pipeline.Stages() {
		_, ok := reg.Lookup(stage)
		assert.True(t, ok, "stage %s", stage)
	}
}
