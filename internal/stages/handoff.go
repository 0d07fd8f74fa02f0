// Package stages provides the concrete stage executors wired into the
// orchestrator's registry: HTTP handoff executors for the service-owned
// stages (planning, enriching, costing) and the in-process plan
// interpretation executor for parsing.
package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/costscope/costscope/pkg/pipeline"
)

// HandoffConfig configures an HTTP handoff executor.
type HandoffConfig struct {
	// Stage is the pipeline stage this executor serves.
	Stage pipeline.Stage

	// Endpoint is the stage service URL; the job envelope is POSTed to it.
	Endpoint string

	// ExpectStates are the job states this stage accepts as input.
	ExpectStates []pipeline.JobState

	// RequireOutputKeys lists keys the stage service must return; used by
	// output validation (e.g. the planning service must return plan_key).
	RequireOutputKeys []string

	// RequestTimeout bounds one handoff call. The orchestrator's stage
	// timeout still applies on top. Default: 60s.
	RequestTimeout time.Duration
}

// Handoff delegates a stage to an external service over HTTP. The service
// receives {"job_id","state"} and replies with a JSON object stored
// verbatim as the execution record's output metadata.
type Handoff struct {
	cfg    HandoffConfig
	client *http.Client
}

// NewHandoff creates an HTTP handoff executor.
func NewHandoff(cfg HandoffConfig) *Handoff {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Handoff{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

var _ pipeline.Executor = (*Handoff)(nil)

// ValidateInput implements pipeline.Executor.
func (h *Handoff) ValidateInput(_ context.Context, job *pipeline.Job) error {
	if strings.TrimSpace(h.cfg.Endpoint) == "" {
		return pipeline.NewInputValidationError(h.cfg.Stage, "no service endpoint configured")
	}
	if len(h.cfg.ExpectStates) == 0 {
		return nil
	}
	for _, s := range h.cfg.ExpectStates {
		if job.State == s {
			return nil
		}
	}
	return pipeline.NewInputValidationError(h.cfg.Stage,
		fmt.Sprintf("job %s is in state %q", job.ID, job.State))
}

// Execute implements pipeline.Executor.
func (h *Handoff) Execute(ctx context.Context, job *pipeline.Job) (map[string]any, error) {
	envelope, err := json.Marshal(map[string]string{
		"job_id": job.ID,
		"state":  string(job.State),
	})
	if err != nil {
		return nil, fmt.Errorf("encode handoff envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Endpoint, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("build handoff request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s service: %w", h.cfg.Stage, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s service response: %w", h.cfg.Stage, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s service returned %d: %s",
			h.cfg.Stage, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	output := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &output); err != nil {
			return nil, fmt.Errorf("decode %s service response: %w", h.cfg.Stage, err)
		}
	}
	return output, nil
}

// ValidateOutput implements pipeline.Executor.
func (h *Handoff) ValidateOutput(_ context.Context, output map[string]any) error {
	for _, key := range h.cfg.RequireOutputKeys {
		if _, ok := output[key]; !ok {
			return pipeline.NewOutputValidationError(h.cfg.Stage,
				fmt.Sprintf("service response missing %q", key))
		}
	}
	return nil
}
