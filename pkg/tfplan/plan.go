// Package tfplan decodes Terraform plan JSON (the output of
// `terraform show -json`) into flat resource descriptors for graph
// building and stage handoff.
//
// This is a structural decode only: attribute values pass through as the
// generic JSON tree and no expression or HCL parsing happens here.
package tfplan

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/costscope/costscope/pkg/resourcegraph"
)

// Resource is one planned resource instance.
type Resource struct {
	// Address is the full resource address, e.g.
	// "module.net.aws_subnet.private[0]".
	Address string `json:"address"`
	Type    string `json:"type"`
	Name    string `json:"name"`

	// Values is the planned attribute tree. Unknown-at-plan-time values
	// are simply absent.
	Values map[string]any `json:"values"`
}

// Plan is the subset of the plan JSON document this pipeline consumes.
type Plan struct {
	FormatVersion    string     `json:"format_version"`
	TerraformVersion string     `json:"terraform_version"`
	Resources        []Resource // flattened, root module first, then child modules in document order
}

type planDoc struct {
	FormatVersion    string `json:"format_version"`
	TerraformVersion string `json:"terraform_version"`
	PlannedValues    struct {
		RootModule moduleDoc `json:"root_module"`
	} `json:"planned_values"`
}

type moduleDoc struct {
	Resources    []Resource  `json:"resources"`
	ChildModules []moduleDoc `json:"child_modules"`
}

// Load reads and decodes a plan JSON file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("plan file not found: %s", path)
		}
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return Parse(data)
}

// Parse decodes plan JSON bytes.
func Parse(data []byte) (*Plan, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("plan document is empty")
	}

	var doc planDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan json: %w", err)
	}
	if doc.FormatVersion == "" {
		return nil, fmt.Errorf("plan json missing format_version")
	}

	plan := &Plan{
		FormatVersion:    doc.FormatVersion,
		TerraformVersion: doc.TerraformVersion,
	}
	flatten(doc.PlannedValues.RootModule, plan)
	return plan, nil
}

func flatten(mod moduleDoc, plan *Plan) {
	plan.Resources = append(plan.Resources, mod.Resources...)
	for _, child := range mod.ChildModules {
		flatten(child, plan)
	}
}

// GraphResources converts the plan's resources into graph builder inputs,
// preserving document order.
func (p *Plan) GraphResources() []resourcegraph.Resource {
	out := make([]resourcegraph.Resource, 0, len(p.Resources))
	for _, r := range p.Resources {
		out = append(out, resourcegraph.Resource{
			Address:    r.Address,
			Attributes: r.Values,
		})
	}
	return out
}
