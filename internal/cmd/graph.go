package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/costscope/costscope/pkg/jobspec"
	"github.com/costscope/costscope/pkg/resourcegraph"
	"github.com/costscope/costscope/pkg/tfplan"
)

var graphCmd = &cobra.Command{
	Use:   "graph <plan.json>",
	Short: "Build the resource dependency graph from a plan file",
	Long: `Parse a Terraform plan JSON file, detect cross-resource references,
and print the dependencies-first evaluation order.

Example:
  costscope graph plan.json
  costscope graph plan.json --spec job.yaml
  costscope graph plan.json --edges`,
	Args: cobra.ExactArgs(1),
	RunE: runGraph,
}

var (
	graphSpecPath string
	graphEdges    bool
)

func init() {
	rootCmd.AddCommand(graphCmd)

	graphCmd.Flags().StringVar(&graphSpecPath, "spec", "", "Job spec with include/exclude filters")
	graphCmd.Flags().BoolVar(&graphEdges, "edges", false, "Show dependency edges per resource")
	graphCmd.Flags().Bool("json", false, "Output as JSON")
}

func runGraph(cmd *cobra.Command, args []string) error {
	plan, err := tfplan.Load(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid plan file", err)
	}

	resources := plan.GraphResources()
	if graphSpecPath != "" {
		spec, err := jobspec.Load(graphSpecPath)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid job spec", err)
		}
		filters, err := spec.Filters.Compile()
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid filter patterns", err)
		}
		kept := resources[:0]
		for _, r := range resources {
			if filters.Match(r.Address) {
				kept = append(kept, r)
			}
		}
		resources = kept
	}

	graph := resourcegraph.Build(resources)
	order := graph.EvaluationOrder()

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(map[string]any{
			"resource_count":   graph.Len(),
			"edge_count":       graph.EdgeCount(),
			"evaluation_order": order.Addresses,
			"cyclic":           order.Cyclic,
			"unordered":        order.Unordered,
		})
	}

	fmt.Printf("Resources: %d\n", graph.Len())
	fmt.Printf("Edges:     %d\n", graph.EdgeCount())
	if order.Cyclic {
		fmt.Printf("Cycles:    yes (%d resources unordered)\n", len(order.Unordered))
	}

	fmt.Println("\nEvaluation order:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i, addr := range order.Addresses {
		if graphEdges {
			fmt.Fprintf(w, "%d\t%s\t%v\n", i+1, addr, graph.DependenciesOf(addr))
		} else {
			fmt.Fprintf(w, "%d\t%s\n", i+1, addr)
		}
	}
	return w.Flush()
}
