package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/me/cotask/internal/plan"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Check a plan without running it",
		Long:  "Validates a plan against the schema, checks its graph for unknown references and cycles, and compiles its scripts.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			p, err := plan.Load(args[0])
			if err != nil {
				var se *plan.SchemaError
				if errors.As(err, &se) {
					fmt.Fprintf(out, "%s: %d problem(s)\n", args[0], len(se.Problems))
					for _, pr := range se.Problems {
						path := pr.Path
						if path == "" {
							path = "(root)"
						}
						fmt.Fprintf(out, "  - %s: %s\n", path, pr.Message)
					}
				}
				return err
			}

			// Building compiles every script without admitting anything.
			graph, err := plan.Build(p, plan.BuildOptions{Context: cmd.Context(), Logger: logger})
			if err != nil {
				return err
			}
			dag, err := plan.BuildDAG(p)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Plan %q is valid: %d task(s), %d group(s)\n", p.Name, len(graph.Tasks), len(graph.Groups))
			fmt.Fprintf(out, "Order: %s\n", strings.Join(dag.Order, " -> "))
			return nil
		},
	}
}
