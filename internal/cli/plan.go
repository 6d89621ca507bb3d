package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/deploydag/internal/ir"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	workspaceFlags
}

// PlanView is the json payload of the plan command.
type PlanView struct {
	Plan    string     `json:"plan"`
	Network string     `json:"network,omitempty"`
	Hash    string     `json:"hash"`
	Steps   []PlanStep `json:"steps"`
}

// PlanStep is one unit in deployment order.
type PlanStep struct {
	Index     int      `json:"index"`
	Unit      string   `json:"unit"`
	Artifact  string   `json:"artifact"`
	Action    string   `json:"action"` // "deploy" or "reuse"
	Address   string   `json:"address,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <plan>",
		Short: "Show the deployment order without deploying",
		Long: `Show the order units would be deployed in, and which of them the
manifest already holds for the network.

Example:
  deploydag plan plans/amm.yaml --network testnet`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Network, "network", "n", "", "target network (defaults to the plan's network)")
	cmd.Flags().StringVar(&opts.Artifacts, "artifacts", "", "Hardhat artifacts directory (overrides config)")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "manifest path (overrides config)")

	return cmd
}

func runPlan(cmd *cobra.Command, opts *PlanOptions, planPath string) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	ctx := cmd.Context()

	ws, err := loadWorkspace(opts.RootOptions, opts.workspaceFlags, planPath, false)
	if err != nil {
		return commandError(formatter, "invalid plan", err)
	}
	defer ws.Close()

	ordered, err := ws.resolve(ctx)
	if err != nil {
		return commandError(formatter, "invalid plan", err)
	}

	hash, err := ir.PlanHash(ws.plan)
	if err != nil {
		return commandError(formatter, "failed to hash plan", err)
	}

	view := PlanView{Plan: ws.plan.Name, Network: ws.network, Hash: hash}
	for i, r := range ordered {
		step := PlanStep{
			Index:     i + 1,
			Unit:      r.Name,
			Artifact:  r.Unit.Name,
			Action:    "deploy",
			DependsOn: r.Dependencies(),
		}
		if addr, ok := ws.activeAddress(ctx, r.Name); ok {
			step.Action, step.Address = "reuse", addr
		}
		view.Steps = append(view.Steps, step)
	}

	if formatter.Format == "json" {
		return formatter.Success(view)
	}
	return printPlan(formatter, view)
}

// activeAddress returns the manifest address for unit, if any.
func (w *workspace) activeAddress(ctx context.Context, unit string) (string, bool) {
	if w.manifest == nil {
		return "", false
	}
	rec, err := w.manifest.Get(ctx, w.network, unit)
	if err != nil {
		return "", false
	}
	return rec.Address, true
}

func printPlan(f *OutputFormatter, v PlanView) error {
	fmt.Fprintf(f.Writer, "Plan: %s\n", v.Plan)
	if v.Network != "" {
		fmt.Fprintf(f.Writer, "Network: %s\n", v.Network)
	}
	fmt.Fprintf(f.Writer, "Hash: %s\n\n", v.Hash)

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tUNIT\tARTIFACT\tACTION\tDEPENDS ON")
	for _, s := range v.Steps {
		action := s.Action
		if s.Address != "" {
			action += " " + s.Address
		}
		deps := "-"
		if len(s.DependsOn) > 0 {
			deps = strings.Join(s.DependsOn, ", ")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.Index, s.Unit, s.Artifact, action, deps)
	}
	return tw.Flush()
}
