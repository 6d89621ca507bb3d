package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationResult is the json payload of a successful validate.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Plan    string   `json:"plan"`
	Network string   `json:"network,omitempty"`
	Units   int      `json:"units"`
	Order   []string `json:"order"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	workspaceFlags
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <plan>",
		Short: "Validate a plan without deploying",
		Long: `Validate a plan against the artifacts without touching the chain.

Checks every unit exists, every argument matches its constructor parameter,
and the references form an acyclic graph. When a network is known and its
manifest exists, references to earlier deployments resolve against it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Network, "network", "n", "", "network whose manifest resolves external references")
	cmd.Flags().StringVar(&opts.Artifacts, "artifacts", "", "Hardhat artifacts directory (overrides config)")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "manifest path (overrides config)")

	return cmd
}

func runValidate(cmd *cobra.Command, opts *ValidateOptions, planPath string) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	ws, err := loadWorkspace(opts.RootOptions, opts.workspaceFlags, planPath, false)
	if err != nil {
		return commandError(formatter, "invalid plan", err)
	}
	defer ws.Close()

	ordered, err := ws.resolve(cmd.Context())
	if err != nil {
		return commandError(formatter, "invalid plan", err)
	}

	if formatter.Format == "json" {
		result := ValidationResult{Valid: true, Plan: ws.plan.Name, Network: ws.network, Units: len(ordered)}
		for _, r := range ordered {
			result.Order = append(result.Order, r.Name)
		}
		return formatter.Success(result)
	}

	_, err = fmt.Fprintf(formatter.Writer, "✓ plan %s valid: %d units\n", ws.plan.Name, len(ordered))
	return err
}
