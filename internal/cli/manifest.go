package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/deploydag/internal/config"
	"github.com/roach88/deploydag/internal/ir"
	"github.com/roach88/deploydag/internal/store"
)

// ManifestOptions holds flags shared by the manifest subcommands.
type ManifestOptions struct {
	*RootOptions

	Path    string
	Network string
	History bool
}

// NewManifestCommand creates the manifest command group.
func NewManifestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ManifestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect recorded deployments",
		Long: `Inspect the deployment manifest.

The manifest is never created by these commands; a missing manifest is an
error.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Path, "manifest", "", "manifest path (overrides config)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List networks, or the active deployments of one network",
		Example: `  deploydag manifest list
  deploydag manifest list --network testnet`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifestList(cmd, opts)
		},
	}
	list.Flags().StringVarP(&opts.Network, "network", "n", "", "network to list")

	show := &cobra.Command{
		Use:           "show <network> <unit>",
		Short:         "Show the active record of a unit",
		Example:       `  deploydag manifest show testnet CSwapRouter --history`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifestShow(cmd, opts, args[0], args[1])
		},
	}
	show.Flags().BoolVar(&opts.History, "history", false, "include superseded records, oldest first")

	cmd.AddCommand(list, show)
	return cmd
}

// openExistingManifest opens the configured manifest without creating it.
func openExistingManifest(opts *ManifestOptions) (store.Manifest, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, &codedError{code: ErrCodeConfig, err: err}
	}
	applyConfigLogging(opts.RootOptions, cfg)

	path := manifestPath(cfg, opts.Path)
	if _, err := os.Stat(path); err != nil {
		return nil, &codedError{code: ErrCodeNotFound, err: fmt.Errorf("manifest: %w", err)}
	}
	m, err := openManifestStore(cfg, path)
	if err != nil {
		return nil, &codedError{code: ErrCodeManifestOpen, err: err}
	}
	return m, nil
}

func runManifestList(cmd *cobra.Command, opts *ManifestOptions) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	ctx := cmd.Context()

	m, err := openExistingManifest(opts)
	if err != nil {
		return commandError(formatter, "failed to open manifest", err)
	}
	defer m.Close()

	if opts.Network == "" {
		networks, err := m.Networks(ctx)
		if err != nil {
			return commandError(formatter, "failed to read manifest", err)
		}
		if formatter.Format == "json" {
			return formatter.Success(map[string]any{"networks": networks})
		}
		if len(networks) == 0 {
			fmt.Fprintln(formatter.Writer, "No deployments recorded")
			return nil
		}
		for _, n := range networks {
			fmt.Fprintln(formatter.Writer, n)
		}
		return nil
	}

	var records []ir.Record
	for rec, err := range m.All(ctx, opts.Network) {
		if err != nil {
			return commandError(formatter, "failed to read manifest", err)
		}
		records = append(records, rec)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"network": opts.Network, "records": records})
	}

	if len(records) == 0 {
		fmt.Fprintf(formatter.Writer, "No deployments recorded on %s\n", opts.Network)
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tARTIFACT\tADDRESS\tDEPLOYED")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.Unit, rec.Artifact, rec.Address, rec.DeployedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func runManifestShow(cmd *cobra.Command, opts *ManifestOptions, network, unit string) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	ctx := cmd.Context()

	m, err := openExistingManifest(opts)
	if err != nil {
		return commandError(formatter, "failed to open manifest", err)
	}
	defer m.Close()

	var records []ir.Record
	if opts.History {
		records, err = m.History(ctx, network, unit)
		if err == nil && len(records) == 0 {
			err = &ir.NotFoundError{Network: network, Unit: unit}
		}
	} else {
		var rec ir.Record
		rec, err = m.Get(ctx, network, unit)
		records = []ir.Record{rec}
	}
	if err != nil {
		return commandError(formatter, "no such deployment", err)
	}

	if formatter.Format == "json" {
		if !opts.History {
			return formatter.Success(records[0])
		}
		return formatter.Success(map[string]any{"network": network, "unit": unit, "records": records})
	}

	for i, rec := range records {
		if i > 0 {
			fmt.Fprintln(formatter.Writer)
		}
		if err := printRecord(formatter, rec); err != nil {
			return err
		}
	}
	return nil
}

func printRecord(f *OutputFormatter, rec ir.Record) error {
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	state := "active"
	if !rec.Active {
		state = "superseded"
	}
	fmt.Fprintf(tw, "Unit:\t%s (%s)\n", rec.Unit, state)
	fmt.Fprintf(tw, "Artifact:\t%s\n", rec.Artifact)
	fmt.Fprintf(tw, "Network:\t%s\n", rec.Network)
	fmt.Fprintf(tw, "Address:\t%s\n", rec.Address)
	fmt.Fprintf(tw, "Tx:\t%s\n", rec.TxHash)
	if len(rec.Args) > 0 {
		args := make([]string, len(rec.Args))
		for i, a := range rec.Args {
			args[i] = ir.FormatValue(a)
		}
		fmt.Fprintf(tw, "Args:\t%s\n", strings.Join(args, ", "))
	}
	for _, l := range rec.Libraries {
		fmt.Fprintf(tw, "Library:\t%s = %s (%s)\n", l.Slot, l.Address, l.Unit)
	}
	fmt.Fprintf(tw, "Run:\t%s\n", rec.RunID)
	fmt.Fprintf(tw, "Deployed:\t%s\n", rec.DeployedAt.UTC().Format(time.RFC3339))
	if rec.Supersedes != "" {
		fmt.Fprintf(tw, "Supersedes:\t%s\n", rec.Supersedes)
	}
	fmt.Fprintf(tw, "ID:\t%s\n", rec.ID)
	return tw.Flush()
}
