package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/roach88/deploydag/internal/chain"
	"github.com/roach88/deploydag/internal/engine"
	"github.com/roach88/deploydag/internal/ir"
	"github.com/roach88/deploydag/internal/store"
)

// DeployOptions holds flags for the deploy command.
type DeployOptions struct {
	*RootOptions
	workspaceFlags

	Force       bool
	ForceUnits  []string
	Concurrency int
	DryRun      bool

	// Client overrides the chain client (for testing). Deployer is then the
	// address deployer() resolves to.
	Client   engine.Client
	Deployer string

	// RunID and Now pin run identity and timestamps (for testing).
	RunID string
	Now   func() time.Time

	// PendingNonce reads the deployer's next nonce for a dry run. Nil asks
	// the network's rpc_url.
	PendingNonce func(ctx context.Context, rpcURL string, account common.Address) (uint64, error)
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	return newDeployCommand(&DeployOptions{RootOptions: rootOpts})
}

func newDeployCommand(opts *DeployOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <plan>",
		Short: "Deploy a plan to a network",
		Long: `Deploy every unit of a plan in dependency order.

The plan is validated as a whole before anything is sent. Units already in
the manifest for the network are reused unless forced. Independent units are
deployed concurrently. A rejected unit fails alone; units depending on it
are skipped and the rest of the plan continues.

Exit status is 1 if any unit failed and 2 if the plan is invalid.

Example:
  deploydag deploy plans/amm.yaml --network testnet
  deploydag deploy plans/stableswap.yaml --network testnet --force-unit Swap
  deploydag deploy plans/amm.yaml --network testnet --dry-run`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Network, "network", "n", "", "target network (defaults to the plan's network)")
	cmd.Flags().StringVar(&opts.Artifacts, "artifacts", "", "Hardhat artifacts directory (overrides config)")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "manifest path (overrides config)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "redeploy every unit, superseding manifest records")
	cmd.Flags().StringSliceVar(&opts.ForceUnits, "force-unit", nil, "redeploy only these units (repeatable)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "max units in flight (overrides config)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "predict addresses without sending transactions or writing the manifest")

	return cmd
}

func runDeploy(cmd *cobra.Command, opts *DeployOptions, planPath string) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Warn("received signal, finishing in-flight deployments", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	ws, err := loadWorkspace(opts.RootOptions, opts.workspaceFlags, planPath, true)
	if err != nil {
		return commandError(formatter, "failed to load plan", err)
	}
	defer ws.Close()

	ordered, err := ws.resolve(ctx)
	if err != nil {
		return commandError(formatter, "invalid plan", err)
	}
	slog.Info("plan resolved", "plan", ws.plan.Name, "network", ws.network, "units", len(ordered))

	var manifest engine.Manifest = ws.manifest
	client, deployer := opts.Client, opts.Deployer

	if opts.DryRun {
		// Reads come from a copy of the manifest; nothing is written back.
		scratch, err := store.OpenMemory()
		if err != nil {
			return commandError(formatter, "failed to open scratch manifest", err)
		}
		defer scratch.Close()
		n, err := scratch.Import(ctx, ws.manifest.All(ctx, ws.network))
		if err != nil {
			return commandError(formatter, "failed to copy manifest", &codedError{code: ErrCodeManifestOpen, err: err})
		}
		slog.Debug("manifest copied for dry run", "records", n)
		manifest = scratch

		if client == nil {
			from := dryRunDeployer(ws)
			client, deployer = chain.NewDryRun(from, dryRunNonce(ctx, opts, ws, from)), from.Hex()
		}
	} else if client == nil {
		ec, err := dialNetwork(ctx, ws)
		if err != nil {
			return commandError(formatter, "failed to connect", err)
		}
		logBanner(ctx, ec)
		client, deployer = ec, ec.Address().Hex()
	}

	concurrency := ws.cfg.Concurrency
	if opts.Concurrency > 0 {
		concurrency = opts.Concurrency
	}
	engineOpts := []engine.EngineOption{
		engine.WithConcurrency(concurrency),
		engine.WithRetry(ws.cfg.Retry.MaxAttempts, ws.cfg.Retry.InitialInterval, ws.cfg.Retry.MaxInterval),
		engine.WithForce(opts.Force),
		engine.WithForceUnits(opts.ForceUnits...),
		engine.WithDeployer(deployer),
		engine.WithNotify(logEvent),
	}
	if opts.RunID != "" {
		engineOpts = append(engineOpts, engine.WithRunID(opts.RunID))
	}
	if opts.Now != nil {
		engineOpts = append(engineOpts, engine.WithNow(opts.Now))
	}

	report, runErr := engine.New(client, manifest, engineOpts...).Run(ctx, ws.network, ordered)
	if report == nil {
		return commandError(formatter, "invalid plan", runErr)
	}

	if err := printReport(formatter, report, opts.DryRun); err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "deployment interrupted", &codedError{code: ErrCodeCancelled, err: runErr})
	}
	if report.Failed() {
		failed := report.Counts()[ir.StatusFailed]
		return NewExitError(ExitFailure, fmt.Sprintf("%d unit(s) failed", failed))
	}
	return nil
}

// dialNetwork connects to the plan's network with its configured key.
func dialNetwork(ctx context.Context, ws *workspace) (*chain.EthClient, error) {
	nc, err := ws.cfg.Network(ws.network)
	if err != nil {
		return nil, &codedError{code: ErrCodeConfig, err: err}
	}

	opts := chain.Options{
		GasLimit:       nc.GasLimit,
		ConfirmTimeout: nc.ConfirmTimeout,
		PollInterval:   nc.PollInterval,
	}
	if nc.ChainID != 0 {
		opts.ChainID = big.NewInt(nc.ChainID)
	}

	slog.Debug("dialing network", "network", ws.network, "rpc", nc.RPCURL)
	ec, err := chain.Dial(ctx, nc.RPCURL, nc.PrivateKey, opts)
	if err != nil {
		return nil, &codedError{code: ErrCodeChain, err: err}
	}
	return ec, nil
}

// dryRunDeployer is the configured signer's address when a key is
// available, and the zero address otherwise.
func dryRunDeployer(ws *workspace) common.Address {
	nc, err := ws.cfg.Network(ws.network)
	if err != nil || nc.PrivateKey == "" {
		return common.Address{}
	}
	key, err := chain.ParseKey(nc.PrivateKey)
	if err != nil {
		slog.Warn("ignoring unparsable private key for dry run", "network", ws.network, "error", err)
		return common.Address{}
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}

// dryRunNonce is the nonce the deployer's next transaction would use on the
// network, or 0 when the node cannot be asked.
func dryRunNonce(ctx context.Context, opts *DeployOptions, ws *workspace, from common.Address) uint64 {
	if from == (common.Address{}) {
		return 0
	}
	nc, err := ws.cfg.Network(ws.network)
	if err != nil {
		return 0
	}
	lookup := opts.PendingNonce
	if lookup == nil {
		lookup = pendingNonceAt
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	nonce, err := lookup(ctx, nc.RPCURL, from)
	if err != nil {
		slog.Warn("could not read pending nonce, predicting addresses from nonce 0", "network", ws.network, "error", err)
		return 0
	}
	slog.Debug("dry run starts at pending nonce", "address", from.Hex(), "nonce", nonce)
	return nonce
}

func pendingNonceAt(ctx context.Context, rpcURL string, account common.Address) (uint64, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return 0, err
	}
	defer client.Close()
	return client.PendingNonceAt(ctx, account)
}

func logBanner(ctx context.Context, ec *chain.EthClient) {
	slog.Info("Deploying contracts with the account", "address", ec.Address().Hex())
	balance, err := ec.Balance(ctx)
	if err != nil {
		slog.Warn("could not read account balance", "error", err)
		return
	}
	slog.Info("Account balance", "wei", balance.String())
}

func logEvent(ev engine.Event) {
	attrs := []any{"seq", ev.Seq, "unit", ev.Unit, "status", ev.Status}
	if ev.Address != "" {
		attrs = append(attrs, "address", ev.Address)
	}
	if ev.Attempt > 0 {
		attrs = append(attrs, "attempt", ev.Attempt)
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	slog.Debug("unit event", attrs...)
}
