package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/deploydag/internal/compiler"
	"github.com/roach88/deploydag/internal/config"
	"github.com/roach88/deploydag/internal/ir"
	"github.com/roach88/deploydag/internal/registry"
	"github.com/roach88/deploydag/internal/resolver"
	"github.com/roach88/deploydag/internal/store"
	"github.com/roach88/deploydag/internal/store/boltstore"
)

// CLI-level error codes. Plan and deployment errors carry their own codes
// (E1xx from the compiler, E2xx-E4xx from ir).
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeConfig       = "E002" // Config file or network settings
	ErrCodeArtifacts    = "E003" // Artifact directory could not be loaded
	ErrCodeManifestOpen = "E004" // Manifest could not be opened
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeChain        = "E006" // Chain client could not be set up
	ErrCodeNoNetwork    = "E007" // No --network and none in the plan
	ErrCodeCancelled    = "E008" // Run interrupted
	ErrCodeTestFailed   = "E009" // One or more scenarios failed
)

// workspaceFlags are shared by every command that reads a plan.
type workspaceFlags struct {
	Artifacts string
	Manifest  string
	Network   string
}

// workspace is everything a plan command needs, loaded in order: config,
// artifacts, plan, manifest.
type workspace struct {
	cfg      *config.Config
	registry *registry.Registry
	plan     ir.Plan
	network  string
	manifest store.Manifest
}

func (w *workspace) Close() {
	if w.manifest == nil {
		return
	}
	if err := w.manifest.Close(); err != nil {
		slog.Error("error closing manifest", "error", err)
	}
}

// loadWorkspace loads the plan at planPath. With requireManifest the
// manifest is opened (and created if missing) and a network must be known.
// Otherwise an existing manifest is opened when a network is known, so
// references to earlier deployments still resolve.
func loadWorkspace(opts *RootOptions, flags workspaceFlags, planPath string, requireManifest bool) (*workspace, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, &codedError{code: ErrCodeConfig, err: err}
	}
	applyConfigLogging(opts, cfg)

	artifacts := flags.Artifacts
	if artifacts == "" {
		artifacts = cfg.Artifacts
	}
	slog.Debug("loading artifacts", "dir", artifacts)
	reg, err := registry.LoadArtifacts(artifacts)
	if err != nil {
		return nil, &codedError{code: ErrCodeArtifacts, err: err}
	}

	if _, err := os.Stat(planPath); err != nil {
		return nil, &codedError{code: ErrCodeNotFound, err: fmt.Errorf("plan file: %w", err)}
	}
	plan, err := compiler.LoadFile(planPath, reg)
	if err != nil {
		return nil, err
	}

	w := &workspace{cfg: cfg, registry: reg, plan: plan, network: flags.Network}
	if w.network == "" {
		w.network = plan.Network
	}

	if w.network == "" {
		if requireManifest {
			return nil, &codedError{code: ErrCodeNoNetwork, err: errors.New("no --network given and the plan names none")}
		}
		return w, nil
	}

	path := manifestPath(cfg, flags.Manifest)
	if !requireManifest {
		if _, err := os.Stat(path); err != nil {
			slog.Debug("no manifest, references must resolve within the plan", "path", path)
			return w, nil
		}
	}
	m, err := openManifestStore(cfg, path)
	if err != nil {
		return nil, &codedError{code: ErrCodeManifestOpen, err: err}
	}
	w.manifest = m
	return w, nil
}

func manifestPath(cfg *config.Config, override string) string {
	if override != "" {
		return override
	}
	return cfg.Manifest.Path
}

// openManifestStore opens the configured backend at path.
func openManifestStore(cfg *config.Config, path string) (store.Manifest, error) {
	slog.Debug("opening manifest", "backend", cfg.Manifest.Backend, "path", path)
	switch cfg.Manifest.Backend {
	case config.BackendBolt:
		return boltstore.Open(path)
	default:
		return store.Open(path)
	}
}

// resolve orders the plan. Without a manifest every reference must point
// into the plan.
func (w *workspace) resolve(ctx context.Context) ([]ir.Request, error) {
	return resolver.Resolve(w.plan, knownInManifest(ctx, w.manifest, w.network))
}

// knownInManifest answers the resolver's "was this deployed before"
// question from the manifest.
func knownInManifest(ctx context.Context, m store.Manifest, network string) resolver.KnownFunc {
	return func(unit string) bool {
		if m == nil {
			return false
		}
		_, err := m.Get(ctx, network, unit)
		if err != nil && !ir.IsNotFound(err) {
			slog.Warn("manifest lookup failed", "unit", unit, "network", network, "error", err)
		}
		return err == nil
	}
}

// codedError attaches a CLI error code to an error.
type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }
func (e *codedError) Code() string  { return e.code }
