package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/deploydag/internal/ir"
)

// Scenario defines one deployment run and what it must produce.
type Scenario struct {
	// Name uniquely identifies this scenario; it also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Network defaults to "testnet".
	Network string `yaml:"network,omitempty"`

	// Units are the schemas the plan may request.
	Units []UnitDef `yaml:"units"`

	// Plan is a YAML plan document.
	Plan string `yaml:"plan"`

	// Seed records are written to the manifest before the run, as if an
	// earlier run had deployed them.
	Seed []SeedRecord `yaml:"seed,omitempty"`

	Chain   ChainScript `yaml:"chain,omitempty"`
	Options RunOptions  `yaml:"options,omitempty"`

	// Expect maps unit names to their terminal status.
	Expect map[string]ir.Status `yaml:"expect,omitempty"`

	// ExpectError is the code the plan must be refused with. Exclusive
	// with Expect.
	ExpectError string `yaml:"expect_error,omitempty"`

	Assertions []Assertion `yaml:"assertions,omitempty"`

	// RunID is recorded on every manifest write. Defaults to "scenario-run".
	RunID string `yaml:"run_id,omitempty"`
}

// UnitDef declares a unit schema. Params are ABI types; parameters are
// named p0, p1 and so on.
type UnitDef struct {
	Name      string   `yaml:"name"`
	Params    []string `yaml:"params,omitempty"`
	Libraries []string `yaml:"libraries,omitempty"`
}

// SeedRecord is a manifest record present before the run.
type SeedRecord struct {
	Unit     string `yaml:"unit"`
	Artifact string `yaml:"artifact,omitempty"`
	Address  string `yaml:"address"`
}

// ChainScript scripts FakeChain failures by request name. Timeout leaves
// the transaction pending; Drop reports it gone from the chain.
type ChainScript struct {
	Reject    []string       `yaml:"reject,omitempty"`
	Transient map[string]int `yaml:"transient,omitempty"`
	Timeout   map[string]int `yaml:"timeout,omitempty"`
	Drop      map[string]int `yaml:"drop,omitempty"`
}

// RunOptions are passed through to the engine.
type RunOptions struct {
	Concurrency int      `yaml:"concurrency,omitempty"`
	Force       bool     `yaml:"force,omitempty"`
	ForceUnits  []string `yaml:"force_units,omitempty"`
	MaxAttempts int      `yaml:"max_attempts,omitempty"`
}

// Assertion validates the trace, the chain log or the manifest.
type Assertion struct {
	Type string `yaml:"type"`

	// Unit is the subject of deploy_count, trace_count, manifest and
	// skipped_by.
	Unit string `yaml:"unit,omitempty"`

	// Entries is the expected order for chain_order, e.g. "confirm:Token".
	Entries []string `yaml:"entries,omitempty"`

	// Count is used by deploy_count and trace_count.
	Count int `yaml:"count,omitempty"`

	// Status filters trace_count.
	Status ir.Status `yaml:"status,omitempty"`

	// Address is the expected active address for manifest. Nonce selects
	// the address of the n-th fake deployment instead.
	Address string  `yaml:"address,omitempty"`
	Nonce   *uint64 `yaml:"nonce,omitempty"`

	// History is the expected number of records for manifest, if non-zero.
	History int `yaml:"history,omitempty"`

	// BlockedBy is the dependency skipped_by expects.
	BlockedBy string `yaml:"blocked_by,omitempty"`
}

// Assertion type constants.
const (
	AssertChainOrder  = "chain_order"
	AssertDeployCount = "deploy_count"
	AssertTraceCount  = "trace_count"
	AssertManifest    = "manifest"
	AssertSkippedBy   = "skipped_by"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Units) == 0 {
		return fmt.Errorf("units list is required and must be non-empty")
	}
	if s.Plan == "" {
		return fmt.Errorf("plan is required")
	}
	if len(s.Expect) == 0 && s.ExpectError == "" {
		return fmt.Errorf("one of expect or expect_error is required")
	}
	if len(s.Expect) > 0 && s.ExpectError != "" {
		return fmt.Errorf("expect and expect_error are mutually exclusive")
	}

	seen := make(map[string]bool, len(s.Units))
	for i, u := range s.Units {
		if u.Name == "" {
			return fmt.Errorf("units[%d]: name is required", i)
		}
		if seen[u.Name] {
			return fmt.Errorf("units[%d]: duplicate unit %q", i, u.Name)
		}
		seen[u.Name] = true
	}

	for i, rec := range s.Seed {
		if rec.Unit == "" || rec.Address == "" {
			return fmt.Errorf("seed[%d]: unit and address are required", i)
		}
	}

	for unit, status := range s.Expect {
		if !status.Terminal() {
			return fmt.Errorf("expect.%s: %q is not a terminal status", unit, status)
		}
	}

	if s.Options.Concurrency < 0 {
		return fmt.Errorf("options.concurrency: must not be negative")
	}
	if s.Options.MaxAttempts < 0 {
		return fmt.Errorf("options.max_attempts: must not be negative")
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case AssertChainOrder:
		if len(a.Entries) < 2 {
			return fmt.Errorf("assertions[%d]: chain_order needs at least 2 entries", i)
		}
	case AssertDeployCount:
		if a.Unit == "" {
			return fmt.Errorf("assertions[%d]: deploy_count requires unit", i)
		}
	case AssertTraceCount:
		if a.Unit == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: trace_count requires unit and status", i)
		}
	case AssertManifest:
		if a.Unit == "" {
			return fmt.Errorf("assertions[%d]: manifest requires unit", i)
		}
		if a.Address != "" && a.Nonce != nil {
			return fmt.Errorf("assertions[%d]: manifest takes address or nonce, not both", i)
		}
	case AssertSkippedBy:
		if a.Unit == "" || a.BlockedBy == "" {
			return fmt.Errorf("assertions[%d]: skipped_by requires unit and blocked_by", i)
		}
	default:
		valid := []string{AssertChainOrder, AssertDeployCount, AssertTraceCount, AssertManifest, AssertSkippedBy}
		return fmt.Errorf("assertions[%d]: unknown type %q (valid: %v)", i, a.Type, valid)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must not be negative", i)
	}
	return nil
}

// unitSchemas converts the scenario's unit definitions to ir units.
func (s *Scenario) unitSchemas() []ir.Unit {
	units := make([]ir.Unit, len(s.Units))
	for i, def := range s.Units {
		params := make([]ir.Param, len(def.Params))
		for j, typ := range def.Params {
			params[j] = ir.Param{Name: fmt.Sprintf("p%d", j), Type: typ}
		}
		units[i] = ir.Unit{
			Name:        def.Name,
			SourceName:  "scenario/" + s.Name,
			Constructor: params,
			Libraries:   slices.Clone(def.Libraries),
		}
	}
	return units
}
