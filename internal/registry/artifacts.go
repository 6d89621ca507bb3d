package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/roach88/deploydag/internal/ir"
)

// ErrNoBytecode marks artifacts that cannot be deployed (interfaces and
// abstract contracts compile to empty creation bytecode).
var ErrNoBytecode = errors.New("artifact has no creation bytecode")

// hardhatArtifact is the subset of a Hardhat artifact file we read.
// See https://hardhat.org/hardhat-runner/docs/advanced/artifacts.
type hardhatArtifact struct {
	Format         string                                `json:"_format"`
	ContractName   string                                `json:"contractName"`
	SourceName     string                                `json:"sourceName"`
	ABI            json.RawMessage                       `json:"abi"`
	Bytecode       string                                `json:"bytecode"`
	LinkReferences map[string]map[string][]ir.LinkOffset `json:"linkReferences"`
}

// ParseArtifact converts one Hardhat artifact into a Unit.
//
// The constructor schema comes from the ABI; the required libraries come
// from linkReferences. Tuple constructor parameters are not supported.
func ParseArtifact(data []byte) (ir.Unit, error) {
	var art hardhatArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return ir.Unit{}, fmt.Errorf("decode artifact: %w", err)
	}
	if art.ContractName == "" {
		return ir.Unit{}, fmt.Errorf("decode artifact: missing contractName")
	}

	unit := ir.Unit{
		Name:       art.ContractName,
		SourceName: art.SourceName,
		Bytecode:   art.Bytecode,
	}

	if len(art.ABI) > 0 {
		parsed, err := abi.JSON(bytes.NewReader(art.ABI))
		if err != nil {
			return ir.Unit{}, fmt.Errorf("artifact %s: parse abi: %w", art.ContractName, err)
		}
		for i, in := range parsed.Constructor.Inputs {
			if in.Type.T == abi.TupleTy {
				return ir.Unit{}, fmt.Errorf("artifact %s: constructor parameter %d (%s): tuple types are not supported",
					art.ContractName, i, in.Name)
			}
			unit.Constructor = append(unit.Constructor, ir.Param{Name: in.Name, Type: in.Type.String()})
		}
	}

	for _, libs := range art.LinkReferences {
		for lib, offsets := range libs {
			if unit.LinkRefs == nil {
				unit.LinkRefs = make(map[string][]ir.LinkOffset)
			}
			if _, seen := unit.LinkRefs[lib]; !seen {
				unit.Libraries = append(unit.Libraries, lib)
			}
			unit.LinkRefs[lib] = append(unit.LinkRefs[lib], offsets...)
		}
	}
	slices.Sort(unit.Libraries)

	if strings.TrimPrefix(unit.Bytecode, "0x") == "" {
		return unit, fmt.Errorf("artifact %s: %w", unit.Name, ErrNoBytecode)
	}
	return unit, nil
}

// LoadArtifacts walks a Hardhat artifacts directory and registers every
// deployable contract found in it. Debug files (*.dbg.json), build-info
// files and artifacts without bytecode are skipped.
func LoadArtifacts(dir string) (*Registry, error) {
	reg := New()
	if err := reg.LoadDir(dir); err != nil {
		return nil, err
	}
	return reg, nil
}

// LoadDir registers every deployable artifact under dir into r.
func (r *Registry) LoadDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("artifacts directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("artifacts directory: not a directory: %s", dir)
	}

	skipped := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".json" || strings.HasSuffix(path, ".dbg.json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !isHardhatArtifact(data) {
			skipped++
			return nil
		}

		unit, err := ParseArtifact(data)
		if errors.Is(err, ErrNoBytecode) {
			skipped++
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return r.Register(unit)
	})
	if err != nil {
		return fmt.Errorf("load artifacts: %w", err)
	}

	slog.Debug("artifacts loaded", "dir", dir, "units", r.Len(), "skipped", skipped)
	return nil
}

// isHardhatArtifact sniffs the _format field without decoding the ABI.
func isHardhatArtifact(data []byte) bool {
	var head struct {
		Format string `json:"_format"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return false
	}
	return strings.HasPrefix(head.Format, "hh-sol-artifact")
}
