package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roach88/deploydag/internal/ir"
)

// DryRun predicts deployment addresses the way the network would assign
// them (sender plus nonce) without sending anything. Bytecode linking and
// argument encoding still run, so encoding errors surface as rejections.
type DryRun struct {
	mu       sync.Mutex
	deployer common.Address
	nonce    uint64
	calls    []ir.DeployCall
}

// NewDryRun starts predicting from the given deployer nonce.
func NewDryRun(deployer common.Address, nonce uint64) *DryRun {
	return &DryRun{deployer: deployer, nonce: nonce}
}

// Address returns the simulated deployer.
func (d *DryRun) Address() common.Address {
	return d.deployer
}

// Deploy implements engine.Client.
func (d *DryRun) Deploy(_ context.Context, call ir.DeployCall) (ir.Submission, error) {
	if call.Unit.Bytecode != "" {
		if _, err := LinkBytecode(call.Unit, call.Libraries); err != nil {
			return ir.Submission{}, fmt.Errorf("%w: %w", ir.ErrRejected, err)
		}
	}
	if _, err := PackConstructor(call.Unit.Constructor, call.Args); err != nil {
		return ir.Submission{}, fmt.Errorf("%w: %s: %w", ir.ErrRejected, call.Name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	nonce := d.nonce
	d.nonce++
	d.calls = append(d.calls, call)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	txHash := crypto.Keccak256Hash([]byte("deploydag/dry-run"), d.deployer.Bytes(), buf[:])

	return ir.Submission{
		Address: crypto.CreateAddress(d.deployer, nonce).Hex(),
		TxHash:  txHash.Hex(),
	}, nil
}

// AwaitConfirmation implements engine.Client; dry-run transactions are
// confirmed immediately.
func (d *DryRun) AwaitConfirmation(context.Context, string) error {
	return nil
}

// Calls returns the deploy calls seen so far, in submission order.
func (d *DryRun) Calls() []ir.DeployCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ir.DeployCall, len(d.calls))
	copy(out, d.calls)
	return out
}
