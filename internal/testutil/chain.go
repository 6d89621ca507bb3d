package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roach88/deploydag/internal/ir"
)

// FakeDeployer is the sender address FakeChain derives contract addresses
// from.
var FakeDeployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// FakeChain is an in-memory chain client. Addresses follow the real
// sender-plus-nonce derivation, so a plan deployed on a fresh FakeChain
// always gets the same addresses.
//
// Failures are scripted per request name: Reject makes every deploy of a
// unit fail with ir.ErrRejected, FailTransient makes the next n deploys
// fail with ir.ErrTransient, TimeoutConfirm makes the next n
// confirmations fail with ir.ErrReorgOrTimeout while the transaction stays
// pending, and DropConfirm makes them report the transaction dropped.
type FakeChain struct {
	// Delay is slept inside Deploy, to keep units in flight long enough to
	// observe concurrency.
	Delay time.Duration

	mu          sync.Mutex
	nonce       uint64
	rejects     map[string]bool
	transient   map[string]int
	timeouts    map[string]int
	drops       map[string]int
	txUnits     map[string]string
	calls       []ir.DeployCall
	log         []string
	inFlight    int
	maxInFlight int
}

// NewFakeChain creates a fake chain starting at nonce 0.
func NewFakeChain() *FakeChain {
	return &FakeChain{
		rejects:   make(map[string]bool),
		transient: make(map[string]int),
		timeouts:  make(map[string]int),
		drops:     make(map[string]int),
		txUnits:   make(map[string]string),
	}
}

// Reject makes deployments of unit fail permanently.
func (f *FakeChain) Reject(unit string) *FakeChain {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects[unit] = true
	return f
}

// FailTransient makes the next n deployments of unit fail transiently.
func (f *FakeChain) FailTransient(unit string, n int) *FakeChain {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transient[unit] = n
	return f
}

// TimeoutConfirm makes the next n confirmations for unit time out.
func (f *FakeChain) TimeoutConfirm(unit string, n int) *FakeChain {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts[unit] = n
	return f
}

// DropConfirm makes the next n confirmations for unit report the
// transaction dropped from the chain.
func (f *FakeChain) DropConfirm(unit string, n int) *FakeChain {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drops[unit] = n
	return f
}

// Deploy implements engine.Client.
func (f *FakeChain) Deploy(ctx context.Context, call ir.DeployCall) (ir.Submission, error) {
	f.mu.Lock()
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.log = append(f.log, "deploy:"+call.Name)
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			f.release()
			return ir.Submission{}, fmt.Errorf("%w: %w", ir.ErrTransient, ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rejects[call.Name] {
		f.inFlight--
		return ir.Submission{}, fmt.Errorf("%w: execution reverted: %s", ir.ErrRejected, call.Name)
	}
	if f.transient[call.Name] > 0 {
		f.transient[call.Name]--
		f.inFlight--
		return ir.Submission{}, fmt.Errorf("%w: connection reset", ir.ErrTransient)
	}

	nonce := f.nonce
	f.nonce++
	f.calls = append(f.calls, call)

	txHash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s/%d", call.Name, nonce))).Hex()
	f.txUnits[txHash] = call.Name
	return ir.Submission{
		Address: crypto.CreateAddress(FakeDeployer, nonce).Hex(),
		TxHash:  txHash,
	}, nil
}

// AwaitConfirmation implements engine.Client. A timed out transaction
// stays pending and can be awaited again.
func (f *FakeChain) AwaitConfirmation(_ context.Context, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	unit, ok := f.txUnits[txHash]
	if !ok {
		return fmt.Errorf("%w: %w: unknown transaction %s", ir.ErrReorgOrTimeout, ir.ErrDropped, txHash)
	}
	if f.timeouts[unit] > 0 {
		f.timeouts[unit]--
		return fmt.Errorf("%w: %s not mined", ir.ErrReorgOrTimeout, txHash)
	}
	f.inFlight--
	delete(f.txUnits, txHash)
	if f.drops[unit] > 0 {
		f.drops[unit]--
		return fmt.Errorf("%w: %w: %s reorged out", ir.ErrReorgOrTimeout, ir.ErrDropped, txHash)
	}
	f.log = append(f.log, "confirm:"+unit)
	return nil
}

func (f *FakeChain) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
}

// Calls returns the deploy calls that produced a transaction, in order.
func (f *FakeChain) Calls() []ir.DeployCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ir.DeployCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallNames returns the request names of Calls.
func (f *FakeChain) CallNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.calls))
	for i, c := range f.calls {
		names[i] = c.Name
	}
	return names
}

// Log returns "deploy:<unit>" and "confirm:<unit>" entries in the order
// they happened. Failed deploy attempts are logged too.
func (f *FakeChain) Log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

// MaxInFlight returns the highest number of simultaneously pending
// deployments observed.
func (f *FakeChain) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// AddressAt returns the address the n-th successful deploy receives.
func AddressAt(n uint64) string {
	return crypto.CreateAddress(FakeDeployer, n).Hex()
}
