package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/roach88/deploydag/internal/ir"
)

// Client submits deployments to a network. Every error wraps one of
// ir.ErrTransient, ir.ErrRejected or ir.ErrReorgOrTimeout; an unclassified
// error is treated as transient.
type Client interface {
	Deploy(ctx context.Context, call ir.DeployCall) (ir.Submission, error)
	AwaitConfirmation(ctx context.Context, txHash string) error
}

// Manifest is the part of the manifest store the engine reads and writes.
// Get returns an error satisfying ir.IsNotFound when no active record exists.
type Manifest interface {
	Get(ctx context.Context, network, unit string) (ir.Record, error)
	Put(ctx context.Context, rec ir.Record, mode ir.PutMode) (ir.Record, bool, error)
}

// Event is a per-unit notification. One Submitting event is emitted per
// attempt; exactly one terminal event is emitted per unit.
type Event struct {
	Seq     int64
	Unit    string
	Status  ir.Status
	Address string
	Attempt int
	Reason  string
	Err     error
}

// Retry bounds resubmission of transient failures.
type Retry struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Defaults.
const (
	DefaultConcurrency = 4
)

// DefaultRetry allows five attempts, starting one second apart.
var DefaultRetry = Retry{
	MaxAttempts:     5,
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
}

// Engine deploys resolved plans. An Engine holds no per-run state and may
// run several plans, one after the other or concurrently.
type Engine struct {
	client   Client
	manifest Manifest

	concurrency int
	retry       Retry
	force       bool
	forceUnits  map[string]bool
	runID       string
	deployer    string
	now         func() time.Time
	clock       *Clock

	notifyMu sync.Mutex
	notify   func(Event)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConcurrency bounds the number of units in flight. Values below 1
// mean 1.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		e.concurrency = max(n, 1)
	}
}

// WithRetry sets the transient-failure retry bound.
func WithRetry(maxAttempts int, initial, maxInterval time.Duration) EngineOption {
	return func(e *Engine) {
		e.retry = Retry{MaxAttempts: max(maxAttempts, 1), InitialInterval: initial, MaxInterval: maxInterval}
	}
}

// WithForce redeploys every unit, superseding existing manifest records.
func WithForce(force bool) EngineOption {
	return func(e *Engine) {
		e.force = force
	}
}

// WithForceUnits redeploys only the named units.
func WithForceUnits(names ...string) EngineOption {
	return func(e *Engine) {
		for _, n := range names {
			e.forceUnits[n] = true
		}
	}
}

// WithRunID fixes the run id stamped on records. By default every Run
// generates a UUIDv7.
func WithRunID(id string) EngineOption {
	return func(e *Engine) {
		e.runID = id
	}
}

// WithDeployer sets the address deployer() resolves to.
func WithDeployer(addr string) EngineOption {
	return func(e *Engine) {
		e.deployer = addr
	}
}

// WithNow replaces the wall clock used for DeployedAt.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithClock shares an event sequence clock.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithNotify registers a listener for unit events. Calls are serialized.
func WithNotify(fn func(Event)) EngineOption {
	return func(e *Engine) {
		e.notify = fn
	}
}

// New creates an Engine.
func New(client Client, manifest Manifest, opts ...EngineOption) *Engine {
	e := &Engine{
		client:      client,
		manifest:    manifest,
		concurrency: DefaultConcurrency,
		retry:       DefaultRetry,
		forceUnits:  make(map[string]bool),
		now:         time.Now,
		clock:       NewClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) forced(unit string) bool {
	return e.force || e.forceUnits[unit]
}

func (e *Engine) emit(ev Event) {
	if e.notify == nil {
		return
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	ev.Seq = e.clock.Next()
	e.notify(ev)
}

// run is the per-Run scheduler state. Only the Run goroutine touches it.
type run struct {
	network  string
	runID    string
	requests []ir.Request

	index      map[string]int
	deps       [][]int // in-plan dependencies per request
	dependents [][]int
	waiting    []int // unfinished in-plan dependencies
	outcomes   []ir.Outcome
	addresses  map[string]string
	ready      []int // sorted by plan index
}

type result struct {
	i       int
	outcome ir.Outcome
}

// Run deploys ordered, which must list every request after its in-plan
// dependencies (the resolver's output satisfies this). References to units
// outside ordered are looked up in the manifest.
//
// The report always has one outcome per request, in input order. The
// returned error is non-nil for malformed input (nothing is submitted) or
// when ctx was cancelled (the report is still complete).
func (e *Engine) Run(ctx context.Context, network string, ordered []ir.Request) (*Report, error) {
	r, err := e.newRun(network, ordered)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     r.runID,
		Network:   network,
		StartedAt: e.now().UTC(),
	}

	slog.Info("deployment run starting",
		"run_id", r.runID,
		"network", network,
		"units", len(ordered),
		"concurrency", e.concurrency,
	)

	// In-flight units outlive cancellation.
	workCtx := context.WithoutCancel(ctx)
	results := make(chan result)
	done := ctx.Done()
	inFlight := 0
	remaining := len(ordered)

	for remaining > 0 {
		for ctx.Err() == nil && len(r.ready) > 0 && inFlight < e.concurrency {
			i := r.ready[0]
			r.ready = r.ready[1:]
			r.outcomes[i].Status = ir.StatusSubmitting
			inFlight++

			req := r.requests[i]
			known := r.knownAddresses(i)
			go func() {
				results <- result{i: i, outcome: e.deployUnit(workCtx, network, r.runID, req, known)}
			}()
		}

		if inFlight == 0 {
			// Nothing running and nothing dispatchable: either cancelled or
			// everything left is already terminal.
			break
		}

		select {
		case res := <-results:
			inFlight--
			remaining -= r.complete(res.i, res.outcome, e.emit)
		case <-done:
			done = nil
			slog.Warn("deployment run cancelled, waiting for in-flight units",
				"run_id", r.runID, "in_flight", inFlight)
		}
	}

	for i := range r.outcomes {
		if !r.outcomes[i].Status.Terminal() {
			r.outcomes[i].Status = ir.StatusSkipped
			r.outcomes[i].Reason = ir.ReasonCancelled
			e.emit(Event{Unit: r.requests[i].Name, Status: ir.StatusSkipped, Reason: ir.ReasonCancelled})
		}
	}

	report.Outcomes = r.outcomes
	report.FinishedAt = e.now().UTC()

	counts := report.Counts()
	slog.Info("deployment run finished",
		"run_id", r.runID,
		"network", network,
		"deployed", counts[ir.StatusDeployed],
		"reused", counts[ir.StatusReused],
		"failed", counts[ir.StatusFailed],
		"skipped", counts[ir.StatusSkipped],
	)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run %s: %w", r.runID, err)
	}
	return report, nil
}

func (e *Engine) newRun(network string, ordered []ir.Request) (*run, error) {
	runID := e.runID
	if runID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
		runID = id.String()
	}

	n := len(ordered)
	r := &run{
		network:    network,
		runID:      runID,
		requests:   ordered,
		index:      make(map[string]int, n),
		deps:       make([][]int, n),
		dependents: make([][]int, n),
		waiting:    make([]int, n),
		outcomes:   make([]ir.Outcome, n),
		addresses:  make(map[string]string, n),
	}

	for i, req := range ordered {
		if _, dup := r.index[req.Name]; dup {
			return nil, &RuntimeError{Code: ErrCodeDuplicateRequest, Message: "request listed twice", Unit: req.Name}
		}
		r.index[req.Name] = i
		r.outcomes[i] = ir.Outcome{Unit: req.Name, Status: ir.StatusPending}
	}

	for i, req := range ordered {
		for _, dep := range req.Dependencies() {
			j, inPlan := r.index[dep]
			if !inPlan {
				continue
			}
			if j >= i {
				return nil, newOutOfOrderError(req.Name, dep)
			}
			r.deps[i] = append(r.deps[i], j)
			r.dependents[j] = append(r.dependents[j], i)
		}
		r.waiting[i] = len(r.deps[i])
		if r.waiting[i] == 0 {
			r.ready = append(r.ready, i)
		}
	}
	return r, nil
}

// knownAddresses snapshots the in-run addresses of request i's
// dependencies for its worker.
func (r *run) knownAddresses(i int) map[string]string {
	known := make(map[string]string, len(r.deps[i]))
	for _, j := range r.deps[i] {
		name := r.requests[j].Name
		known[name] = r.addresses[name]
	}
	return known
}

// complete records a worker result, releases or skips dependents, and
// returns how many units became terminal.
func (r *run) complete(i int, out ir.Outcome, emit func(Event)) int {
	r.outcomes[i] = out
	emit(Event{Unit: out.Unit, Status: out.Status, Address: out.Address, Attempt: out.Attempts, Reason: out.Reason, Err: out.Err})
	finished := 1

	if out.Status == ir.StatusDeployed || out.Status == ir.StatusReused {
		r.addresses[out.Unit] = out.Address
		for _, d := range r.dependents[i] {
			r.waiting[d]--
			if r.waiting[d] == 0 && r.outcomes[d].Status == ir.StatusPending {
				pos, _ := slices.BinarySearch(r.ready, d)
				r.ready = slices.Insert(r.ready, pos, d)
			}
		}
		return finished
	}

	// Failed: skip every pending dependent, transitively.
	blocked := []int{i}
	for len(blocked) > 0 {
		b := blocked[0]
		blocked = blocked[1:]
		for _, d := range r.dependents[b] {
			if r.outcomes[d].Status != ir.StatusPending {
				continue
			}
			r.outcomes[d] = ir.Outcome{
				Unit:      r.requests[d].Name,
				Status:    ir.StatusSkipped,
				Reason:    ir.ReasonBlockedByDependencyFailure,
				BlockedBy: r.requests[b].Name,
			}
			emit(Event{Unit: r.requests[d].Name, Status: ir.StatusSkipped, Reason: ir.ReasonBlockedByDependencyFailure})
			slog.Info("unit skipped",
				"unit", r.requests[d].Name,
				"network", r.network,
				"blocked_by", r.requests[b].Name,
			)
			blocked = append(blocked, d)
			finished++
		}
	}
	return finished
}

// deployUnit runs on a worker goroutine and performs all I/O for one unit.
func (e *Engine) deployUnit(ctx context.Context, network, runID string, req ir.Request, known map[string]string) ir.Outcome {
	log := slog.With("unit", req.Name, "network", network)
	failed := func(reason string, err error) ir.Outcome {
		log.Error("unit failed", "error", err)
		return ir.Outcome{Unit: req.Name, Status: ir.StatusFailed, Reason: reason, Err: err}
	}

	forced := e.forced(req.Name)
	if !forced {
		rec, err := e.manifest.Get(ctx, network, req.Name)
		switch {
		case err == nil:
			log.Info("unit reused", "address", rec.Address)
			return ir.Outcome{Unit: req.Name, Status: ir.StatusReused, Address: rec.Address, TxHash: rec.TxHash}
		case !ir.IsNotFound(err):
			return failed("manifest read failed", newManifestError(req.Name, err, nil))
		}
	}

	resolve := func(name string) (string, error) {
		if addr, ok := known[name]; ok {
			return addr, nil
		}
		rec, err := e.manifest.Get(ctx, network, name)
		if err != nil {
			if ir.IsNotFound(err) {
				return "", newUnresolvedError(req.Name, name)
			}
			return "", newManifestError(req.Name, err, nil)
		}
		return rec.Address, nil
	}

	args := make(ir.IRArray, len(req.Args))
	for pos, arg := range req.Args {
		if ir.IsResolved(arg) {
			args[pos] = arg
			continue
		}
		sub, err := ir.Substitute(arg, func(v ir.IRValue) (string, error) {
			switch ref := v.(type) {
			case ir.IRRef:
				return resolve(ref.Unit)
			case ir.IRDeployer:
				if e.deployer == "" {
					return "", &RuntimeError{Code: ErrCodeUnresolved, Message: "deployer() used but no deployer address is configured", Unit: req.Name}
				}
				return e.deployer, nil
			}
			return "", fmt.Errorf("unexpected symbol %T", v)
		})
		if err != nil {
			return failed(fmt.Sprintf("resolve args[%d]: %v", pos, err), err)
		}
		args[pos] = sub
	}

	var links []ir.LibraryLink
	for _, slot := range req.Unit.Libraries {
		provider := req.LibraryProvider(slot)
		addr, err := resolve(provider)
		if err != nil {
			return failed(fmt.Sprintf("resolve library %s: %v", slot, err), err)
		}
		links = append(links, ir.LibraryLink{Slot: slot, Unit: provider, Address: addr})
	}

	call := ir.DeployCall{Name: req.Name, Unit: req.Unit, Args: args, Libraries: links}
	sub, attempts, err := e.submit(ctx, call, log)
	if err != nil {
		out := failed(failureReason(err), err)
		out.Attempts = attempts
		return out
	}

	rec := ir.Record{
		Network:    network,
		Unit:       req.Name,
		Artifact:   req.Unit.Name,
		Address:    sub.Address,
		TxHash:     sub.TxHash,
		Args:       args,
		Libraries:  links,
		RunID:      runID,
		DeployedAt: e.now().UTC(),
	}
	rec.ID, err = ir.RecordID(rec)
	if err != nil {
		return failed("record id", err)
	}

	mode := ir.PutIfAbsent
	if forced {
		mode = ir.PutSupersede
	}
	stored, written, err := e.manifest.Put(ctx, rec, mode)
	if err != nil {
		merr := newManifestError(req.Name, err, map[string]string{"address": sub.Address, "tx_hash": sub.TxHash})
		out := failed(fmt.Sprintf("deployed at %s but not recorded: %v", sub.Address, err), merr)
		out.Attempts = attempts
		return out
	}
	if !written {
		// Another writer claimed the key first; its record is the live one.
		log.Warn("manifest key claimed concurrently, reusing recorded deployment",
			"address", stored.Address, "orphaned", sub.Address)
		return ir.Outcome{Unit: req.Name, Status: ir.StatusReused, Address: stored.Address, TxHash: stored.TxHash, Attempts: attempts}
	}

	log.Info("unit deployed", "address", sub.Address, "tx", sub.TxHash, "attempts", attempts)
	return ir.Outcome{Unit: req.Name, Status: ir.StatusDeployed, Address: sub.Address, TxHash: sub.TxHash, Attempts: attempts}
}

// failureReason renders a submission error for the operator report. The
// unit name is left out; the report line already carries it.
func failureReason(err error) string {
	var rejected *ir.RejectedSubmissionError
	if errors.As(err, &rejected) {
		return "rejected: " + rejected.Err.Error()
	}
	var transient *ir.TransientSubmissionError
	if errors.As(err, &transient) {
		return fmt.Sprintf("gave up after %d attempts: %v", transient.Attempts, transient.Err)
	}
	return err.Error()
}

// submit deploys and confirms call, retrying transient failures. A
// confirmation timeout does not resend: the next attempt waits on the same
// transaction again, and a new one is sent only once the client reports
// the pending one dropped. The returned error is a
// *ir.RejectedSubmissionError or, once the retry budget is spent, a
// *ir.TransientSubmissionError.
func (e *Engine) submit(ctx context.Context, call ir.DeployCall, log *slog.Logger) (ir.Submission, int, error) {
	eback := backoff.NewExponentialBackOff()
	eback.InitialInterval = e.retry.InitialInterval
	eback.MaxInterval = e.retry.MaxInterval
	eback.MaxElapsedTime = 0
	boff := backoff.WithContext(backoff.WithMaxRetries(eback, uint64(e.retry.MaxAttempts-1)), ctx)

	var pending *ir.Submission
	attempts := 0
	operation := func() error {
		attempts++
		e.emit(Event{Unit: call.Name, Status: ir.StatusSubmitting, Attempt: attempts})

		if pending == nil {
			s, err := e.client.Deploy(ctx, call)
			if err != nil {
				if errors.Is(err, ir.ErrRejected) {
					return backoff.Permanent(err)
				}
				log.Warn("submission failed, will retry", "attempt", attempts, "error", err)
				return err
			}
			pending = &s
		} else {
			log.Info("awaiting pending transaction", "attempt", attempts, "tx", pending.TxHash)
		}

		err := e.client.AwaitConfirmation(ctx, pending.TxHash)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ir.ErrRejected):
			return backoff.Permanent(err)
		case errors.Is(err, ir.ErrDropped):
			log.Warn("transaction dropped, will resubmit", "attempt", attempts, "tx", pending.TxHash, "error", err)
			pending = nil
		default:
			log.Warn("confirmation failed, will wait again", "attempt", attempts, "tx", pending.TxHash, "error", err)
		}
		return err
	}

	if err := backoff.Retry(operation, boff); err != nil {
		if errors.Is(err, ir.ErrRejected) {
			return ir.Submission{}, attempts, &ir.RejectedSubmissionError{Unit: call.Name, Err: err}
		}
		if pending != nil {
			log.Warn("giving up with a transaction still pending", "tx", pending.TxHash, "address", pending.Address)
		}
		return ir.Submission{}, attempts, &ir.TransientSubmissionError{Unit: call.Name, Attempts: attempts, Err: err}
	}
	return *pending, attempts, nil
}
