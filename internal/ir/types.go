package ir

import (
	"slices"
	"time"
)

// Param is one typed constructor parameter. Type is a Solidity ABI type
// string such as "address", "uint256", "uint8[]" or "bytes32".
type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// LinkOffset locates a 20-byte library placeholder inside creation bytecode.
// Start and Length are byte offsets into the decoded bytecode.
type LinkOffset struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// Unit is one deployable artifact: a name, its constructor schema and the
// library slots that must be linked before deployment.
// Units are immutable once registered.
type Unit struct {
	Name        string   `json:"name"`
	SourceName  string   `json:"source_name,omitempty"`
	Constructor []Param  `json:"constructor"`
	Libraries   []string `json:"libraries,omitempty"` // sorted slot names

	// Bytecode is the 0x-prefixed creation bytecode, possibly containing
	// unlinked library placeholders.
	Bytecode string `json:"bytecode,omitempty"`

	// LinkRefs maps library slot name to placeholder offsets.
	LinkRefs map[string][]LinkOffset `json:"link_refs,omitempty"`
}

// SameSchema reports whether two units describe the same deployable
// interface: same name, same ordered parameter types, same library slots.
func (u Unit) SameSchema(other Unit) bool {
	if u.Name != other.Name || len(u.Constructor) != len(other.Constructor) {
		return false
	}
	for i := range u.Constructor {
		if u.Constructor[i].Type != other.Constructor[i].Type {
			return false
		}
	}
	a := slices.Sorted(slices.Values(u.Libraries))
	b := slices.Sorted(slices.Values(other.Libraries))
	return slices.Equal(a, b)
}

// Request asks for one unit to be deployed under Name.
//
// Name is the manifest key and the target of ref(Name). It defaults to the
// artifact name but may differ so one artifact can be deployed several times
// in a plan (three MockERC20 tokens, say).
type Request struct {
	Name string  `json:"name"`
	Unit Unit    `json:"unit"`
	Args IRArray `json:"args"`

	// Libraries maps library slot to the request name providing it.
	// Slots missing from the map are provided by the request of the same name.
	Libraries map[string]string `json:"libraries,omitempty"`
}

// LibraryProvider returns the request name that provides slot.
func (r Request) LibraryProvider(slot string) string {
	if p, ok := r.Libraries[slot]; ok && p != "" {
		return p
	}
	return slot
}

// Dependencies returns every request name this request needs an address
// for: argument references first (in argument order), then library
// providers (in slot order). Each name appears once.
func (r Request) Dependencies() []string {
	seen := make(map[string]bool)
	var deps []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			deps = append(deps, name)
		}
	}
	for _, arg := range r.Args {
		for _, ref := range Refs(arg) {
			add(ref)
		}
	}
	for _, slot := range r.Unit.Libraries {
		add(r.LibraryProvider(slot))
	}
	return deps
}

// Plan is the full set of requests submitted together in one run.
type Plan struct {
	Name     string    `json:"name"`
	Network  string    `json:"network,omitempty"` // optional default network
	Requests []Request `json:"requests"`
}

// Names returns request names in plan order.
func (p Plan) Names() []string {
	names := make([]string, len(p.Requests))
	for i, r := range p.Requests {
		names[i] = r.Name
	}
	return names
}

// LibraryLink is a resolved library slot.
type LibraryLink struct {
	Slot    string `json:"slot"`
	Unit    string `json:"unit"`
	Address string `json:"address"`
}

// Record is one confirmed deployment. Records are append-only: once
// written they are never modified, only superseded.
type Record struct {
	ID         string        `json:"id"` // content-addressed, see RecordID
	Network    string        `json:"network"`
	Unit       string        `json:"unit"`     // request name, the manifest key
	Artifact   string        `json:"artifact"` // artifact (unit definition) name
	Address    string        `json:"address"`
	TxHash     string        `json:"tx_hash"`
	Args       IRArray       `json:"args"` // fully resolved
	Libraries  []LibraryLink `json:"libraries"`
	RunID      string        `json:"run_id"`
	DeployedAt time.Time     `json:"deployed_at"`

	// Supersedes is the ID of the record this one replaced (force mode).
	Supersedes string `json:"supersedes,omitempty"`

	// Seq is the store-assigned insertion sequence.
	Seq int64 `json:"seq"`

	// Active is false once a later record supersedes this one.
	Active bool `json:"active"`
}

// PutMode selects how a manifest write treats an existing active record.
type PutMode int

const (
	// PutIfAbsent writes only if no active record exists for the key
	// (compare-and-swap on "absent").
	PutIfAbsent PutMode = iota

	// PutSupersede retires the active record, if any, and writes the new one
	// in the same transaction.
	PutSupersede
)

// DeployCall is everything a chain client needs to submit one deployment.
// Args and library addresses are fully resolved.
type DeployCall struct {
	Name      string
	Unit      Unit
	Args      IRArray
	Libraries []LibraryLink
}

// Submission is the chain client's answer to a deploy call.
type Submission struct {
	Address string
	TxHash  string
}

// Status is a unit's state within a run.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusSubmitting Status = "Submitting"
	StatusDeployed   Status = "Deployed"
	StatusReused     Status = "Reused"
	StatusFailed     Status = "Failed"
	StatusSkipped    Status = "Skipped"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeployed, StatusReused, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Skip reasons.
const (
	ReasonBlockedByDependencyFailure = "BlockedByDependencyFailure"
	ReasonCancelled                  = "Cancelled"
)

// Outcome is a unit's terminal result for a run.
type Outcome struct {
	Unit    string `json:"unit"`
	Status  Status `json:"status"`
	Address string `json:"address,omitempty"`
	TxHash  string `json:"tx_hash,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// BlockedBy names the failed or skipped dependency for skipped units.
	BlockedBy string `json:"blocked_by,omitempty"`

	Attempts int   `json:"attempts,omitempty"`
	Err      error `json:"-"`
}

// Line renders the outcome the way the operator report prints it.
func (o Outcome) Line() string {
	switch o.Status {
	case StatusDeployed, StatusReused:
		return string(o.Status) + " " + o.Address
	default:
		return string(o.Status) + " " + o.Reason
	}
}
