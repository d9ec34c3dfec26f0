// Package scenario defines the static description of a simulation:
// the processes, their operation scripts, and the IPC resources they
// act on. A Scenario owns no runtime state; the sim package consumes
// it and keeps it immutable for the lifetime of an engine.
package scenario

import (
	"fmt"
	"strings"
)

// OpKind enumerates the instructions a process can execute.
type OpKind string

const (
	OpSend    OpKind = "SEND"
	OpReceive OpKind = "RECEIVE"
	OpWrite   OpKind = "WRITE"
	OpRead    OpKind = "READ"
	OpLock    OpKind = "LOCK"
	OpUnlock  OpKind = "UNLOCK"
	OpNop     OpKind = "NOP"
)

// AccessMode declares how a process touches shared memory.
type AccessMode string

const (
	ModeRead  AccessMode = "READ"
	ModeWrite AccessMode = "WRITE"
)

// ResourceKind enumerates IPC resource variants.
type ResourceKind string

const (
	KindPipe  ResourceKind = "PIPE"
	KindQueue ResourceKind = "QUEUE"
	KindSHM   ResourceKind = "SHM"
)

// Operation is one instruction executed against an IPC resource.
// Immutable once loaded.
type Operation struct {
	Kind OpKind `json:"kind" yaml:"kind" toml:"kind"`
	// Resource is the target resource id. Empty only for NOP.
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty" toml:"resource,omitempty"`
	// Mode applies to LOCK (lock mode) and is implied by kind for
	// shared-memory READ/WRITE. Empty LOCK mode defaults to WRITE.
	Mode        AccessMode `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty"`
	PayloadSize int        `json:"payload_size,omitempty" yaml:"payload_size,omitempty" toml:"payload_size,omitempty"`
	// Duration is the number of extra steps an access is considered to
	// span, used for overlap detection on shared memory.
	Duration int `json:"duration,omitempty" yaml:"duration,omitempty" toml:"duration,omitempty"`
}

// Process is a scripted participant: an id and an ordered operation
// sequence.
type Process struct {
	ID         string      `json:"id" yaml:"id" toml:"id"`
	Name       string      `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Operations []Operation `json:"operations" yaml:"operations" toml:"operations"`
}

// Resource describes one IPC resource. Capacity applies to PIPE and
// QUEUE (number of pending messages); SHM has no buffer.
type Resource struct {
	ID       string       `json:"id" yaml:"id" toml:"id"`
	Kind     ResourceKind `json:"kind" yaml:"kind" toml:"kind"`
	Capacity int          `json:"capacity,omitempty" yaml:"capacity,omitempty" toml:"capacity,omitempty"`
}

// Scenario is the full static input to a simulation.
type Scenario struct {
	Processes []Process  `json:"processes" yaml:"processes" toml:"processes"`
	Resources []Resource `json:"resources" yaml:"resources" toml:"resources"`
}

// ValidationError reports a malformed or contradictory scenario. The
// simulation never starts when one is returned.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid scenario: %s", strings.Join(e.Issues, "; "))
}

// bufferOps may target pipes and queues; shmOps may target shared
// memory. WRITE/READ are legal on both.
var (
	bufferOps = map[OpKind]bool{OpSend: true, OpReceive: true, OpWrite: true, OpRead: true}
	shmOps    = map[OpKind]bool{OpLock: true, OpUnlock: true, OpWrite: true, OpRead: true}
)

// Validate checks structural integrity: unique non-empty ids, known
// resource references, positive buffer capacities, and operation kinds
// compatible with their target resource.
func (s *Scenario) Validate() error {
	var issues []string

	if len(s.Processes) == 0 {
		issues = append(issues, "scenario has no processes")
	}

	seenRes := make(map[string]bool, len(s.Resources))
	for _, r := range s.Resources {
		if r.ID == "" {
			issues = append(issues, "resource with empty id")
			continue
		}
		if seenRes[r.ID] {
			issues = append(issues, fmt.Sprintf("duplicate resource id %q", r.ID))
			continue
		}
		seenRes[r.ID] = true
		switch r.Kind {
		case KindPipe, KindQueue:
			if r.Capacity <= 0 {
				issues = append(issues, fmt.Sprintf("resource %q: capacity must be positive, got %d", r.ID, r.Capacity))
			}
		case KindSHM:
			if r.Capacity != 0 {
				issues = append(issues, fmt.Sprintf("resource %q: shared memory takes no capacity", r.ID))
			}
		default:
			issues = append(issues, fmt.Sprintf("resource %q: unknown kind %q", r.ID, r.Kind))
		}
	}

	seen := make(map[string]bool, len(s.Processes))
	for _, p := range s.Processes {
		if p.ID == "" {
			issues = append(issues, "process with empty id")
			continue
		}
		if seen[p.ID] {
			issues = append(issues, fmt.Sprintf("duplicate process id %q", p.ID))
			continue
		}
		seen[p.ID] = true

		for i, op := range p.Operations {
			issues = append(issues, s.validateOp(p.ID, i, op)...)
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func (s *Scenario) validateOp(pid string, i int, op Operation) []string {
	at := fmt.Sprintf("process %q op %d (%s)", pid, i, op.Kind)
	var issues []string

	if op.PayloadSize < 0 {
		issues = append(issues, at+": negative payload size")
	}
	if op.Duration < 0 {
		issues = append(issues, at+": negative duration")
	}

	switch op.Kind {
	case OpNop:
		return issues
	case OpSend, OpReceive, OpWrite, OpRead, OpLock, OpUnlock:
	default:
		return append(issues, fmt.Sprintf("%s: unknown operation kind", at))
	}

	res, ok := s.Resource(op.Resource)
	if !ok {
		return append(issues, fmt.Sprintf("%s: unknown resource %q", at, op.Resource))
	}

	switch res.Kind {
	case KindPipe, KindQueue:
		if !bufferOps[op.Kind] {
			issues = append(issues, fmt.Sprintf("%s: not valid on %s", at, res.Kind))
		}
	case KindSHM:
		if !shmOps[op.Kind] {
			issues = append(issues, fmt.Sprintf("%s: not valid on shared memory", at))
		}
	}

	if op.Kind == OpLock {
		switch op.Mode {
		case "", ModeRead, ModeWrite:
		default:
			issues = append(issues, fmt.Sprintf("%s: unknown lock mode %q", at, op.Mode))
		}
	}
	return issues
}

// Resource returns the resource definition for id, if present.
func (s *Scenario) Resource(id string) (Resource, bool) {
	for _, r := range s.Resources {
		if r.ID == id {
			return r, true
		}
	}
	return Resource{}, false
}
