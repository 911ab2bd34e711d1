package node

import "github.com/distr1/buildgraph/entity"

// Builder is the external collaborator the core consumes. The
// core never knows how a builder does its work — compiling, copying,
// archiving — only that it can report identity/signature, preview its
// targets, optionally discover dependencies or substitute sources, split
// its sources into independently cacheable groups, and execute.
type Builder interface {
	// Name is a stable identifier for this builder (e.g. "cc -O2"). Same
	// inputs must yield the same Name across processes.
	Name() string
	// Signature is a stable content fingerprint of this builder's
	// configuration (flags, version, ...). Same inputs, same bytes.
	Signature() []byte

	// Initiate returns a possibly-specialized Builder (e.g. one that has
	// resolved a concrete toolchain path). Called every time the Node is
	// (re-)initiated, in the process's current working directory.
	Initiate() (Builder, error)

	// GetTargetEntities returns a cheap, side-effect-free preview of what
	// building sources would produce, used only to compute a NodeEntity's
	// Name before a real build ever runs.
	GetTargetEntities(sources []entity.Entity) ([]entity.Entity, error)
	// MakeEntity wraps an arbitrary raw source value (not already an
	// Entity) as one, e.g. a bare string path into a FileEntity.
	MakeEntity(raw interface{}) (entity.Entity, error)
	// MakeFileEntity wraps path as a FileEntity using this builder's
	// preferred signature policy.
	MakeFileEntity(path string) (entity.Entity, error)
	// MakeEntities wraps a batch of raw values, preserving order.
	MakeEntities(raw []interface{}) ([]entity.Entity, error)

	// Depends returns additional Nodes that must be scheduled (and have
	// their targets populated) before this Node may initiate again.
	// Called at most once per Node.
	Depends(sources []entity.Entity) ([]*Node, error)
	// Replace optionally substitutes this Node's sources (e.g. response-
	// file expansion). A nil return means "no substitution". Called at
	// most once per Node; a non-nil return rewinds the Node to
	// initiation so the substituted sources are (re)materialized.
	Replace(sources []entity.Entity) ([]Source, error)
	// Split partitions sources into independently cacheable groups. A
	// result with fewer than two groups means "build sources as one
	// unit" (the Node stays monolithic). Split is not called for a batch
	// builder.
	Split(sources []entity.Entity) ([][]entity.Entity, error)
	// IsBatch selects split/build's batch mode: one NodeEntity per
	// source, staleness checked per source, and all stale sources built
	// together in a single BuildBatch call; stale sources are not
	// partitioned into groups.
	IsBatch() bool

	// Build executes a non-batch (monolithic or split) NodeEntity's
	// targets. targets is always exactly the one or more NodeEntity
	// records belonging to this invocation; the builder populates each
	// NodeEntity's targets/itargets/ideps via its Add* methods.
	Build(sources []entity.Entity, targets []*NodeEntity) error
	// BuildBatch executes a batch NodeEntity: one call covering many
	// stale sources at once, each source's targets written through the
	// per-source NodeEntity the BatchTargets map resolves.
	BuildBatch(sources []entity.Entity, targets *BatchTargets) error

	// Clear deletes this Node's previously produced targets, e.g. to
	// implement a "clean" operation. Errors are logged, not propagated.
	Clear(n *Node) error

	// GetWeight reports a relative scheduling cost. buildmanager.Run does
	// not consult it: Nodes are dispatched in the order they become ready.
	GetWeight(n *Node) int
	// GetTraceArgs returns a short argv-like description for logging,
	// brief selecting a terser form.
	GetTraceArgs(sources, targets []entity.Entity, brief bool) []string
}

// BatchTargets resolves a stale source to the per-source NodeEntity a
// batch builder should populate during BuildBatch.
type BatchTargets struct {
	bySourceID map[entity.ID]*NodeEntity
}

// Get returns the NodeEntity to populate for src, or ErrUnknownSource if
// src was not part of this batch invocation.
func (t *BatchTargets) Get(src entity.Entity) (*NodeEntity, error) {
	ne, ok := t.bySourceID[src.ID()]
	if !ok {
		return nil, newError(ErrUnknownSource, nil, nil)
	}
	return ne, nil
}
