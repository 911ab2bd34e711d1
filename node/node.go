package node

import (
	"log"
	"os"
	"sync"

	"github.com/distr1/buildgraph/entity"
	"github.com/distr1/buildgraph/valuefile"
	"golang.org/x/xerrors"
)

type phase uint8

const (
	phaseNew phase = iota
	phaseInitiated
	phaseDependsDone
	phaseSplit
	phaseChecked
	phaseBuilt
	phaseSaved
	phaseCleared
)

// Node is one build unit: a builder plus the sources it runs against. It
// owns the lifecycle state machine — initiate, depends, replace, split,
// checkActual, build, save — and, once split or batched, the child Nodes
// or per-source NodeEntities that came out of it.
type Node struct {
	mu sync.RWMutex

	builder    Builder
	rawSources []Source
	cwd        string

	sourceEntities []entity.Entity
	depNodes       []*Node
	depEntities    []entity.Entity

	splitNodes []*Node // non-nil when Split produced >1 groups
	batch      bool
	nodeEntity *NodeEntity   // monolithic (or one split child's) record
	perSource  []*NodeEntity // batch mode: one per source, index-aligned with sourceEntities

	staleSources []entity.Entity // batch mode only

	targetEntities  []entity.Entity
	itargetEntities []entity.Entity
	idepEntities    []entity.Entity
	tags            map[entity.ID][]string

	phase     phase
	isActual  bool
	lastStale []*StaleReason

	log *log.Logger
}

// NewNode constructs a Node bound to builder and sources, recording the
// current working directory (see Cwd). The Node does not change directory
// before builder callbacks (Initiate, Build, ...); they run in whatever
// working directory the process has at the time.
func NewNode(builder Builder, sources []Source) *Node {
	cwd, _ := os.Getwd()
	return &Node{
		builder:    builder,
		rawSources: sources,
		cwd:        cwd,
		tags:       make(map[entity.ID][]string),
		log:        log.New(os.Stderr, "", 0),
	}
}

// SetLogger overrides the default stderr logger used to report builder
// errors swallowed by Clear.
func (n *Node) SetLogger(l *log.Logger) { n.log = l }

// Cwd returns the directory captured at construction time.
func (n *Node) Cwd() string { return n.cwd }

// Initiate resolves this Node's sources into concrete entities and
// dependency Nodes, and asks the builder to specialize itself. It is
// re-entrant: calling it again (after Replace substitutes new sources, or
// after the scheduler has built a *Node/*Filter source that was previously
// unbuilt) recomputes sourceEntities and depNodes from the current
// rawSources from scratch. A *Node/*Filter source whose underlying Node
// hasn't built yet still registers as a dependency but contributes no
// entities this round; the caller is expected to call Initiate again once
// that dependency has built, to pick up its now-available entities.
// Design note: any dependency Nodes a prior Depends() call appended are
// NOT carried across a re-initiation — only sources contribute depNodes
// here. This is accepted and documented rather than patched into
// something stronger.
func (n *Node) Initiate() error {
	entities, depNodes, err := resolveSources(n.rawSources)
	if err != nil {
		return newError(ErrInvalidDependency, n, err)
	}
	entity.SortByID(entities)
	n.sourceEntities = entities
	n.depNodes = depNodes

	specialized, err := n.builder.Initiate()
	if err != nil {
		return xerrors.Errorf("node: builder.Initiate: %w", err)
	}
	if specialized != nil {
		n.builder = specialized
	}
	n.phase = phaseInitiated
	return nil
}

// Depends asks the builder for additional Nodes this Node must wait on,
// beyond those implied by its sources. Callable once, after Initiate.
func (n *Node) Depends() ([]*Node, error) {
	extra, err := n.builder.Depends(n.sourceEntities)
	if err != nil {
		return nil, xerrors.Errorf("node: builder.Depends: %w", err)
	}
	n.depNodes = append(n.depNodes, extra...)
	n.phase = phaseDependsDone
	return extra, nil
}

// DepNodes returns every Node this Node currently depends on (from
// sources and from Depends). The scheduler uses this to build the DAG.
func (n *Node) DepNodes() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*Node(nil), n.depNodes...)
}

// PopulateDepEntities gathers target entities from every dependency Node.
// Must be called only after all depNodes have built successfully.
func (n *Node) PopulateDepEntities() error {
	var deps []entity.Entity
	for _, d := range n.depNodes {
		es, err := d.TargetEntities()
		if err != nil {
			return err
		}
		deps = append(deps, es...)
	}
	entity.SortByID(deps)
	n.depEntities = deps
	return nil
}

// Replace asks the builder whether it wants to substitute this Node's
// sources (e.g. response-file expansion). If it does, the Node rewinds to
// be re-initiated against the new sources and replaced returns true.
func (n *Node) Replace() (replaced bool, err error) {
	newSources, err := n.builder.Replace(n.sourceEntities)
	if err != nil {
		return false, xerrors.Errorf("node: builder.Replace: %w", err)
	}
	if newSources == nil {
		return false, nil
	}
	n.rawSources = newSources
	n.phase = phaseNew
	if err := n.Initiate(); err != nil {
		return false, err
	}
	return true, nil
}

// BuildSplit decides whether this Node builds as one unit, as a batch (one
// NodeEntity per source), or splits into independent child Nodes, and
// constructs the NodeEntity bookkeeping needed for whichever shape won.
func (n *Node) BuildSplit() error {
	n.batch = n.builder.IsBatch()

	if n.batch {
		return n.buildSplitBatch()
	}

	groups, err := n.builder.Split(n.sourceEntities)
	if err != nil {
		return xerrors.Errorf("node: builder.Split: %w", err)
	}
	if len(groups) < 2 {
		ne, err := NewNodeEntityForward(n.builder, n.sourceEntities, n.depEntities)
		if err != nil {
			return err
		}
		n.nodeEntity = ne
		n.phase = phaseSplit
		return nil
	}

	n.splitNodes = make([]*Node, len(groups))
	for i, g := range groups {
		sources := make([]Source, len(g))
		for j, e := range g {
			sources[j] = e
		}
		child := NewNode(n.builder, sources)
		child.depEntities = n.depEntities
		if err := child.Initiate(); err != nil {
			return err
		}
		// Drive the child through its own split/batch/forward setup so it
		// ends up with a populated nodeEntity (or further splitNodes/
		// perSource of its own) before the parent delegates
		// CheckActual/Build/Save to it.
		if err := child.BuildSplit(); err != nil {
			return err
		}
		n.splitNodes[i] = child
	}
	n.phase = phaseSplit
	return nil
}

// buildSplitBatch constructs one forward NodeEntity per source — batch
// mode checks staleness per source, not for the Node as a whole.
func (n *Node) buildSplitBatch() error {
	n.perSource = make([]*NodeEntity, len(n.sourceEntities))
	for i, src := range n.sourceEntities {
		ne, err := NewNodeEntityForward(n.builder, []entity.Entity{src}, n.depEntities)
		if err != nil {
			return err
		}
		n.perSource[i] = ne
	}
	n.phase = phaseSplit
	return nil
}

// CheckActual determines whether this Node's targets are already
// up to date, populating target/itarget/idep entities from the persisted
// record when they are. In batch mode it also narrows staleSources to
// exactly the sources whose per-source NodeEntity is not actual.
func (n *Node) CheckActual(vfile *valuefile.File, builtSet map[entity.ID]bool, cache *idepCache, explain bool) (bool, []*StaleReason) {
	if len(n.splitNodes) > 0 {
		allActual := true
		var reasons []*StaleReason
		for _, child := range n.splitNodes {
			ok, r := child.CheckActual(vfile, builtSet, cache, explain)
			if !ok {
				allActual = false
			} else {
				n.targetEntities = append(n.targetEntities, child.targetEntities...)
				n.itargetEntities = append(n.itargetEntities, child.itargetEntities...)
				n.idepEntities = append(n.idepEntities, child.idepEntities...)
			}
			reasons = append(reasons, r...)
		}
		n.isActual = allActual
		n.lastStale = reasons
		n.phase = phaseChecked
		return allActual, reasons
	}

	if n.batch {
		var reasons []*StaleReason
		n.staleSources = n.staleSources[:0]
		allActual := true
		for i, ne := range n.perSource {
			ok, r := ne.CheckActual(vfile, builtSet, cache, explain)
			if !ok {
				allActual = false
				n.staleSources = append(n.staleSources, n.sourceEntities[i])
				if r != nil {
					reasons = append(reasons, r)
				}
				continue
			}
			n.targetEntities = append(n.targetEntities, ne.Targets()...)
			n.itargetEntities = append(n.itargetEntities, ne.Itargets()...)
			n.idepEntities = append(n.idepEntities, ne.Ideps()...)
		}
		n.isActual = allActual
		n.lastStale = reasons
		n.phase = phaseChecked
		return allActual, reasons
	}

	ok, r := n.nodeEntity.CheckActual(vfile, builtSet, cache, explain)
	n.isActual = ok
	if ok {
		n.targetEntities = n.nodeEntity.Targets()
		n.itargetEntities = n.nodeEntity.Itargets()
		n.idepEntities = n.nodeEntity.Ideps()
	}
	if r != nil {
		n.lastStale = []*StaleReason{r}
	}
	n.phase = phaseChecked
	return ok, n.lastStale
}

// Build invokes the builder against whichever source set is still stale.
func (n *Node) Build() error {
	if len(n.splitNodes) > 0 {
		for _, child := range n.splitNodes {
			if child.isActual {
				continue
			}
			if err := child.Build(); err != nil {
				return err
			}
			n.targetEntities = append(n.targetEntities, child.targetEntities...)
			n.itargetEntities = append(n.itargetEntities, child.itargetEntities...)
			n.idepEntities = append(n.idepEntities, child.idepEntities...)
		}
		n.phase = phaseBuilt
		return nil
	}

	if n.batch {
		if len(n.staleSources) == 0 {
			n.phase = phaseBuilt
			return nil
		}
		bt := &BatchTargets{bySourceID: make(map[entity.ID]*NodeEntity, len(n.staleSources))}
		staleIdx := make(map[entity.ID]bool, len(n.staleSources))
		for _, s := range n.staleSources {
			staleIdx[s.ID()] = true
		}
		for i, ne := range n.perSource {
			if staleIdx[n.sourceEntities[i].ID()] {
				bt.bySourceID[n.sourceEntities[i].ID()] = ne
			}
		}
		if err := n.builder.BuildBatch(n.staleSources, bt); err != nil {
			return newError(ErrBuildFailure, n, err)
		}
		for _, s := range n.staleSources {
			ne := bt.bySourceID[s.ID()]
			n.targetEntities = append(n.targetEntities, ne.Targets()...)
			n.itargetEntities = append(n.itargetEntities, ne.Itargets()...)
			n.idepEntities = append(n.idepEntities, ne.Ideps()...)
		}
		n.phase = phaseBuilt
		return nil
	}

	if len(n.targetEntities) == 0 {
		if err := n.builder.Build(n.sourceEntities, []*NodeEntity{n.nodeEntity}); err != nil {
			return newError(ErrBuildFailure, n, err)
		}
		n.targetEntities = n.nodeEntity.Targets()
		n.itargetEntities = n.nodeEntity.Itargets()
		n.idepEntities = n.nodeEntity.Ideps()
	}
	n.phase = phaseBuilt
	return nil
}

// Save persists every NodeEntity this Node produced (split children,
// per-source batch records, or its single monolithic record) that was
// actually (re)built this run.
func (n *Node) Save(vfile *valuefile.File) error {
	if len(n.splitNodes) > 0 {
		for _, child := range n.splitNodes {
			if child.isActual {
				continue
			}
			if err := child.Save(vfile); err != nil {
				return err
			}
		}
		n.phase = phaseSaved
		return nil
	}
	if n.batch {
		for _, s := range n.staleSources {
			for i, src := range n.sourceEntities {
				if src.ID() == s.ID() {
					if err := n.perSource[i].Save(vfile); err != nil {
						return err
					}
				}
			}
		}
		n.phase = phaseSaved
		return nil
	}
	if n.isActual {
		n.phase = phaseSaved
		return nil
	}
	if err := n.nodeEntity.Save(vfile); err != nil {
		return err
	}
	n.phase = phaseSaved
	return nil
}

// Clear asks the builder to remove this Node's previously produced
// targets. A builder error is logged via the Node's logger, not returned:
// a failed clear of stale output should never block the rest of a clear
// sweep.
func (n *Node) Clear() error {
	if err := n.builder.Clear(n); err != nil {
		n.log.Printf("node: clear: %v", err)
	}
	n.phase = phaseCleared
	return nil
}

// TargetEntities returns this Node's produced targets, valid once it has
// been checked actual or built.
func (n *Node) TargetEntities() ([]entity.Entity, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.phase < phaseChecked {
		return nil, newError(ErrNoTargets, n, nil)
	}
	return n.targetEntities, nil
}

// SourceEntities returns the resolved source entities, valid after Initiate.
func (n *Node) SourceEntities() []entity.Entity { return n.sourceEntities }

// Builder returns the (possibly Initiate-specialized) builder.
func (n *Node) Builder() Builder { return n.builder }

// IsActual reports the last CheckActual verdict for this Node.
func (n *Node) IsActual() bool { return n.isActual }

// attrEntities resolves one NodeFilter attribute selector against this
// Node's current state.
func (n *Node) attrEntities(attr Attribute) ([]entity.Entity, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	switch attr {
	case AttrSources:
		if n.sourceEntities == nil {
			return nil, newError(ErrNoSrcTargets, n, nil)
		}
		return n.sourceEntities, nil
	case AttrDeps:
		return n.depEntities, nil
	case AttrTargets:
		if n.phase < phaseChecked {
			return nil, newError(ErrNoTargets, n, nil)
		}
		return n.targetEntities, nil
	case AttrItargets:
		if n.phase < phaseChecked {
			return nil, newError(ErrNoTargets, n, nil)
		}
		return n.itargetEntities, nil
	case AttrIdeps:
		if n.phase < phaseChecked {
			return nil, newError(ErrNoTargets, n, nil)
		}
		return n.idepEntities, nil
	default:
		return nil, xerrors.Errorf("node: unknown attribute %d", attr)
	}
}

func (n *Node) tagsFor(id entity.ID) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.tags[id]
}
