package node

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/distr1/buildgraph/entity"
	"github.com/distr1/buildgraph/valuefile"
	"golang.org/x/xerrors"
)

// NodeEntity is the persisted record of one executed build unit. It is
// the third Entity variant: immutable once saved, content-addressed by
// Name, fingerprinted by Signature.
type NodeEntity struct {
	name      entity.ID
	signature entity.Signature

	// forward-construction inputs (nil after a replay construction)
	builder        Builder
	sourceEntities []entity.Entity
	depEntities    []entity.Entity

	// populated by CheckActual (replay path) or by the builder during
	// Build (forward path)
	targetEntities  []entity.Entity
	itargetEntities []entity.Entity
	idepEntities    []entity.Entity
	idepKeys        []valuefile.Key

	tags map[entity.ID][]string
}

// NewNodeEntityForward computes a NodeEntity's Name and Signature from a
// builder and its (already sorted) source/dependency entities — "forward"
// construction, used to decide what to build.
func NewNodeEntityForward(b Builder, sourceEntities, depEntities []entity.Entity) (*NodeEntity, error) {
	ne := &NodeEntity{
		builder:        b,
		sourceEntities: sourceEntities,
		depEntities:    depEntities,
		tags:           make(map[entity.ID][]string),
	}

	previewTargets, err := b.GetTargetEntities(sourceEntities)
	if err != nil {
		return nil, xerrors.Errorf("node: GetTargetEntities: %w", err)
	}
	nameEntities := previewTargets
	if len(nameEntities) == 0 {
		nameEntities = sourceEntities
	}
	ne.name = hashIDs(b.Name(), nameEntities)
	ne.signature = computeSignature(b, depEntities, sourceEntities)
	return ne, nil
}

// NewNodeEntityReplay reconstructs a previously saved NodeEntity record
// without recomputing anything — "replay" construction, used to restore
// state from the value-file.
func NewNodeEntityReplay(name entity.ID, signature entity.Signature, targets, itargets []entity.Entity, idepKeys []valuefile.Key) *NodeEntity {
	return &NodeEntity{
		name:            name,
		signature:       signature,
		targetEntities:  targets,
		itargetEntities: itargets,
		idepKeys:        idepKeys,
	}
}

func hashIDs(builderName string, es []entity.Entity) entity.ID {
	ids := make([][16]byte, len(es))
	for i, e := range es {
		ids[i] = e.ID()
	}
	sortIDs(ids)
	h := md5.New()
	h.Write([]byte(builderName))
	for _, id := range ids {
		h.Write(id[:])
	}
	var out entity.ID
	copy(out[:], h.Sum(nil))
	return out
}

func sortIDs(ids [][16]byte) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0; j-- {
			if lessID(ids[j], ids[j-1]) {
				ids[j], ids[j-1] = ids[j-1], ids[j]
			} else {
				break
			}
		}
	}
}

func lessID(a, b [16]byte) bool {
	for k := range a {
		if a[k] != b[k] {
			return a[k] < b[k]
		}
	}
	return false
}

// computeSignature hashes the builder's signature with the sorted
// dep-entity (id, signature) pairs and the source entities' signatures, in
// that order. An empty contributing signature anywhere
// makes the whole NodeEntity signature empty — "never considered actual".
func computeSignature(b Builder, depEntities, sourceEntities []entity.Entity) entity.Signature {
	sig := b.Signature()
	if len(sig) == 0 {
		return entity.Signature{}
	}

	deps := append([]entity.Entity(nil), depEntities...)
	entity.SortByID(deps)

	h := md5.New()
	h.Write(sig)
	for _, d := range deps {
		s := d.Signature()
		if s.Empty() {
			return entity.Signature{}
		}
		id := d.ID()
		h.Write(id[:])
		h.Write(s[:])
	}
	for _, s := range sourceEntities {
		sig := s.Signature()
		if sig.Empty() {
			return entity.Signature{}
		}
		h.Write(sig[:])
	}
	var out entity.Signature
	copy(out[:], h.Sum(nil))
	return out
}

// Name is this NodeEntity's content-addressed identity.
func (ne *NodeEntity) Name() entity.ID { return ne.name }

// Signature is empty iff any contributing entity's signature was empty.
func (ne *NodeEntity) Signature() entity.Signature { return ne.signature }

func persistedName(id entity.ID) string { return hex.EncodeToString(id[:]) }

// AddTargets appends produced target entities, optionally tagged.
func (ne *NodeEntity) AddTargets(es []entity.Entity, tags ...string) {
	ne.targetEntities = append(ne.targetEntities, es...)
	ne.tagAll(es, tags)
}

// AddSideEffects appends side-effect (itarget) entities.
func (ne *NodeEntity) AddSideEffects(es []entity.Entity, tags ...string) {
	ne.itargetEntities = append(ne.itargetEntities, es...)
	ne.tagAll(es, tags)
}

// AddImplicitDeps appends implicit dependencies discovered during the
// build (e.g. included headers).
func (ne *NodeEntity) AddImplicitDeps(es []entity.Entity, tags ...string) {
	ne.idepEntities = append(ne.idepEntities, es...)
	ne.tagAll(es, tags)
}

func (ne *NodeEntity) tagAll(es []entity.Entity, tags []string) {
	if len(tags) == 0 {
		return
	}
	if ne.tags == nil {
		ne.tags = make(map[entity.ID][]string)
	}
	for _, e := range es {
		ne.tags[e.ID()] = append(ne.tags[e.ID()], tags...)
	}
}

// Targets, Itargets, and Ideps expose the populated lists
// after CheckActual (replay) or after a real build (forward).
func (ne *NodeEntity) Targets() []entity.Entity  { return ne.targetEntities }
func (ne *NodeEntity) Itargets() []entity.Entity { return ne.itargetEntities }
func (ne *NodeEntity) Ideps() []entity.Entity    { return ne.idepEntities }

// checkIdeps is the last step of the actuality decision procedure: every
// persisted implicit-dependency key must still resolve to an entity, and
// that entity's GetActual() must equal itself (i.e. it hasn't changed).
// Stale entries are refreshed in place via vfile.ReplaceEntity. Lookups are
// memoized per build via idepCache rather than a process-global, so a
// single run can share one cache across concurrent Nodes without lifetime
// surprises.
func checkIdeps(vfile *valuefile.File, idepKeys []valuefile.Key, idepCache *idepCache) (ideps []entity.Entity, sr *StaleReason, ok bool) {
	for _, key := range idepKeys {
		rec, found := vfile.GetEntityByKey(key)
		if !found {
			return nil, reason(ReasonImplicitDepChanged), false
		}
		e, err := decodeEntity(rec)
		if err != nil {
			return nil, reason(ReasonImplicitDepChanged), false
		}

		cached, hit := idepCache.get(e.ID())
		if !hit {
			actual := e.GetActual()
			if actual == e || actual.Signature() == e.Signature() {
				idepCache.put(e.ID(), e)
				ideps = append(ideps, e)
				continue
			}
			freshRec, err := encodeEntity(actual)
			if err != nil {
				return nil, reason(ReasonImplicitDepChanged), false
			}
			_ = vfile.ReplaceEntity(key, freshRec)
			idepCache.put(e.ID(), actual)
			return nil, reasonWith(ReasonImplicitDepChanged, e), false
		}
		ideps = append(ideps, cached)
	}
	return ideps, nil, true
}

func checkTargets(targets []entity.Entity) (sr *StaleReason, ok bool) {
	if targets == nil {
		return reason(ReasonNoTargets), false
	}
	for _, e := range targets {
		if !e.IsActual() {
			return reasonWith(ReasonTargetChanged, e), false
		}
	}
	return nil, true
}

// CheckActual is the actuality decision procedure: vfile supplies
// persisted state; builtSet, if non-nil, restricts which node names are
// even eligible to be considered actual (names absent from a non-nil
// builtSet are force-rebuilt). The second return value is nil when ok.
// When !ok, a FORCE_REBUILD, NEW, NO_SIGNATURE or SIGNATURE_CHANGED
// reason is returned only if explain is set; implicit-dependency and
// target reasons are returned regardless of explain.
func (ne *NodeEntity) CheckActual(vfile *valuefile.File, builtSet map[entity.ID]bool, idepCache *idepCache, explain bool) (ok bool, sr *StaleReason) {
	name := persistedName(ne.name)

	if builtSet != nil && !builtSet[ne.name] {
		return false, reasonIf(explain, ReasonForceRebuild)
	}

	persisted, _, found := vfile.FindEntity(name)
	if !found {
		return false, reasonIf(explain, ReasonNew)
	}
	if ne.signature.Empty() {
		return false, reasonIf(explain, ReasonNoSignature)
	}
	if ne.signature != entity.Signature(persisted.Signature) {
		return false, reasonIf(explain, ReasonSignatureChanged)
	}

	targets, itargets, idepKeys, err := decodeNodeEntityPayload(persisted.Payload)
	if err != nil {
		return false, reasonIf(explain, ReasonNew)
	}

	ideps, r, ok := checkIdeps(vfile, idepKeys, idepCache)
	if !ok {
		return false, r
	}

	if r, ok := checkTargets(targets); !ok {
		return false, r
	}

	ne.targetEntities = targets
	ne.itargetEntities = itargets
	ne.idepEntities = ideps
	ne.idepKeys = idepKeys
	return true, nil
}

// AsEntity adapts this NodeEntity to the entity.Entity interface, so a
// Node's record can itself be treated as a dependency value wherever the
// core wants one (the entity.Entity interface doc references this adapter).
func (ne *NodeEntity) AsEntity() entity.Entity { return nodeEntityAdapter{ne: ne} }

type nodeEntityAdapter struct{ ne *NodeEntity }

func (a nodeEntityAdapter) Kind() entity.Kind        { return entity.KindNode }
func (a nodeEntityAdapter) ID() entity.ID            { return a.ne.name }
func (a nodeEntityAdapter) Name() string             { return persistedName(a.ne.name) }
func (a nodeEntityAdapter) Signature() entity.Signature { return a.ne.signature }

func (a nodeEntityAdapter) IsActual() bool {
	if a.ne.signature.Empty() {
		return false
	}
	_, ok := checkTargets(a.ne.targetEntities)
	return ok
}

func (a nodeEntityAdapter) GetActual() entity.Entity { return a }

func reasonIf(explain bool, code StaleReasonCode) *StaleReason {
	if !explain {
		return nil
	}
	return reason(code)
}

// Save persists this NodeEntity: every target must carry a non-empty
// signature (else ErrUnactualEntity), implicit-dependency entities are
// (re-)stored to obtain fresh keys, and the record is written under its
// content-addressed name.
func (ne *NodeEntity) Save(vfile *valuefile.File) error {
	for _, t := range ne.targetEntities {
		if t.Signature().Empty() {
			return newError(ErrUnactualEntity, nil, nil)
		}
	}

	idepKeys := make([]valuefile.Key, len(ne.idepEntities))
	idepRecords := make([]valuefile.Entry, len(ne.idepEntities))
	for i, e := range ne.idepEntities {
		rec, err := encodeEntity(e)
		if err != nil {
			return xerrors.Errorf("node: encode idep: %w", err)
		}
		idepRecords[i] = rec
	}
	keys, err := vfile.AddEntities(idepRecords)
	if err != nil {
		return xerrors.Errorf("node: persist ideps: %w", err)
	}
	copy(idepKeys, keys)
	ne.idepKeys = idepKeys

	payload, err := encodeNodeEntityPayload(ne.targetEntities, ne.itargetEntities, ne.idepKeys)
	if err != nil {
		return xerrors.Errorf("node: encode payload: %w", err)
	}
	_, err = vfile.AddEntity(valuefile.Entry{
		Kind:      uint8(entity.KindNode),
		Name:      persistedName(ne.name),
		Signature: [16]byte(ne.signature),
		Payload:   payload,
	})
	if err != nil {
		return xerrors.Errorf("node: persist record: %w", err)
	}
	return nil
}
