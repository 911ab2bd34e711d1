package node

import (
	"github.com/distr1/buildgraph/entity"
)

// fakeBuilder is a minimal non-batch Builder used across node package
// tests: it "builds" by producing a single SimpleEntity target for all
// sources, with the target's payload equal to the concatenation of the sources'
// signatures, so tests can assert freshness without touching a real
// filesystem.
type fakeBuilder struct {
	name      string
	signature []byte
	builds    int
	clears    int
}

func (b *fakeBuilder) Name() string      { return b.name }
func (b *fakeBuilder) Signature() []byte { return b.signature }

func (b *fakeBuilder) Initiate() (Builder, error) { return nil, nil }

func (b *fakeBuilder) GetTargetEntities(sources []entity.Entity) ([]entity.Entity, error) {
	return []entity.Entity{entity.NewSimpleEntity(b.name+":out", nil)}, nil
}

func (b *fakeBuilder) MakeEntity(raw interface{}) (entity.Entity, error) {
	s := raw.(string)
	return entity.NewSimpleEntity(s, []byte(s)), nil
}

func (b *fakeBuilder) MakeFileEntity(path string) (entity.Entity, error) {
	return entity.NewFileEntity(path, entity.SignaturePolicyChecksum), nil
}

func (b *fakeBuilder) MakeEntities(raw []interface{}) ([]entity.Entity, error) {
	out := make([]entity.Entity, len(raw))
	for i, r := range raw {
		e, err := b.MakeEntity(r)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (b *fakeBuilder) Depends(sources []entity.Entity) ([]*Node, error) { return nil, nil }

func (b *fakeBuilder) Replace(sources []entity.Entity) ([]Source, error) { return nil, nil }

func (b *fakeBuilder) Split(sources []entity.Entity) ([][]entity.Entity, error) { return nil, nil }

func (b *fakeBuilder) IsBatch() bool { return false }

func (b *fakeBuilder) Build(sources []entity.Entity, targets []*NodeEntity) error {
	b.builds++
	var payload []byte
	for _, s := range sources {
		sig := s.Signature()
		payload = append(payload, sig[:]...)
	}
	targets[0].AddTargets([]entity.Entity{entity.NewSimpleEntity(b.name+":out", payload)})
	return nil
}

func (b *fakeBuilder) BuildBatch(sources []entity.Entity, targets *BatchTargets) error {
	return nil
}

func (b *fakeBuilder) Clear(n *Node) error {
	b.clears++
	return nil
}

func (b *fakeBuilder) GetWeight(n *Node) int { return 1 }

func (b *fakeBuilder) GetTraceArgs(sources, targets []entity.Entity, brief bool) []string {
	return []string{b.name}
}

// batchBuilder is a minimal batch Builder: one target per source, named
// after the source.
type batchBuilder struct {
	name   string
	sig    []byte
	builds int
}

func (b *batchBuilder) Name() string                              { return b.name }
func (b *batchBuilder) Signature() []byte                         { return b.sig }
func (b *batchBuilder) Initiate() (Builder, error)                { return nil, nil }
func (b *batchBuilder) GetTargetEntities(sources []entity.Entity) ([]entity.Entity, error) {
	var out []entity.Entity
	for _, s := range sources {
		out = append(out, entity.NewSimpleEntity(s.Name()+":out", nil))
	}
	return out, nil
}
func (b *batchBuilder) MakeEntity(raw interface{}) (entity.Entity, error) {
	s := raw.(string)
	return entity.NewSimpleEntity(s, []byte(s)), nil
}
func (b *batchBuilder) MakeFileEntity(path string) (entity.Entity, error) {
	return entity.NewFileEntity(path, entity.SignaturePolicyChecksum), nil
}
func (b *batchBuilder) MakeEntities(raw []interface{}) ([]entity.Entity, error) { return nil, nil }
func (b *batchBuilder) Depends(sources []entity.Entity) ([]*Node, error)        { return nil, nil }
func (b *batchBuilder) Replace(sources []entity.Entity) ([]Source, error)      { return nil, nil }
func (b *batchBuilder) Split(sources []entity.Entity) ([][]entity.Entity, error) {
	return nil, nil
}
func (b *batchBuilder) IsBatch() bool { return true }
func (b *batchBuilder) Build(sources []entity.Entity, targets []*NodeEntity) error {
	return nil
}
func (b *batchBuilder) BuildBatch(sources []entity.Entity, targets *BatchTargets) error {
	b.builds++
	for _, s := range sources {
		ne, err := targets.Get(s)
		if err != nil {
			return err
		}
		ne.AddTargets([]entity.Entity{entity.NewSimpleEntity(s.Name()+":out", []byte(s.Name()))})
	}
	return nil
}
func (b *batchBuilder) Clear(n *Node) error { return nil }
func (b *batchBuilder) GetWeight(n *Node) int { return 1 }
func (b *batchBuilder) GetTraceArgs(sources, targets []entity.Entity, brief bool) []string {
	return []string{b.name}
}

// splitBuilder is a minimal non-batch Builder that partitions sources into
// one independent group per source whenever there are two or more, so
// each source gets its own split child Node checked and built on its own.
type splitBuilder struct {
	name   string
	sig    []byte
	builds int
}

func (b *splitBuilder) Name() string      { return b.name }
func (b *splitBuilder) Signature() []byte { return b.sig }

func (b *splitBuilder) Initiate() (Builder, error) { return nil, nil }

func (b *splitBuilder) GetTargetEntities(sources []entity.Entity) ([]entity.Entity, error) {
	var out []entity.Entity
	for _, s := range sources {
		out = append(out, entity.NewSimpleEntity(b.name+":"+s.Name()+":out", nil))
	}
	return out, nil
}

func (b *splitBuilder) MakeEntity(raw interface{}) (entity.Entity, error) {
	s := raw.(string)
	return entity.NewSimpleEntity(s, []byte(s)), nil
}

func (b *splitBuilder) MakeFileEntity(path string) (entity.Entity, error) {
	return entity.NewFileEntity(path, entity.SignaturePolicyChecksum), nil
}

func (b *splitBuilder) MakeEntities(raw []interface{}) ([]entity.Entity, error) { return nil, nil }

func (b *splitBuilder) Depends(sources []entity.Entity) ([]*Node, error) { return nil, nil }

func (b *splitBuilder) Replace(sources []entity.Entity) ([]Source, error) { return nil, nil }

func (b *splitBuilder) Split(sources []entity.Entity) ([][]entity.Entity, error) {
	if len(sources) < 2 {
		return nil, nil
	}
	groups := make([][]entity.Entity, len(sources))
	for i, s := range sources {
		groups[i] = []entity.Entity{s}
	}
	return groups, nil
}

func (b *splitBuilder) IsBatch() bool { return false }

func (b *splitBuilder) Build(sources []entity.Entity, targets []*NodeEntity) error {
	b.builds++
	var payload []byte
	for _, s := range sources {
		sig := s.Signature()
		payload = append(payload, sig[:]...)
	}
	targets[0].AddTargets([]entity.Entity{entity.NewSimpleEntity(b.name+":out", payload)})
	return nil
}

func (b *splitBuilder) BuildBatch(sources []entity.Entity, targets *BatchTargets) error {
	return nil
}

func (b *splitBuilder) Clear(n *Node) error { return nil }

func (b *splitBuilder) GetWeight(n *Node) int { return 1 }

func (b *splitBuilder) GetTraceArgs(sources, targets []entity.Entity, brief bool) []string {
	return []string{b.name}
}
