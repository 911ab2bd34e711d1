package node

import (
	"path/filepath"

	"github.com/distr1/buildgraph/entity"
)

// Attribute selects which list of entities a base Filter reads off a Node.
type Attribute uint8

const (
	AttrTargets Attribute = iota
	AttrSources
	AttrItargets
	AttrIdeps
	AttrDeps
)

// Filter is a lazy, read-only view over a Node's entities: an
// attribute selector, optionally narrowed by tags, a positional index, or
// rewritten to each entity's dirname/basename. Filters chain — a filter
// built from another filter — without ever mutating or taking ownership
// of the underlying entities.
type Filter struct {
	node    *Node
	resolve func() ([]entity.Entity, error)
}

// NewFilter returns the base filter for one of a Node's attributes.
func NewFilter(n *Node, attr Attribute) *Filter {
	f := &Filter{node: n}
	f.resolve = func() ([]entity.Entity, error) { return n.attrEntities(attr) }
	return f
}

func (f *Filter) chain(transform func([]entity.Entity) ([]entity.Entity, error)) *Filter {
	prev := f.resolve
	return &Filter{
		node: f.node,
		resolve: func() ([]entity.Entity, error) {
			es, err := prev()
			if err != nil {
				return nil, err
			}
			return transform(es)
		},
	}
}

// Tags narrows to entities carrying every tag listed.
func (f *Filter) Tags(tags ...string) *Filter {
	node := f.node
	return f.chain(func(es []entity.Entity) ([]entity.Entity, error) {
		var out []entity.Entity
		for _, e := range es {
			if hasAllTags(node.tagsFor(e.ID()), tags) {
				out = append(out, e)
			}
		}
		return out, nil
	})
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

// Index narrows to the entity at position i, or to nothing if i is out of
// range.
func (f *Filter) Index(i int) *Filter {
	return f.chain(func(es []entity.Entity) ([]entity.Entity, error) {
		if i < 0 || i >= len(es) {
			return nil, nil
		}
		return []entity.Entity{es[i]}, nil
	})
}

// Dirname rewrites each FileEntity to a SimpleEntity holding its
// directory component; non-file entities are dropped.
func (f *Filter) Dirname() *Filter {
	return f.chain(func(es []entity.Entity) ([]entity.Entity, error) {
		return mapPathEntities(es, filepath.Dir), nil
	})
}

// Basename rewrites each FileEntity to a SimpleEntity holding its final
// path component; non-file entities are dropped.
func (f *Filter) Basename() *Filter {
	return f.chain(func(es []entity.Entity) ([]entity.Entity, error) {
		return mapPathEntities(es, filepath.Base), nil
	})
}

func mapPathEntities(es []entity.Entity, fn func(string) string) []entity.Entity {
	var out []entity.Entity
	for _, e := range es {
		fe, ok := e.(*entity.FileEntity)
		if !ok {
			continue
		}
		v := fn(fe.Path())
		out = append(out, entity.NewSimpleEntity(v, []byte(v)))
	}
	return out
}

// Node returns the underlying Node this filter (transitively) views.
func (f *Filter) Node() *Node { return f.node }

// Entities resolves the filter's current view.
func (f *Filter) Entities() ([]entity.Entity, error) { return f.resolve() }
