package node

import (
	"github.com/distr1/buildgraph/entity"
	"golang.org/x/xerrors"
)

// Source is whatever a Node can be constructed or replaced from: a
// concrete Entity, another Node (meaning "depend on, and build from, all
// of that node's targets"), or a NodeFilter (the same, narrowed to a
// subset/transform of that node's entities). Go has no sum types, so this
// is resolved with a type switch at the one place sources are consumed.
type Source interface{}

// resolveSource turns one Source value into the entities it contributes
// and, if it came from another Node, that Node as a build dependency. A
// *Node/*Filter source whose underlying Node hasn't built yet contributes
// no entities for this round — it is still registered as a dependency, so
// the caller can re-resolve sources once the scheduler has built it.
func resolveSource(s Source) ([]entity.Entity, *Node, error) {
	switch v := s.(type) {
	case entity.Entity:
		return []entity.Entity{v}, nil, nil
	case *Node:
		es, err := v.TargetEntities()
		if err != nil {
			return nil, v, nil
		}
		return es, v, nil
	case *Filter:
		es, err := v.Entities()
		if err != nil {
			return nil, v.Node(), nil
		}
		return es, v.Node(), nil
	default:
		return nil, nil, xerrors.Errorf("node: unsupported source type %T", s)
	}
}

func resolveSources(sources []Source) (entities []entity.Entity, depNodes []*Node, err error) {
	seen := make(map[*Node]bool)
	for _, s := range sources {
		es, dep, err := resolveSource(s)
		if err != nil {
			return nil, nil, err
		}
		entities = append(entities, es...)
		if dep != nil && !seen[dep] {
			seen[dep] = true
			depNodes = append(depNodes, dep)
		}
	}
	return entities, depNodes, nil
}
