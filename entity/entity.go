// Package entity implements the immutable, content-addressed values that
// flow through a build: files on disk and small in-memory blobs. An Entity
// carries a stable name (identity) and a signature (content fingerprint);
// two Entities with equal ID and equal Signature are interchangeable for
// build purposes.
package entity

import (
	"crypto/md5"
	"os"
	"sort"

	"golang.org/x/xerrors"
)

// ID is a stable identity derived from an Entity's name. It is used as the
// map key within a value-file bucket.
type ID [md5.Size]byte

// Signature is a content fingerprint. An empty Signature means "not
// actual" — the entity could not be signed from its current source.
type Signature [md5.Size]byte

// Empty reports whether the Signature carries no fingerprint.
func (s Signature) Empty() bool { return s == Signature{} }

func idFor(name string) ID {
	return ID(md5.Sum([]byte(name)))
}

// Kind tags which Entity variant a persisted record holds.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindSimple
	// KindNode tags a persisted NodeEntity record (package node). It is
	// declared here, alongside the other variants, so entity.Kind stays
	// the single source of truth for the payload tag byte even though
	// the NodeEntity type itself lives in package node (which depends on
	// both entity and valuefile).
	KindNode
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindSimple:
		return "simple"
	case KindNode:
		return "node"
	default:
		return "unknown"
	}
}

// Entity is the common interface implemented by every content-addressed
// value variant (FileEntity, SimpleEntity). NodeEntity, the third variant,
// lives in package node because it additionally depends on the
// node/builder data model; it satisfies this interface via
// node.NodeEntity.AsEntity.
type Entity interface {
	// Kind reports which concrete variant this is.
	Kind() Kind
	// ID is this entity's stable identity, derived from Name.
	ID() ID
	// Name is the printable identifier (e.g. an absolute path).
	Name() string
	// Signature is the current content fingerprint, or the empty
	// Signature if the entity cannot currently be signed.
	Signature() Signature
	// IsActual recomputes the signature from the live source and reports
	// whether it is equal to, and non-empty as, the stored one.
	IsActual() bool
	// GetActual returns the receiver if IsActual, otherwise a fresh
	// Entity recomputed from the same source.
	GetActual() Entity
}

// SortByID sorts es in place by ID, the order-insensitive convention used
// whenever a list of entities contributes to a signature: sort first for
// source/dep lists, so two equivalent sets hash identically regardless of
// discovery order.
func SortByID(es []Entity) {
	sort.Slice(es, func(i, j int) bool {
		a, b := es[i].ID(), es[j].ID()
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}

// ErrNotRegular is returned by FileEntity signature computation when the
// backing path exists but is not a regular file.
var ErrNotRegular = xerrors.New("entity: not a regular file")

// statErr classifies os.Stat failures: a missing file yields an empty
// signature (not actual), anything else is a hard error surfaced to the
// caller.
func statErr(err error) (empty bool, hard error) {
	if err == nil {
		return false, nil
	}
	if os.IsNotExist(err) {
		return true, nil
	}
	return false, err
}
