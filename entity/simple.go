package entity

import "crypto/md5"

// SimpleEntity is an arbitrary tagged blob: a pickled/serialized value that
// did not come from a file, e.g. a string constant or small structured
// value a builder wants to track as a source. Its signature is simply the
// hash of its serialized payload, so it is always actual as long as the
// in-memory payload itself never mutates (SimpleEntity is immutable once
// constructed).
type SimpleEntity struct {
	name    string
	payload []byte
	id      ID
	sig     Signature
}

// NewSimpleEntity constructs a SimpleEntity from an already-serialized
// payload. name is the printable identifier (need not be unique globally,
// but must be unique within whatever bucket the caller stores it in).
func NewSimpleEntity(name string, payload []byte) *SimpleEntity {
	cp := append([]byte(nil), payload...)
	return &SimpleEntity{
		name:    name,
		payload: cp,
		id:      idFor(name),
		sig:     Signature(md5.Sum(cp)),
	}
}

func (s *SimpleEntity) Kind() Kind        { return KindSimple }
func (s *SimpleEntity) ID() ID            { return s.id }
func (s *SimpleEntity) Name() string      { return s.name }
func (s *SimpleEntity) Signature() Signature { return s.sig }
func (s *SimpleEntity) Payload() []byte   { return append([]byte(nil), s.payload...) }

// IsActual is always true for a SimpleEntity: its signature is a pure
// function of its immutable payload, not of any external live source.
func (s *SimpleEntity) IsActual() bool { return !s.sig.Empty() }

// GetActual returns s unchanged: there is no live source to refresh from.
func (s *SimpleEntity) GetActual() Entity { return s }
