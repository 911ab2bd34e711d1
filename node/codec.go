package node

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/distr1/buildgraph/entity"
	"github.com/distr1/buildgraph/valuefile"
	"golang.org/x/xerrors"
)

// encodeEntity converts an entity.Entity into the generic record shape the
// value-file stores.
func encodeEntity(e entity.Entity) (valuefile.Entry, error) {
	switch v := e.(type) {
	case *entity.FileEntity:
		return valuefile.Entry{
			Kind:      uint8(entity.KindFile),
			Name:      v.Name(),
			Signature: [16]byte(v.Signature()),
			Payload:   []byte{byte(v.Policy())},
		}, nil
	case *entity.SimpleEntity:
		return valuefile.Entry{
			Kind:      uint8(entity.KindSimple),
			Name:      v.Name(),
			Signature: [16]byte(v.Signature()),
			Payload:   v.Payload(),
		}, nil
	default:
		return valuefile.Entry{}, xerrors.Errorf("node: encodeEntity: unsupported entity type %T", e)
	}
}

// decodeEntity reconstructs an entity.Entity from a stored record. The
// returned entity's Signature() reflects what was true at save time; for a
// FileEntity, IsActual/GetActual still recompute from the live file.
func decodeEntity(rec valuefile.Entry) (entity.Entity, error) {
	switch entity.Kind(rec.Kind) {
	case entity.KindFile:
		if len(rec.Payload) < 1 {
			return nil, xerrors.New("node: decodeEntity: truncated file payload")
		}
		policy := entity.SignaturePolicy(rec.Payload[0])
		return entity.NewFileEntityFrozen(rec.Name, policy, entity.Signature(rec.Signature)), nil
	case entity.KindSimple:
		return entity.NewSimpleEntity(rec.Name, rec.Payload), nil
	default:
		return nil, xerrors.Errorf("node: decodeEntity: unsupported kind %d", rec.Kind)
	}
}

func writeChunk(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readChunk(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeEntityRecord(buf *bytes.Buffer, rec valuefile.Entry) {
	writeChunk(buf, []byte{rec.Kind})
	writeChunk(buf, []byte(rec.Name))
	writeChunk(buf, rec.Signature[:])
	writeChunk(buf, rec.Payload)
}

func decodeEntityRecord(r *bytes.Reader) (valuefile.Entry, error) {
	kindB, err := readChunk(r)
	if err != nil || len(kindB) != 1 {
		return valuefile.Entry{}, xerrors.Errorf("node: decode entity record kind: %w", err)
	}
	name, err := readChunk(r)
	if err != nil {
		return valuefile.Entry{}, xerrors.Errorf("node: decode entity record name: %w", err)
	}
	sig, err := readChunk(r)
	if err != nil {
		return valuefile.Entry{}, xerrors.Errorf("node: decode entity record signature: %w", err)
	}
	payload, err := readChunk(r)
	if err != nil {
		return valuefile.Entry{}, xerrors.Errorf("node: decode entity record payload: %w", err)
	}
	var rec valuefile.Entry
	rec.Kind = kindB[0]
	rec.Name = string(name)
	copy(rec.Signature[:], sig)
	rec.Payload = payload
	return rec, nil
}

func encodeEntityList(es []entity.Entity) ([]byte, error) {
	var buf bytes.Buffer
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(es)))
	buf.Write(count[:])
	for _, e := range es {
		rec, err := encodeEntity(e)
		if err != nil {
			return nil, err
		}
		encodeEntityRecord(&buf, rec)
	}
	return buf.Bytes(), nil
}

func decodeEntityList(r *bytes.Reader) ([]entity.Entity, error) {
	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(count[:])
	out := make([]entity.Entity, 0, n)
	for i := uint32(0); i < n; i++ {
		rec, err := decodeEntityRecord(r)
		if err != nil {
			return nil, err
		}
		e, err := decodeEntity(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func encodeKeyList(keys []valuefile.Key) []byte {
	var buf bytes.Buffer
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(keys)))
	buf.Write(count[:])
	for _, k := range keys {
		buf.Write(k[:])
	}
	return buf.Bytes()
}

func decodeKeyList(r *bytes.Reader) ([]valuefile.Key, error) {
	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(count[:])
	out := make([]valuefile.Key, 0, n)
	for i := uint32(0); i < n; i++ {
		var k valuefile.Key
		if _, err := io.ReadFull(r, k[:]); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// encodeNodeEntityPayload serializes the three NodeEntity-specific fields
// the value-file needs to replay a node record without recomputing
// anything: targets, side-effect targets, and the keys of the implicit
// dependencies discovered during the build.
func encodeNodeEntityPayload(targets, itargets []entity.Entity, idepKeys []valuefile.Key) ([]byte, error) {
	var buf bytes.Buffer
	t, err := encodeEntityList(targets)
	if err != nil {
		return nil, err
	}
	it, err := encodeEntityList(itargets)
	if err != nil {
		return nil, err
	}
	writeChunk(&buf, t)
	writeChunk(&buf, it)
	writeChunk(&buf, encodeKeyList(idepKeys))
	return buf.Bytes(), nil
}

func decodeNodeEntityPayload(payload []byte) (targets, itargets []entity.Entity, idepKeys []valuefile.Key, err error) {
	r := bytes.NewReader(payload)
	tChunk, err := readChunk(r)
	if err != nil {
		return nil, nil, nil, err
	}
	itChunk, err := readChunk(r)
	if err != nil {
		return nil, nil, nil, err
	}
	kChunk, err := readChunk(r)
	if err != nil {
		return nil, nil, nil, err
	}
	targets, err = decodeEntityList(bytes.NewReader(tChunk))
	if err != nil {
		return nil, nil, nil, err
	}
	itargets, err = decodeEntityList(bytes.NewReader(itChunk))
	if err != nil {
		return nil, nil, nil, err
	}
	idepKeys, err = decodeKeyList(bytes.NewReader(kChunk))
	if err != nil {
		return nil, nil, nil, err
	}
	return targets, itargets, idepKeys, nil
}
