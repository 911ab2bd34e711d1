package valuefile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/orcaman/writerseeker"
	"golang.org/x/xerrors"
)

// Key is an opaque value-file key assigned when an entry is stored. Callers
// never construct or interpret a Key; they only round-trip the ones
// returned by AddEntity/AddEntities.
type Key [16]byte

// BucketID groups entries by hash(entity.name): conceptually
// bucket[hash(entity.name)] -> list of (key, entity).
type BucketID [8]byte

// Entry is the generic persisted shape the value-file stores. It does not
// know about entity.Entity or node.NodeEntity directly — those packages
// convert to/from Entry — which keeps valuefile free of an import cycle
// back to node.
type Entry struct {
	Kind      uint8
	Name      string
	Signature [16]byte
	Payload   []byte
}

func bucketFor(name string) BucketID {
	sum := fnvHash(name)
	var b BucketID
	copy(b[:], sum[:])
	return b
}

// fnvHash is a cheap, stable 8-byte hash of a name used only to place
// entries into buckets; it is not a content signature.
func fnvHash(s string) [8]byte {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], h)
	return out
}

const compressThreshold = 256

// encodeRecord serializes one (key, entry) pair: key (16B), bucket_id
// (8B), entity_kind (u8), then len-prefixed name/signature/payload. The
// payload is additionally prefixed with a
// 1-byte compression flag; payloads above compressThreshold are streamed
// through flate directly, so the compressed size is not known until after
// it's written. Rather than buffer the compressed bytes twice (once to
// measure, once to write), the length prefix is reserved as a zero
// placeholder and backpatched via Seek once the true length is known, using
// an in-memory io.WriteSeeker instead of a temp file.
func encodeRecord(w io.Writer, key Key, entry Entry) error {
	var ws writerseeker.WriteSeeker
	bucket := bucketFor(entry.Name)

	if _, err := ws.Write(key[:]); err != nil {
		return err
	}
	if _, err := ws.Write(bucket[:]); err != nil {
		return err
	}
	if _, err := ws.Write([]byte{entry.Kind}); err != nil {
		return err
	}
	if err := writeLenPrefixed(&ws, []byte(entry.Name)); err != nil {
		return err
	}
	if err := writeLenPrefixed(&ws, entry.Signature[:]); err != nil {
		return err
	}

	compressed := byte(0)
	if len(entry.Payload) > compressThreshold {
		compressed = 1
	}

	lenPos, err := ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return xerrors.Errorf("valuefile: seek: %w", err)
	}
	if _, err := ws.Write([]byte{0, 0, 0, 0}); err != nil { // length placeholder
		return err
	}
	valueStart, err := ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return xerrors.Errorf("valuefile: seek: %w", err)
	}
	if _, err := ws.Write([]byte{compressed}); err != nil {
		return err
	}
	if compressed == 1 {
		fw, err := flate.NewWriter(&ws, flate.DefaultCompression)
		if err != nil {
			return xerrors.Errorf("valuefile: flate.NewWriter: %w", err)
		}
		if _, err := fw.Write(entry.Payload); err != nil {
			return xerrors.Errorf("valuefile: flate compress: %w", err)
		}
		if err := fw.Close(); err != nil {
			return xerrors.Errorf("valuefile: flate close: %w", err)
		}
	} else if _, err := ws.Write(entry.Payload); err != nil {
		return err
	}
	valueEnd, err := ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return xerrors.Errorf("valuefile: seek: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(valueEnd-valueStart))
	if _, err := ws.Seek(lenPos, io.SeekStart); err != nil {
		return xerrors.Errorf("valuefile: seek: %w", err)
	}
	if _, err := ws.Write(lenBuf[:]); err != nil {
		return err
	}

	if _, err := io.Copy(w, ws.Reader()); err != nil {
		return xerrors.Errorf("valuefile: flush record: %w", err)
	}
	return nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// decodeRecord reads one record previously written by encodeRecord. It
// returns io.EOF (unwrapped) when r is exhausted at a record boundary.
func decodeRecord(r *bufio.Reader) (Key, BucketID, Entry, error) {
	var key Key
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return Key{}, BucketID{}, Entry{}, err // may be io.EOF
	}
	var bucket BucketID
	if _, err := io.ReadFull(r, bucket[:]); err != nil {
		return Key{}, BucketID{}, Entry{}, xerrors.Errorf("valuefile: truncated bucket: %w", err)
	}
	kindByte := make([]byte, 1)
	if _, err := io.ReadFull(r, kindByte); err != nil {
		return Key{}, BucketID{}, Entry{}, xerrors.Errorf("valuefile: truncated kind: %w", err)
	}
	name, err := readLenPrefixed(r)
	if err != nil {
		return Key{}, BucketID{}, Entry{}, xerrors.Errorf("valuefile: truncated name: %w", err)
	}
	sig, err := readLenPrefixed(r)
	if err != nil {
		return Key{}, BucketID{}, Entry{}, xerrors.Errorf("valuefile: truncated signature: %w", err)
	}
	rawPayload, err := readLenPrefixed(r)
	if err != nil {
		return Key{}, BucketID{}, Entry{}, xerrors.Errorf("valuefile: truncated payload: %w", err)
	}
	if len(rawPayload) == 0 {
		return Key{}, BucketID{}, Entry{}, xerrors.New("valuefile: empty payload frame")
	}
	compressed, payload := rawPayload[0], rawPayload[1:]
	if compressed == 1 {
		fr := flate.NewReader(bytes.NewReader(payload))
		defer fr.Close()
		decoded, err := io.ReadAll(fr)
		if err != nil {
			return Key{}, BucketID{}, Entry{}, xerrors.Errorf("valuefile: flate decompress: %w", err)
		}
		payload = decoded
	}

	var entry Entry
	entry.Kind = kindByte[0]
	entry.Name = string(name)
	copy(entry.Signature[:], sig)
	entry.Payload = payload
	return key, bucket, entry, nil
}
