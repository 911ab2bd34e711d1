// Package valuefile implements the persistent, content-addressed store
// that backs a build: an append-only on-disk map from opaque key to
// Entry, with an in-memory two-level index (bucket by hashed name, plus a
// flat key index) kept in sync on every mutation.
package valuefile

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"io"
	"log"
	"os"

	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"
)

const (
	magic          = "VFX1"
	formatVersion  = uint32(1)
	flagCompressed = 1
)

type bucketSlot struct {
	key   Key
	entry Entry
}

// File is the live, process-exclusive handle to one value-file. Only one
// writer may hold a File for a given path at a time; readers of a concurrently-open copy may observe the
// pre- or post-write state but never a torn one, because every mutation
// that reaches disk does so via an atomic tmp+rename replace.
type File struct {
	path string
	log  *log.Logger

	buckets map[BucketID][]bucketSlot
	keys    map[Key]Entry

	body       bytes.Buffer // encoded records making up the current on-disk body
	dirty      map[Key]struct{}
	compressed bool // true once Compact has rewritten the body as pgzip
}

// New returns an empty, in-memory-only File (no backing path). Flush and
// Compact on it persist nothing; Open returns a File backed by a path.
func New(logger *log.Logger) *File {
	if logger == nil {
		logger = log.New(os.Stderr, "valuefile: ", log.LstdFlags)
	}
	return &File{
		log:     logger,
		buckets: make(map[BucketID][]bucketSlot),
		keys:    make(map[Key]Entry),
		dirty:   make(map[Key]struct{}),
	}
}

// Open loads path if it exists (discarding it and starting empty if its
// header version does not match formatVersion), or prepares to create it
// on first Flush otherwise.
func Open(path string, logger *log.Logger) (*File, error) {
	f := New(logger)
	f.path = path

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, xerrors.Errorf("valuefile: open %s: %w", path, err)
	}
	if err := f.load(raw); err != nil {
		f.log.Printf("valuefile: %s: %v; discarding and rebuilding", path, err)
		f.buckets = make(map[BucketID][]bucketSlot)
		f.keys = make(map[Key]Entry)
		f.body.Reset()
		f.dirty = make(map[Key]struct{})
		f.compressed = false
	}
	return f, nil
}

func (f *File) load(raw []byte) error {
	if len(raw) < len(magic)+4+1 {
		return xerrors.New("truncated header")
	}
	if string(raw[:len(magic)]) != magic {
		return xerrors.New("bad magic")
	}
	off := len(magic)
	version := binary.BigEndian.Uint32(raw[off : off+4])
	off += 4
	flags := raw[off]
	off++
	if version != formatVersion {
		return xerrors.Errorf("version mismatch: got %d, want %d", version, formatVersion)
	}
	compressed := flags&flagCompressed != 0

	bodyBytes := raw[off:]
	var r io.Reader = bytes.NewReader(bodyBytes)
	if compressed {
		gr, err := pgzip.NewReader(bytes.NewReader(bodyBytes))
		if err != nil {
			return xerrors.Errorf("pgzip reader: %w", err)
		}
		defer gr.Close()
		decoded, err := io.ReadAll(gr)
		if err != nil {
			return xerrors.Errorf("pgzip decompress: %w", err)
		}
		r = bytes.NewReader(decoded)
		bodyBytes = decoded
	}

	br := bufio.NewReader(r)
	for {
		key, _, entry, err := decodeRecord(br)
		if err != nil {
			if err == io.EOF {
				break
			}
			return xerrors.Errorf("decode record: %w", err)
		}
		f.applyLoaded(key, entry)
	}

	f.compressed = compressed
	if !compressed {
		f.body.Write(bodyBytes)
	} else {
		// The on-disk body is compressed; the in-memory accumulator
		// restarts empty and the next Flush rewrites the whole live
		// index through Compact.
		f.body.Reset()
	}
	f.dirty = make(map[Key]struct{})
	return nil
}

// applyLoaded replays one decoded record into the index using the same
// replace-or-insert rule AddEntity enforces, without minting a new key
// (the key is already fixed on disk).
func (f *File) applyLoaded(key Key, entry Entry) {
	f.dropByName(entry.Name)
	f.dropByKey(key)
	f.insert(key, entry)
}

func (f *File) dropByName(name string) {
	b := bucketFor(name)
	slots := f.buckets[b]
	for i, s := range slots {
		if s.entry.Name == name {
			delete(f.keys, s.key)
			f.buckets[b] = append(slots[:i], slots[i+1:]...)
			return
		}
	}
}

func (f *File) dropByKey(key Key) {
	old, ok := f.keys[key]
	if !ok {
		return
	}
	b := bucketFor(old.Name)
	slots := f.buckets[b]
	for i, s := range slots {
		if s.key == key {
			f.buckets[b] = append(slots[:i], slots[i+1:]...)
			break
		}
	}
	delete(f.keys, key)
}

func (f *File) insert(key Key, entry Entry) {
	b := bucketFor(entry.Name)
	f.buckets[b] = append(f.buckets[b], bucketSlot{key: key, entry: entry})
	f.keys[key] = entry
}

func randomKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, xerrors.Errorf("valuefile: generate key: %w", err)
	}
	return k, nil
}

// FindEntity returns the persisted entry with the given name, if any.
func (f *File) FindEntity(name string) (Entry, Key, bool) {
	b := bucketFor(name)
	for _, s := range f.buckets[b] {
		if s.entry.Name == name {
			return s.entry, s.key, true
		}
	}
	return Entry{}, Key{}, false
}

// FindEntityKey returns the key under which name is currently stored.
func (f *File) FindEntityKey(name string) (Key, bool) {
	_, k, ok := f.FindEntity(name)
	return k, ok
}

// GetEntityByKey returns the entry stored under key.
func (f *File) GetEntityByKey(key Key) (Entry, bool) {
	e, ok := f.keys[key]
	return e, ok
}

// All returns every (key, entry) pair currently stored, in no particular
// order. Used by offline inspection/export tooling; the hot build path
// never needs a full scan.
func (f *File) All() map[Key]Entry {
	out := make(map[Key]Entry, len(f.keys))
	for k, e := range f.keys {
		out[k] = e
	}
	return out
}

// AddEntity inserts or replaces entry: a pair with an equal name is
// overwritten (its old key dropped); a newly assigned key that happens to
// collide with an existing, differently-named entry evicts that entry. It
// returns the (newly assigned) key.
func (f *File) AddEntity(entry Entry) (Key, error) {
	key, err := randomKey()
	if err != nil {
		return Key{}, err
	}
	f.dropByName(entry.Name)
	f.dropByKey(key)
	f.insert(key, entry)
	f.dirty[key] = struct{}{}
	return key, nil
}

// AddEntities inserts entries in order and returns their assigned keys in
// the same order.
func (f *File) AddEntities(entries []Entry) ([]Key, error) {
	keys := make([]Key, 0, len(entries))
	for _, e := range entries {
		k, err := f.AddEntity(e)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// ReplaceEntity overwrites the entry stored under an existing key, e.g.
// when an implicit-dependency entity is refreshed in place.
func (f *File) ReplaceEntity(key Key, entry Entry) error {
	old, ok := f.keys[key]
	if !ok {
		return xerrors.Errorf("valuefile: ReplaceEntity: unknown key")
	}
	if old.Name != entry.Name {
		f.dropByKey(key)
		f.dropByName(entry.Name)
		f.insert(key, entry)
	} else {
		f.keys[key] = entry
		b := bucketFor(entry.Name)
		slots := f.buckets[b]
		for i, s := range slots {
			if s.key == key {
				slots[i].entry = entry
				break
			}
		}
	}
	f.dirty[key] = struct{}{}
	return nil
}

func writeHeader(w io.Writer, compressed bool) error {
	if _, err := w.Write([]byte(magic)); err != nil {
		return err
	}
	var vbuf [4]byte
	binary.BigEndian.PutUint32(vbuf[:], formatVersion)
	if _, err := w.Write(vbuf[:]); err != nil {
		return err
	}
	var flags byte
	if compressed {
		flags |= flagCompressed
	}
	_, err := w.Write([]byte{flags})
	return err
}

// Flush appends newly dirty records to the in-memory body and atomically
// replaces the on-disk file with header+body. It is a no-op when nothing
// is dirty; in that case no file is created. Once the body is compressed
// (after Compact, or after loading a compressed file), Flush rewrites the
// whole live index through Compact instead of appending.
func (f *File) Flush() error {
	if len(f.dirty) == 0 {
		return nil
	}
	if f.path == "" {
		f.dirty = make(map[Key]struct{})
		return nil // in-memory-only File: nothing to persist
	}
	if f.compressed {
		return f.Compact()
	}

	// Dirty keys are appended to the body in a stable order so repeated
	// Flushes of the same pending set are byte-identical.
	dirtyKeys := make([]Key, 0, len(f.dirty))
	for k := range f.dirty {
		dirtyKeys = append(dirtyKeys, k)
	}
	slices.SortFunc(dirtyKeys, func(a, b Key) bool { return bytes.Compare(a[:], b[:]) < 0 })

	for _, k := range dirtyKeys {
		entry, ok := f.keys[k]
		if !ok {
			continue // deleted again before ever being flushed
		}
		if err := encodeRecord(&f.body, k, entry); err != nil {
			return xerrors.Errorf("valuefile: encode: %w", err)
		}
	}

	if err := f.atomicWrite(f.body.Bytes(), f.compressed); err != nil {
		return err
	}
	f.dirty = make(map[Key]struct{})
	return nil
}

func (f *File) atomicWrite(body []byte, compressed bool) error {
	t, err := renameio.TempFile("", f.path)
	if err != nil {
		return xerrors.Errorf("valuefile: TempFile: %w", err)
	}
	defer t.Cleanup()

	bw := bufio.NewWriter(t)
	if err := writeHeader(bw, compressed); err != nil {
		return err
	}
	if _, err := bw.Write(body); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// Compact rewrites the value-file from scratch using only the live
// (key, entry) pairs — dropping the stale records an append-only log
// accumulates — and pgzip-compresses the resulting body in parallel,
// since a compacted snapshot is typically the largest single write a
// long-lived value-file ever performs.
func (f *File) Compact() error {
	if f.path == "" {
		f.body.Reset()
		f.dirty = make(map[Key]struct{})
		return nil
	}

	allKeys := make([]Key, 0, len(f.keys))
	for k := range f.keys {
		allKeys = append(allKeys, k)
	}
	slices.SortFunc(allKeys, func(a, b Key) bool { return bytes.Compare(a[:], b[:]) < 0 })

	var plain bytes.Buffer
	for _, k := range allKeys {
		if err := encodeRecord(&plain, k, f.keys[k]); err != nil {
			return xerrors.Errorf("valuefile: compact encode: %w", err)
		}
	}

	var gz bytes.Buffer
	zw := pgzip.NewWriter(&gz)
	if _, err := zw.Write(plain.Bytes()); err != nil {
		return xerrors.Errorf("valuefile: pgzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return xerrors.Errorf("valuefile: pgzip close: %w", err)
	}

	if err := f.atomicWrite(gz.Bytes(), true); err != nil {
		return err
	}
	f.compressed = true
	f.body.Reset()
	f.dirty = make(map[Key]struct{})
	return nil
}

// SelfTest asserts the two-level index invariant: every bucket's slots
// hash to that bucket, every key in a bucket also appears in the flat key
// index pointing at the identical entry, and the two indexes have the same
// total size.
func (f *File) SelfTest() error {
	total := 0
	for b, slots := range f.buckets {
		for _, s := range slots {
			if bucketFor(s.entry.Name) != b {
				return xerrors.Errorf("valuefile: selftest: entry %q stored in wrong bucket", s.entry.Name)
			}
			e, ok := f.keys[s.key]
			if !ok {
				return xerrors.Errorf("valuefile: selftest: key for %q missing from key index", s.entry.Name)
			}
			if !entriesEqual(e, s.entry) {
				return xerrors.Errorf("valuefile: selftest: key index and bucket disagree for %q", s.entry.Name)
			}
			total++
		}
	}
	if total != len(f.keys) {
		return xerrors.Errorf("valuefile: selftest: size(keys)=%d != sum(len(bucket))=%d", len(f.keys), total)
	}
	return nil
}

func entriesEqual(a, b Entry) bool {
	return a.Kind == b.Kind && a.Name == b.Name && a.Signature == b.Signature && bytes.Equal(a.Payload, b.Payload)
}
