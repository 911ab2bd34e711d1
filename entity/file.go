package entity

import (
	"crypto/md5"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"golang.org/x/xerrors"
)

// SignaturePolicy selects how a FileEntity computes its signature from the
// file's current content. The policy is fixed for the lifetime of a given
// FileEntity.
type SignaturePolicy uint8

const (
	// SignaturePolicyTimestamp fingerprints (mtime, size) — cheap and
	// coarse, the common case for source trees that are not expected to
	// be tampered with out from under their mtimes.
	SignaturePolicyTimestamp SignaturePolicy = iota + 1
	// SignaturePolicyChecksum fingerprints the full file content — exact,
	// at the cost of reading every byte.
	SignaturePolicyChecksum
)

// FileEntity is a file on disk, identified by its path and fingerprinted
// according to its SignaturePolicy.
type FileEntity struct {
	path   string
	policy SignaturePolicy
	id     ID

	mu        sync.Mutex
	sig       Signature
	sigValid  bool // sig has been computed at least once (may still be empty)
}

// NewFileEntity constructs a FileEntity for path under the given policy.
// The signature is computed lazily, on first read.
func NewFileEntity(path string, policy SignaturePolicy) *FileEntity {
	return &FileEntity{path: path, policy: policy, id: idFor(path)}
}

// NewFileEntityFrozen constructs a FileEntity whose Signature() returns sig
// immediately, without touching the filesystem, while IsActual/GetActual
// still recompute from the live file for comparison. Used when replaying a
// persisted record: sig is what was true when the record was written, and
// the live file may since have changed.
func NewFileEntityFrozen(path string, policy SignaturePolicy, sig Signature) *FileEntity {
	f := &FileEntity{path: path, policy: policy, id: idFor(path)}
	f.sig, f.sigValid = sig, true
	return f
}

func (f *FileEntity) Kind() Kind   { return KindFile }
func (f *FileEntity) ID() ID       { return f.id }
func (f *FileEntity) Name() string { return f.path }

// Path is an alias for Name with a more descriptive spelling for callers
// that know they hold a FileEntity.
func (f *FileEntity) Path() string { return f.path }

// Policy reports the signature policy fixed at construction.
func (f *FileEntity) Policy() SignaturePolicy { return f.policy }

func (f *FileEntity) Signature() Signature {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sigValid {
		f.sig, _ = f.computeLocked()
		f.sigValid = true
	}
	return f.sig
}

// computeLocked recomputes the signature from the live file. A missing file
// yields an empty signature and no error; a non-regular file yields an
// empty signature with ErrNotRegular; any other stat/read error is
// returned so callers can distinguish "not actual" from "broken".
func (f *FileEntity) computeLocked() (Signature, error) {
	fi, err := os.Stat(f.path)
	if empty, hard := statErr(err); hard != nil {
		return Signature{}, hard
	} else if empty {
		return Signature{}, nil
	}
	if !fi.Mode().IsRegular() {
		return Signature{}, ErrNotRegular
	}
	switch f.policy {
	case SignaturePolicyChecksum:
		return checksumSignature(f.path)
	case SignaturePolicyTimestamp:
		fallthrough
	default:
		return timestampSignature(fi), nil
	}
}

func timestampSignature(fi os.FileInfo) Signature {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(fi.ModTime().UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], uint64(fi.Size()))
	return Signature(md5.Sum(buf[:]))
}

func checksumSignature(path string) (Signature, error) {
	f, err := os.Open(path)
	if err != nil {
		if empty, hard := statErr(err); hard == nil {
			if empty {
				return Signature{}, nil
			}
		}
		return Signature{}, xerrors.Errorf("entity: open %s: %w", path, err)
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return Signature{}, xerrors.Errorf("entity: checksum %s: %w", path, err)
	}
	var sig Signature
	copy(sig[:], h.Sum(nil))
	return sig, nil
}

// IsActual recomputes the signature from the live file and reports whether
// it is non-empty and unchanged from the last-read value.
func (f *FileEntity) IsActual() bool {
	f.mu.Lock()
	cached, valid := f.sig, f.sigValid
	f.mu.Unlock()
	if !valid {
		cached = f.Signature()
	}
	if cached.Empty() {
		return false
	}
	fresh, err := f.computeLocked()
	if err != nil {
		return false
	}
	return fresh == cached
}

// GetActual returns f if its cached signature still matches the live file,
// otherwise a fresh FileEntity with a freshly computed signature. Used by
// the implicit-dependency cache to refresh stale entries.
func (f *FileEntity) GetActual() Entity {
	fresh, err := f.computeLocked()
	if err == nil {
		f.mu.Lock()
		same := f.sigValid && fresh == f.sig
		f.mu.Unlock()
		if same {
			return f
		}
	}
	nf := NewFileEntity(f.path, f.policy)
	nf.mu.Lock()
	nf.sig, nf.sigValid = fresh, true
	nf.mu.Unlock()
	return nf
}
