package entity

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFileEntityChecksumDetectsContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foo.txt")
	writeFile(t, path, "hello")

	fe := NewFileEntity(path, SignaturePolicyChecksum)
	sig1 := fe.Signature()
	if sig1.Empty() {
		t.Fatal("expected non-empty signature for existing file")
	}
	if !fe.IsActual() {
		t.Fatal("expected IsActual true right after construction")
	}

	writeFile(t, path, "world")
	if fe.IsActual() {
		t.Fatal("expected IsActual false after content change")
	}

	actual := fe.GetActual()
	if actual.Signature() == sig1 {
		t.Fatal("GetActual should reflect the new content")
	}
}

func TestFileEntityTimestampPolicyChangesOnTouch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bar.txt")
	writeFile(t, path, "data")

	fe := NewFileEntity(path, SignaturePolicyTimestamp)
	sig1 := fe.Signature()

	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	fresh := fe.GetActual()
	if fresh.Signature() == sig1 {
		t.Fatal("expected timestamp signature to change after Chtimes")
	}
}

func TestFileEntityMissingIsNotActual(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.txt")
	fe := NewFileEntity(path, SignaturePolicyChecksum)
	if !fe.Signature().Empty() {
		t.Fatal("expected empty signature for missing file")
	}
	if fe.IsActual() {
		t.Fatal("missing file must never be actual")
	}
}

func TestSimpleEntityDeterministic(t *testing.T) {
	a := NewSimpleEntity("greeting", []byte("hello"))
	b := NewSimpleEntity("greeting", []byte("hello"))
	if a.Signature() != b.Signature() {
		t.Fatal("same payload must yield same signature")
	}
	if a.ID() != b.ID() {
		t.Fatal("same name must yield same id")
	}
	c := NewSimpleEntity("greeting", []byte("bye"))
	if a.Signature() == c.Signature() {
		t.Fatal("different payload must yield different signature")
	}
}
