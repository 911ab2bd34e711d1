package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/buildgraph/entity"
	"github.com/distr1/buildgraph/node"
)

func TestCopyBuilderBuildBatchCopiesEachSource(t *testing.T) {
	srcDir := t.TempDir()
	destDir := filepath.Join(t.TempDir(), "out")

	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(srcDir, name), []byte("hello "+name), 0644); err != nil {
			t.Fatal(err)
		}
	}

	b := NewCopyBuilder(destDir)
	sources := []node.Source{
		entity.NewFileEntity(filepath.Join(srcDir, "a.txt"), entity.SignaturePolicyChecksum),
		entity.NewFileEntity(filepath.Join(srcDir, "b.txt"), entity.SignaturePolicyChecksum),
	}
	n := node.NewNode(b, sources)
	if err := n.Initiate(); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := n.Depends(); err != nil {
		t.Fatalf("Depends: %v", err)
	}
	if err := n.BuildSplit(); err != nil {
		t.Fatalf("BuildSplit: %v", err)
	}
	vfile := testVfile(t)
	ok, _ := n.CheckActual(vfile, nil, node.NewIdepCache(), true)
	if ok {
		t.Fatal("fresh node should not be actual")
	}
	if err := n.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := n.Save(vfile); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for _, name := range []string{"a.txt", "b.txt"} {
		got, err := os.ReadFile(filepath.Join(destDir, name))
		if err != nil {
			t.Fatalf("read copied %s: %v", name, err)
		}
		if string(got) != "hello "+name {
			t.Fatalf("copied content = %q", got)
		}
	}
}

func TestCopyBuilderClearRemovesDestDir(t *testing.T) {
	destDir := filepath.Join(t.TempDir(), "out")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(destDir, "f"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	b := NewCopyBuilder(destDir)
	n := node.NewNode(b, nil)
	if err := n.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(destDir); !os.IsNotExist(err) {
		t.Fatalf("destDir still exists after Clear: %v", err)
	}
}
