package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/buildgraph/entity"
	"github.com/distr1/buildgraph/node"
)

func TestCommandBuilderBuildRunsStepsAndCollectsTargets(t *testing.T) {
	srcDir := t.TempDir()
	destDir := filepath.Join(t.TempDir(), "out")
	srcPath := filepath.Join(srcDir, "in.txt")
	if err := os.WriteFile(srcPath, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	b := NewCommandBuilder("test-concat", []Step{
		{Argv: []string{"/bin/sh", "-c", "cat %SOURCES% > out.txt"}},
	}, destDir, nil, nil)

	sources := []node.Source{entity.NewFileEntity(srcPath, entity.SignaturePolicyChecksum)}
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

	targets, err := n.TargetEntities()
	if err != nil {
		t.Fatalf("TargetEntities: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("targets = %d, want 1", len(targets))
	}
	got, err := os.ReadFile(filepath.Join(destDir, "out.txt"))
	if err != nil {
		t.Fatalf("read out.txt: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("out.txt content = %q", got)
	}
}

func TestCommandBuilderBuildFailureIsReported(t *testing.T) {
	destDir := filepath.Join(t.TempDir(), "out")
	b := NewCommandBuilder("test-fail", []Step{
		{Argv: []string{"/bin/sh", "-c", "exit 1"}},
	}, destDir, nil, nil)

	n := node.NewNode(b, nil)
	if err := n.Initiate(); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := n.Depends(); err != nil {
		t.Fatalf("Depends: %v", err)
	}
	if err := n.BuildSplit(); err != nil {
		t.Fatalf("BuildSplit: %v", err)
	}
	if err := n.Build(); err == nil {
		t.Fatal("expected Build to fail")
	}
}
