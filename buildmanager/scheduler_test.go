package buildmanager

import (
	"context"
	"log"
	"testing"

	"github.com/distr1/buildgraph/entity"
	"github.com/distr1/buildgraph/node"
	"github.com/distr1/buildgraph/valuefile"
	"golang.org/x/xerrors"
)

func testVfile() *valuefile.File {
	return valuefile.New(log.New(discardWriter{}, "", 0))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// failingBuilder always fails Build, to exercise keep-going aggregation.
type failingBuilder struct{ planFakeBuilder }

func (b *failingBuilder) Build(sources []entity.Entity, targets []*node.NodeEntity) error {
	return xerrors.New("simulated build failure")
}

func TestRunBuildsDependencyBeforeDependent(t *testing.T) {
	vfile := testVfile()

	baseBuilder := &planFakeBuilder{name: "base"}
	base := node.NewNode(baseBuilder, nil)
	if err := base.Initiate(); err != nil {
		t.Fatalf("Initiate base: %v", err)
	}
	if _, err := base.Depends(); err != nil {
		t.Fatalf("Depends base: %v", err)
	}

	topBuilder := &planFakeBuilder{name: "top"}
	top := node.NewNode(topBuilder, nil)
	topBuilder.deps = []*node.Node{base}
	if err := top.Initiate(); err != nil {
		t.Fatalf("Initiate top: %v", err)
	}
	if _, err := top.Depends(); err != nil {
		t.Fatalf("Depends top: %v", err)
	}

	plan, err := NewPlan([]*node.Node{top})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	if err := Run(context.Background(), plan, vfile, Options{Workers: 2}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	baseTargets, err := base.TargetEntities()
	if err != nil || len(baseTargets) == 0 {
		t.Fatalf("base not built: targets=%v err=%v", baseTargets, err)
	}
	topTargets, err := top.TargetEntities()
	if err != nil || len(topTargets) == 0 {
		t.Fatalf("top not built: targets=%v err=%v", topTargets, err)
	}
}

func TestRunBuildsNodeSourceDependencyBeforeDependent(t *testing.T) {
	vfile := testVfile()

	baseBuilder := &planFakeBuilder{name: "base"}
	base := node.NewNode(baseBuilder, nil)
	if err := base.Initiate(); err != nil {
		t.Fatalf("Initiate base: %v", err)
	}
	if _, err := base.Depends(); err != nil {
		t.Fatalf("Depends base: %v", err)
	}

	// top takes base itself as a source, not via builder.Depends — base
	// has not built yet, so Initiate must defer materializing its
	// entities rather than erroring.
	topBuilder := &planFakeBuilder{name: "top"}
	top := node.NewNode(topBuilder, []node.Source{base})
	if err := top.Initiate(); err != nil {
		t.Fatalf("Initiate top: %v", err)
	}
	if _, err := top.Depends(); err != nil {
		t.Fatalf("Depends top: %v", err)
	}

	plan, err := NewPlan([]*node.Node{top})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	if err := Run(context.Background(), plan, vfile, Options{Workers: 2}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	baseTargets, err := base.TargetEntities()
	if err != nil || len(baseTargets) == 0 {
		t.Fatalf("base not built: targets=%v err=%v", baseTargets, err)
	}
	// Once the scheduler re-initiates top after base has built, top's
	// source entities must be base's targets, not the empty deferral from
	// the first Initiate call.
	srcs := top.SourceEntities()
	if len(srcs) != len(baseTargets) {
		t.Fatalf("top.SourceEntities() = %d entities, want %d (base's targets)", len(srcs), len(baseTargets))
	}
}

func TestRunAggregatesFailuresWithKeepGoing(t *testing.T) {
	vfile := testVfile()

	failing := node.NewNode(&failingBuilder{planFakeBuilder{name: "boom"}}, nil)
	if err := failing.Initiate(); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := failing.Depends(); err != nil {
		t.Fatalf("Depends: %v", err)
	}

	ok := node.NewNode(&planFakeBuilder{name: "ok"}, nil)
	if err := ok.Initiate(); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := ok.Depends(); err != nil {
		t.Fatalf("Depends: %v", err)
	}

	plan, err := NewPlan([]*node.Node{failing, ok})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	err = Run(context.Background(), plan, vfile, Options{Workers: 2, KeepGoing: true})
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	buildErr, ok2 := err.(*Error)
	if !ok2 {
		t.Fatalf("err = %T, want *Error", err)
	}
	if len(buildErr.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1", len(buildErr.Failures))
	}

	if targets, err := ok.TargetEntities(); err != nil || len(targets) == 0 {
		t.Fatalf("independent node should still have built: targets=%v err=%v", targets, err)
	}
}
