package node

import (
	"log"
	"testing"

	"github.com/distr1/buildgraph/entity"
	"github.com/distr1/buildgraph/valuefile"
)

func testVfile() *valuefile.File {
	return valuefile.New(log.New(logDiscard{}, "", 0))
}

type logDiscard struct{}

func (logDiscard) Write(p []byte) (int, error) { return len(p), nil }

func runOnce(t *testing.T, vfile *valuefile.File, b Builder, sources []Source) *Node {
	t.Helper()
	n := NewNode(b, sources)
	if err := n.Initiate(); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := n.Depends(); err != nil {
		t.Fatalf("Depends: %v", err)
	}
	if err := n.PopulateDepEntities(); err != nil {
		t.Fatalf("PopulateDepEntities: %v", err)
	}
	if _, err := n.Replace(); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := n.BuildSplit(); err != nil {
		t.Fatalf("BuildSplit: %v", err)
	}
	cache := newIdepCache()
	ok, _ := n.CheckActual(vfile, nil, cache, false)
	if !ok {
		if err := n.Build(); err != nil {
			t.Fatalf("Build: %v", err)
		}
		if err := n.Save(vfile); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	return n
}

func TestNodeFreshBuildThenCachedOnSecondRun(t *testing.T) {
	vfile := testVfile()
	src := []Source{entity.NewSimpleEntity("a", []byte("a-content"))}

	b1 := &fakeBuilder{name: "cp", signature: []byte("cp-v1")}
	n1 := runOnce(t, vfile, b1, src)
	if n1.IsActual() {
		t.Fatalf("first run: expected not actual")
	}
	if b1.builds != 1 {
		t.Fatalf("first run: builds = %d, want 1", b1.builds)
	}

	b2 := &fakeBuilder{name: "cp", signature: []byte("cp-v1")}
	n2 := runOnce(t, vfile, b2, src)
	if !n2.IsActual() {
		t.Fatalf("second run: expected actual (cache hit)")
	}
	if b2.builds != 0 {
		t.Fatalf("second run: builds = %d, want 0 (should have been skipped)", b2.builds)
	}
}

func TestNodeRebuildsWhenSourceSignatureChanges(t *testing.T) {
	vfile := testVfile()
	b := &fakeBuilder{name: "cp", signature: []byte("cp-v1")}

	src1 := []Source{entity.NewSimpleEntity("a", []byte("v1"))}
	runOnce(t, vfile, b, src1)

	src2 := []Source{entity.NewSimpleEntity("a", []byte("v2"))}
	n2 := runOnce(t, vfile, b, src2)
	if n2.IsActual() {
		t.Fatalf("expected rebuild after source content changed")
	}
	if b.builds != 2 {
		t.Fatalf("builds = %d, want 2", b.builds)
	}
}

func TestNodeRebuildsWhenBuilderSignatureChanges(t *testing.T) {
	vfile := testVfile()
	src := []Source{entity.NewSimpleEntity("a", []byte("v1"))}

	b1 := &fakeBuilder{name: "cp", signature: []byte("cp-v1")}
	runOnce(t, vfile, b1, src)

	b2 := &fakeBuilder{name: "cp", signature: []byte("cp-v2")}
	n2 := runOnce(t, vfile, b2, src)
	if n2.IsActual() {
		t.Fatalf("expected rebuild after builder signature changed")
	}
	if b2.builds != 1 {
		t.Fatalf("builds = %d, want 1", b2.builds)
	}
}

func TestNodeBatchBuildsOnlyStaleSources(t *testing.T) {
	vfile := testVfile()
	srcA := entity.NewSimpleEntity("a", []byte("a1"))
	srcB := entity.NewSimpleEntity("b", []byte("b1"))

	b := &batchBuilder{name: "concat", sig: []byte("v1")}
	n := NewNode(b, []Source{srcA, srcB})
	if err := n.Initiate(); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := n.BuildSplit(); err != nil {
		t.Fatalf("BuildSplit: %v", err)
	}
	cache := newIdepCache()
	n.CheckActual(vfile, nil, cache, false)
	if err := n.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := n.Save(vfile); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if b.builds != 1 {
		t.Fatalf("builds = %d, want 1", b.builds)
	}

	// Second run: only b's source changed, so only one of the two
	// per-source records should be rebuilt.
	srcBv2 := entity.NewSimpleEntity("b", []byte("b2"))
	n2 := NewNode(b, []Source{srcA, srcBv2})
	if err := n2.Initiate(); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := n2.BuildSplit(); err != nil {
		t.Fatalf("BuildSplit: %v", err)
	}
	n2.CheckActual(vfile, nil, cache, false)
	if len(n2.staleSources) != 1 {
		t.Fatalf("staleSources = %d, want 1", len(n2.staleSources))
	}
	if err := n2.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if b.builds != 2 {
		t.Fatalf("builds = %d, want 2 (only the changed source rebuilt)", b.builds)
	}
}

func TestSplitChildrenRebuildOnlyStaleSource(t *testing.T) {
	vfile := testVfile()
	cache := newIdepCache()

	b := &splitBuilder{name: "split", sig: []byte("v1")}
	srcA := entity.NewSimpleEntity("a", []byte("a1"))
	srcB := entity.NewSimpleEntity("b", []byte("b1"))
	srcC := entity.NewSimpleEntity("c", []byte("c1"))

	n := NewNode(b, []Source{srcA, srcB, srcC})
	if err := n.Initiate(); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := n.BuildSplit(); err != nil {
		t.Fatalf("BuildSplit: %v", err)
	}
	if len(n.splitNodes) != 3 {
		t.Fatalf("splitNodes = %d, want 3", len(n.splitNodes))
	}
	n.CheckActual(vfile, nil, cache, false)
	if err := n.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := n.Save(vfile); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if b.builds != 3 {
		t.Fatalf("builds = %d, want 3", b.builds)
	}

	// Second run: only b's content changed, so exactly one of the three
	// split children should rebuild.
	srcBv2 := entity.NewSimpleEntity("b", []byte("b2"))
	n2 := NewNode(b, []Source{srcA, srcBv2, srcC})
	if err := n2.Initiate(); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := n2.BuildSplit(); err != nil {
		t.Fatalf("BuildSplit: %v", err)
	}
	n2.CheckActual(vfile, nil, cache, false)
	if err := n2.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := n2.Save(vfile); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if b.builds != 4 {
		t.Fatalf("builds = %d, want 4 (only the changed split child rebuilt)", b.builds)
	}
}

func TestFilterIndexOutOfRangeYieldsEmpty(t *testing.T) {
	vfile := testVfile()
	src := []Source{entity.NewSimpleEntity("a", []byte("v1"))}
	b := &fakeBuilder{name: "cp", signature: []byte("v1")}
	n := runOnce(t, vfile, b, src)

	f := NewFilter(n, AttrTargets).Index(5)
	es, err := f.Entities()
	if err != nil {
		t.Fatalf("Entities: %v", err)
	}
	if len(es) != 0 {
		t.Fatalf("expected empty result for out-of-range index, got %d", len(es))
	}
}

func TestFilterTagsNarrowsToTaggedEntities(t *testing.T) {
	vfile := testVfile()
	src := []Source{entity.NewSimpleEntity("a", []byte("v1"))}
	b := &fakeBuilder{name: "cp", signature: []byte("v1")}
	n := runOnce(t, vfile, b, src)
	n.tags[n.targetEntities[0].ID()] = []string{"header"}

	tagged, err := NewFilter(n, AttrTargets).Tags("header").Entities()
	if err != nil {
		t.Fatalf("Entities: %v", err)
	}
	if len(tagged) != 1 {
		t.Fatalf("tagged = %d, want 1", len(tagged))
	}

	untagged, err := NewFilter(n, AttrTargets).Tags("missing").Entities()
	if err != nil {
		t.Fatalf("Entities: %v", err)
	}
	if len(untagged) != 0 {
		t.Fatalf("untagged = %d, want 0", len(untagged))
	}
}
