package buildmanager

import (
	"context"

	"github.com/distr1/buildgraph/entity"
	"github.com/distr1/buildgraph/node"
	"github.com/distr1/buildgraph/valuefile"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Options configures a Run.
type Options struct {
	// Workers bounds how many Nodes build concurrently. Zero means 1.
	Workers int
	// KeepGoing, when true, lets independent branches of the graph keep
	// building after a failure instead of aborting the whole run as soon
	// as one Node fails.
	KeepGoing bool
	// BuiltSet, if non-nil, restricts which Nodes CheckActual will even
	// consider actual — absent names are force-rebuilt.
	BuiltSet map[entity.ID]bool
	// Logger receives lifecycle events for status reporting; nil is
	// equivalent to NewNullLogger(). Logger methods are called from
	// multiple worker goroutines and must be safe for concurrent use.
	Logger Logger
}

// Result reports the outcome of one Node within a Run.
type Result struct {
	Node *node.Node
	Err  error
}

// Error aggregates every Node failure from a Run.
type Error struct {
	Failures []Result
}

func (e *Error) Error() string {
	return xerrors.Errorf("buildmanager: %d node(s) failed", len(e.Failures)).Error()
}

// Run builds a Plan's Nodes to completion: every Node is checked for
// actuality, built if stale, and saved, strictly after all of its
// dependencies have completed successfully. A single dispatcher
// goroutine owns the ready-queue bookkeeping so worker goroutines never
// touch shared scheduling state directly — only the work/done channels.
func Run(ctx context.Context, plan *Plan, vfile *valuefile.File, opts Options) error {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewNullLogger()
	}

	total := len(plan.Nodes())
	if total == 0 {
		return nil
	}

	cache := node.NewIdepCache()
	work := make(chan *node.Node, total)
	done := make(chan Result, total)

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i
		eg.Go(func() error {
			for {
				select {
				case n, ok := <-work:
					if !ok {
						return nil
					}
					logger.NodeStarted(worker, n)
					err := buildOne(n, vfile, opts.BuiltSet, cache, logger)
					logger.NodeFinished(worker, n, err)
					select {
					case done <- Result{Node: n, Err: err}:
					case <-ctx.Done():
						return ctx.Err()
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}

	remainingDeps := make(map[*node.Node]int, total)
	for _, n := range plan.Nodes() {
		remainingDeps[n] = len(plan.upstream(n))
	}

	var failures []Result
	abort := false
	inFlight := 0
	enqueue := func(n *node.Node) { inFlight++; work <- n }
	for _, n := range plan.roots() {
		enqueue(n)
	}

	dispatchErr := func() error {
		for inFlight > 0 {
			select {
			case res := <-done:
				inFlight--
				if res.Err != nil {
					failures = append(failures, res)
					if !opts.KeepGoing {
						abort = true
					}
				} else if !abort {
					for _, dn := range plan.downstream(res.Node) {
						remainingDeps[dn]--
						if remainingDeps[dn] == 0 {
							enqueue(dn)
						}
					}
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}()
	close(work)

	if waitErr := eg.Wait(); waitErr != nil && dispatchErr == nil {
		dispatchErr = waitErr
	}
	if dispatchErr != nil && len(failures) == 0 {
		return dispatchErr
	}
	if len(failures) > 0 {
		return &Error{Failures: failures}
	}
	return dispatchErr
}

// buildOne drives a single Node through the post-dependency lifecycle:
// populate its resolved dependency entities, re-initiate now that every
// dependency Node (including *Node/*Filter sources, which only resolve to
// entities once built) has built, let the builder substitute sources if
// it wants to, decide split/batch shape, check actuality, and build+save
// only if stale. A negative actuality verdict is always explained, so the
// logger can report why.
func buildOne(n *node.Node, vfile *valuefile.File, builtSet map[entity.ID]bool, cache *node.IdepCache, logger Logger) error {
	if err := n.PopulateDepEntities(); err != nil {
		return err
	}
	if err := n.Initiate(); err != nil {
		return err
	}
	if _, err := n.Replace(); err != nil {
		return err
	}
	if err := n.BuildSplit(); err != nil {
		return err
	}
	ok, reasons := n.CheckActual(vfile, builtSet, cache, true)
	if ok {
		return nil
	}
	logger.NodeStale(n, reasons)
	if err := n.Build(); err != nil {
		return err
	}
	return n.Save(vfile)
}
