package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/distr1/buildgraph/buildmanager"
	"github.com/distr1/buildgraph/builder"
	"github.com/distr1/buildgraph/entity"
	"github.com/distr1/buildgraph/node"
	"github.com/distr1/buildgraph/valuefile"
)

const buildHelp = `buildgraphctl build [-flags] <dest> <source...>

Copies each <source> file into <dest>, one target per source, skipping
sources whose signature hasn't changed since the last build recorded in
-values. The expected shape is one CopyBuilder Node per invocation; it
exists to exercise the scheduler end to end, not as a general-purpose
build tool.
`

func cmdBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	valuesPath := fs.String("values", "build.values", "path to the value-file")
	workers := fs.Int("workers", 1, "number of concurrent build workers")
	keepGoing := fs.Bool("keep_going", false, "keep building independent targets after a failure")
	fs.Usage = func() { os.Stderr.WriteString(buildHelp) }
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 2 {
		fs.Usage()
		os.Exit(2)
	}
	dest := rest[0]
	sources := rest[1:]

	vfile, err := valuefile.Open(*valuesPath, log.New(os.Stderr, "valuefile: ", log.LstdFlags))
	if err != nil {
		return err
	}

	b := builder.NewCopyBuilder(dest)
	rawSources := make([]node.Source, len(sources))
	for i, s := range sources {
		abs, err := filepath.Abs(s)
		if err != nil {
			return err
		}
		rawSources[i] = entity.NewFileEntity(abs, entity.SignaturePolicyChecksum)
	}
	n := node.NewNode(b, rawSources)
	if err := n.Initiate(); err != nil {
		return err
	}
	if _, err := n.Depends(); err != nil {
		return err
	}

	plan, err := buildmanager.NewPlan([]*node.Node{n})
	if err != nil {
		return err
	}

	logger := buildmanager.NewTextLogger(os.Stdout, *workers)
	opts := buildmanager.Options{Workers: *workers, KeepGoing: *keepGoing, Logger: logger}
	if err := buildmanager.Run(ctx, plan, vfile, opts); err != nil {
		return err
	}
	if err := vfile.Flush(); err != nil {
		return err
	}

	targets, err := n.TargetEntities()
	if err != nil {
		return err
	}
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name()
	}
	log.Printf("built %d target(s): %s", len(names), strings.Join(names, ", "))
	return nil
}
