package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/distr1/buildgraph/builder"
	"github.com/distr1/buildgraph/node"
)

const clearHelp = `buildgraphctl clear [-flags] <dest>

Removes every target previously copied into <dest> by "build". Failures
are logged, not fatal.
`

func cmdClear(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	fs.Usage = func() { os.Stderr.WriteString(clearHelp) }
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 1 {
		fs.Usage()
		os.Exit(2)
	}
	dest := rest[0]

	b := builder.NewCopyBuilder(dest)
	n := node.NewNode(b, nil)
	if err := n.Clear(); err != nil {
		log.Printf("clear %s: %v", dest, err)
	}
	return nil
}
