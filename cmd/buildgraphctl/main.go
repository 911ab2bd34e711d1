// Command buildgraphctl drives a build graph from the command line: copy
// sources into a directory through one CopyBuilder Node against a
// value-file, clear that directory, or export the value-file's contents
// for offline inspection. Commands are dispatched by verb
// (buildgraphctl <verb> [options]) rather than one flag set per
// invocation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

var debug = flag.Bool("debug", false, "format errors with additional detail")

type verb struct {
	fn func(ctx context.Context, args []string) error
}

var verbs = map[string]verb{
	"build":  {cmdBuild},
	"clear":  {cmdClear},
	"export": {cmdExport},
}

func funcmain() error {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	name, rest := args[0], args[1:]
	v, ok := verbs[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
		usage()
		os.Exit(2)
	}

	ctx, stop := withInterruptOrBackground()
	defer stop()

	if err := v.fn(ctx, rest); err != nil {
		if *debug {
			return fmt.Errorf("%s: %+v", name, err)
		}
		return fmt.Errorf("%s: %v", name, err)
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "buildgraphctl [-flags] <command> [-flags] <args>\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "\tbuild   - build one or more targets in a directory tree\n")
	fmt.Fprintf(os.Stderr, "\tclear   - remove previously produced targets\n")
	fmt.Fprintf(os.Stderr, "\texport  - dump a value-file's entities as a cpio archive\n")
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
