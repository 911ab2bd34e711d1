package main

import (
	"context"
	"flag"
	"log"
	"os"
	"sort"

	"github.com/cavaliercoder/go-cpio"
	"github.com/distr1/buildgraph/valuefile"
	"golang.org/x/xerrors"
)

const exportHelp = `buildgraphctl export [-flags] <output.cpio>

Dumps every (key, entry) pair in -values as a cpio archive, one file per
entry named by its value-file key in hex, for offline inspection or
backup. Entries are written in key order so repeated exports of an
unchanged value-file are byte-identical.
`

func cmdExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	valuesPath := fs.String("values", "build.values", "path to the value-file")
	fs.Usage = func() { os.Stderr.WriteString(exportHelp) }
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 1 {
		fs.Usage()
		os.Exit(2)
	}
	outPath := rest[0]

	vfile, err := valuefile.Open(*valuesPath, log.New(os.Stderr, "valuefile: ", log.LstdFlags))
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	wr := cpio.NewWriter(out)
	entries := vfile.All()
	keys := make([]valuefile.Key, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i][:]) < string(keys[j][:])
	})
	for _, k := range keys {
		e := entries[k]
		hdr := &cpio.Header{
			Name: hexKey(k),
			Mode: cpio.FileMode(0644),
			Size: int64(len(e.Payload)),
		}
		if err := wr.WriteHeader(hdr); err != nil {
			return xerrors.Errorf("export: write header for %s: %w", e.Name, err)
		}
		if _, err := wr.Write(e.Payload); err != nil {
			return xerrors.Errorf("export: write payload for %s: %w", e.Name, err)
		}
	}
	if err := wr.Close(); err != nil {
		return xerrors.Errorf("export: close cpio writer: %w", err)
	}
	log.Printf("exported %d entries to %s", len(keys), outPath)
	return nil
}

func hexKey(k valuefile.Key) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(k)*2)
	for i, b := range k {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xf]
	}
	return string(out)
}
