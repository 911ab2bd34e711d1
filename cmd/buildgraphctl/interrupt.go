package main

import (
	"context"

	"github.com/distr1/buildgraph/buildmanager"
)

// withInterruptOrBackground wires the process's interrupt signal into a
// cancellable context, so in-flight builds get a chance to finish instead
// of being killed mid-write.
func withInterruptOrBackground() (context.Context, func()) {
	return buildmanager.WithInterrupt(context.Background())
}
