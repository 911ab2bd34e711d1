package builder

import (
	"log"
	"testing"

	"github.com/distr1/buildgraph/valuefile"
)

type logDiscard struct{}

func (logDiscard) Write(p []byte) (int, error) { return len(p), nil }

func testVfile(t *testing.T) *valuefile.File {
	t.Helper()
	return valuefile.New(log.New(logDiscard{}, "", 0))
}
