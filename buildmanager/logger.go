package buildmanager

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/distr1/buildgraph/node"
	"github.com/mattn/go-isatty"
)

// Logger receives lifecycle events from a Run. Implementations must be
// safe for concurrent use: NodeStarted/NodeFinished/NodeStale are called
// from worker goroutines, potentially for different Nodes at once.
type Logger interface {
	NodeStarted(worker int, n *node.Node)
	NodeFinished(worker int, n *node.Node, err error)
	NodeStale(n *node.Node, reasons []*node.StaleReason)
}

type nullLogger struct{}

// NewNullLogger returns a Logger that discards every event.
func NewNullLogger() Logger { return nullLogger{} }

func (nullLogger) NodeStarted(int, *node.Node)                     {}
func (nullLogger) NodeFinished(int, *node.Node, error)              {}
func (nullLogger) NodeStale(*node.Node, []*node.StaleReason)        {}

// TextLogger prints one status line per worker, redrawn in place on a
// terminal: each worker owns a line, the cursor is moved back up after
// every redraw, and redraws are rate-limited so status printing never
// dominates build time.
type TextLogger struct {
	w          io.Writer
	isTerminal bool

	mu         sync.Mutex
	status     []string
	lastRedraw time.Time
}

// NewTextLogger returns a TextLogger with one status line per worker,
// writing to w. Terminal-aware redraw-in-place is used only when w is a
// terminal, detected via isatty rather than the raw ioctl the original
// scheduler used directly.
func NewTextLogger(w io.Writer, workers int) *TextLogger {
	isTerm := false
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		isTerm = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &TextLogger{
		w:          w,
		isTerminal: isTerm,
		status:     make([]string, workers),
	}
}

func (l *TextLogger) NodeStarted(worker int, n *node.Node) {
	l.setStatus(worker, fmt.Sprintf("building %s", describeNode(n)))
}

func (l *TextLogger) NodeFinished(worker int, n *node.Node, err error) {
	if err != nil {
		fmt.Fprintf(l.w, "build of %s failed: %v\n", describeNode(n), err)
	}
	l.setStatus(worker, "idle")
}

func (l *TextLogger) NodeStale(n *node.Node, reasons []*node.StaleReason) {
	if len(reasons) == 0 {
		return
	}
	codes := make([]string, len(reasons))
	for i, r := range reasons {
		codes[i] = r.Code.String()
	}
	fmt.Fprintf(l.w, "%s stale: %s\n", describeNode(n), strings.Join(codes, ","))
}

func (l *TextLogger) setStatus(worker int, text string) {
	if !l.isTerminal {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if worker < 0 || worker >= len(l.status) {
		return
	}
	l.status[worker] = text
	if time.Since(l.lastRedraw) < 100*time.Millisecond {
		return
	}
	l.lastRedraw = time.Now()
	l.redrawLocked()
}

func (l *TextLogger) redrawLocked() {
	maxLen := 0
	for _, s := range l.status {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	for _, s := range l.status {
		if len(s) < maxLen {
			s += strings.Repeat(" ", maxLen-len(s))
		}
		fmt.Fprintln(l.w, s)
	}
	fmt.Fprintf(l.w, "\033[%dA", len(l.status))
}

func describeNode(n *node.Node) string {
	args := n.Builder().GetTraceArgs(n.SourceEntities(), nil, true)
	if len(args) == 0 {
		return n.Builder().Name()
	}
	return strings.Join(args, " ")
}

// TraceLogger emits a Chrome "Trace Event Format" JSON array recording
// when each Node's build began and ended: "B" (begin) and "E" (end) events keyed
// by worker as the thread id, so the result opens directly in
// chrome://tracing.
//
// https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU/edit
type TraceLogger struct {
	mu    sync.Mutex
	w     io.Writer
	start time.Time
	first bool
}

type traceEvent struct {
	Name      string `json:"name"`
	Phase     string `json:"ph"`
	Timestamp int64  `json:"ts"`
	Pid       int    `json:"pid"`
	Tid       int    `json:"tid"`
}

// NewTraceLogger returns a TraceLogger writing a JSON array of events to
// w as they occur. Callers should write a closing ']' themselves if the
// consumer requires strictly valid JSON; Chrome's trace viewer accepts an
// unterminated array.
func NewTraceLogger(w io.Writer) *TraceLogger {
	return &TraceLogger{w: w, start: time.Now(), first: true}
}

func (l *TraceLogger) emit(ev traceEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.first {
		io.WriteString(l.w, "[")
		l.first = false
	} else {
		io.WriteString(l.w, ",")
	}
	fmt.Fprintf(l.w, `{"name":%q,"ph":%q,"ts":%d,"pid":%d,"tid":%d}`,
		ev.Name, ev.Phase, ev.Timestamp, ev.Pid, ev.Tid)
}

func (l *TraceLogger) NodeStarted(worker int, n *node.Node) {
	l.emit(traceEvent{
		Name:      describeNode(n),
		Phase:     "B",
		Timestamp: time.Since(l.start).Microseconds(),
		Pid:       1,
		Tid:       worker,
	})
}

func (l *TraceLogger) NodeFinished(worker int, n *node.Node, err error) {
	l.emit(traceEvent{
		Name:      describeNode(n),
		Phase:     "E",
		Timestamp: time.Since(l.start).Microseconds(),
		Pid:       1,
		Tid:       worker,
	})
}

func (l *TraceLogger) NodeStale(n *node.Node, reasons []*node.StaleReason) {}
