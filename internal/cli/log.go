// Package cli implements the fuseg command-line interface.
//
// The commands segment fusion graphs read from JSON, render the resulting
// kernel partitions, browse them interactively, and serve segmentation over
// HTTP. The CLI is built on cobra and logs through charmbracelet/log.
//
// # Commands
//
//   - segment: Partition one or more graphs and write their summaries
//   - render: Draw a segmentation as DOT, SVG or JSON
//   - inspect: Browse the segments of a graph in a terminal UI
//   - serve: Run the HTTP segmentation service
//   - cache: Manage the local segmentation cache
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. Loggers are
// passed through context.Context to allow structured progress tracking.
package cli

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger creates the CLI logger: timestamps as "15:04:05.00", messages
// below level dropped.
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// progress times one operation for a completion log line.
type progress struct {
	logger *log.Logger
	start  time.Time
}

func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// done logs msg at info with the elapsed time, rounded to milliseconds, and
// any extra key/value pairs:
//
//	14:32:01.45 INFO Segmented 3 graph(s) elapsed=1.234s
func (p *progress) done(msg string, keyvals ...any) {
	elapsed := time.Since(p.start).Round(time.Millisecond)
	p.logger.Info(msg, append([]any{"elapsed", elapsed}, keyvals...)...)
}

type ctxKey struct{}

// withLogger returns a copy of ctx carrying l.
func withLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// loggerFromContext returns the logger attached by withLogger, or
// log.Default() when there is none.
func loggerFromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*log.Logger); ok {
		return l
	}
	return log.Default()
}
