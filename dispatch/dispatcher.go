// Package dispatch turns request lines into Store operations and
// renders their results as response lines.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"carestore/store"
	"carestore/wire"
)

// handler describes one command: the number of arguments it needs after
// the command name, its usage line and the function that runs it. run
// returns the fields that follow "OK" in the response.
type handler struct {
	args  int
	usage string
	run   func(ctx context.Context, args []string) ([]string, error)
}

// Dispatcher routes decoded requests to the Store.
type Dispatcher struct {
	store    *store.Store
	handlers map[string]handler
	metrics  *metrics
	logger   *slog.Logger
}

// Options configures a Dispatcher. The zero value disables metrics and
// logging.
type Options struct {
	// Registerer receives the dispatch metrics and the store size
	// collector. Nil disables metrics.
	Registerer prometheus.Registerer
	Logger     *slog.Logger
	// Version is reported by the VERSION command.
	Version string
}

// New creates a Dispatcher backed by s.
func New(s *store.Store, opts Options) (*Dispatcher, error) {
	m, err := newMetrics(opts.Registerer, s)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Dispatcher{store: s, metrics: m, logger: logger}
	d.handlers = d.commands(opts.Version)
	return d, nil
}

// Dispatch handles one request line and returns the response line,
// without the trailing newline. It never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) string {
	fields := wire.Decode(line)
	start := time.Now()
	resp, err := d.execute(ctx, fields)
	d.metrics.observe(commandLabel(fields[0], err), err, time.Since(start))

	if err != nil {
		msg := Message(err)
		if msg == errInternal.Error() {
			d.logger.Error("command failed", "command", fields[0], "error", err)
		} else {
			d.logger.Debug("command rejected", "command", fields[0], "error", err)
		}
		return wire.Encode(wire.StatusErr, msg)
	}
	return wire.Encode(append([]string{wire.StatusOK}, resp...)...)
}

// Execute runs the command in fields and returns its OK payload or a
// typed error. It is the part of Dispatch that does not touch the wire
// format, for callers that already hold decoded fields.
func (d *Dispatcher) Execute(ctx context.Context, fields []string) ([]string, error) {
	return d.execute(ctx, fields)
}

func (d *Dispatcher) execute(ctx context.Context, fields []string) (resp []string, err error) {
	if len(fields) == 0 || (len(fields) == 1 && fields[0] == "") {
		return nil, errEmpty
	}
	h, ok := d.handlers[fields[0]]
	if !ok {
		return nil, &UnknownCommandError{Name: fields[0]}
	}
	args := fields[1:]
	if len(args) < h.args {
		return nil, &UsageError{Command: fields[0], Usage: h.usage}
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				"command", fields[0],
				"panic", r,
				"stack", string(debug.Stack()),
			)
			resp, err = nil, fmt.Errorf("%w: %v", errInternal, r)
		}
	}()
	return h.run(ctx, args)
}
