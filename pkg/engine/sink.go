package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type sinkOp struct {
	chunk  *Chunk
	remove *Range
	done   chan error
}

// guardedSink serializes every mutation of a sink through a FIFO drained by
// a single worker, so at most one append or remove is running at a time.
type guardedSink struct {
	logger zerolog.Logger
	sink   Sink
	notify func()

	mu      sync.Mutex
	queue   []sinkOp
	pending int

	signal chan struct{}
	ctx    context.Context
}

func newGuardedSink(ctx context.Context, logger zerolog.Logger, sink Sink, notify func()) *guardedSink {
	g := &guardedSink{
		logger: logger,
		sink:   sink,
		notify: notify,
		signal: make(chan struct{}, 1),
		ctx:    ctx,
	}

	go g.worker()
	return g
}

func (g *guardedSink) submit(op sinkOp) <-chan error {
	op.done = make(chan error, 1)

	g.mu.Lock()
	g.queue = append(g.queue, op)
	g.pending++
	g.mu.Unlock()

	select {
	case g.signal <- struct{}{}:
	default:
	}

	return op.done
}

func (g *guardedSink) append(chunk Chunk) <-chan error {
	return g.submit(sinkOp{chunk: &chunk})
}

func (g *guardedSink) remove(start, end float64) <-chan error {
	return g.submit(sinkOp{remove: &Range{Start: start, End: end}})
}

// Updating reports whether a mutation is queued or running.
func (g *guardedSink) Updating() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.pending > 0
}

func (g *guardedSink) Buffered() []Range {
	return g.sink.Buffered()
}

func (g *guardedSink) pop() (sinkOp, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.queue) == 0 {
		return sinkOp{}, false
	}

	op := g.queue[0]
	g.queue = g.queue[1:]
	return op, true
}

func (g *guardedSink) worker() {
	for {
		select {
		case <-g.ctx.Done():
			g.drain(g.ctx.Err())
			return
		case <-g.signal:
		}

		for {
			op, ok := g.pop()
			if !ok {
				break
			}

			var err error
			if op.chunk != nil {
				err = g.sink.Append(g.ctx, *op.chunk)
			} else {
				err = g.sink.Remove(g.ctx, op.remove.Start, op.remove.End)
				if err != nil {
					g.logger.Warn().Err(err).
						Float64("start", op.remove.Start).
						Float64("end", op.remove.End).
						Msg("unable to remove buffered range")
				}
			}

			g.mu.Lock()
			g.pending--
			g.mu.Unlock()

			op.done <- err

			if g.notify != nil {
				g.notify()
			}
		}
	}
}

func (g *guardedSink) drain(err error) {
	g.mu.Lock()
	queue := g.queue
	g.queue = nil
	g.pending = 0
	g.mu.Unlock()

	for _, op := range queue {
		op.done <- err
	}
}
