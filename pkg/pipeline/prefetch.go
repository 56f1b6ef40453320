package pipeline

import (
	"context"
	"errors"

	"github.com/apache/arrow-go/v18/arrow"
)

type state struct {
	batch arrow.Record
	err   error
}

// prefetch reads its input from a separate goroutine so that the next
// record is produced while the current one is consumed.
type prefetch struct {
	Pipeline

	initialized bool
	ch          chan state
	cancel      context.CancelCauseFunc
	err         error // terminal error, returned once ch is closed
}

// Prefetch wraps p to read one record ahead in a background goroutine.
// The goroutine starts on the first Read and stops on Close.
func Prefetch(p Pipeline) Pipeline {
	return &prefetch{
		Pipeline: p,
		ch:       make(chan state),
	}
}

func (p *prefetch) Read(ctx context.Context) (arrow.Record, error) {
	if !p.initialized {
		p.initialized = true

		var prefetchCtx context.Context
		prefetchCtx, p.cancel = context.WithCancelCause(ctx)
		go p.run(prefetchCtx)
	}

	s, ok := <-p.ch
	if !ok {
		if p.err != nil {
			return nil, p.err
		}
		if err := context.Cause(ctx); err != nil {
			return nil, err
		}
		return nil, EOF
	}
	if s.err != nil {
		p.err = s.err
	}
	return s.batch, s.err
}

func (p *prefetch) run(ctx context.Context) {
	defer close(p.ch)

	for {
		if ctx.Err() != nil {
			return
		}

		var s state
		s.batch, s.err = p.Pipeline.Read(ctx)

		select {
		case <-ctx.Done():
			if s.batch != nil {
				s.batch.Release()
			}
			return
		case p.ch <- s:
		}

		if s.err != nil {
			return
		}
	}
}

func (p *prefetch) Close() {
	if p.cancel != nil {
		p.cancel(errors.New("pipeline is closed"))

		// Wait for the goroutine to exit before closing the input.
		for s := range p.ch {
			if s.batch != nil {
				s.batch.Release()
			}
		}
		p.cancel = nil
	}
	p.Pipeline.Close()
}
