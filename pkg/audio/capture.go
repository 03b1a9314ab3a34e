package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Source is the input-device boundary of the capture pipeline. Implementations
// wrap platform audio backends (or files and fakes in tests) and deliver one
// fixed-duration block of float32 samples per call, paced at capture rate.
//
// Implementations must be safe for concurrent use with at most one reader.
type Source interface {
	// Read blocks until the next block of float32 samples is available, the
	// context is cancelled, or the device fails. It returns io.EOF when the
	// source is exhausted. An empty block with a nil error is permitted and is
	// skipped by the pipeline.
	Read(ctx context.Context) ([]float32, error)
}

// Pipeline pulls fixed-duration sample blocks from a [Source], converts them to
// PCM16 frames with strictly increasing sequence numbers, and forwards each
// frame to the adapter's send path — unless muted, in which case frames are
// dropped before handoff.
//
// SetMuted and Muted are safe to call concurrently with Run.
type Pipeline struct {
	src     Source
	forward func(Frame) error

	muted atomic.Bool
	seq   atomic.Uint64
	now   func() time.Time
}

// NewPipeline creates a capture pipeline reading from src and handing frames to
// forward. forward is called from the Run goroutine only.
func NewPipeline(src Source, forward func(Frame) error) *Pipeline {
	return &Pipeline{
		src:     src,
		forward: forward,
		now:     time.Now,
	}
}

// SetMuted toggles the mute gate. While muted, zero frames reach the forward
// function; un-muting resumes forwarding with the next captured block, without
// restarting the pipeline.
func (p *Pipeline) SetMuted(muted bool) { p.muted.Store(muted) }

// Muted reports whether the mute gate is set.
func (p *Pipeline) Muted() bool { return p.muted.Load() }

// Run captures until ctx is cancelled, the source is exhausted, or an
// unrecoverable error occurs. Source exhaustion (io.EOF) and context
// cancellation return nil; everything else is returned wrapped.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		block, err := p.src.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("capture: read: %w", err)
		}
		if len(block) == 0 {
			continue
		}

		seq := p.seq.Add(1)
		if p.muted.Load() {
			// Dropped, not silenced: the adapter must see nothing while muted.
			continue
		}

		frame := Frame{
			Data:     FloatToPCM16(block),
			Seq:      seq,
			Captured: p.now(),
		}
		if err := p.forward(frame); err != nil {
			return fmt.Errorf("capture: forward frame %d: %w", seq, err)
		}
	}
}
