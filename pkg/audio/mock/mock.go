// Package mock provides scripted in-memory implementations of the
// [audio.Source] and [audio.Player] interfaces for use in unit tests.
//
// The mocks record every call so tests can assert on scheduling decisions, and
// expose exported fields that control return values.
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/voxwire/voxbridge/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Player = (*Player)(nil)
)

// Source is a scripted [audio.Source]. Tests feed blocks through the Blocks
// channel; closing it makes Read return io.EOF.
type Source struct {
	// Blocks delivers the sample blocks returned by Read, in order.
	Blocks chan []float32

	// ReadErr, when non-nil, is returned by every Read call instead of a block.
	ReadErr error
}

// NewSource returns a Source with a buffered Blocks channel.
func NewSource() *Source {
	return &Source{Blocks: make(chan []float32, 64)}
}

// Read implements [audio.Source].
func (s *Source) Read(ctx context.Context) ([]float32, error) {
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case block, ok := <-s.Blocks:
		if !ok {
			return nil, io.EOF
		}
		return block, nil
	}
}

// PlayCall records the arguments of one [Player.Play] invocation.
type PlayCall struct {
	Start time.Time
	PCM   []byte
}

// Player is a recording [audio.Player]. Set the exported fields before use;
// inspect Calls and Stops after.
type Player struct {
	// PlayErr, when non-nil, is returned by every Play call.
	PlayErr error

	// SignalDone makes Play return an already-closed done channel, so the
	// scheduler advances immediately instead of waiting on its fallback timer.
	SignalDone bool

	mu    sync.Mutex
	calls []PlayCall
	stops int
}

// Play implements [audio.Player].
func (p *Player) Play(start time.Time, pcm []byte) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.PlayErr != nil {
		return nil, p.PlayErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.calls = append(p.calls, PlayCall{Start: start, PCM: cp})

	if p.SignalDone {
		done := make(chan struct{})
		close(done)
		return done, nil
	}
	return nil, nil
}

// Stop implements [audio.Player].
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

// Calls returns a snapshot of every recorded Play invocation.
func (p *Player) Calls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Stops returns how many times Stop has been called.
func (p *Player) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}
