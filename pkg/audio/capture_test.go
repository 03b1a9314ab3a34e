package audio_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/voxwire/voxbridge/pkg/audio"
	"github.com/voxwire/voxbridge/pkg/audio/mock"
)

// frameCollector records forwarded frames.
type frameCollector struct {
	mu     sync.Mutex
	frames []audio.Frame
	err    error
}

func (c *frameCollector) forward(f audio.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *frameCollector) collected() []audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func TestPipelineForwardsFrames(t *testing.T) {
	src := mock.NewSource()
	col := &frameCollector{}
	p := audio.NewPipeline(src, col.forward)

	src.Blocks <- []float32{0.5, -0.5}
	src.Blocks <- []float32{1, -1}
	close(src.Blocks)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	frames := col.collected()
	if len(frames) != 2 {
		t.Fatalf("forwarded %d frames, want 2", len(frames))
	}
	for i, f := range frames {
		if f.Seq != uint64(i+1) {
			t.Errorf("frame %d has seq %d, want %d", i, f.Seq, i+1)
		}
		if len(f.Data) != 4 {
			t.Errorf("frame %d has %d bytes, want 4", i, len(f.Data))
		}
	}
}

func TestPipelineSkipsEmptyBlocks(t *testing.T) {
	src := mock.NewSource()
	col := &frameCollector{}
	p := audio.NewPipeline(src, col.forward)

	src.Blocks <- nil
	src.Blocks <- []float32{0.1}
	close(src.Blocks)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(col.collected()); got != 1 {
		t.Fatalf("forwarded %d frames, want 1", got)
	}
}

func TestPipelineMuteDropsFrames(t *testing.T) {
	src := mock.NewSource()
	col := &frameCollector{}
	p := audio.NewPipeline(src, col.forward)
	p.SetMuted(true)

	if !p.Muted() {
		t.Fatal("pipeline should report muted")
	}

	src.Blocks <- []float32{0.5}
	src.Blocks <- []float32{0.5}
	close(src.Blocks)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(col.collected()); got != 0 {
		t.Fatalf("muted pipeline forwarded %d frames, want 0", got)
	}
}

func TestPipelineSourceFailure(t *testing.T) {
	src := mock.NewSource()
	src.ReadErr = errors.New("device unplugged")
	p := audio.NewPipeline(src, (&frameCollector{}).forward)

	err := p.Run(context.Background())
	if err == nil || !errors.Is(err, src.ReadErr) {
		t.Fatalf("run error %v, want wrapped source failure", err)
	}
}

func TestPipelineForwardFailure(t *testing.T) {
	src := mock.NewSource()
	col := &frameCollector{err: errors.New("session closed")}
	p := audio.NewPipeline(src, col.forward)

	src.Blocks <- []float32{0.5}

	err := p.Run(context.Background())
	if err == nil || !errors.Is(err, col.err) {
		t.Fatalf("run error %v, want wrapped forward failure", err)
	}
}

func TestPipelineContextCancel(t *testing.T) {
	src := mock.NewSource()
	p := audio.NewPipeline(src, (&frameCollector{}).forward)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Run(ctx); err != nil {
		t.Fatalf("cancelled run should return nil, got %v", err)
	}
}
