package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxwire/voxbridge/pkg/audio"
	"github.com/voxwire/voxbridge/pkg/realtime"
)

// pingRecorder implements realtime.SessionHandle just enough for the
// keepalive loop.
type pingRecorder struct {
	mu    sync.Mutex
	count int
	err   error
}

func (p *pingRecorder) Keepalive(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	return p.err
}

func (p *pingRecorder) pings() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *pingRecorder) Configure(context.Context) error      { return nil }
func (p *pingRecorder) SendFrame(audio.Frame) error          { return nil }
func (p *pingRecorder) Events() <-chan realtime.Event        { return nil }
func (p *pingRecorder) Err() error                           { return nil }
func (p *pingRecorder) Close(context.Context) error          { return nil }

func TestRunKeepalivePeriodic(t *testing.T) {
	rec := &pingRecorder{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runKeepalive(ctx, rec, 5*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && rec.pings() < 3 {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("cancelled keepalive returned %v, want nil", err)
	}
	if rec.pings() < 3 {
		t.Errorf("sent %d pings, want at least 3", rec.pings())
	}
}

func TestRunKeepaliveStopsOnFailure(t *testing.T) {
	rec := &pingRecorder{err: errors.New("connection lost")}

	err := runKeepalive(context.Background(), rec, time.Millisecond)
	if err == nil || !errors.Is(err, rec.err) {
		t.Fatalf("keepalive error %v, want wrapped send failure", err)
	}
	if rec.pings() != 1 {
		t.Errorf("sent %d pings after failure, want 1", rec.pings())
	}
}
