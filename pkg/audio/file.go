package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// FileSource is a [Source] backed by a stream of raw little-endian mono PCM16,
// paced at real time so the capture pipeline behaves as it would against a
// live input device. It lets the bridge run end to end without audio hardware.
type FileSource struct {
	r          io.Reader
	frameBytes int
	interval   time.Duration
	started    bool
	next       time.Time
}

// NewFileSource reads raw PCM16 from r at sampleRate, delivering one block per
// frame duration.
func NewFileSource(r io.Reader, sampleRate int, frame time.Duration) *FileSource {
	return &FileSource{
		r:          r,
		frameBytes: FrameSamples(frame, sampleRate) * 2,
		interval:   frame,
	}
}

// Read implements [Source]. It sleeps until the next frame boundary, then
// returns the frame's samples. Returns io.EOF once the stream is exhausted.
func (s *FileSource) Read(ctx context.Context) ([]float32, error) {
	if !s.started {
		s.started = true
		s.next = time.Now()
	}
	if wait := time.Until(s.next); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	s.next = s.next.Add(s.interval)

	buf := make([]byte, s.frameBytes)
	n, err := io.ReadFull(s.r, buf)
	if err == io.ErrUnexpectedEOF {
		// Final short frame.
		return PCM16ToFloat(buf[:n-n%2]), nil
	}
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("audio: file source: %w", err)
	}
	return PCM16ToFloat(buf), nil
}

// WAVSink is a [Player] that appends every scheduled unit to an in-memory
// buffer and writes the result as a WAV file on Close. It reports no completion
// signal, so the scheduler paces playback with its fallback timer.
type WAVSink struct {
	w          io.Writer
	sampleRate int

	mu  sync.Mutex
	pcm []byte
}

// NewWAVSink creates a sink that writes a WAV container to w on Close.
func NewWAVSink(w io.Writer, sampleRate int) *WAVSink {
	return &WAVSink{w: w, sampleRate: sampleRate}
}

// Play implements [Player]. The start time is ignored: units arrive in
// schedule order and a file has no clock.
func (s *WAVSink) Play(_ time.Time, pcm []byte) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcm = append(s.pcm, pcm...)
	return nil, nil
}

// Stop implements [Player]. Appended audio cannot be unwritten; a flush simply
// stops further units from arriving.
func (s *WAVSink) Stop() {}

// Close encodes the collected audio and writes it to the underlying writer.
func (s *WAVSink) Close() error {
	s.mu.Lock()
	pcm := s.pcm
	s.mu.Unlock()

	if len(pcm) == 0 {
		return nil
	}
	data, err := EncodeWAV(pcm, s.sampleRate)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("audio: wav sink: %w", err)
	}
	return nil
}
