package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Playback stream errors. Decode failures are recoverable (the offending chunk
// is dropped); device failures are fatal and end the session.
var (
	ErrDecodeFailure = errors.New("audio: chunk decode failure")
	ErrDeviceFailure = errors.New("audio: output device failure")
)

// Player is the output-device boundary of the playback scheduler.
//
// Implementations must be safe for concurrent use: Play is called from the
// scheduler goroutine while Stop may be called from a flush.
type Player interface {
	// Play schedules pcm (little-endian PCM16 mono) to begin at start on the
	// playback clock. The returned channel, when non-nil, is closed by the
	// device once the unit has finished playing. Devices without a completion
	// notification return a nil channel; the scheduler then falls back to a
	// timer fired shortly before the unit's end.
	Play(start time.Time, pcm []byte) (done <-chan struct{}, err error)

	// Stop cancels whatever is currently scheduled or playing.
	Stop()
}

// DefaultLookahead is how long before a unit's computed end the fallback
// completion timer fires, absorbing scheduling jitter on devices that give no
// done signal.
const DefaultLookahead = 50 * time.Millisecond

// SchedulerConfig carries the per-adapter playback tunables.
type SchedulerConfig struct {
	// SampleRate of the provider's output audio in Hz. Required.
	SampleRate int

	// MinChunksBeforeStart is the queue depth required before playback of a
	// turn begins. Some providers need a couple of buffered chunks to avoid
	// audible gaps; others can start on the first. Default 1.
	MinChunksBeforeStart int

	// CombineChunks merges up to N queued chunks into one scheduled unit to
	// reduce per-unit overhead. Default 1 (no combining).
	CombineChunks int

	// Lookahead overrides [DefaultLookahead] for the fallback completion timer.
	Lookahead time.Duration

	// Now overrides the playback clock. Defaults to [time.Now]. Tests use a
	// fake clock to pin scheduling decisions.
	Now func() time.Time
}

// Scheduler is the jitter buffer: an ordered per-turn queue of [Chunk] values
// and a monotonic next-play cursor on the playback clock. Chunks are enqueued
// by the adapter receive path and consumed by a single internal goroutine that
// schedules back-to-back units on the [Player] — no gaps, no overlap.
//
// The queue and cursor are owned exclusively by the run goroutine; producers
// communicate through channels only. Exactly one producer (Enqueue/Flush
// caller) is supported.
type Scheduler struct {
	player Player
	cfg    SchedulerConfig

	in      chan Chunk
	flushCh chan struct{}
	fatal   chan error

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewScheduler creates a Scheduler playing through player and starts its run
// goroutine. Call [Scheduler.Close] to stop it.
func NewScheduler(player Player, cfg SchedulerConfig) *Scheduler {
	if cfg.MinChunksBeforeStart < 1 {
		cfg.MinChunksBeforeStart = 1
	}
	if cfg.CombineChunks < 1 {
		cfg.CombineChunks = 1
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultLookahead
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Scheduler{
		player:  player,
		cfg:     cfg,
		in:      make(chan Chunk, 64),
		flushCh: make(chan struct{}),
		fatal:   make(chan error, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue hands a chunk to the playback queue. It blocks only if the internal
// buffer is full and the scheduler is still draining it.
func (s *Scheduler) Enqueue(c Chunk) {
	select {
	case s.in <- c:
	case <-s.done:
	}
}

// Flush discards every queued chunk of the current turn, stops whatever is
// currently scheduled, and resets the play cursor so the next turn starts a
// fresh timeline. Flushing an empty queue is a no-op, not an error.
func (s *Scheduler) Flush() {
	select {
	case s.flushCh <- struct{}{}:
	case <-s.done:
	}
}

// Fatal returns a channel that receives the first unrecoverable device error.
// The scheduler stops after emitting it.
func (s *Scheduler) Fatal() <-chan error { return s.fatal }

// Close stops the run goroutine and the player. Idempotent.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.stopped
		s.player.Stop()
	})
	return nil
}

// run is the single consumer of the queue. It owns all scheduling state:
// the pending chunk slice, the playing flag, and the nextPlay cursor.
func (s *Scheduler) run() {
	defer close(s.stopped)

	var (
		queue    []Chunk
		playing  bool
		nextPlay time.Time // zero means unset: first unit of a turn starts now
	)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	flush := func() {
		s.player.Stop()
		queue = nil
		playing = false
		nextPlay = time.Time{}
	}

	for {
		if playing && len(queue) > 0 {
			// Assemble the next unit from up to CombineChunks queued chunks,
			// dropping only chunks that fail to decode.
			n := min(s.cfg.CombineChunks, len(queue))
			var pcm []byte
			for _, c := range queue[:n] {
				data, err := decodePCM16(c.PCM)
				if err != nil {
					continue
				}
				pcm = append(pcm, data...)
			}
			queue = queue[n:]
			if len(pcm) == 0 {
				continue
			}

			now := s.cfg.Now()
			start := nextPlay
			if start.IsZero() || start.Before(now) {
				start = now
			}
			dur := PCM16Duration(len(pcm), s.cfg.SampleRate)

			doneCh, err := s.player.Play(start, pcm)
			if err != nil {
				select {
				case s.fatal <- fmt.Errorf("playback: %w: %v", ErrDeviceFailure, err):
				default:
				}
				return
			}
			// Back-to-back: the next unit begins exactly where this one ends.
			nextPlay = start.Add(dur)

			var timerC <-chan time.Time
			if doneCh == nil {
				wait := nextPlay.Sub(s.cfg.Now()) - s.cfg.Lookahead
				if wait < 0 {
					wait = 0
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(wait)
				timerC = timer.C
			}

			waiting := true
			for waiting {
				select {
				case <-s.done:
					return
				case c := <-s.in:
					queue = append(queue, c)
				case <-s.flushCh:
					flush()
					waiting = false
				case <-doneCh:
					waiting = false
				case <-timerC:
					waiting = false
				}
			}
			continue
		}

		// Queue drained (or below the start threshold): wait for work.
		playing = false
		select {
		case <-s.done:
			return
		case c := <-s.in:
			queue = append(queue, c)
			if len(queue) >= s.cfg.MinChunksBeforeStart {
				playing = true
			}
		case <-s.flushCh:
			flush()
		}
	}
}

// decodePCM16 validates a wire chunk before scheduling. Empty or odd-length
// payloads cannot be int16 PCM.
func decodePCM16(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrDecodeFailure, len(b))
	}
	return b, nil
}
