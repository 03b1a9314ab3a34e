// Package bridge runs voice sessions: it owns the session lifecycle from
// credential to settled cost, wiring a capture source and playback sink to one
// provider connection and consuming the provider's event stream.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/voxwire/voxbridge/internal/ledger"
	"github.com/voxwire/voxbridge/internal/observe"
	"github.com/voxwire/voxbridge/pkg/audio"
	"github.com/voxwire/voxbridge/pkg/realtime"
)

// State is the lifecycle phase of a session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConfiguring
	StateActive
	StateClosing
	StateClosed
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConfiguring:
		return "configuring"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrNotReady reports that the provider did not reach the expected lifecycle
// phase within the handshake timeout.
var ErrNotReady = errors.New("provider not ready")

// defaultReadyTimeout bounds the connect and configure handshake phases.
const defaultReadyTimeout = 10 * time.Second

// costSampleInterval is how often the live cost estimate advances.
const costSampleInterval = time.Second

// Config assembles the collaborators of one session.
type Config struct {
	Provider     realtime.Provider
	ProviderName string
	Profile      realtime.Profile

	Source audio.Source
	Player audio.Player

	// Ledger settles the final cost. Nil means the local estimate stands.
	Ledger ledger.Ledger

	// Metrics is optional; nil disables instrumentation.
	Metrics *observe.Metrics

	Logger *slog.Logger

	// ReadyTimeout bounds each handshake phase. Zero means the default.
	ReadyTimeout time.Duration

	// Now is the clock, injectable for tests. Nil means time.Now.
	Now func() time.Time
}

// Result is the settled outcome of a completed session.
type Result struct {
	SessionID   string
	Provider    string
	StartedAt   time.Time
	EndedAt     time.Time
	Cost        float64
	CloseReason string
	Clean       bool
	Transcript  []TranscriptEntry
}

// Session drives one voice conversation end to end. Create with NewSession,
// run with Run; Disconnect and SetMuted may be called from any goroutine
// while Run is in flight.
type Session struct {
	id  string
	cfg Config
	log *slog.Logger
	now func() time.Time

	meter      *CostMeter
	transcript *Transcript
	pipeline   *audio.Pipeline

	mu    sync.Mutex
	state State

	disconnect     chan struct{}
	disconnectOnce sync.Once

	// set during Run
	handle    realtime.SessionHandle
	scheduler *audio.Scheduler
}

// NewSession creates a session in StateIdle.
func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	id := uuid.NewString()
	s := &Session{
		id:         id,
		cfg:        cfg,
		log:        cfg.Logger.With(slog.String("session_id", id), slog.String("provider", cfg.ProviderName)),
		now:        now,
		meter:      NewCostMeter(cfg.Profile.RatePerMinute, now),
		transcript: &Transcript{},
		disconnect: make(chan struct{}),
	}
	s.pipeline = audio.NewPipeline(cfg.Source, s.forwardFrame)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Info("session state", slog.String("from", prev.String()), slog.String("to", st.String()))
	}
}

// Disconnect requests a graceful shutdown. Safe to call from any goroutine;
// subsequent calls are no-ops.
func (s *Session) Disconnect() {
	s.disconnectOnce.Do(func() { close(s.disconnect) })
}

// SetMuted toggles capture muting. Muted frames are dropped before they reach
// the provider.
func (s *Session) SetMuted(muted bool) {
	s.pipeline.SetMuted(muted)
}

// Live returns the running cost estimate in USD.
func (s *Session) Live() float64 { return s.meter.Current() }

// Transcript returns the finalized utterances recorded so far.
func (s *Session) Transcript() []TranscriptEntry { return s.transcript.Entries() }

// Run executes the full session lifecycle: connect, configure, stream until
// the provider closes or Disconnect is called, then settle the cost. It
// always returns a Result; the error reports an abnormal ending.
func (s *Session) Run(ctx context.Context) (Result, error) {
	startedAt := s.now()

	res, err := s.run(ctx)
	res.SessionID = s.id
	res.Provider = s.cfg.ProviderName
	res.StartedAt = startedAt
	res.EndedAt = s.now()
	res.Transcript = s.transcript.Entries()

	if s.cfg.Metrics != nil {
		outcome := "clean"
		if err != nil {
			outcome = "failed"
		}
		attrs := metric.WithAttributes(
			attribute.String("provider", s.cfg.ProviderName),
			attribute.String("outcome", outcome),
		)
		s.cfg.Metrics.SessionDuration.Record(ctx, res.EndedAt.Sub(res.StartedAt).Seconds(), attrs)
		s.cfg.Metrics.SessionCost.Add(ctx, res.Cost,
			metric.WithAttributes(attribute.String("provider", s.cfg.ProviderName)))
	}
	if err != nil {
		s.setState(StateFailed)
		return res, err
	}
	s.setState(StateClosed)
	return res, nil
}

func (s *Session) run(ctx context.Context) (Result, error) {
	var res Result

	timeout := s.cfg.ReadyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}

	s.setState(StateConnecting)
	handle, err := s.cfg.Provider.Connect(ctx, s.cfg.Profile)
	if err != nil {
		return res, fmt.Errorf("bridge: connect: %w", err)
	}
	s.handle = handle
	defer func() {
		handle.Close(context.Background())
		audio.Drain(handle.Events())
	}()

	events := handle.Events()

	if err := s.waitFor(ctx, events, realtime.EventReady, timeout); err != nil {
		return res, fmt.Errorf("bridge: waiting for ready: %w", err)
	}

	s.setState(StateConfiguring)
	if err := handle.Configure(ctx); err != nil {
		return res, fmt.Errorf("bridge: configure: %w", err)
	}
	if err := s.waitFor(ctx, events, realtime.EventConfigAcked, timeout); err != nil {
		return res, fmt.Errorf("bridge: waiting for config ack: %w", err)
	}

	s.setState(StateActive)
	s.meter.Start()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
		defer s.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	}

	scheduler := audio.NewScheduler(s.cfg.Player, audio.SchedulerConfig{
		SampleRate:           s.cfg.Profile.OutputSampleRate,
		MinChunksBeforeStart: s.cfg.Profile.MinChunksBeforeStart,
		CombineChunks:        s.cfg.Profile.CombineChunks,
		Now:                  s.now,
	})
	s.scheduler = scheduler
	defer scheduler.Close()

	groupCtx, cancelGroup := context.WithCancel(ctx)
	defer cancelGroup()

	g, gctx := errgroup.WithContext(groupCtx)
	g.Go(func() error { return s.pipeline.Run(gctx) })
	g.Go(func() error {
		s.meter.Run(gctx, costSampleInterval)
		return nil
	})
	if s.cfg.Profile.KeepaliveRequired {
		g.Go(func() error {
			// A failed ping means the transport is gone; stop the timer and
			// let the read side report the close.
			if err := runKeepalive(gctx, handle, s.cfg.Profile.KeepaliveInterval); err != nil {
				s.log.Warn("keepalive stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	res, loopErr := s.eventLoop(ctx, gctx, cancelGroup, events, scheduler)

	// Stop the senders before settling. A send that raced the close is not an
	// error in its own right; the close itself arrives on the event stream.
	cancelGroup()
	if err := g.Wait(); err != nil && loopErr == nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, realtime.ErrSessionClosed) {
		loopErr = fmt.Errorf("bridge: %w", err)
	}

	res.Cost = s.settle(loopErr == nil && res.Clean)
	return res, loopErr
}

// eventLoop consumes the provider event stream until it closes, a disconnect
// is requested, or playback fails. groupCtx ends when a sender goroutine
// fails; that also ends the session. stopSenders cancels the capture,
// keepalive, and cost-sampling goroutines.
func (s *Session) eventLoop(ctx, groupCtx context.Context, stopSenders func(), events <-chan realtime.Event, scheduler *audio.Scheduler) (Result, error) {
	var res Result
	var loopErr error
	draining := false

	// Nilled out after firing so a closed channel cannot spin the select.
	disconnect := s.disconnect
	groupDone := groupCtx.Done()

	beginDrain := func(reason string) {
		if draining {
			return
		}
		draining = true
		s.setState(StateClosing)
		s.log.Info("disconnecting", slog.String("reason", reason))
		// The senders stop before the transport closes so no capture frame
		// hits a closed handle mid-drain.
		stopSenders()
		// Graceful close lets the provider flush pending synthesis; the
		// event stream ends with EventClosed.
		if err := s.handle.Close(ctx); err != nil {
			s.log.Warn("graceful close failed", slog.String("error", err.Error()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			beginDrain("context cancelled")
			res.Clean = true
			res.CloseReason = "cancelled"
			return res, nil

		case <-groupDone:
			groupDone = nil
			if ctx.Err() == nil {
				beginDrain("sender failed")
			}

		case <-disconnect:
			disconnect = nil
			beginDrain("disconnect requested")

		case err := <-scheduler.Fatal():
			s.log.Error("playback failed", slog.String("error", err.Error()))
			loopErr = fmt.Errorf("bridge: playback: %w", err)
			beginDrain("playback failure")

		case evt, ok := <-events:
			if !ok {
				if !res.Clean && res.CloseReason == "" {
					res.CloseReason = "stream ended"
				}
				if err := s.handle.Err(); err != nil && loopErr == nil && !draining {
					loopErr = fmt.Errorf("bridge: session: %w", err)
				}
				return res, loopErr
			}
			if done := s.handleEvent(ctx, evt, scheduler, &res); done {
				return res, loopErr
			}
		}
	}
}

// handleEvent dispatches one provider event. Returns true when the session is
// over.
func (s *Session) handleEvent(ctx context.Context, evt realtime.Event, scheduler *audio.Scheduler, res *Result) bool {
	switch evt.Kind {
	case realtime.EventAudioChunk:
		scheduler.Enqueue(audio.Chunk{PCM: evt.Audio, Turn: evt.Turn})
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ChunksReceived.Add(ctx, 1,
				metric.WithAttributes(attribute.String("provider", s.cfg.ProviderName)))
		}

	case realtime.EventSpeechStarted:
		// Barge-in: the caller takes the floor, pending playback is stale.
		scheduler.Flush()
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.BargeIns.Add(ctx, 1)
		}
		s.log.Debug("barge-in, playback flushed")

	case realtime.EventSpeechStopped:
		s.log.Debug("caller speech ended")

	case realtime.EventTranscriptPartial:
		s.log.Debug("transcript partial",
			slog.String("role", evt.Role), slog.String("text", evt.Text))

	case realtime.EventTranscriptFinal:
		s.transcript.Append(TranscriptEntry{
			Role:      evt.Role,
			Text:      evt.Text,
			Turn:      evt.Turn,
			Timestamp: s.now(),
		})
		s.log.Info("transcript",
			slog.String("role", evt.Role),
			slog.Int("turn", evt.Turn),
			slog.String("text", evt.Text))

	case realtime.EventProtocolError:
		s.log.Warn("provider error", slog.String("error", evt.Err.Error()))
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ProviderErrors.Add(ctx, 1,
				metric.WithAttributes(attribute.String("provider", s.cfg.ProviderName)))
		}

	case realtime.EventClosed:
		res.CloseReason = evt.Reason
		res.Clean = evt.Clean
	}
	return false
}

// forwardFrame ships one captured frame to the provider.
func (s *Session) forwardFrame(f audio.Frame) error {
	if err := s.handle.SendFrame(f); err != nil {
		if errors.Is(err, realtime.ErrSessionClosed) {
			return err
		}
		// Transient send failures (e.g. backpressure drops) are logged, not
		// fatal to capture.
		s.log.Warn("frame send failed", slog.Uint64("seq", f.Seq), slog.String("error", err.Error()))
		return nil
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.FramesSent.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("provider", s.cfg.ProviderName)))
	}
	return nil
}

// settle freezes the meter and reconciles with the ledger. The ledger amount
// is authoritative when available; on repeated ledger failure the local
// estimate stands and the discrepancy is logged.
func (s *Session) settle(clean bool) float64 {
	estimate, elapsed := s.meter.Finalize()
	s.log.Info("session cost",
		slog.Duration("elapsed", elapsed),
		slog.Float64("estimate", estimate),
		slog.Bool("clean", clean))

	if s.cfg.Ledger == nil {
		return estimate
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cost := ledger.Cost{
		SessionID: s.id,
		Provider:  s.cfg.ProviderName,
		Elapsed:   elapsed,
		Estimate:  estimate,
	}
	amount, err := s.cfg.Ledger.Finalize(ctx, cost)
	if errors.Is(err, ledger.ErrUnavailable) {
		amount, err = s.cfg.Ledger.Finalize(ctx, cost)
	}
	if err != nil {
		s.log.Warn("ledger finalize failed, keeping local estimate",
			slog.Float64("estimate", estimate), slog.String("error", err.Error()))
		return estimate
	}
	return amount
}

// waitFor consumes events until the wanted kind arrives. Protocol errors and
// stream closure during a handshake phase are fatal.
func (s *Session) waitFor(ctx context.Context, events <-chan realtime.Event, want realtime.EventKind, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: no %s within %s", ErrNotReady, want, timeout)
		case evt, ok := <-events:
			if !ok {
				if err := s.handle.Err(); err != nil {
					return err
				}
				return fmt.Errorf("%w: stream closed before %s", ErrNotReady, want)
			}
			switch evt.Kind {
			case want:
				return nil
			case realtime.EventProtocolError:
				return fmt.Errorf("%w: %w", realtime.ErrRejectedByProvider, evt.Err)
			case realtime.EventClosed:
				if err := s.handle.Err(); err != nil {
					return err
				}
				return fmt.Errorf("%w: closed before %s: %s", ErrNotReady, want, evt.Reason)
			default:
				s.log.Debug("event before handshake complete", slog.String("kind", evt.Kind.String()))
			}
		}
	}
}
