// Package deepgram implements the realtime.Provider interface for the
// Deepgram Voice Agent API.
//
// Authentication rides in the WebSocket subprotocol pair ("token", key).
// Control traffic is JSON text messages; audio travels as raw binary PCM16 in
// both directions, with no per-message metadata. The connection is configured
// with a single Settings message and must be kept alive with KeepAlive
// messages when no audio is flowing. Teardown sends EndSession before closing
// the transport so the provider flushes any pending synthesis.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxwire/voxbridge/pkg/audio"
	"github.com/voxwire/voxbridge/pkg/realtime"
)

var (
	_ realtime.Provider      = (*Provider)(nil)
	_ realtime.SessionHandle = (*session)(nil)
)

const (
	defaultBaseURL = "wss://agent.deepgram.com/v1/agent/converse"

	eventBuf = 64

	// audioQueueSize bounds the outbound audio queue consumed by writeLoop.
	// At 20 ms per frame this is about 2.5 s of backlog before SendFrame
	// reports backpressure.
	audioQueueSize = 128
)

// DefaultProfile returns the static configuration for a Voice Agent session:
// 16 kHz caller audio in, 24 kHz agent audio out, raw binary framing, a
// KeepAlive every 5 seconds. The per-minute rate is a client-local estimate.
func DefaultProfile() realtime.Profile {
	return realtime.Profile{
		Model:              "gpt-4o-mini",
		Voice:              "aura-2-thalia-en",
		TranscriptionModel: "nova-3",
		InputSampleRate:    16000,
		OutputSampleRate:   24000,
		Framing:            realtime.FramingBinary,
		KeepaliveRequired:  true,
		KeepaliveInterval:  5 * time.Second,
		RatePerMinute:      0.08,
		// Agent audio arrives in large contiguous chunks; playback can start
		// on the first one.
		MinChunksBeforeStart: 1,
		CombineChunks:        1,
	}
}

// Provider implements realtime.Provider for the Deepgram Voice Agent API.
type Provider struct{}

// New creates a new Voice Agent Provider.
func New() *Provider { return &Provider{} }

// Connect establishes the WebSocket transport with token-subprotocol auth and
// starts the read and write loops.
func (p *Provider) Connect(ctx context.Context, profile realtime.Profile) (realtime.SessionHandle, error) {
	baseURL := profile.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	conn, resp, err := websocket.Dial(ctx, baseURL, &websocket.DialOptions{
		Subprotocols: []string{"token", profile.Key},
	})
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, fmt.Errorf("deepgram: dial: %w", realtime.ErrAuthFailure)
			case http.StatusBadRequest, http.StatusUpgradeRequired:
				return nil, fmt.Errorf("deepgram: dial: %w", realtime.ErrProtocolMismatch)
			}
		}
		return nil, fmt.Errorf("deepgram: dial: %w: %w", realtime.ErrNetworkUnreachable, err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		profile:  profile,
		events:   make(chan realtime.Event, eventBuf),
		audioOut: make(chan []byte, audioQueueSize),
		done:     make(chan struct{}),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	sess.wg.Add(1)
	go sess.readLoop()
	go sess.writeLoop()

	return sess, nil
}

// ── Protocol message types ─────────────────────────────────────────────────────

type settingsMessage struct {
	Type  string         `json:"type"`
	Audio audioSettings  `json:"audio"`
	Agent agentSettings  `json:"agent"`
}

type audioSettings struct {
	Input  audioFormat `json:"input"`
	Output audioFormat `json:"output"`
}

type audioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container,omitempty"`
}

type agentSettings struct {
	Listen   listenSettings `json:"listen"`
	Think    thinkSettings  `json:"think"`
	Speak    speakSettings  `json:"speak"`
	Greeting string         `json:"greeting,omitempty"`
}

type listenSettings struct {
	Provider providerSpec `json:"provider"`
}

type speakSettings struct {
	Provider providerSpec `json:"provider"`
}

type thinkSettings struct {
	Provider  providerSpec     `json:"provider"`
	Prompt    string           `json:"prompt,omitempty"`
	Functions []map[string]any `json:"functions"`
}

type providerSpec struct {
	Type  string `json:"type"`
	Model string `json:"model,omitempty"`
}

type controlMessage struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type        string `json:"type"`
	Role        string `json:"role,omitempty"`        // ConversationText
	Content     string `json:"content,omitempty"`     // ConversationText
	Description string `json:"description,omitempty"` // Error
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn    *websocket.Conn
	profile realtime.Profile
	events  chan realtime.Event

	audioOut chan []byte
	done     chan struct{}
	wg       sync.WaitGroup // writeLoop only; readLoop retires with the events channel

	closeOnce sync.Once
	closeErr  error

	mu     sync.Mutex
	errVal error

	// turn/turnOpen are only touched by readLoop.
	turn     int
	turnOpen bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Configure sends the Settings message carrying audio formats and the
// listen/think/speak pipeline. The provider answers with SettingsApplied.
func (s *session) Configure(ctx context.Context) error {
	p := s.profile
	msg := settingsMessage{
		Type: "Settings",
		Audio: audioSettings{
			Input: audioFormat{
				Encoding:   "linear16",
				SampleRate: p.InputSampleRate,
			},
			Output: audioFormat{
				Encoding:   "linear16",
				SampleRate: p.OutputSampleRate,
				Container:  "none",
			},
		},
		Agent: agentSettings{
			Listen: listenSettings{
				Provider: providerSpec{Type: "deepgram", Model: p.TranscriptionModel},
			},
			Think: thinkSettings{
				Provider:  providerSpec{Type: "open_ai", Model: p.Model},
				Prompt:    p.Instructions,
				Functions: []map[string]any{},
			},
			Speak: speakSettings{
				Provider: providerSpec{Type: "deepgram", Model: p.Voice},
			},
			Greeting: p.Greeting,
		},
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		return fmt.Errorf("deepgram: settings: %w", err)
	}
	return nil
}

// SendFrame queues the frame's PCM16 payload for the write loop, which ships
// it as a raw binary message. A full queue means the provider is not keeping
// up; the frame is dropped rather than blocking capture.
func (s *session) SendFrame(frame audio.Frame) error {
	select {
	case <-s.done:
		return fmt.Errorf("deepgram: send frame: %w", realtime.ErrSessionClosed)
	default:
	}

	select {
	case s.audioOut <- frame.Data:
		return nil
	case <-s.done:
		return fmt.Errorf("deepgram: send frame: %w", realtime.ErrSessionClosed)
	default:
		return fmt.Errorf("deepgram: audio queue full, frame %d dropped", frame.Seq)
	}
}

// Keepalive sends the KeepAlive control message. The provider tears down idle
// connections that skip it.
func (s *session) Keepalive(ctx context.Context) error {
	select {
	case <-s.done:
		return fmt.Errorf("deepgram: keepalive: %w", realtime.ErrSessionClosed)
	default:
	}
	if err := s.writeJSON(ctx, controlMessage{Type: "KeepAlive"}); err != nil {
		return fmt.Errorf("deepgram: keepalive: %w", err)
	}
	return nil
}

// Events returns the normalized event stream.
func (s *session) Events() <-chan realtime.Event { return s.events }

// Err returns the error that terminated the session, if any.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close sends EndSession so the provider flushes pending synthesis, then
// closes the transport. Idempotent. Close waits for the write loop only: the
// read loop still owes the caller the terminal EventClosed, so waiting on it
// here would deadlock against a consumer that drains after Close.
func (s *session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)

		// Best effort: the connection may already be gone.
		if err := s.writeJSON(ctx, controlMessage{Type: "EndSession"}); err != nil {
			s.closeErr = fmt.Errorf("deepgram: end session: %w", err)
		}

		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session ended")
		s.wg.Wait()
	})
	return s.closeErr
}

func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// writeLoop ships queued caller audio as binary messages. Running writes on a
// single goroutine keeps binary frames from interleaving with control
// messages mid-write.
func (s *session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case pcm := <-s.audioOut:
			if err := s.conn.Write(s.ctx, websocket.MessageBinary, pcm); err != nil {
				select {
				case <-s.done:
				default:
					s.setErr(fmt.Errorf("deepgram: write audio: %w", err))
				}
				return
			}
		}
	}
}

// readLoop reads provider messages and dispatches normalized events. Binary
// messages are agent audio; text messages are JSON control traffic. The final
// event is always EventClosed, after which the channel is closed.
func (s *session) readLoop() {
	defer close(s.events)

	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			select {
			case <-s.done:
				s.emitFinal(realtime.Event{Kind: realtime.EventClosed, Clean: true})
				return
			default:
			}
			reason, clean := realtime.NormalizeClose(err)
			if !clean {
				s.setErr(fmt.Errorf("deepgram: %s", reason))
			}
			s.emitFinal(realtime.Event{Kind: realtime.EventClosed, Reason: reason, Clean: clean})
			return
		}

		if typ == websocket.MessageBinary {
			if len(data) == 0 {
				continue
			}
			if !s.turnOpen {
				s.turn++
				s.turnOpen = true
			}
			pcm := make([]byte, len(data))
			copy(pcm, data)
			s.emit(realtime.Event{Kind: realtime.EventAudioChunk, Audio: pcm, Turn: s.turn})
			continue
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.handleServerMessage(&msg)
	}
}

func (s *session) handleServerMessage(msg *serverMessage) {
	switch msg.Type {
	case "Welcome":
		s.emit(realtime.Event{Kind: realtime.EventReady})

	case "SettingsApplied":
		s.emit(realtime.Event{Kind: realtime.EventConfigAcked})

	case "ConversationText":
		if msg.Content == "" {
			return
		}
		role := msg.Role
		if role == "" {
			role = "assistant"
		}
		s.emit(realtime.Event{
			Kind: realtime.EventTranscriptFinal,
			Role: role,
			Text: msg.Content,
			Turn: s.turn,
		})

	case "UserStartedSpeaking":
		// Barge-in: any audio still in flight belongs to a dead turn.
		s.turnOpen = false
		s.emit(realtime.Event{Kind: realtime.EventSpeechStarted})

	case "AgentStartedSpeaking":
		// Informational; the turn opens on the first binary chunk.

	case "AgentAudioDone":
		s.turnOpen = false

	case "Error":
		desc := msg.Description
		if desc == "" {
			desc = "unknown error"
		}
		s.emit(realtime.Event{
			Kind: realtime.EventProtocolError,
			Err:  fmt.Errorf("deepgram: %s", desc),
		})
	}
}

func (s *session) emit(evt realtime.Event) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

// emitFinal delivers the terminal EventClosed. The send must not race
// ctx.Done(): on a client-initiated close the context is already cancelled,
// yet the contract promises EventClosed as the last event before the channel
// closes. The consumer drains the channel through close, so a plain send
// cannot block indefinitely.
func (s *session) emitFinal(evt realtime.Event) {
	s.events <- evt
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}
