// Package openai implements the realtime.Provider interface for the OpenAI
// Realtime API.
//
// The connection is a WebSocket advertising the realtime subprotocols with the
// ephemeral key embedded ("auth.<key>"). All traffic is JSON: outbound audio
// travels as base64-encoded PCM16 in input_audio_buffer.append events, inbound
// audio as response.audio.delta events. Session parameters are applied with a
// single session.update message once the provider has signalled readiness via
// session.created.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxwire/voxbridge/pkg/audio"
	"github.com/voxwire/voxbridge/pkg/realtime"
)

// Compile-time assertions that Provider and session satisfy the realtime
// interfaces.
var (
	_ realtime.Provider      = (*Provider)(nil)
	_ realtime.SessionHandle = (*session)(nil)
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// eventBuf is the buffer depth of the normalized event channel. Audio
	// deltas dominate the stream; the consumer must drain promptly anyway.
	eventBuf = 64
)

// DefaultProfile returns the static configuration for an OpenAI realtime
// session: 24 kHz PCM16 both ways, JSON/base64 framing, no keepalive. The
// per-minute rate is a client-local estimate only.
func DefaultProfile() realtime.Profile {
	return realtime.Profile{
		Model:              defaultModel,
		Voice:              "alloy",
		TranscriptionModel: "whisper-1",
		Language:           "en",
		VAD: realtime.VADParams{
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 500,
		},
		MaxResponseOutputTokens: 4096,
		Temperature:             0.8,
		InputSampleRate:         24000,
		OutputSampleRate:        24000,
		Framing:                 realtime.FramingJSONBase64,
		KeepaliveRequired:       false,
		RatePerMinute:           0.30,
		// Two buffered chunks before starting playback avoids audible gaps on
		// this provider's small deltas.
		MinChunksBeforeStart: 2,
		CombineChunks:        2,
	}
}

// Provider implements realtime.Provider for the OpenAI Realtime API.
type Provider struct{}

// New creates a new OpenAI realtime Provider.
func New() *Provider { return &Provider{} }

// Connect establishes the WebSocket transport. The key and endpoint come from
// the profile; auth travels in the subprotocol list.
func (p *Provider) Connect(ctx context.Context, profile realtime.Profile) (realtime.SessionHandle, error) {
	baseURL := profile.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := profile.Model
	if model == "" {
		model = defaultModel
	}
	wsURL := fmt.Sprintf("%s?model=%s", baseURL, model)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{"realtime", "auth." + profile.Key, "beta.realtime-v1"},
	})
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, fmt.Errorf("openai: dial: %w", realtime.ErrAuthFailure)
			case http.StatusBadRequest, http.StatusUpgradeRequired:
				return nil, fmt.Errorf("openai: dial: %w", realtime.ErrProtocolMismatch)
			}
		}
		return nil, fmt.Errorf("openai: dial: %w: %w", realtime.ErrNetworkUnreachable, err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:    conn,
		profile: profile,
		events:  make(chan realtime.Event, eventBuf),
		ctx:     sessCtx,
		cancel:  sessCancel,
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string            `json:"modalities"`
	Instructions            string              `json:"instructions,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *transcriptionSpec  `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetectionSpec  `json:"turn_detection,omitempty"`
	Tools                   []map[string]any    `json:"tools"`
	MaxResponseOutputTokens int                 `json:"max_response_output_tokens,omitempty"`
	Temperature             float64             `json:"temperature,omitempty"`
}

type transcriptionSpec struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type turnDetectionSpec struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// serverErrorDetail is the nested error object in an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed /
	// response.audio_transcript.done
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn    *websocket.Conn
	profile realtime.Profile
	events  chan realtime.Event

	mu     sync.Mutex
	errVal error
	closed bool

	// turn/turnOpen are only touched by receiveLoop.
	turn     int
	turnOpen bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Configure sends the session.update control message carrying voice,
// instructions, audio formats, transcription, and server-VAD parameters. If a
// greeting is configured, a response trigger follows so the agent speaks
// first.
func (s *session) Configure(ctx context.Context) error {
	p := s.profile
	params := sessionParams{
		Modalities:        []string{"text", "audio"},
		Instructions:      p.Instructions,
		Voice:             p.Voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		Tools:             []map[string]any{},
		TurnDetection: &turnDetectionSpec{
			Type:              "server_vad",
			Threshold:         p.VAD.Threshold,
			PrefixPaddingMS:   p.VAD.PrefixPaddingMS,
			SilenceDurationMS: p.VAD.SilenceDurationMS,
			CreateResponse:    true,
		},
		MaxResponseOutputTokens: p.MaxResponseOutputTokens,
		Temperature:             p.Temperature,
	}
	if p.TranscriptionModel != "" {
		params.InputAudioTranscription = &transcriptionSpec{
			Model:    p.TranscriptionModel,
			Language: p.Language,
		}
	}
	if err := s.writeJSON(ctx, sessionUpdateMessage{Type: "session.update", Session: params}); err != nil {
		return fmt.Errorf("openai: session update: %w", err)
	}

	if p.Greeting != "" {
		trigger := map[string]any{
			"type": "response.create",
			"response": map[string]any{
				"instructions": p.Greeting,
			},
		}
		if err := s.writeJSON(ctx, trigger); err != nil {
			return fmt.Errorf("openai: greeting trigger: %w", err)
		}
	}
	return nil
}

// SendFrame encodes the frame as base64 PCM16 and appends it to the provider's
// input audio buffer.
func (s *session) SendFrame(frame audio.Frame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: send frame: %w", realtime.ErrSessionClosed)
	}
	s.mu.Unlock()

	return s.writeJSON(s.ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(frame.Data),
	})
}

// Keepalive is not part of the OpenAI realtime protocol.
func (s *session) Keepalive(context.Context) error {
	return fmt.Errorf("openai: %w", realtime.ErrKeepaliveUnsupported)
}

// Events returns the normalized event stream.
func (s *session) Events() <-chan realtime.Event { return s.events }

// Err returns the error that terminated the session, if any.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session. The protocol has no end-of-session control
// message; the transport is closed directly. Idempotent.
func (s *session) Close(context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads provider events from the WebSocket and dispatches them as
// normalized events. It owns the events channel: the final event is always
// EventClosed, after which the channel is closed.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				s.emitFinal(realtime.Event{Kind: realtime.EventClosed, Clean: true})
				return
			}
			reason, clean := realtime.NormalizeClose(err)
			if !clean {
				s.setErr(fmt.Errorf("openai: %s", reason))
			}
			s.emitFinal(realtime.Event{Kind: realtime.EventClosed, Reason: reason, Clean: clean})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "session.created":
		s.emit(realtime.Event{Kind: realtime.EventReady})

	case "session.updated":
		s.emit(realtime.Event{Kind: realtime.EventConfigAcked})

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		if !s.turnOpen {
			s.turn++
			s.turnOpen = true
		}
		s.emit(realtime.Event{Kind: realtime.EventAudioChunk, Audio: pcm, Turn: s.turn})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.emit(realtime.Event{
			Kind: realtime.EventTranscriptPartial,
			Role: "assistant",
			Text: evt.Delta,
			Turn: s.turn,
		})

	case "response.audio_transcript.done":
		if evt.Transcript == "" {
			return
		}
		s.emit(realtime.Event{
			Kind: realtime.EventTranscriptFinal,
			Role: "assistant",
			Text: evt.Transcript,
			Turn: s.turn,
		})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.emit(realtime.Event{
			Kind: realtime.EventTranscriptFinal,
			Role: "user",
			Text: evt.Transcript,
			Turn: s.turn,
		})

	case "input_audio_buffer.speech_started":
		// Caller barged in: whatever turn was playing is over.
		s.turnOpen = false
		s.emit(realtime.Event{Kind: realtime.EventSpeechStarted})

	case "input_audio_buffer.speech_stopped":
		s.emit(realtime.Event{Kind: realtime.EventSpeechStopped})

	case "response.done":
		s.turnOpen = false

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.emit(realtime.Event{
			Kind: realtime.EventProtocolError,
			Err:  fmt.Errorf("openai: %s", msg),
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
