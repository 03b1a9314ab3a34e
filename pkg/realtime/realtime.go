// Package realtime defines the Provider interface for conversational voice-AI
// backends that speak a duplex realtime protocol.
//
// A provider wraps one vendor's wire protocol — framing, auth, and control
// messages differ per vendor — and normalizes it into a common session
// lifecycle: connect, configure, stream audio frames out, and consume a single
// ordered [Event] stream in. Adding a vendor means adding one package that
// implements [Provider] and [SessionHandle]; nothing outside it changes.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"
	"time"

	"github.com/voxwire/voxbridge/pkg/audio"
)

// Framing describes how a provider carries audio on the wire.
type Framing int

const (
	// FramingJSONBase64 wraps audio in JSON control messages as base64 PCM16.
	FramingJSONBase64 Framing = iota

	// FramingBinary sends raw binary PCM16 frames with no envelope.
	FramingBinary
)

// String returns the human-readable name of the framing kind.
func (f Framing) String() string {
	switch f {
	case FramingJSONBase64:
		return "json-base64"
	case FramingBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// VADParams configures the provider's server-side voice activity detection.
type VADParams struct {
	Threshold         float64 `yaml:"threshold" json:"threshold"`
	PrefixPaddingMS   int     `yaml:"prefix_padding_ms" json:"prefix_padding_ms"`
	SilenceDurationMS int     `yaml:"silence_duration_ms" json:"silence_duration_ms"`
}

// Profile is the static per-provider configuration of a session: audio rates
// and framing, agent parameters, keepalive and billing behaviour. Sensible
// defaults come from each provider package's DefaultProfile; the agent-profile
// store overlays model, voice, instructions, and VAD parameters.
type Profile struct {
	// Key authenticates the connection. Typically a short-lived key from the
	// credential-issuance endpoint rather than a long-lived API key.
	Key string

	// BaseURL overrides the provider's default endpoint. Used by tests to
	// point at a local mock server.
	BaseURL string

	Model        string
	Voice        string
	Instructions string
	Greeting     string
	Language     string

	// TranscriptionModel selects the input-transcription model where the
	// provider supports one.
	TranscriptionModel string

	VAD VADParams

	MaxResponseOutputTokens int
	Temperature             float64

	// InputSampleRate and OutputSampleRate are in Hz.
	InputSampleRate  int
	OutputSampleRate int

	Framing Framing

	// KeepaliveRequired marks protocols that drop idle connections unless the
	// client sends periodic liveness pings.
	KeepaliveRequired bool
	KeepaliveInterval time.Duration

	// RatePerMinute is the client-local cost estimate in USD per minute of
	// connected time. The billing ledger's finalized figure is authoritative.
	RatePerMinute float64

	// Playback tunables, forwarded to the jitter buffer.
	MinChunksBeforeStart int
	CombineChunks        int
}

// EventKind classifies normalized provider events.
type EventKind int

const (
	// EventReady: the provider signalled the connection is established and
	// ready to be configured.
	EventReady EventKind = iota

	// EventConfigAcked: the provider accepted the session configuration.
	EventConfigAcked

	// EventTranscriptPartial carries an interim transcript fragment.
	EventTranscriptPartial

	// EventTranscriptFinal carries a completed transcript for one utterance.
	EventTranscriptFinal

	// EventAudioChunk carries one decoded PCM16 playback chunk.
	EventAudioChunk

	// EventSpeechStarted: the caller began speaking (barge-in trigger).
	EventSpeechStarted

	// EventSpeechStopped: the caller stopped speaking.
	EventSpeechStopped

	// EventProtocolError carries a non-fatal provider-reported error.
	EventProtocolError

	// EventClosed: the transport closed. Always the final event.
	EventClosed
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventConfigAcked:
		return "config-acked"
	case EventTranscriptPartial:
		return "transcript-partial"
	case EventTranscriptFinal:
		return "transcript-final"
	case EventAudioChunk:
		return "audio-chunk"
	case EventSpeechStarted:
		return "speech-started"
	case EventSpeechStopped:
		return "speech-stopped"
	case EventProtocolError:
		return "protocol-error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one normalized occurrence on a session. Only the fields relevant to
// the Kind are populated.
type Event struct {
	Kind EventKind

	// Audio is decoded little-endian PCM16 (EventAudioChunk).
	Audio []byte

	// Turn identifies the agent response the audio or transcript belongs to.
	Turn int

	// Role is "user" or "assistant" (transcript events).
	Role string

	// Text is the transcript content (transcript events).
	Text string

	// Err describes a provider-reported failure (EventProtocolError).
	Err error

	// Reason is the close reason text (EventClosed).
	Reason string

	// Clean reports whether the close was a normal closure (EventClosed).
	Clean bool
}

// SessionHandle represents one open provider session.
//
// The handle is the hot path of the bridge: SendFrame must not block on
// anything but the transport write, and the Events channel must be drained
// promptly. Events is closed when the session ends; the final event before
// close is always EventClosed. All methods are safe for concurrent use.
type SessionHandle interface {
	// Configure sends the provider's session/settings control message. Only
	// safe to call after EventReady has been observed.
	Configure(ctx context.Context) error

	// SendFrame encodes and transmits one captured audio frame. Backpressure
	// is the transport's concern, not the adapter's.
	SendFrame(frame audio.Frame) error

	// Keepalive emits one liveness ping. Providers whose protocol has no ping
	// return [ErrKeepaliveUnsupported].
	Keepalive(ctx context.Context) error

	// Events returns the normalized event stream. Closed when the session
	// ends; check [SessionHandle.Err] afterwards.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil after a clean
	// shutdown.
	Err() error

	// Close performs the provider-specific graceful shutdown (some protocols
	// require an explicit end-of-session control message first) and then
	// closes the transport. Idempotent.
	Close(ctx context.Context) error
}

// Provider is the abstraction over one vendor's realtime voice protocol.
type Provider interface {
	// Connect establishes the transport for a new session using profile. The
	// returned handle emits EventReady once the provider signals readiness;
	// only then may Configure be called. The caller owns the handle and must
	// call Close.
	Connect(ctx context.Context, profile Profile) (SessionHandle, error)
}
