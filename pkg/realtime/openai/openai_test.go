package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxwire/voxbridge/pkg/audio"
	"github.com/voxwire/voxbridge/pkg/realtime"
	"github.com/voxwire/voxbridge/pkg/realtime/openai"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted conn. The server is automatically closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// nextEvent waits for the next event or fails the test.
func nextEvent(t *testing.T, events <-chan realtime.Event) realtime.Event {
	t.Helper()
	select {
	case evt, ok := <-events:
		if !ok {
			t.Fatal("event stream closed unexpectedly")
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return realtime.Event{}
}

// nextEventOfKind skips events until one of the wanted kind arrives.
func nextEventOfKind(t *testing.T, events <-chan realtime.Event, kind realtime.EventKind) realtime.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed before %s", kind)
			}
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func testProfile(srv *httptest.Server) realtime.Profile {
	p := openai.DefaultProfile()
	p.BaseURL = wsURL(srv)
	p.Key = "test-key"
	return p
}

func TestConnectConfigureLifecycle(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		// Auth rides in the offered subprotocols.
		if !strings.Contains(r.Header.Get("Sec-WebSocket-Protocol"), "auth.test-key") {
			t.Error("auth subprotocol not offered")
		}

		writeJSON(t, conn, map[string]any{"type": "session.created"})

		var update struct {
			Type    string `json:"type"`
			Session struct {
				InputAudioFormat  string `json:"input_audio_format"`
				OutputAudioFormat string `json:"output_audio_format"`
				Voice             string `json:"voice"`
				TurnDetection     struct {
					Type           string `json:"type"`
					CreateResponse bool   `json:"create_response"`
				} `json:"turn_detection"`
			} `json:"session"`
		}
		readJSON(t, conn, &update)
		if update.Type != "session.update" {
			t.Errorf("expected session.update, got %q", update.Type)
		}
		if update.Session.InputAudioFormat != "pcm16" || update.Session.OutputAudioFormat != "pcm16" {
			t.Errorf("audio formats %q/%q, want pcm16/pcm16",
				update.Session.InputAudioFormat, update.Session.OutputAudioFormat)
		}
		if update.Session.TurnDetection.Type != "server_vad" || !update.Session.TurnDetection.CreateResponse {
			t.Error("turn detection must be server_vad with create_response")
		}

		writeJSON(t, conn, map[string]any{"type": "session.updated"})
	})

	p := openai.New()
	handle, err := p.Connect(context.Background(), testProfile(srv))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close(context.Background())

	if evt := nextEvent(t, handle.Events()); evt.Kind != realtime.EventReady {
		t.Fatalf("first event %s, want ready", evt.Kind)
	}
	if err := handle.Configure(context.Background()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if evt := nextEvent(t, handle.Events()); evt.Kind != realtime.EventConfigAcked {
		t.Fatalf("expected config ack, got %s", evt.Kind)
	}

	evt := nextEventOfKind(t, handle.Events(), realtime.EventClosed)
	if !evt.Clean {
		t.Errorf("normal closure reported unclean (reason %q)", evt.Reason)
	}
	if err := handle.Err(); err != nil {
		t.Errorf("clean session reports error: %v", err)
	}
}

func TestConversationFlow(t *testing.T) {
	pcm1 := []byte{1, 0, 2, 0}
	pcm2 := []byte{3, 0, 4, 0}

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "session.created"})
		var update map[string]any
		readJSON(t, conn, &update)
		writeJSON(t, conn, map[string]any{"type": "session.updated"})

		// First agent turn: audio plus transcript.
		writeJSON(t, conn, map[string]any{
			"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString(pcm1),
		})
		writeJSON(t, conn, map[string]any{
			"type": "response.audio_transcript.delta", "delta": "Hel",
		})
		writeJSON(t, conn, map[string]any{
			"type": "response.audio_transcript.done", "transcript": "Hello there.",
		})
		writeJSON(t, conn, map[string]any{"type": "response.done"})

		// Caller speaks, gets transcribed.
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_stopped"})
		writeJSON(t, conn, map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "Hi!",
		})

		// Second agent turn.
		writeJSON(t, conn, map[string]any{
			"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString(pcm2),
		})
	})

	handle, err := openai.New().Connect(context.Background(), testProfile(srv))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close(context.Background())
	events := handle.Events()

	nextEventOfKind(t, events, realtime.EventReady)
	if err := handle.Configure(context.Background()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	nextEventOfKind(t, events, realtime.EventConfigAcked)

	chunk := nextEventOfKind(t, events, realtime.EventAudioChunk)
	if chunk.Turn != 1 {
		t.Errorf("first audio chunk turn %d, want 1", chunk.Turn)
	}
	if string(chunk.Audio) != string(pcm1) {
		t.Error("first chunk audio does not match decoded base64 payload")
	}

	partial := nextEventOfKind(t, events, realtime.EventTranscriptPartial)
	if partial.Role != "assistant" || partial.Text != "Hel" {
		t.Errorf("partial transcript %q/%q, want assistant/Hel", partial.Role, partial.Text)
	}
	final := nextEventOfKind(t, events, realtime.EventTranscriptFinal)
	if final.Role != "assistant" || final.Text != "Hello there." {
		t.Errorf("final transcript %q/%q", final.Role, final.Text)
	}

	nextEventOfKind(t, events, realtime.EventSpeechStarted)
	nextEventOfKind(t, events, realtime.EventSpeechStopped)

	userFinal := nextEventOfKind(t, events, realtime.EventTranscriptFinal)
	if userFinal.Role != "user" || userFinal.Text != "Hi!" {
		t.Errorf("user transcript %q/%q", userFinal.Role, userFinal.Text)
	}

	chunk2 := nextEventOfKind(t, events, realtime.EventAudioChunk)
	if chunk2.Turn != 2 {
		t.Errorf("post-response.done audio chunk turn %d, want 2", chunk2.Turn)
	}
}

func TestSendFrame(t *testing.T) {
	frameData := []byte{0x10, 0x20, 0x30, 0x40}
	received := make(chan []byte, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "session.created"})
		var msg struct {
			Type  string `json:"type"`
			Audio string `json:"audio"`
		}
		readJSON(t, conn, &msg)
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("expected input_audio_buffer.append, got %q", msg.Type)
		}
		decoded, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			t.Errorf("audio payload is not base64: %v", err)
		}
		received <- decoded
	})

	handle, err := openai.New().Connect(context.Background(), testProfile(srv))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close(context.Background())
	nextEventOfKind(t, handle.Events(), realtime.EventReady)

	if err := handle.SendFrame(audio.Frame{Data: frameData, Seq: 1}); err != nil {
		t.Fatalf("send frame: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(frameData) {
			t.Errorf("server received %v, want %v", got, frameData)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestKeepaliveUnsupported(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "session.created"})
	})

	handle, err := openai.New().Connect(context.Background(), testProfile(srv))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close(context.Background())

	if err := handle.Keepalive(context.Background()); !errors.Is(err, realtime.ErrKeepaliveUnsupported) {
		t.Fatalf("keepalive error %v, want ErrKeepaliveUnsupported", err)
	}
}

func TestDialAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p := openai.DefaultProfile()
	p.BaseURL = wsURL(srv)
	p.Key = "bad-key"

	_, err := openai.New().Connect(context.Background(), p)
	if !errors.Is(err, realtime.ErrAuthFailure) {
		t.Fatalf("connect error %v, want ErrAuthFailure", err)
	}
}

func TestDialNetworkUnreachable(t *testing.T) {
	p := openai.DefaultProfile()
	p.BaseURL = "ws://127.0.0.1:1" // nothing listens here
	p.Key = "k"

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := openai.New().Connect(ctx, p)
	if !errors.Is(err, realtime.ErrNetworkUnreachable) {
		t.Fatalf("connect error %v, want ErrNetworkUnreachable", err)
	}
}

func TestProtocolErrorEvent(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "session.created"})
		writeJSON(t, conn, map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "invalid_request_error", "message": "bad session"},
		})
	})

	handle, err := openai.New().Connect(context.Background(), testProfile(srv))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close(context.Background())

	evt := nextEventOfKind(t, handle.Events(), realtime.EventProtocolError)
	if evt.Err == nil || !strings.Contains(evt.Err.Error(), "bad session") {
		t.Errorf("protocol error %v, want provider message surfaced", evt.Err)
	}
}

func TestAbnormalClose(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "session.created"})
		conn.Close(websocket.StatusInternalError, "provider exploded")
	})

	handle, err := openai.New().Connect(context.Background(), testProfile(srv))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer handle.Close(context.Background())
	events := handle.Events()

	nextEventOfKind(t, events, realtime.EventReady)
	closed := nextEventOfKind(t, events, realtime.EventClosed)
	if closed.Clean {
		t.Error("abnormal close reported clean")
	}
	if closed.Reason == "" {
		t.Error("abnormal close carries no reason")
	}
	if handle.Err() == nil {
		t.Error("abnormal close leaves Err nil")
	}
}

func TestCloseIdempotent(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "session.created"})
		// Hold the connection open until the client closes.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		conn.Read(ctx)
	})

	handle, err := openai.New().Connect(context.Background(), testProfile(srv))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := handle.Close(context.Background()); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := handle.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := handle.SendFrame(audio.Frame{Data: []byte{0, 0}}); !errors.Is(err, realtime.ErrSessionClosed) {
		t.Fatalf("send after close %v, want ErrSessionClosed", err)
	}
}

func TestCloseDeliversFinalEvent(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "session.created"})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	// The terminal event must survive the close-side context cancellation
	// every time, not just when the scheduler favours the send.
	for i := 0; i < 20; i++ {
		handle, err := openai.New().Connect(context.Background(), testProfile(srv))
		if err != nil {
			t.Fatalf("iteration %d: connect: %v", i, err)
		}
		nextEventOfKind(t, handle.Events(), realtime.EventReady)

		if err := handle.Close(context.Background()); err != nil {
			t.Fatalf("iteration %d: close: %v", i, err)
		}

		var last realtime.Event
		seen := false
		for evt := range handle.Events() {
			last = evt
			seen = true
		}
		if !seen || last.Kind != realtime.EventClosed {
			t.Fatalf("iteration %d: final event %v, want EventClosed", i, last.Kind)
		}
		if !last.Clean {
			t.Fatalf("iteration %d: client-initiated close reported unclean", i)
		}
	}
}
