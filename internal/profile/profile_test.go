package profile_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxwire/voxbridge/internal/profile"
	"github.com/voxwire/voxbridge/pkg/realtime"
)

func TestStaticStoreLookup(t *testing.T) {
	store := profile.NewStaticStore(map[string]realtime.Profile{
		"concierge": {Voice: "alloy", Instructions: "Be helpful."},
	})

	p, err := store.Lookup(context.Background(), "concierge")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p.Voice != "alloy" {
		t.Errorf("voice = %q", p.Voice)
	}

	if _, err := store.Lookup(context.Background(), "missing"); !errors.Is(err, profile.ErrNotFound) {
		t.Errorf("error %v, want ErrNotFound", err)
	}
}

func TestStaticStoreSet(t *testing.T) {
	store := profile.NewStaticStore(nil)
	store.Set("late", realtime.Profile{Voice: "verse"})

	p, err := store.Lookup(context.Background(), "late")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p.Voice != "verse" {
		t.Errorf("voice = %q", p.Voice)
	}
}

func TestStaticStoreCopiesInput(t *testing.T) {
	src := map[string]realtime.Profile{"a": {Voice: "alloy"}}
	store := profile.NewStaticStore(src)
	src["a"] = realtime.Profile{Voice: "mutated"}

	p, err := store.Lookup(context.Background(), "a")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p.Voice != "alloy" {
		t.Error("store shares backing map with caller")
	}
}

func TestHTTPStoreLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/profiles/concierge" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-realtime-preview",
			"voice": "verse",
			"instructions": "Front desk agent.",
			"greeting": "Good evening!",
			"language": "en",
			"vad": {"threshold": 0.7, "prefix_padding_ms": 200, "silence_duration_ms": 400},
			"temperature": 0.9,
			"max_response_output_tokens": 2048
		}`))
	}))
	defer srv.Close()

	store := profile.NewHTTPStore(srv.URL)
	p, err := store.Lookup(context.Background(), "concierge")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p.Voice != "verse" || p.Greeting != "Good evening!" {
		t.Errorf("profile %+v", p)
	}
	if p.VAD.Threshold != 0.7 || p.VAD.SilenceDurationMS != 400 {
		t.Errorf("vad %+v", p.VAD)
	}
	if p.MaxResponseOutputTokens != 2048 {
		t.Errorf("max tokens = %d", p.MaxResponseOutputTokens)
	}
}

func TestHTTPStoreNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	if _, err := profile.NewHTTPStore(srv.URL).Lookup(context.Background(), "ghost"); !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("error %v, want ErrNotFound", err)
	}
}

func TestMerge(t *testing.T) {
	base := realtime.Profile{
		Key:              "sk-1",
		BaseURL:          "wss://provider.example",
		Model:            "base-model",
		Voice:            "alloy",
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
		RatePerMinute:    0.30,
	}
	overlay := realtime.Profile{
		Voice:        "verse",
		Instructions: "Overlay instructions.",
		VAD:          realtime.VADParams{Threshold: 0.8},
	}

	got := profile.Merge(base, overlay)
	if got.Voice != "verse" || got.Instructions != "Overlay instructions." {
		t.Errorf("overlay fields not applied: %+v", got)
	}
	if got.Model != "base-model" {
		t.Errorf("empty overlay model clobbered base: %q", got.Model)
	}
	if got.Key != "sk-1" || got.BaseURL != "wss://provider.example" {
		t.Error("transport fields must come from base")
	}
	if got.InputSampleRate != 16000 || got.RatePerMinute != 0.30 {
		t.Error("billing and audio parameters must come from base")
	}
	if got.VAD.Threshold != 0.8 {
		t.Errorf("vad overlay not applied: %+v", got.VAD)
	}
}
