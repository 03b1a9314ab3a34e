// Package profile resolves named session profiles. A profile bundles the
// model, voice, instructions, and audio parameters for one agent persona;
// profiles can come from local configuration or a remote profile service.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/voxwire/voxbridge/pkg/realtime"
)

// ErrNotFound reports that no profile exists under the requested name.
var ErrNotFound = errors.New("profile not found")

// Store resolves profile names to session profiles.
type Store interface {
	Lookup(ctx context.Context, name string) (realtime.Profile, error)
}

// StaticStore serves profiles from an in-memory map, typically built from the
// configuration file.
type StaticStore struct {
	mu       sync.RWMutex
	profiles map[string]realtime.Profile
}

var _ Store = (*StaticStore)(nil)

// NewStaticStore creates a store over the given profiles. The map is copied.
func NewStaticStore(profiles map[string]realtime.Profile) *StaticStore {
	cp := make(map[string]realtime.Profile, len(profiles))
	for k, v := range profiles {
		cp[k] = v
	}
	return &StaticStore{profiles: cp}
}

// Lookup returns the named profile.
func (s *StaticStore) Lookup(_ context.Context, name string) (realtime.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[name]
	if !ok {
		return realtime.Profile{}, fmt.Errorf("profile %q: %w", name, ErrNotFound)
	}
	return p, nil
}

// Set adds or replaces a profile.
func (s *StaticStore) Set(name string, p realtime.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[name] = p
}

// HTTPStore resolves profiles from a remote profile service.
type HTTPStore struct {
	baseURL string
	http    *http.Client
}

var _ Store = (*HTTPStore)(nil)

// NewHTTPStore creates a store backed by the service at baseURL.
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// profileDoc is the wire form served by the profile service. It carries only
// the agent-facing subset; transport and framing parameters stay with the
// provider defaults.
type profileDoc struct {
	Model              string             `json:"model"`
	Voice              string             `json:"voice"`
	Instructions       string             `json:"instructions"`
	Greeting           string             `json:"greeting"`
	Language           string             `json:"language"`
	TranscriptionModel string             `json:"transcription_model"`
	VAD                *realtime.VADParams `json:"vad,omitempty"`
	Temperature        float64            `json:"temperature"`
	MaxResponseTokens  int                `json:"max_response_output_tokens"`
}

// Lookup fetches the named profile. A 404 maps to ErrNotFound. The result
// holds only the agent-facing fields; merge it onto a provider default with
// Merge.
func (s *HTTPStore) Lookup(ctx context.Context, name string) (realtime.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/v1/profiles/"+url.PathEscape(name), nil)
	if err != nil {
		return realtime.Profile{}, fmt.Errorf("profile: build request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return realtime.Profile{}, fmt.Errorf("profile: lookup %q: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return realtime.Profile{}, fmt.Errorf("profile %q: %w", name, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return realtime.Profile{}, fmt.Errorf("profile: lookup %q: unexpected status %d", name, resp.StatusCode)
	}

	var doc profileDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return realtime.Profile{}, fmt.Errorf("profile: decode %q: %w", name, err)
	}
	p := realtime.Profile{
		Model:              doc.Model,
		Voice:              doc.Voice,
		Instructions:       doc.Instructions,
		Greeting:           doc.Greeting,
		Language:           doc.Language,
		TranscriptionModel: doc.TranscriptionModel,
		Temperature:        doc.Temperature,
	}
	p.MaxResponseOutputTokens = doc.MaxResponseTokens
	if doc.VAD != nil {
		p.VAD = *doc.VAD
	}
	return p, nil
}

// Merge overlays the non-zero agent-facing fields of overlay onto base.
// Transport, framing, and billing parameters always come from base.
func Merge(base, overlay realtime.Profile) realtime.Profile {
	out := base
	if overlay.Model != "" {
		out.Model = overlay.Model
	}
	if overlay.Voice != "" {
		out.Voice = overlay.Voice
	}
	if overlay.Instructions != "" {
		out.Instructions = overlay.Instructions
	}
	if overlay.Greeting != "" {
		out.Greeting = overlay.Greeting
	}
	if overlay.Language != "" {
		out.Language = overlay.Language
	}
	if overlay.TranscriptionModel != "" {
		out.TranscriptionModel = overlay.TranscriptionModel
	}
	if overlay.Temperature != 0 {
		out.Temperature = overlay.Temperature
	}
	if overlay.MaxResponseOutputTokens != 0 {
		out.MaxResponseOutputTokens = overlay.MaxResponseOutputTokens
	}
	if overlay.VAD != (realtime.VADParams{}) {
		out.VAD = overlay.VAD
	}
	return out
}
