// Command voxbridge runs one voice session against a conversational AI
// provider: it streams captured audio up, plays agent audio back gaplessly,
// and settles the session cost when the call ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxwire/voxbridge/internal/bridge"
	"github.com/voxwire/voxbridge/internal/config"
	"github.com/voxwire/voxbridge/internal/credential"
	"github.com/voxwire/voxbridge/internal/ledger"
	"github.com/voxwire/voxbridge/internal/observe"
	"github.com/voxwire/voxbridge/internal/profile"
	"github.com/voxwire/voxbridge/pkg/audio"
	"github.com/voxwire/voxbridge/pkg/realtime"
	"github.com/voxwire/voxbridge/pkg/realtime/deepgram"
	"github.com/voxwire/voxbridge/pkg/realtime/openai"
)

func main() {
	if err := run(); err != nil {
		slog.Error("voxbridge exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "voxbridge.yaml", "path to the YAML configuration file")
	agentName := flag.String("agent", "", "agent profile to use (default: first configured agent)")
	inputPath := flag.String("in", "", "raw PCM16 input file (overrides audio.input_path)")
	outputPath := flag.String("out", "", "WAV output file (overrides audio.output_path)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	setupLogging(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxbridge"})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()
	metrics := observe.DefaultMetrics()

	if cfg.Server.MetricsAddr != "" {
		go serveMetrics(cfg.Server.MetricsAddr, metrics)
	}

	registry := config.NewRegistry()
	registry.Register("openai-realtime", func() (realtime.Provider, realtime.Profile) {
		return openai.New(), openai.DefaultProfile()
	})
	registry.Register("deepgram-agent", func() (realtime.Provider, realtime.Profile) {
		return deepgram.New(), deepgram.DefaultProfile()
	})

	provider, prof, err := registry.Create(cfg.Provider)
	if err != nil {
		return err
	}

	// Credentials: prefer a short-lived key from the issuance service.
	if cfg.Credentials.ServiceURL != "" {
		grant, err := credential.NewClient(cfg.Credentials.ServiceURL).Issue(ctx, cfg.Provider.Name)
		if err != nil {
			return fmt.Errorf("issue credential: %w", err)
		}
		prof.Key = grant.Key
		slog.Info("using ephemeral credential", slog.Time("expires_at", grant.ExpiresAt))
	}
	if prof.Key == "" {
		return errors.New("no provider credential available; set provider.api_key or credentials.service_url")
	}

	overlay, err := resolveAgent(ctx, cfg, *agentName)
	if err != nil {
		return err
	}
	prof = profile.Merge(prof, overlay)

	if cfg.Billing.RatePerMinute > 0 {
		prof.RatePerMinute = cfg.Billing.RatePerMinute
	}

	source, player, cleanup, err := openAudio(cfg.Audio, *inputPath, *outputPath, prof)
	if err != nil {
		return err
	}
	defer cleanup()

	var settle ledger.Ledger
	if cfg.Billing.LedgerURL != "" {
		settle = ledger.NewClient(cfg.Billing.LedgerURL)
	}

	session := bridge.NewSession(bridge.Config{
		Provider:     provider,
		ProviderName: cfg.Provider.Name,
		Profile:      prof,
		Source:       source,
		Player:       player,
		Ledger:       settle,
		Metrics:      metrics,
		Logger:       slog.Default(),
	})

	// A signal requests a graceful drain rather than tearing the process down
	// mid-call.
	go func() {
		<-ctx.Done()
		session.Disconnect()
	}()

	slog.Info("starting session",
		slog.String("session_id", session.ID()),
		slog.String("provider", cfg.Provider.Name),
		slog.String("model", prof.Model))

	result, runErr := session.Run(context.Background())

	slog.Info("session finished",
		slog.String("session_id", result.SessionID),
		slog.Duration("duration", result.EndedAt.Sub(result.StartedAt)),
		slog.Float64("cost", result.Cost),
		slog.String("close_reason", result.CloseReason),
		slog.Bool("clean", result.Clean),
		slog.Int("utterances", len(result.Transcript)))

	if cfg.Billing.PostgresDSN != "" {
		if err := archive(cfg.Billing.PostgresDSN, cfg.Provider.Name, prof.Model, result); err != nil {
			slog.Warn("archiving session failed", slog.String("error", err.Error()))
		}
	}

	return runErr
}

// resolveAgent picks the agent profile overlay: from the remote profile
// service when configured, otherwise from the agents section of the config.
func resolveAgent(ctx context.Context, cfg *config.Config, name string) (realtime.Profile, error) {
	if cfg.Profiles.ServiceURL != "" {
		if name == "" {
			name = "default"
		}
		return profile.NewHTTPStore(cfg.Profiles.ServiceURL).Lookup(ctx, name)
	}

	if len(cfg.Agents) == 0 {
		return realtime.Profile{}, nil
	}
	if name == "" {
		name = cfg.Agents[0].Name
	}
	profiles := make(map[string]realtime.Profile, len(cfg.Agents))
	for _, a := range cfg.Agents {
		profiles[a.Name] = a.Profile()
	}
	return profile.NewStaticStore(profiles).Lookup(ctx, name)
}

// openAudio builds the capture source and playback sink from file paths.
func openAudio(cfg config.AudioConfig, inOverride, outOverride string, prof realtime.Profile) (audio.Source, audio.Player, func(), error) {
	inPath := cfg.InputPath
	if inOverride != "" {
		inPath = inOverride
	}
	outPath := cfg.OutputPath
	if outOverride != "" {
		outPath = outOverride
	}
	if inPath == "" || outPath == "" {
		return nil, nil, nil, errors.New("audio input and output paths are required")
	}

	frameMS := cfg.FrameMS
	if frameMS == 0 {
		frameMS = 20
	}

	in, err := os.Open(inPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open input: %w", err)
	}
	out, err := os.Create(outPath)
	if err != nil {
		in.Close()
		return nil, nil, nil, fmt.Errorf("create output: %w", err)
	}

	source := audio.NewFileSource(in, prof.InputSampleRate, time.Duration(frameMS)*time.Millisecond)
	sink := audio.NewWAVSink(out, prof.OutputSampleRate)

	cleanup := func() {
		if err := sink.Close(); err != nil {
			slog.Warn("writing output failed", slog.String("error", err.Error()))
		}
		out.Close()
		in.Close()
	}
	return source, sink, cleanup, nil
}

// archive stores the completed session and its transcript in Postgres.
func archive(dsn, providerName, model string, result bridge.Result) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := ledger.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if err := store.SaveSession(ctx, ledger.SessionRecord{
		ID:          result.SessionID,
		Provider:    providerName,
		Model:       model,
		StartedAt:   result.StartedAt,
		EndedAt:     result.EndedAt,
		Cost:        result.Cost,
		CloseReason: result.CloseReason,
		Clean:       result.Clean,
	}); err != nil {
		return err
	}

	recs := make([]ledger.TranscriptRecord, 0, len(result.Transcript))
	for _, t := range result.Transcript {
		recs = append(recs, ledger.TranscriptRecord{
			SessionID: result.SessionID,
			Role:      t.Role,
			Text:      t.Text,
			Turn:      t.Turn,
			SpokenAt:  t.Timestamp,
		})
	}
	return store.SaveTranscripts(ctx, recs)
}

func setupLogging(level config.LogLevel) {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func serveMetrics(addr string, metrics *observe.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	handler := observe.Middleware(metrics)(mux)
	slog.Info("metrics server listening", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, handler); err != nil {
		slog.Error("metrics server failed", slog.String("error", err.Error()))
	}
}
