// Package engine wires the capability runtimes, turn controller,
// playback queue, and transports into a running voice chat loop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/voxloop/voxloop/pkg/ack"
	"github.com/voxloop/voxloop/pkg/adapters/tts"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/config"
	"github.com/voxloop/voxloop/pkg/frames"
	"github.com/voxloop/voxloop/pkg/logging"
	"github.com/voxloop/voxloop/pkg/metrics"
	"github.com/voxloop/voxloop/pkg/playback"
	"github.com/voxloop/voxloop/pkg/providers/say"
	"github.com/voxloop/voxloop/pkg/redact"
	"github.com/voxloop/voxloop/pkg/resilience"
	"github.com/voxloop/voxloop/pkg/runner"
	"github.com/voxloop/voxloop/pkg/status"
	"github.com/voxloop/voxloop/pkg/transports"
	"github.com/voxloop/voxloop/pkg/turn"
)

type Engine struct {
	cfg        config.Config
	providers  *ProviderRegistry
	transport  transports.Transport
	registry   *SessionRegistry
	runner     *runner.LifecycleRunner
	asyncObs   *metrics.AsyncObserver
	timeline   *status.TimelineObserver
	metricsLog *os.File
	reporter   status.Reporter
	device     playback.Device
	fallback   tts.Speaker
	acks       *ack.Cache
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

type Options struct {
	Config    config.Config
	Providers *ProviderRegistry
	// Transport overrides the config-selected transport. Used by
	// tests and embedders with their own I/O boundary.
	Transport transports.Transport
	// Device overrides the system audio device.
	Device playback.Device
	// Fallback overrides the native speech fallback. Left nil, the
	// platform speech command is used when present.
	Fallback tts.Speaker
	// Reporters are appended to the default logging reporter.
	Reporters []status.Reporter
	// Observers are appended to the default observer chain.
	Observers []metrics.Observer
	Logger    *slog.Logger
}

func NewEngine(opts Options) (*Engine, error) {
	cfg := opts.Config

	logger := opts.Logger
	if logger == nil {
		logger = logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
		slog.SetDefault(logger)
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	logger.Info("voxloop_init",
		"environment", cfg.Environment,
		"mode", cfg.Mode,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"transport", cfg.Transports.Provider,
	)

	latencyObs := status.NewLatencyObserver(logger)
	var logObs metrics.Observer = status.NewLoggerObserver(logger)
	if rate := cfg.Observability.SampleRate; rate > 0 && rate < 1 {
		logObs = metrics.NewSamplingObserver(logObs, rate)
	}
	obsList := []metrics.Observer{latencyObs, logObs}
	var metricsLog *os.File
	if path := strings.TrimSpace(cfg.Observability.MetricsLog); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Warn("metrics log disabled", "path", path, "error", err)
		} else {
			metricsLog = f
			obsList = append(obsList, metrics.NewJSONLObserver(f))
		}
	}
	var timelineObs *status.TimelineObserver
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		if cfg.Observability.RetentionDays > 0 {
			_, _ = status.PurgeArtifacts(dir, time.Duration(cfg.Observability.RetentionDays)*24*time.Hour)
		}
		timelineObs = status.NewTimelineObserver(dir)
		obsList = append(obsList, timelineObs)
	}
	obsList = append(obsList, opts.Observers...)
	asyncObs := metrics.NewAsyncObserver(status.NewMultiObserver(obsList...), 2048)

	reporters := append([]status.Reporter{status.NewLoggerReporter(logger)}, opts.Reporters...)
	reporter := status.NewMultiReporter(reporters...)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultRegistry()
	}

	transport := opts.Transport
	if transport == nil {
		var err error
		transport, err = providers.BuildTransport(cfg.Transports.Provider, cfg)
		if err != nil {
			return nil, err
		}
	}

	fallback := opts.Fallback
	if fallback == nil {
		if sp := say.New(say.Config{}); sp.Available() {
			fallback = sp
		}
	}

	e := &Engine{
		cfg:        cfg,
		providers:  providers,
		transport:  transport,
		asyncObs:   asyncObs,
		timeline:   timelineObs,
		metricsLog: metricsLog,
		reporter:   reporter,
		device:     opts.Device,
		fallback:   fallback,
		logger:     logger,
	}

	e.registry = NewSessionRegistry(func(ctx context.Context, sessionID string) (*Session, error) {
		return e.buildSession(ctx, sessionID)
	})

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "Voxloop Engine Ready"}
			if rr, ok := transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			logger.Info("engine_ready", fields...)
		},
		OnStop: func() {
			logger.Info("shutdown",
				"goroutines", runtime.NumGoroutine(),
				"active_sessions", e.registry.Count(),
			)
		},
	}
	e.runner = runner.NewLifecycleRunner(runner.DrainerFunc(e.Drain), hooks, 30*time.Second)

	return e, nil
}

// buildSession assembles the per-session collaborators from the
// provider registry and hands them to a fresh event loop.
func (e *Engine) buildSession(ctx context.Context, sessionID string) (*Session, error) {
	audioIn := audio.NewPipe(64)
	recog, err := e.providers.BuildSTT(e.cfg.Vendors.STT.Provider, e.cfg, sessionID, audioIn)
	if err != nil {
		return nil, err
	}
	synth, err := e.providers.BuildTTS(e.cfg.Vendors.TTS.Provider, e.cfg, sessionID)
	if err != nil {
		return nil, err
	}
	gen, err := e.providers.BuildLLM(e.cfg.Vendors.LLM.Provider, e.cfg)
	if err != nil {
		return nil, err
	}

	ctrl := turn.NewController(turn.ParseMode(e.cfg.Mode))
	var sess *Session
	queue := playback.NewQueue(playback.Config{
		Synthesizer: synth,
		Fallback:    e.fallback,
		Device:      e.device,
		Options:     e.synthOptions(),
		SessionID:   sessionID,
		OnDrained: func() {
			sess.post(sessionEvent{kind: evDrained})
		},
		OnError: func(err error) {
			sess.post(sessionEvent{kind: evPlaybackError, err: err})
		},
		Observer: e.asyncObs,
		Logger:   e.logger,
	})

	sess = newSession(ctx, sessionID, sessionDeps{
		cfg:      e.cfg,
		recog:    recog,
		gen:      gen,
		acks:     e.acks,
		ctrl:     ctrl,
		queue:    queue,
		audioIn:  audioIn,
		breaker:  resilience.NewCircuitBreaker(3, 30*time.Second),
		reporter: e.reporter,
		obs:      e.asyncObs,
		send:     func(f frames.Frame) { _ = e.transport.Send(f) },
		logger:   e.logger,
	})
	return sess, nil
}

func (e *Engine) synthOptions() tts.Options {
	return tts.Options{
		Language:   e.cfg.Speech.Language,
		VoiceStyle: e.cfg.Speech.VoiceStyle,
		Steps:      e.cfg.Speech.Steps,
		Speed:      e.cfg.Speech.Speed,
		SilencePad: time.Duration(e.cfg.Speech.SilencePadMS) * time.Millisecond,
	}
}

// Start brings the engine up: audio device, acknowledgment prebake,
// transport, and the frame router.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.ctx, e.cancel = context.WithCancel(ctx)

	if e.device == nil {
		dev, err := playback.NewOtoDevice(e.cfg.Speech.SampleRate, 1, e.logger)
		if err != nil {
			return fmt.Errorf("audio device: %w", err)
		}
		e.device = dev
	}

	if e.cfg.Ack.Enabled {
		e.prebakeAcks(e.ctx)
	}

	if err := e.transport.Start(e.ctx); err != nil {
		return err
	}
	go e.routeTransport(e.ctx)
	go func() {
		_ = e.runner.Run(e.ctx)
	}()
	return nil
}

// prebakeAcks synthesizes the filler phrases once at startup. Failure
// is not fatal; turns simply run without latency masking.
func (e *Engine) prebakeAcks(ctx context.Context) {
	synth, err := e.providers.BuildTTS(e.cfg.Vendors.TTS.Provider, e.cfg, "prebake")
	if err != nil {
		e.logger.Warn("acknowledgment prebake skipped", "error", err)
		return
	}
	bakeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cache, err := ack.Prebake(bakeCtx, synth, e.cfg.Ack.Phrases, e.synthOptions(), e.logger)
	if err != nil {
		e.logger.Warn("acknowledgment prebake failed", "error", err)
		return
	}
	e.acks = cache
}

func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

// Drain stops accepting new sessions, closes the open ones, and
// flushes the observers.
func (e *Engine) Drain() error {
	if e.transport != nil {
		_ = e.transport.Stop()
	}
	e.registry.SetDraining(true)
	e.registry.CloseAll()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.registry.WaitForEmpty(ctx, 100*time.Millisecond)
	if e.asyncObs != nil {
		e.asyncObs.Close()
	}
	if e.timeline != nil {
		_ = e.timeline.Close()
	}
	if e.metricsLog != nil {
		_ = e.metricsLog.Close()
	}
	if e.device != nil {
		_ = e.device.Close()
	}
	return nil
}

// routeTransport dispatches inbound frames to their session loops.
func (e *Engine) routeTransport(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-e.transport.Recv():
			if !ok {
				return
			}
			sessionID := f.Meta()[frames.MetaSessionID]
			if sessionID == "" {
				continue
			}
			switch fr := f.(type) {
			case frames.SystemFrame:
				switch fr.Name() {
				case frames.SystemSessionStart:
					if _, _, err := e.registry.GetOrCreate(sessionID); err != nil {
						e.logger.Error("session create failed", "session_id", sessionID, "error", err)
					}
				case frames.SystemSessionEnd:
					e.registry.Remove(sessionID)
				}
			case frames.AudioFrame:
				// Audio never opens a session; stray chunks from a
				// closed one are dropped.
				if sess, ok := e.registry.Get(sessionID); ok {
					sess.HandleAudio(fr.RawPayload())
				}
			case frames.ControlFrame:
				sess, _, err := e.registry.GetOrCreate(sessionID)
				if err != nil {
					e.logger.Error("session create failed", "session_id", sessionID, "error", err)
					continue
				}
				if sess != nil {
					sess.HandleControl(fr.Code())
				}
			case frames.TextFrame:
				sess, _, err := e.registry.GetOrCreate(sessionID)
				if err != nil {
					e.logger.Error("session create failed", "session_id", sessionID, "error", err)
					continue
				}
				if sess != nil {
					sess.HandleText(fr.Text())
				}
			}
		}
	}
}

func (e *Engine) Registry() *SessionRegistry { return e.registry }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Config() config.Config { return e.cfg }

func (e *Engine) Runner() runner.Runner { return e.runner }
