package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/voxloop/voxloop/pkg/adapters/stt"
	"github.com/voxloop/voxloop/pkg/errorsx"
	"github.com/voxloop/voxloop/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// Config holds Deepgram connection parameters. Source supplies raw
// PCM audio for the session; it is read until EOF or Stop.
type Config struct {
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Encoding       string
	Interim        bool
	UtteranceEndMS int
	SessionID      string
	Source         io.Reader
}

// Recognizer is a Deepgram live-transcription session adapter. Each
// Start opens a websocket, streams Source through it, and emits
// interim/final transcript events until the utterance ends.
type Recognizer struct {
	cfg      Config
	out      chan stt.Event
	logger   *slog.Logger
	mu       sync.Mutex
	dgClient *client.WSCallback
	cancel   context.CancelFunc

	metaLogged bool
}

func New(cfg Config) *Recognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	return &Recognizer{
		cfg:    cfg,
		out:    make(chan stt.Event, 64),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (r *Recognizer) Name() string { return "deepgram" }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.cfg.Source == nil {
		return errorsx.New("no audio source configured", errorsx.ReasonRecognitionConnect)
	}

	r.mu.Lock()
	if r.dgClient != nil {
		r.mu.Unlock()
		return errorsx.New("recognition session already active", errorsx.ReasonRecognitionConnect)
	}
	ctx, r.cancel = context.WithCancel(ctx)
	// Fresh channel per session so a stale reader never consumes the
	// next session's events.
	r.out = make(chan stt.Event, 64)
	r.mu.Unlock()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Encoding:       r.cfg.Encoding,
		SampleRate:     r.cfg.SampleRate,
		InterimResults: r.cfg.Interim,
		VadEvents:      true,
		SmartFormat:    true,
	}
	if r.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", r.cfg.UtteranceEndMS)
	}

	r.logger.Info("initializing deepgram connection",
		slog.String("session_id", r.cfg.SessionID),
		slog.String("model", r.cfg.Model),
		slog.Int("sample_rate", r.cfg.SampleRate))

	cb := &callback{parent: r}
	dgClient, err := client.NewWSUsingCallback(ctx, r.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		r.reset()
		return errorsx.Wrap(err, errorsx.ReasonRecognitionConnect)
	}

	if connected := dgClient.Connect(); !connected {
		r.reset()
		return errorsx.New("deepgram connection failed", errorsx.ReasonRecognitionConnect)
	}
	r.mu.Lock()
	r.dgClient = dgClient
	r.mu.Unlock()

	go func() {
		if err := dgClient.Stream(r.cfg.Source); err != nil && ctx.Err() == nil {
			r.logger.Error("deepgram stream error",
				slog.String("error", err.Error()),
				slog.String("session_id", r.cfg.SessionID))
			r.emit(stt.Event{
				Kind:   stt.EventError,
				Reason: "stream_failed",
				Err:    errorsx.Wrap(err, errorsx.ReasonRecognitionFailed),
			})
		}
	}()

	return nil
}

func (r *Recognizer) Stop() error {
	r.mu.Lock()
	dgClient := r.dgClient
	cancel := r.cancel
	r.dgClient = nil
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if dgClient != nil {
		dgClient.Stop()
		r.logger.Info("deepgram connection closed",
			slog.String("session_id", r.cfg.SessionID))
	}
	return nil
}

func (r *Recognizer) Events() <-chan stt.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out
}

func (r *Recognizer) reset() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.dgClient = nil
	r.mu.Unlock()
}

func (r *Recognizer) emit(ev stt.Event) {
	r.mu.Lock()
	out := r.out
	r.mu.Unlock()
	select {
	case out <- ev:
	default:
		r.logger.Warn("event channel full, dropping event",
			slog.String("session_id", r.cfg.SessionID))
	}
}

// --- Callback Implementation ---

type callback struct {
	parent *Recognizer
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram connection opened",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}

	isFinal := mr.IsFinal || mr.SpeechFinal
	c.parent.logger.Debug("transcript received",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.Bool("is_final", isFinal))

	kind := stt.EventInterim
	if isFinal {
		kind = stt.EventFinal
	}
	c.parent.emit(stt.Event{Kind: kind, Text: transcript})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if !c.parent.metaLogged {
		c.parent.metaLogged = true
		c.parent.logger.Info("deepgram metadata received",
			slog.String("session_id", c.parent.cfg.SessionID),
			slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech started",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Info("utterance end",
		slog.String("session_id", c.parent.cfg.SessionID))
	c.parent.emit(stt.Event{Kind: stt.EventEnd})
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram connection closed by server",
		slog.String("session_id", c.parent.cfg.SessionID))
	c.parent.emit(stt.Event{Kind: stt.EventEnd})
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram error",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.emit(stt.Event{
		Kind:   stt.EventError,
		Reason: mapErrorCode(er.ErrCode),
		Err:    errorsx.New(er.ErrMsg, errorsx.ReasonRecognitionFailed),
	})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram unhandled event",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("data", string(byData)))
	return nil
}

func mapErrorCode(code string) string {
	switch {
	case strings.Contains(strings.ToLower(code), "no_speech"),
		strings.Contains(strings.ToLower(code), "net0001"):
		return stt.ReasonNoSpeech
	default:
		return code
	}
}

var _ stt.Recognizer = (*Recognizer)(nil)
