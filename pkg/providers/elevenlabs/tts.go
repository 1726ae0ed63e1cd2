package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxloop/voxloop/pkg/adapters/tts"
	"github.com/voxloop/voxloop/pkg/errorsx"
	"github.com/voxloop/voxloop/pkg/logging"
	"github.com/voxloop/voxloop/pkg/resilience"
)

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	SampleRate   int
	SessionID    string
}

// Synthesizer renders text through the ElevenLabs stream-input
// websocket. Each Synthesize call opens a fresh connection, sends the
// full text, and collects audio chunks until the service signals the
// end of generation.
type Synthesizer struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_" + strconv.Itoa(cfg.SampleRate)
	}
	return &Synthesizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts tts.Options) (tts.Clip, error) {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return tts.Clip{}, errorsx.New("missing elevenlabs config", errorsx.ReasonSynthesisConnect)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Clip{}, errorsx.New("empty synthesis text", errorsx.ReasonSynthesisFailed)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return tts.Clip{}, err
	}
	defer func() {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	speed := opts.Speed
	if speed <= 0 {
		speed = 1.0
	}
	init := map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
			"speed":            speed,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}
	if err := writeJSON(conn, init); err != nil {
		return tts.Clip{}, errorsx.Wrap(err, errorsx.ReasonSynthesisConnect)
	}
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	if err := writeJSON(conn, map[string]any{"text": text, "try_trigger_generation": true}); err != nil {
		return tts.Clip{}, errorsx.Wrap(err, errorsx.ReasonSynthesisFailed)
	}
	// Empty text closes the input stream and flushes generation.
	if err := writeJSON(conn, map[string]any{"text": ""}); err != nil {
		return tts.Clip{}, errorsx.Wrap(err, errorsx.ReasonSynthesisFailed)
	}

	samples, err := s.collect(ctx, conn)
	if err != nil {
		return tts.Clip{}, err
	}

	s.logger.Debug("synthesis complete",
		slog.String("session_id", s.cfg.SessionID),
		slog.Int("size_bytes", len(samples)))

	clip := tts.Clip{
		Text:       text[:len(text)-1],
		Samples:    samples,
		SampleRate: s.cfg.SampleRate,
		Channels:   1,
	}
	clip.Duration = pcmDuration(len(samples), s.cfg.SampleRate)
	if opts.SilencePad > 0 {
		pad := make([]byte, int(opts.SilencePad.Seconds()*float64(s.cfg.SampleRate))*2)
		clip.Samples = append(clip.Samples, pad...)
		clip.Duration += opts.SilencePad
	}
	return clip, nil
}

func (s *Synthesizer) dial(ctx context.Context) (*websocket.Conn, error) {
	base := "wss://api.elevenlabs.io/v1/text-to-speech/" + s.cfg.VoiceID + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, base+"?"+q.Encode(), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			s.logger.Error("rate limit exceeded",
				slog.String("session_id", s.cfg.SessionID),
				slog.String("status", resp.Status))
			return nil, resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		s.logger.Error("connect failed",
			slog.String("session_id", s.cfg.SessionID),
			slog.String("error", err.Error()))
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthesisConnect)
	}
	return conn, nil
}

// collect reads websocket messages until the service reports the
// generation final or the connection closes.
func (s *Synthesizer) collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var samples []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(samples) > 0 {
				return samples, nil
			}
			return nil, errorsx.Wrap(err, errorsx.ReasonSynthesisFailed)
		}

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("unparseable websocket message", "data", string(data))
			continue
		}
		if audio := audioPayload(msg); audio != "" {
			raw, err := base64.StdEncoding.DecodeString(audio)
			if err != nil {
				s.logger.Error("audio decode error", "error", err)
				continue
			}
			samples = append(samples, raw...)
		}
		if final, ok := msg["isFinal"].(bool); ok && final {
			return samples, nil
		}
	}
}

func audioPayload(msg map[string]any) string {
	for _, key := range []string{"audio", "audio_base_64", "audio_base64"} {
		if a, ok := msg[key].(string); ok {
			return a
		}
	}
	return ""
}

func writeJSON(conn *websocket.Conn, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

// pcmDuration assumes 16-bit mono PCM.
func pcmDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / 2 / float64(sampleRate) * float64(time.Second))
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
