package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxloop/voxloop/pkg/errorsx"
	"github.com/voxloop/voxloop/pkg/frames"
	"github.com/voxloop/voxloop/pkg/priority"
	"github.com/voxloop/voxloop/pkg/transports"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8090"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport serves a browser or desktop UI over a websocket. Each
// connection is one session; user actions arrive as JSON events and
// become frames on Recv, outbound frames are serialized back as JSON.
// Outbound traffic rides a two-lane queue so control and state frames
// preempt buffered token text and audio.
type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	recvCh   chan frames.Frame

	mu       sync.Mutex
	sessions map[string]*session

	draining atomic.Bool
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		recvCh:   make(chan frames.Frame, 256),
		sessions: make(map[string]*session),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "ws" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"ws_url": "ws://" + strings.TrimPrefix(t.cfg.ServerAddr, ":") + t.cfg.WebsocketPath,
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ws transport server error", "error", err.Error())
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	for _, sess := range t.sessions {
		_ = sess.close()
	}
	t.sessions = make(map[string]*session)
	t.mu.Unlock()
	close(t.recvCh)
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	t.attach(sessionID, conn)
	defer t.detach(sessionID)

	meta := map[string]string{frames.MetaSource: "transport"}
	nonBlockingSend(t.recvCh, frames.NewSystemFrame(sessionID, now(), frames.SystemSessionStart, meta))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt ClientEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "start":
			nonBlockingSend(t.recvCh, frames.NewControlFrame(sessionID, now(), frames.ControlStart, nil))
		case "cancel":
			nonBlockingSend(t.recvCh, frames.NewControlFrame(sessionID, now(), frames.ControlCancel, nil))
		case "text":
			if strings.TrimSpace(evt.Text) == "" {
				continue
			}
			textMeta := map[string]string{
				frames.MetaSource:  "user",
				frames.MetaIsFinal: "true",
			}
			nonBlockingSend(t.recvCh, frames.NewTextFrame(sessionID, now(), evt.Text, textMeta))
		case "audio":
			data, err := base64.StdEncoding.DecodeString(evt.Audio)
			if err != nil || len(data) == 0 {
				continue
			}
			rate := evt.Rate
			if rate == 0 {
				rate = 16000
			}
			nonBlockingSend(t.recvCh, frames.NewAudioFrame(sessionID, now(), data, rate, 1, nil))
		}
	}
	nonBlockingSend(t.recvCh, frames.NewSystemFrame(sessionID, now(), frames.SystemSessionEnd, nil))
}

func (t *Transport) Send(f frames.Frame) error {
	sessionID := f.Meta()[frames.MetaSessionID]
	sess := t.session(sessionID)
	if sess == nil {
		return nil
	}
	if !sess.queue.Push(f) {
		return errorsx.New("outbound queue full", errorsx.ReasonTransportSend)
	}
	return nil
}

func (t *Transport) attach(sessionID string, conn *websocket.Conn) {
	sess := &session{
		conn:  conn,
		queue: priority.New(64, 512, 3),
	}
	t.mu.Lock()
	t.sessions[sessionID] = sess
	t.mu.Unlock()
	go sess.loop()
}

func (t *Transport) detach(sessionID string) {
	t.mu.Lock()
	sess := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	t.mu.Unlock()
	if sess != nil {
		_ = sess.close()
	}
}

func (t *Transport) session(sessionID string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[sessionID]
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

type session struct {
	conn   *websocket.Conn
	queue  *priority.Queue
	closed atomic.Bool
}

func (s *session) loop() {
	for {
		f, ok := s.queue.Pop()
		if !ok {
			return
		}
		msg, ok := encodeFrame(f)
		if !ok {
			continue
		}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

func (s *session) close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.queue.Close()
	}
	return s.conn.Close()
}

// ClientEvent is a user action received from the UI. Audio carries
// base64 PCM captured by the client's microphone.
type ClientEvent struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"`
	Rate  int    `json:"rate,omitempty"`
}

// ServerEvent is a frame serialized for the UI.
type ServerEvent struct {
	Type    string `json:"type"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Percent string `json:"percent,omitempty"`
	Label   string `json:"label,omitempty"`
	Text    string `json:"text,omitempty"`
	Final   bool   `json:"final,omitempty"`
	Audio   string `json:"audio,omitempty"`
	Rate    int    `json:"rate,omitempty"`
}

func encodeFrame(f frames.Frame) (ServerEvent, bool) {
	meta := f.Meta()
	switch f.Kind() {
	case frames.KindSystem:
		sf := f.(frames.SystemFrame)
		switch sf.Name() {
		case frames.SystemState:
			return ServerEvent{
				Type:    "state",
				State:   meta[frames.MetaState],
				Message: meta[frames.MetaMessage],
			}, true
		case frames.SystemProgress:
			return ServerEvent{
				Type:    "progress",
				Percent: meta[frames.MetaPercent],
				Label:   meta[frames.MetaLabel],
			}, true
		case frames.SystemError:
			return ServerEvent{
				Type:    "error",
				Message: meta[frames.MetaMessage],
			}, true
		}
		return ServerEvent{}, false
	case frames.KindText:
		tf := f.(frames.TextFrame)
		return ServerEvent{
			Type:  "text",
			Text:  tf.Text(),
			Final: meta[frames.MetaIsFinal] == "true",
		}, true
	case frames.KindAudio:
		af := f.(frames.AudioFrame)
		return ServerEvent{
			Type:  "audio",
			Audio: base64.StdEncoding.EncodeToString(af.RawPayload()),
			Rate:  af.Rate(),
		}, true
	case frames.KindControl:
		cf := f.(frames.ControlFrame)
		if cf.Code() == frames.ControlCancel {
			return ServerEvent{Type: "clear"}, true
		}
	}
	return ServerEvent{}, false
}

func now() int64 { return time.Now().UnixNano() }

func nonBlockingSend(ch chan frames.Frame, f frames.Frame) {
	select {
	case ch <- f:
	default:
	}
}

var (
	_ transports.Transport     = (*Transport)(nil)
	_ transports.ReadyReporter = (*Transport)(nil)
)
