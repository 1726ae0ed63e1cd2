package ws

import (
	"bytes"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxloop/voxloop/pkg/frames"
)

func dialTest(t *testing.T) (*Transport, *websocket.Conn) {
	t.Helper()
	tr := New(Config{})
	srv := httptest.NewServer(tr)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return tr, conn
}

func recvFrame(t *testing.T, tr *Transport) frames.Frame {
	t.Helper()
	select {
	case f := <-tr.Recv():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func TestConnectionEmitsSessionStart(t *testing.T) {
	tr, _ := dialTest(t)

	f := recvFrame(t, tr)
	sf, ok := f.(frames.SystemFrame)
	if !ok || sf.Name() != frames.SystemSessionStart {
		t.Fatalf("first frame = %#v, want session start", f)
	}
	if sf.Meta()[frames.MetaSessionID] == "" {
		t.Fatal("session start frame carries no session id")
	}
}

func TestAudioEventBecomesAudioFrame(t *testing.T) {
	tr, conn := dialTest(t)
	start := recvFrame(t, tr)
	sessionID := start.Meta()[frames.MetaSessionID]

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	msg := `{"type":"audio","audio":"` + base64.StdEncoding.EncodeToString(pcm) + `","rate":16000}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := recvFrame(t, tr)
	af, ok := f.(frames.AudioFrame)
	if !ok {
		t.Fatalf("got %#v, want an audio frame", f)
	}
	if !bytes.Equal(af.RawPayload(), pcm) {
		t.Fatalf("payload = %v, want %v", af.RawPayload(), pcm)
	}
	if af.Rate() != 16000 {
		t.Fatalf("rate = %d, want 16000", af.Rate())
	}
	if af.Meta()[frames.MetaSessionID] != sessionID {
		t.Fatal("audio frame carries the wrong session id")
	}
}

func TestMalformedAudioEventIsDropped(t *testing.T) {
	tr, conn := dialTest(t)
	_ = recvFrame(t, tr)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio","audio":"%%%"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"text","text":"still alive"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := recvFrame(t, tr)
	tf, ok := f.(frames.TextFrame)
	if !ok || tf.Text() != "still alive" {
		t.Fatalf("got %#v, want the text frame following the bad audio", f)
	}
}

func TestControlEventsBecomeControlFrames(t *testing.T) {
	tr, conn := dialTest(t)
	_ = recvFrame(t, tr)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := recvFrame(t, tr)
	cf, ok := f.(frames.ControlFrame)
	if !ok || cf.Code() != frames.ControlStart {
		t.Fatalf("got %#v, want a start control frame", f)
	}
}
