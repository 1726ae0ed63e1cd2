// Package playback serializes synthesized audio so clips play
// back-to-back without overlap.
package playback

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/voxloop/voxloop/pkg/adapters/tts"
)

// Handle is a single playable piece of audio. Done is closed when
// playback finishes or the handle is stopped; Stop halts playback and
// releases the handle. Safe to call Stop more than once.
type Handle interface {
	Done() <-chan struct{}
	Stop()
}

// Device turns clips into playing audio. Exactly one implementation is
// owned by a queue at a time.
type Device interface {
	Play(clip tts.Clip) (Handle, error)
	Close() error
}

// OtoDevice plays PCM clips through the system audio device.
type OtoDevice struct {
	ctx *oto.Context
	log *slog.Logger
}

// NewOtoDevice initializes the system audio context. Returns an error
// if the audio device is unavailable.
func NewOtoDevice(sampleRate, channels int, log *slog.Logger) (*OtoDevice, error) {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	if channels <= 0 {
		channels = 1
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-readyChan
	if log == nil {
		log = slog.Default()
	}
	log.Debug("audio device ready", "sample_rate", sampleRate, "channels", channels)
	return &OtoDevice{ctx: ctx, log: log}, nil
}

func (d *OtoDevice) Play(clip tts.Clip) (Handle, error) {
	player := d.ctx.NewPlayer(bytes.NewReader(clip.Samples))
	h := &otoHandle{player: player, done: make(chan struct{})}
	player.Play()
	go h.watch()
	return h, nil
}

func (d *OtoDevice) Close() error {
	// oto contexts cannot be torn down; suspend output instead.
	return d.ctx.Suspend()
}

type otoHandle struct {
	player *oto.Player
	done   chan struct{}
	once   sync.Once
}

func (h *otoHandle) Done() <-chan struct{} { return h.done }

func (h *otoHandle) Stop() {
	h.once.Do(func() {
		h.player.Pause()
		_ = h.player.Close()
		close(h.done)
	})
}

func (h *otoHandle) watch() {
	for h.player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	h.once.Do(func() {
		_ = h.player.Close()
		close(h.done)
	})
}
