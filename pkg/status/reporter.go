package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/turn"
)

// Progress is a loader update: percent in [0,100] plus a short label
// such as the name of the model being fetched.
type Progress struct {
	Percent float64
	Label   string
}

// Update is a turn state change paired with the user-facing message
// to display for it.
type Update struct {
	State   turn.State
	Message string
	At      time.Time
}

// Reporter is a passive sink. Implementations must not block and must
// never influence control flow.
type Reporter interface {
	ReportProgress(p Progress)
	ReportState(u Update)
}

// LoggerReporter logs every update through slog.
type LoggerReporter struct {
	log *slog.Logger
}

func NewLoggerReporter(log *slog.Logger) *LoggerReporter {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerReporter{log: log}
}

func (r *LoggerReporter) ReportProgress(p Progress) {
	r.log.LogAttrs(context.TODO(), slog.LevelInfo, "load progress",
		slog.Float64("percent", p.Percent),
		slog.String("label", p.Label),
	)
}

func (r *LoggerReporter) ReportState(u Update) {
	r.log.LogAttrs(context.TODO(), slog.LevelInfo, "state",
		slog.String("state", u.State.String()),
		slog.String("message", u.Message),
	)
}

// MultiReporter fans updates out to several sinks.
type MultiReporter struct {
	list []Reporter
}

func NewMultiReporter(list ...Reporter) *MultiReporter {
	return &MultiReporter{list: list}
}

func (m *MultiReporter) ReportProgress(p Progress) {
	for _, r := range m.list {
		if r != nil {
			r.ReportProgress(p)
		}
	}
}

func (m *MultiReporter) ReportState(u Update) {
	for _, r := range m.list {
		if r != nil {
			r.ReportState(u)
		}
	}
}

// MemoryReporter retains updates for inspection in tests.
type MemoryReporter struct {
	mu       sync.Mutex
	progress []Progress
	states   []Update
}

func NewMemoryReporter() *MemoryReporter {
	return &MemoryReporter{}
}

func (m *MemoryReporter) ReportProgress(p Progress) {
	m.mu.Lock()
	m.progress = append(m.progress, p)
	m.mu.Unlock()
}

func (m *MemoryReporter) ReportState(u Update) {
	m.mu.Lock()
	m.states = append(m.states, u)
	m.mu.Unlock()
}

func (m *MemoryReporter) Progress() []Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Progress, len(m.progress))
	copy(out, m.progress)
	return out
}

func (m *MemoryReporter) States() []Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Update, len(m.states))
	copy(out, m.states)
	return out
}

// LastMessage returns the most recent user-facing message, or "".
func (m *MemoryReporter) LastMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.states) == 0 {
		return ""
	}
	return m.states[len(m.states)-1].Message
}
