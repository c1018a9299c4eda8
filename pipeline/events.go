package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ventureflow/types"
)

type EventType string

const (
	EventAgentStarted     EventType = "agent_started"
	EventAgentCompleted   EventType = "agent_completed"
	EventAgentFailed      EventType = "agent_failed"
	EventPipelineComplete EventType = "pipeline_complete"
	EventPipelineFailed   EventType = "pipeline_failed"
)

// Event is a progress notification for one session, consumed by the
// websocket surface. Polling the session row remains the source of truth;
// events are advisory.
type Event struct {
	SessionID  string    `json:"session_id"`
	Type       EventType `json:"type"`
	Agent      string    `json:"agent,omitempty"`
	Step       int       `json:"step,omitempty"`
	TotalSteps int       `json:"total_steps,omitempty"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	ReportID   string    `json:"report_id,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// stageSteps gives each stage a 1-based position for progress display.
var stageSteps = map[types.Stage]int{
	types.StageExtract:     1,
	types.StageResearch:    2,
	types.StageCompetitors: 3,
	types.StageScore:       4,
	types.StageMVP:         5,
	types.StageCompose:     6,
}

const totalSteps = 6

type subscriber struct {
	ch chan Event
}

// Bus is an in-process publish/subscribe fan-out keyed by session ID.
// Publish never blocks: a subscriber that cannot keep up loses events
// rather than stalling the pipeline goroutine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[string][]*subscriber),
		logger: logger.With(zap.String("component", "event_bus")),
	}
}

// Subscribe returns a channel of events for the session and a cancel
// function the caller must invoke when done.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, 32)}

	b.mu.Lock()
	b.subs[sessionID] = append(b.subs[sessionID], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[sessionID]
		for i, s := range list {
			if s == sub {
				b.subs[sessionID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[sessionID]) == 0 {
			delete(b.subs, sessionID)
		}
	}
	return sub.ch, cancel
}

// Publish delivers the event to every live subscriber of its session.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	list := b.subs[ev.SessionID]
	b.mu.RUnlock()

	for _, sub := range list {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Debug("dropping event for slow subscriber",
				zap.String("session_id", ev.SessionID),
				zap.String("type", string(ev.Type)))
		}
	}
}
