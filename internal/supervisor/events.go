package supervisor

import (
	"sync"
	"time"

	"lumen-build/pkg/models"
)

// EventType discriminates the build event union. Every progress signal the
// pipeline produces is one of these, delivered in emission order.
type EventType string

const (
	EventPlanUpdated     EventType = "plan_updated"
	EventMessageUpserted EventType = "message_upserted"
	EventPhaseStarted    EventType = "phase_started"
	EventPhaseCompleted  EventType = "phase_completed"
	EventStepStarted     EventType = "step_started"
	EventStepCompleted   EventType = "step_completed"
	EventChunkCompleted  EventType = "chunk_completed"
	EventStepError       EventType = "step_error"
	EventDebugTrace      EventType = "debug_trace"
	EventActionRequired  EventType = "action_required"
	EventSucceeded       EventType = "succeeded"
	EventFinalFailed     EventType = "final_failed"
)

// Event is one build progress record. Only the fields relevant to its Type
// are populated.
type Event struct {
	Type      EventType `json:"type"`
	Seq       uint64    `json:"seq"`
	BuildID   string    `json:"build_id"`
	ProjectID uint      `json:"project_id"`
	Timestamp time.Time `json:"timestamp"`

	// plan_updated
	Phases []models.BuildPhase `json:"phases,omitempty"`

	// message_upserted, action_required
	Message *models.Message `json:"message,omitempty"`

	// phase_* and step_*
	PhaseIndex int    `json:"phase_index,omitempty"`
	PhaseTitle string `json:"phase_title,omitempty"`
	StepIndex  int    `json:"step_index,omitempty"`
	StepPath   string `json:"step_path,omitempty"`

	// chunk_completed and succeeded
	Files      map[string]string `json:"files,omitempty"`
	EntryPoint string            `json:"entry_point,omitempty"`

	// succeeded, final_failed
	Audit *models.BuildAudit `json:"audit,omitempty"`

	// step_error, final_failed
	ErrorMessage     string `json:"error_message,omitempty"`
	RemainingRetries int    `json:"remaining_retries,omitempty"`

	// debug_trace
	Trace *TraceRecord `json:"trace,omitempty"`
}

// TraceRecord captures one model round trip for diagnostics, including the
// full exchange so the audit trail can reconstruct what was asked and what
// came back.
type TraceRecord struct {
	Stage             string        `json:"stage"`
	Attempt           int           `json:"attempt"`
	Provider          string        `json:"provider,omitempty"`
	Model             string        `json:"model,omitempty"`
	SystemInstruction string        `json:"system_instruction"`
	Prompt            string        `json:"prompt"`
	Response          string        `json:"response,omitempty"`
	Duration          time.Duration `json:"duration_ms"`
	OutputSize        int           `json:"output_size"`
	Err               string        `json:"error,omitempty"`
}

// Stream fans build events out to subscribers while preserving emission
// order. Delivery to a subscriber is non-blocking; a slow consumer drops
// events but can replay the full ordered history.
type Stream struct {
	mu          sync.RWMutex
	seq         uint64
	subscribers []chan Event
	history     []Event
}

func NewStream() *Stream {
	return &Stream{history: make([]Event, 0, 64)}
}

// Emit stamps the event with the next sequence number and delivers it.
func (s *Stream) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	ev.Seq = s.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.history = append(s.history, ev)

	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow subscriber. It can replay from History.
		}
	}
}

// Subscribe returns a buffered channel receiving all future events.
func (s *Stream) Subscribe(bufferSize int) chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, bufferSize)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (s *Stream) Unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// History returns a copy of every event emitted so far, in order.
func (s *Stream) History() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, len(s.history))
	copy(out, s.history)
	return out
}
