package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/newscheck/internal/telemetry"
)

// EventType discriminates stream event variants on the wire.
type EventType string

const (
	EventStart    EventType = "start"
	EventProgress EventType = "progress"
	EventIssue    EventType = "issue"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// ErrCodeAnalysisFailed is the error code carried by Error events from the
// live producer.
const ErrCodeAnalysisFailed = "ANALYSIS_FAILED"

// StreamEvent is the tagged union of events delivered over one analysis
// stream. Within a stream, events are totally ordered and consumed once;
// Complete and Error are terminal.
type StreamEvent interface {
	Kind() EventType
	When() time.Time
}

// StartEvent opens a stream.
type StartEvent struct {
	StreamID         string    `json:"stream_id"`
	Timestamp        time.Time `json:"timestamp"`
	Message          string    `json:"message,omitempty"`
	EstimatedSeconds int       `json:"estimated_seconds,omitempty"`
}

func (e StartEvent) Kind() EventType { return EventStart }
func (e StartEvent) When() time.Time { return e.Timestamp }

// ProgressEvent reports pipeline progress before major stages.
type ProgressEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Percent   int       `json:"percent"`
	Step      string    `json:"step"`
	Message   string    `json:"message,omitempty"`
}

func (e ProgressEvent) Kind() EventType { return EventProgress }
func (e ProgressEvent) When() time.Time { return e.Timestamp }

// IssueEvent delivers one discovered issue with its sequence index.
type IssueEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Index     int       `json:"index"`
	Issue     Issue     `json:"issue"`
}

func (e IssueEvent) Kind() EventType { return EventIssue }
func (e IssueEvent) When() time.Time { return e.Timestamp }

// CompleteEvent terminates a successful stream.
type CompleteEvent struct {
	Timestamp   time.Time     `json:"timestamp"`
	TotalIssues int           `json:"total_issues"`
	Elapsed     time.Duration `json:"elapsed_ms"`
	Message     string        `json:"message,omitempty"`
}

func (e CompleteEvent) Kind() EventType { return EventComplete }
func (e CompleteEvent) When() time.Time { return e.Timestamp }

// ErrorEvent terminates a failed stream.
type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
	Detail    string    `json:"detail"`
}

func (e ErrorEvent) Kind() EventType { return EventError }
func (e ErrorEvent) When() time.Time { return e.Timestamp }

// EncodeEvent marshals an event with its type discriminator, ready for a
// `data:` SSE frame.
func EncodeEvent(ev StreamEvent) ([]byte, error) {
	switch e := ev.(type) {
	case StartEvent:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			StartEvent
		}{EventStart, e})
	case ProgressEvent:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			ProgressEvent
		}{EventProgress, e})
	case IssueEvent:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			IssueEvent
		}{EventIssue, e})
	case CompleteEvent:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			CompleteEvent
		}{EventComplete, e})
	case ErrorEvent:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			ErrorEvent
		}{EventError, e})
	default:
		return nil, fmt.Errorf("unknown stream event %T", ev)
	}
}

// Streamer wraps the orchestrator (or a cached result) in the stream event
// state machine: Start -> Progress* -> Issue* -> Complete, or
// Start -> Progress* -> Error.
type Streamer struct {
	orch   *Orchestrator
	sink   ResultSink
	logger *log.Logger
	tele   *telemetry.Telemetry

	// delay gives the transport a steady cadence between events; sleep and
	// now are injectable for tests.
	delay time.Duration
	sleep func(time.Duration)
	now   func() time.Time
}

// NewStreamer wires a streamer. sink may be nil to skip persistence.
func NewStreamer(orch *Orchestrator, sink ResultSink, delay time.Duration, logger *log.Logger, tele *telemetry.Telemetry) *Streamer {
	if logger == nil {
		logger = log.New(log.Writer(), "[STREAM] ", log.LstdFlags)
	}
	return &Streamer{
		orch:   orch,
		sink:   sink,
		logger: logger,
		tele:   tele,
		delay:  delay,
		sleep:  time.Sleep,
		now:    time.Now,
	}
}

// Live runs a fresh analysis and emits events as it progresses. The channel
// is closed after the terminal event. If ctx is cancelled the producer stops
// emitting; any in-flight model call runs to its own timeout.
func (s *Streamer) Live(ctx context.Context, article Article) <-chan StreamEvent {
	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		started := s.now()
		streamID := uuid.NewString()

		if !s.emit(ctx, events, StartEvent{StreamID: streamID, Timestamp: s.now(), Message: "analysis started", EstimatedSeconds: 30}) {
			return
		}
		if !s.emit(ctx, events, ProgressEvent{Timestamp: s.now(), Percent: 10, Step: "setup", Message: "preparing article"}) {
			return
		}

		out, err := s.orch.Analyze(ctx, article)
		if err != nil {
			s.logger.Printf("live stream for %s failed: %v", article.URL, err)
			s.emit(ctx, events, ErrorEvent{Timestamp: s.now(), Code: ErrCodeAnalysisFailed, Detail: err.Error()})
			return
		}

		if !s.emitIssues(ctx, events, out.Issues, 30) {
			return
		}

		if s.sink != nil {
			// persistence failure must not fail an already-successful stream
			if err := s.sink.Save(ctx, article, out); err != nil {
				s.logger.Printf("failed to persist analysis for %s: %v", article.URL, err)
			}
		}
		s.emit(ctx, events, CompleteEvent{Timestamp: s.now(), TotalIssues: len(out.Issues), Elapsed: s.now().Sub(started) / time.Millisecond, Message: "analysis complete"})
	}()
	return events
}

// Replay re-emits an already-cached result with the same event shape as a
// live run. No model or search calls happen; it cannot fail except by
// client disconnect.
func (s *Streamer) Replay(ctx context.Context, article Article, out Output) <-chan StreamEvent {
	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		started := s.now()
		streamID := uuid.NewString()

		if !s.emit(ctx, events, StartEvent{StreamID: streamID, Timestamp: s.now(), Message: "replaying cached analysis", EstimatedSeconds: 2}) {
			return
		}
		if !s.emit(ctx, events, ProgressEvent{Timestamp: s.now(), Percent: 10, Step: "cache", Message: "loading cached result"}) {
			return
		}
		if !s.emitIssues(ctx, events, out.Issues, 20) {
			return
		}
		s.emit(ctx, events, CompleteEvent{Timestamp: s.now(), TotalIssues: len(out.Issues), Elapsed: s.now().Sub(started) / time.Millisecond, Message: "analysis complete"})
	}()
	return events
}

// emitIssues sends a Progress/Issue pair per issue, spreading percent from
// base to 95.
func (s *Streamer) emitIssues(ctx context.Context, events chan<- StreamEvent, issues []Issue, base int) bool {
	for i, issue := range issues {
		percent := base + (95-base)*(i+1)/len(issues)
		step := fmt.Sprintf("issue %d/%d", i+1, len(issues))
		if !s.emit(ctx, events, ProgressEvent{Timestamp: s.now(), Percent: percent, Step: step}) {
			return false
		}
		if !s.emit(ctx, events, IssueEvent{Timestamp: s.now(), Index: i, Issue: issue}) {
			return false
		}
	}
	return true
}

// emit delivers one event unless the consumer is gone. It paces delivery by
// the configured delay.
func (s *Streamer) emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	if s.delay > 0 {
		s.sleep(s.delay)
	}
	select {
	case events <- ev:
		s.tele.RecordStreamEvent(string(ev.Kind()))
		return true
	case <-ctx.Done():
		return false
	}
}
