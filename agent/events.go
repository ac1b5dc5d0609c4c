package agent

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/strixlabs/strix/telemetry"
)

// EventType tags events on the bus.
type EventType string

const (
	// EventAll subscribes to every event type.
	EventAll EventType = "*"

	EventStateChange   EventType = "state_change"
	EventIteration     EventType = "iteration"
	EventLLMUsage      EventType = "llm_usage"
	EventToolCall      EventType = "tool_call"
	EventVulnerability EventType = "vulnerability"
	EventScanFinished  EventType = "scan_finished"
)

// subscription ids come from a counter instead of timestamps so
// concurrent subscribers never collide.
var subscriptionCounter int64

// Event is anything published on the bus.
type Event interface {
	Timestamp() time.Time
	Type() EventType
}

// EventHandler receives published events.
type EventHandler func(Event)

// EventBus decouples the scan loop from its observers (TUI, tracer,
// metrics).
type EventBus interface {
	Publish(event Event)
	Subscribe(eventType EventType, handler EventHandler) string
	Unsubscribe(subscriptionID string)
	Stop()
}

// SimpleEventBus is a buffered, asynchronous bus. Events are dropped
// when the buffer is full rather than blocking the scan loop.
type SimpleEventBus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[string]EventHandler
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// NewEventBus creates and starts a bus.
func NewEventBus(logger *zap.Logger) EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := &SimpleEventBus{
		handlers: make(map[EventType]map[string]EventHandler),
		events:   make(chan Event, 100),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go bus.dispatch()
	return bus
}

func (b *SimpleEventBus) Publish(event Event) {
	select {
	case b.events <- event:
	case <-b.done:
	default:
		// full buffer, drop
	}
}

func (b *SimpleEventBus) Subscribe(eventType EventType, handler EventHandler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]EventHandler)
	}
	id := fmt.Sprintf("%s-%d", eventType, atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[eventType][id] = handler
	return id
}

func (b *SimpleEventBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, eventType)
			}
			return
		}
	}
}

func (b *SimpleEventBus) dispatch() {
	for {
		select {
		case event := <-b.events:
			b.mu.RLock()
			handlers := make([]EventHandler, 0, len(b.handlers[event.Type()])+len(b.handlers[EventAll]))
			for _, h := range b.handlers[event.Type()] {
				handlers = append(handlers, h)
			}
			for _, h := range b.handlers[EventAll] {
				handlers = append(handlers, h)
			}
			b.mu.RUnlock()

			for _, handler := range handlers {
				func() {
					defer func() {
						if r := recover(); r != nil {
							b.logger.Error("event handler panicked", zap.Any("recover", r))
						}
					}()
					handler(event)
				}()
			}
		case <-b.done:
			return
		}
	}
}

func (b *SimpleEventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}

// StateChangeEvent reports a lifecycle move.
type StateChangeEvent struct {
	From State
	To   State
	At   time.Time
}

func (e *StateChangeEvent) Timestamp() time.Time { return e.At }
func (e *StateChangeEvent) Type() EventType      { return EventStateChange }

// IterationEvent reports scan loop progress.
type IterationEvent struct {
	Iteration int
	Max       int
	At        time.Time
}

func (e *IterationEvent) Timestamp() time.Time { return e.At }
func (e *IterationEvent) Type() EventType      { return EventIteration }

// LLMUsageEvent reports token consumption of one request.
type LLMUsageEvent struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	At               time.Time
}

func (e *LLMUsageEvent) Timestamp() time.Time { return e.At }
func (e *LLMUsageEvent) Type() EventType      { return EventLLMUsage }

// ToolCallEvent reports one tool execution.
type ToolCallEvent struct {
	ToolCallID string
	ToolName   string
	Error      string
	Duration   time.Duration
	At         time.Time
}

func (e *ToolCallEvent) Timestamp() time.Time { return e.At }
func (e *ToolCallEvent) Type() EventType      { return EventToolCall }

// VulnerabilityEvent reports a newly recorded finding.
type VulnerabilityEvent struct {
	Finding telemetry.Vulnerability
	Total   int
	At      time.Time
}

func (e *VulnerabilityEvent) Timestamp() time.Time { return e.At }
func (e *VulnerabilityEvent) Type() EventType      { return EventVulnerability }

// ScanFinishedEvent is the terminal event of a run.
type ScanFinishedEvent struct {
	Success bool
	Summary string
	At      time.Time
}

func (e *ScanFinishedEvent) Timestamp() time.Time { return e.At }
func (e *ScanFinishedEvent) Type() EventType      { return EventScanFinished }
