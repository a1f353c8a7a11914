// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package streaming carries best-effort progress notifications from a turn
// to whoever is watching it. Delivery is FIFO and lossy: a full buffer
// drops events and never blocks the producer.
package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents different types of progress events
type EventType string

const (
	// EventTypeProgress represents a progress update event
	EventTypeProgress EventType = "progress"
	// EventTypeError represents an error event
	EventTypeError EventType = "error"
	// EventTypeComplete represents a completion event
	EventTypeComplete EventType = "complete"
)

// StageType names the step of the turn that produced an event
type StageType string

const (
	StageResolveTerms     StageType = "resolve_terms"
	StageClassify         StageType = "classify"
	StageIntentExtraction StageType = "intent_extraction"
	StageQueryGeneration  StageType = "query_generation"
	StageQueryExecution   StageType = "query_execution"
	StageQueryRepair      StageType = "query_repair"
	StageQueryRefinement  StageType = "query_refinement"
	StageAnswer           StageType = "answer"
	StageMemory           StageType = "memory"
	StageComplete         StageType = "complete"
)

// DefaultBufferSize is the number of undrained events a stream holds
const DefaultBufferSize = 64

// Event represents a streaming progress event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Stage     StageType              `json:"stage"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// NewEvent builds a stamped event outside any stream
func NewEvent(eventType EventType, stage StageType, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Stage:     stage,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// ToSSEMessage converts an event to Server-Sent Events format
func (e Event) ToSSEMessage() string {
	data, _ := json.Marshal(e)
	return "event: " + string(e.Type) + "\ndata: " + string(data) + "\n\n"
}

// Sink receives progress messages. Implementations must not block.
type Sink interface {
	Emit(stage StageType, message string)
}

// Nop discards every message
type Nop struct{}

// Emit implements Sink
func (Nop) Emit(StageType, string) {}

// OrNop returns s, or Nop when s is nil
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// ProgressCallback is invoked synchronously, in order, for each event.
// It must return quickly.
type ProgressCallback func(event Event)

// EventStream is a bounded FIFO of progress events with optional push callbacks
type EventStream struct {
	ID        string
	buffer    chan Event
	callbacks []ProgressCallback
	mutex     sync.Mutex
	closed    bool
	dropped   int
}

// NewEventStream creates a stream holding at most size undrained events
func NewEventStream(streamID string, size int) *EventStream {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &EventStream{
		ID:     streamID,
		buffer: make(chan Event, size),
	}
}

// AddCallback adds a push consumer to the stream
func (es *EventStream) AddCallback(callback ProgressCallback) {
	es.mutex.Lock()
	defer es.mutex.Unlock()

	if !es.closed {
		es.callbacks = append(es.callbacks, callback)
	}
}

// Emit implements Sink
func (es *EventStream) Emit(stage StageType, message string) {
	es.publish(NewEvent(EventTypeProgress, stage, message))
}

// EmitError records a terminal error event
func (es *EventStream) EmitError(stage StageType, message string) {
	event := NewEvent(EventTypeError, stage, message)
	event.Error = message
	es.publish(event)
}

// EmitComplete records the terminal completion event
func (es *EventStream) EmitComplete(message string, data map[string]interface{}) {
	event := NewEvent(EventTypeComplete, StageComplete, message)
	event.Data = data
	es.publish(event)
}

func (es *EventStream) publish(event Event) {
	es.mutex.Lock()
	defer es.mutex.Unlock()

	if es.closed {
		return
	}

	select {
	case es.buffer <- event:
	default:
		es.dropped++
	}

	for _, callback := range es.callbacks {
		callback(event)
	}
}

// Drain returns every buffered event without blocking
func (es *EventStream) Drain() []Event {
	var events []Event
	for {
		select {
		case event := <-es.buffer:
			events = append(events, event)
		default:
			return events
		}
	}
}

// Dropped returns how many events were lost to a full buffer
func (es *EventStream) Dropped() int {
	es.mutex.Lock()
	defer es.mutex.Unlock()
	return es.dropped
}

// Close stops accepting events and releases callbacks. Buffered events
// remain drainable.
func (es *EventStream) Close() {
	es.mutex.Lock()
	defer es.mutex.Unlock()

	es.closed = true
	es.callbacks = nil
}
