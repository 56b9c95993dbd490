package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a progress notification emitted while a run executes.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the run the event belongs to.
	RunID string `json:"run_id"`

	// Operation is install, update or uninstall.
	Operation string `json:"operation"`

	// Unit is the component name for unit events.
	Unit string `json:"unit,omitempty"`

	// Index and Total give the unit's 1-based position in the run.
	Index int `json:"index,omitempty"`
	Total int `json:"total,omitempty"`

	// Outcome is set on unit.completed and unit.failed.
	Outcome string `json:"outcome,omitempty"`

	Message string `json:"message,omitempty"`
	Level   string `json:"level"`
}

// Event types.
const (
	EventTypeRunStarted    = "run.started"
	EventTypeRunCompleted  = "run.completed"
	EventTypeRunFailed     = "run.failed"
	EventTypeUnitStarted   = "unit.started"
	EventTypeUnitCompleted = "unit.completed"
	EventTypeUnitFailed    = "unit.failed"
	EventTypeBackupCreated = "backup.created"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. Delivery is synchronous
// and in publish order, so a subscriber sees unit events in execution
// order. A nil publisher drops everything.
type EventPublisher struct {
	mu          sync.RWMutex
	subscribers []subscriberEntry
	filters     []EventFilter
	now         func() time.Time
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates an empty publisher.
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{now: time.Now}
}

// Subscribe registers fn. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	if ep == nil || fn == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: fn, filter: filter})
}

// AddFilter adds a filter applied before any subscriber.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	if ep == nil || filter == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// Publish delivers event. A panicking subscriber does not stop delivery
// to the others.
func (ep *EventPublisher) Publish(event Event) {
	if ep == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = ep.now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, filter := range ep.filters {
		if !filter(event) {
			return
		}
	}
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		deliver(entry.subscriber, event)
	}
}

func deliver(fn EventSubscriber, event Event) {
	defer func() { _ = recover() }()
	fn(event)
}

// PublishRunStarted announces a run.
func (ep *EventPublisher) PublishRunStarted(runID, operation string) {
	ep.Publish(Event{
		Type:      EventTypeRunStarted,
		RunID:     runID,
		Operation: operation,
	})
}

// PublishRunCompleted closes a run with its stored status. Any status
// other than completed becomes a run.failed event.
func (ep *EventPublisher) PublishRunCompleted(runID, operation, status string, err error) {
	event := Event{
		Type:      EventTypeRunCompleted,
		RunID:     runID,
		Operation: operation,
		Outcome:   status,
	}
	if err != nil || status != "completed" {
		event.Type = EventTypeRunFailed
		event.Level = EventLevelError
	}
	if err != nil {
		event.Message = err.Error()
	}
	ep.Publish(event)
}

// PublishUnitStarted announces the index-th of total units.
func (ep *EventPublisher) PublishUnitStarted(runID, operation, unit string, index, total int) {
	ep.Publish(Event{
		Type:      EventTypeUnitStarted,
		RunID:     runID,
		Operation: operation,
		Unit:      unit,
		Index:     index,
		Total:     total,
	})
}

// PublishUnitCompleted reports a unit outcome; OutcomeFailed becomes a
// unit.failed event carrying message.
func (ep *EventPublisher) PublishUnitCompleted(runID, operation, unit, outcome, message string) {
	event := Event{
		Type:      EventTypeUnitCompleted,
		RunID:     runID,
		Operation: operation,
		Unit:      unit,
		Outcome:   outcome,
	}
	if outcome == OutcomeFailed {
		event.Type = EventTypeUnitFailed
		event.Level = EventLevelError
		event.Message = message
	}
	ep.Publish(event)
}

// PublishBackupCreated reports the pre-operation backup.
func (ep *EventPublisher) PublishBackupCreated(runID, operation, path string) {
	ep.Publish(Event{
		Type:      EventTypeBackupCreated,
		RunID:     runID,
		Operation: operation,
		Message:   path,
	})
}

// FilterByType passes events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool { return set[event.Type] }
}

// FilterByLevel passes events at or above minLevel.
func FilterByLevel(minLevel string) EventFilter {
	rank := map[string]int{EventLevelInfo: 0, EventLevelWarning: 1, EventLevelError: 2}
	floor := rank[minLevel]
	return func(event Event) bool { return rank[event.Level] >= floor }
}

// FilterByRunID passes events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool { return event.RunID == runID }
}
