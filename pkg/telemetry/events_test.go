package telemetry

import (
	"errors"
	"testing"
)

func TestEventPublisher_DeliversInOrder(t *testing.T) {
	ep := NewEventPublisher()
	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.Type) }, nil)

	ep.PublishRunStarted("r1", "install")
	ep.PublishUnitStarted("r1", "install", "core", 1, 1)
	ep.PublishUnitCompleted("r1", "install", "core", OutcomeInstalled, "")
	ep.PublishRunCompleted("r1", "install", "completed", nil)

	expected := []string{EventTypeRunStarted, EventTypeUnitStarted, EventTypeUnitCompleted, EventTypeRunCompleted}
	if len(got) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Event %d: expected %s, got %s", i, expected[i], got[i])
		}
	}
}

func TestEventPublisher_FillsDefaults(t *testing.T) {
	ep := NewEventPublisher()
	var got Event
	ep.Subscribe(func(e Event) { got = e }, nil)

	ep.Publish(Event{Type: EventTypeBackupCreated})

	if got.ID == "" {
		t.Error("Expected an event ID")
	}
	if got.Timestamp.IsZero() {
		t.Error("Expected a timestamp")
	}
	if got.Level != EventLevelInfo {
		t.Errorf("Expected level info, got %s", got.Level)
	}
}

func TestEventPublisher_Failures(t *testing.T) {
	ep := NewEventPublisher()
	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByLevel(EventLevelError))

	ep.PublishUnitCompleted("r1", "update", "mcp", OutcomeUpdated, "ignored")
	ep.PublishUnitCompleted("r1", "update", "core", OutcomeFailed, "update failed")
	ep.PublishRunCompleted("r1", "update", "cancelled", nil)
	ep.PublishRunCompleted("r1", "update", "failed", errors.New("no space"))

	if len(got) != 3 {
		t.Fatalf("Expected 3 error events, got %d", len(got))
	}
	if got[0].Type != EventTypeUnitFailed || got[0].Message != "update failed" {
		t.Errorf("Unexpected unit event: %+v", got[0])
	}
	if got[1].Type != EventTypeRunFailed || got[1].Outcome != "cancelled" {
		t.Errorf("Unexpected cancelled run event: %+v", got[1])
	}
	if got[2].Message != "no space" {
		t.Errorf("Expected the run error as message, got %q", got[2].Message)
	}
}

func TestEventPublisher_Filters(t *testing.T) {
	ep := NewEventPublisher()
	ep.AddFilter(FilterByRunID("r1"))
	var units []string
	ep.Subscribe(func(e Event) { units = append(units, e.Unit) }, FilterByType(EventTypeUnitStarted))

	ep.PublishUnitStarted("r1", "install", "core", 1, 2)
	ep.PublishUnitStarted("r2", "install", "other", 1, 1)
	ep.PublishUnitCompleted("r1", "install", "core", OutcomeInstalled, "")
	ep.PublishUnitStarted("r1", "install", "modes", 2, 2)

	if len(units) != 2 || units[0] != "core" || units[1] != "modes" {
		t.Errorf("Expected [core modes], got %v", units)
	}
}

func TestEventPublisher_PanickingSubscriber(t *testing.T) {
	ep := NewEventPublisher()
	ep.Subscribe(func(Event) { panic("boom") }, nil)
	delivered := false
	ep.Subscribe(func(Event) { delivered = true }, nil)

	ep.PublishRunStarted("r1", "install")

	if !delivered {
		t.Error("Expected delivery to continue past a panicking subscriber")
	}
}

func TestEventPublisher_NilIsSafe(t *testing.T) {
	var ep *EventPublisher
	ep.Subscribe(func(Event) {}, nil)
	ep.AddFilter(FilterByType(EventTypeRunStarted))
	ep.PublishRunStarted("r1", "install")
}
