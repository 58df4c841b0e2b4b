package jobs

import (
	"testing"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
)

// TestEventBusSince verifies incremental event reads by sequence.
func TestEventBusSince(t *testing.T) {
	bus := NewEventBus(3)
	bus.Publish(Event{Type: EventTypeState, Message: "1"})
	bus.Publish(Event{Type: EventTypeState, Message: "2"})
	bus.Publish(Event{Type: EventTypeState, Message: "3"})

	events := bus.Since(1)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %+v", events)
	}
}

// TestEventBusCapsHistory verifies buffer limit trimming behavior.
func TestEventBusCapsHistory(t *testing.T) {
	bus := NewEventBus(2)
	bus.Publish(Event{Message: "1"})
	bus.Publish(Event{Message: "2"})
	bus.Publish(Event{Message: "3"})

	events := bus.Since(0)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Message != "2" || events[1].Message != "3" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

// TestEventBusSubscribe verifies synchronous delivery to subscribers.
func TestEventBusSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	var got []Event
	bus.Subscribe(func(e Event) { got = append(got, e) })

	bus.Publish(Event{Type: EventTypeProgress, Progress: 0.5})
	if len(got) != 1 {
		t.Fatalf("subscriber calls = %d, want 1", len(got))
	}
	if got[0].Progress != 0.5 {
		t.Fatalf("progress = %v, want 0.5", got[0].Progress)
	}
}

// TestHistoryEvictsOldest verifies bounded recent-jobs behavior.
func TestHistoryEvictsOldest(t *testing.T) {
	history := NewHistory(2)
	history.Add(HistoryEntry{JobID: "a", State: domain.JobStateComplete})
	history.Add(HistoryEntry{JobID: "b", State: domain.JobStateFailed})
	history.Add(HistoryEntry{JobID: "c", State: domain.JobStateComplete})

	recent := history.Recent()
	if len(recent) != 2 {
		t.Fatalf("len = %d, want 2", len(recent))
	}
	if recent[0].JobID != "c" || recent[1].JobID != "b" {
		t.Fatalf("unexpected order: %+v", recent)
	}
}
