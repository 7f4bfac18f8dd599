package events

import (
	"testing"
	"time"
)

func TestFilterMatches(t *testing.T) {
	event := Event{Type: TypeThreadClosed, ThreadID: 1001}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty matches all", Filter{}, true},
		{"matching type", Filter{Types: []Type{TypeThreadClosed}}, true},
		{"type among several", Filter{Types: []Type{TypeThreadCreated, TypeThreadClosed}}, true},
		{"wrong type", Filter{Types: []Type{TypeThreadReady}}, false},
		{"matching thread", Filter{ThreadID: 1001}, true},
		{"wrong thread", Filter{ThreadID: 1002}, false},
		{"type and thread", Filter{Types: []Type{TypeThreadClosed}, ThreadID: 1001}, true},
		{"type right thread wrong", Filter{Types: []Type{TypeThreadClosed}, ThreadID: 2}, false},
	}
	for _, tc := range cases {
		if got := tc.filter.Matches(event); got != tc.want {
			t.Errorf("%s: Matches = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPublishDelivery(t *testing.T) {
	p := NewInMemoryPublisher()

	var closed, all []Event
	p.Subscribe("closed-only", Filter{Types: []Type{TypeThreadClosed}}, func(e Event) {
		closed = append(closed, e)
	})
	p.Subscribe("all", Filter{}, func(e Event) {
		all = append(all, e)
	})

	p.Publish(Event{Type: TypeThreadCreated, ThreadID: 1001})
	p.Publish(Event{Type: TypeThreadClosed, ThreadID: 1001})

	if len(closed) != 1 || closed[0].Type != TypeThreadClosed {
		t.Fatalf("filtered handler saw %+v", closed)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered handler saw %d events", len(all))
	}
}

func TestPublishStampsTime(t *testing.T) {
	p := NewInMemoryPublisher()

	var got Event
	p.Subscribe("stamp", Filter{}, func(e Event) { got = e })

	p.Publish(Event{Type: TypeThreadReady, ThreadID: 1})
	if got.Time.IsZero() {
		t.Fatal("event time not stamped")
	}

	explicit := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.Publish(Event{Type: TypeThreadReady, ThreadID: 1, Time: explicit})
	if !got.Time.Equal(explicit) {
		t.Fatalf("explicit time overwritten: %v", got.Time)
	}
}

func TestSubscribeReplacesAndUnsubscribe(t *testing.T) {
	p := NewInMemoryPublisher()

	var first, second int
	p.Subscribe("sub", Filter{}, func(Event) { first++ })
	p.Subscribe("sub", Filter{}, func(Event) { second++ })

	p.Publish(Event{Type: TypeThreadReady})
	if first != 0 || second != 1 {
		t.Fatalf("replaced handler fired: first=%d second=%d", first, second)
	}

	p.Unsubscribe("sub")
	p.Publish(Event{Type: TypeThreadReady})
	if second != 1 {
		t.Fatalf("unsubscribed handler fired: second=%d", second)
	}

	// Unknown ids are a no-op.
	p.Unsubscribe("never-registered")
}

func TestDiscard(t *testing.T) {
	var p Publisher = Discard{}
	p.Subscribe("x", Filter{}, func(Event) { t.Fatal("discard invoked a handler") })
	p.Publish(Event{Type: TypeThreadClosed})
	p.Unsubscribe("x")
}
