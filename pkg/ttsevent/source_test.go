package ttsevent

import (
	"testing"
	"time"
)

func TestSendEventDeliversToListener(t *testing.T) {
	s := New(0)
	defer s.Close()

	got := make(chan Event, 1)
	s.On("spoke", func(ev Event) bool {
		got <- ev
		return false
	})

	s.SendEvent(Event{Name: "spoke", Data: map[string]interface{}{"id": 1}})

	select {
	case ev := <-got:
		if ev.Name != "spoke" {
			t.Errorf("delivered event name = %q, want %q", ev.Name, "spoke")
		}
	case <-time.After(time.Second):
		t.Fatalf("listener never received the event")
	}
}

func TestSendEventOnlyReachesMatchingName(t *testing.T) {
	s := New(0)
	defer s.Close()

	var spokeCount, pausedCount int
	done := make(chan struct{}, 2)
	s.On("spoke", func(ev Event) bool { spokeCount++; done <- struct{}{}; return false })
	s.On("paused", func(ev Event) bool { pausedCount++; done <- struct{}{}; return false })

	s.SendEvent(Event{Name: "spoke"})
	<-done

	if spokeCount != 1 || pausedCount != 0 {
		t.Fatalf("spokeCount=%d pausedCount=%d, want 1, 0", spokeCount, pausedCount)
	}
}

func TestListenerReturningDestroyedIsRemoved(t *testing.T) {
	s := New(0)
	defer s.Close()

	calls := make(chan struct{}, 4)
	s.On("spoke", func(ev Event) bool {
		calls <- struct{}{}
		return true
	})

	s.SendEvent(Event{Name: "spoke"})
	<-calls

	// The drain loop removes the listener before it takes the next event
	// off the queue, so a second event reaches no listener.
	s.SendEvent(Event{Name: "spoke"})
	select {
	case <-calls:
		t.Fatalf("destroyed listener should not receive a second event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDelRemovesListener(t *testing.T) {
	s := New(0)
	defer s.Close()

	called := make(chan struct{}, 1)
	id := s.On("spoke", func(ev Event) bool {
		called <- struct{}{}
		return false
	})
	s.Del("spoke", id)

	s.SendEvent(Event{Name: "spoke"})
	select {
	case <-called:
		t.Fatalf("Del'd listener should not be invoked")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMultipleListenersAllReceive(t *testing.T) {
	s := New(0)
	defer s.Close()

	n := 5
	received := make(chan int, n)
	for i := 0; i < n; i++ {
		idx := i
		s.On("spoke", func(ev Event) bool {
			received <- idx
			return false
		})
	}

	s.SendEvent(Event{Name: "spoke"})

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		select {
		case idx := <-received:
			seen[idx] = true
		case <-time.After(time.Second):
			t.Fatalf("only %d/%d listeners were invoked", len(seen), n)
		}
	}
}

func TestOnDuringDispatchIsAppliedAfterDrain(t *testing.T) {
	s := New(0)
	defer s.Close()

	secondCalled := make(chan struct{}, 1)
	firstCalled := make(chan struct{}, 1)
	s.On("spoke", func(ev Event) bool {
		s.On("spoke", func(ev Event) bool {
			secondCalled <- struct{}{}
			return false
		})
		firstCalled <- struct{}{}
		return false
	})

	s.SendEvent(Event{Name: "spoke"})
	<-firstCalled

	// The listener registered mid-dispatch must not fire for the event
	// that triggered its own registration.
	select {
	case <-secondCalled:
		t.Fatalf("listener added mid-dispatch should not see the triggering event")
	case <-time.After(50 * time.Millisecond):
	}

	s.SendEvent(Event{Name: "spoke"})
	select {
	case <-secondCalled:
	case <-time.After(time.Second):
		t.Fatalf("listener added mid-dispatch should see the next event")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	s := New(0)
	called := make(chan struct{}, 1)
	s.On("spoke", func(ev Event) bool {
		called <- struct{}{}
		return false
	})
	s.Close()

	s.SendEvent(Event{Name: "spoke"})
	select {
	case <-called:
		t.Fatalf("closed Source should not dispatch further events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New(0)
	s.Close()
	s.Close()
}
