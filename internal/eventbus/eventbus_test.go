package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	bus := New[int]()
	defer bus.Close()
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(7)
	for name, ch := range map[string]<-chan int{"a": a, "b": b} {
		select {
		case got := <-ch:
			if got != 7 {
				t.Errorf("subscriber %s got %d", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s received nothing", name)
		}
	}
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	bus := New[int]()
	defer bus.Close()
	ch := bus.Subscribe()

	// Overfill the subscriber buffer; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
	if got := <-ch; got != 0 {
		t.Errorf("first buffered event is %d", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New[int]()
	defer bus.Close()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	bus.Publish(1)
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := New[string]()
	ch := bus.Subscribe()
	bus.Close()
	bus.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after close")
	}
	bus.Publish("ignored")
	if late := bus.Subscribe(); late == nil {
		t.Fatalf("subscribe after close returned nil")
	} else if _, ok := <-late; ok {
		t.Fatalf("late subscription should be closed")
	}
}
