package ai

import (
	"testing"
	"time"
)

func TestEventQueueOrderAndDrain(t *testing.T) {
	q := newEventQueue()

	// Fill without a consumer; the writer must never block.
	for i := 0; i < 1000; i++ {
		select {
		case q.in <- Event{Type: EventAudioDelta, Audio: []byte{byte(i)}}:
		case <-time.After(time.Second):
			t.Fatalf("write %d blocked", i)
		}
	}
	close(q.in)

	var n int
	for evt := range q.out {
		if evt.Audio[0] != byte(n) {
			t.Fatalf("event %d out of order: got %d", n, evt.Audio[0])
		}
		n++
	}
	if n != 1000 {
		t.Errorf("drained %d events, want 1000", n)
	}
}

func TestEventQueueCloseEmpty(t *testing.T) {
	q := newEventQueue()
	close(q.in)

	select {
	case _, ok := <-q.out:
		if ok {
			t.Error("unexpected event from empty queue")
		}
	case <-time.After(time.Second):
		t.Error("out channel not closed")
	}
}
