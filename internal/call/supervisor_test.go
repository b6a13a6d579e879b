package call

import (
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/ai"
)

func TestDrainEventsConsumesUntilClose(t *testing.T) {
	ch := make(chan ai.Event)
	go func() {
		for i := 0; i < 8; i++ {
			ch <- ai.Event{Type: ai.EventAudioDelta}
		}
		close(ch)
	}()

	done := make(chan struct{})
	go func() {
		drainEvents(ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drainEvents did not return after the channel closed")
	}

	// A nil channel must be a no-op, not a block.
	drainEvents(nil)
}
