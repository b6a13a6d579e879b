package ai

// eventQueue is an unbounded FIFO between the websocket read loop and the
// session consumer. The read loop must never block on a slow consumer,
// otherwise protocol state (response lifecycle, tool calls) stalls too.
type eventQueue struct {
	in  chan Event
	out chan Event
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		in:  make(chan Event),
		out: make(chan Event),
	}
	go q.pump()
	return q
}

// pump shuttles events from in to out, buffering in between. It exits
// when in is closed and the buffer has drained, then closes out.
func (q *eventQueue) pump() {
	var buf []Event
	for {
		if len(buf) == 0 {
			evt, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			buf = append(buf, evt)
			continue
		}

		select {
		case evt, ok := <-q.in:
			if !ok {
				for _, e := range buf {
					q.out <- e
				}
				close(q.out)
				return
			}
			buf = append(buf, evt)
		case q.out <- buf[0]:
			buf = buf[1:]
			if len(buf) == 0 {
				buf = nil
			}
		}
	}
}
