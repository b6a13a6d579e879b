package media

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/voxgate/voxgate/internal/audio"
)

func newTestSession(t *testing.T, pool *PortPool) (*Session, *SocketPair) {
	t.Helper()

	pair, err := pool.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	t.Cleanup(func() { pool.Release(pair) })

	codec, err := NewTranscoder(Codec{PayloadType: PayloadPCMU, Name: "PCMU", ClockRate: 8000})
	if err != nil {
		t.Fatalf("NewTranscoder: %v", err)
	}

	// Deliberately wrong remote; symmetric RTP must correct it.
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	return NewSession("test-session", pair, codec, remote, slog.Default()), pair
}

func newTestPool(t *testing.T) *PortPool {
	t.Helper()
	pool, err := NewPortPool(24000, 24100, slog.Default())
	if err != nil {
		t.Fatalf("NewPortPool: %v", err)
	}
	return pool
}

func TestPortPoolAllocateRelease(t *testing.T) {
	pool := newTestPool(t)

	pair, err := pool.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if pair.Ports.RTP%2 != 0 {
		t.Errorf("rtp port %d is odd", pair.Ports.RTP)
	}
	if pair.Ports.RTCP != pair.Ports.RTP+1 {
		t.Errorf("rtcp port = %d, want %d", pair.Ports.RTCP, pair.Ports.RTP+1)
	}
	if pool.AllocatedCount() != 1 {
		t.Errorf("AllocatedCount = %d, want 1", pool.AllocatedCount())
	}

	pool.Release(pair)
	if pool.AllocatedCount() != 0 {
		t.Errorf("AllocatedCount after release = %d, want 0", pool.AllocatedCount())
	}
}

func TestEnqueuePlaybackDropOldest(t *testing.T) {
	pool := newTestPool(t)
	s, _ := newTestSession(t, pool)

	frame := make([]int16, audio.SamplesPerFrame(audio.RateBridge))
	for i := 0; i < txQueueSize+25; i++ {
		s.EnqueuePlayback(frame)
	}

	if depth := s.QueueDepth(); depth != txQueueSize {
		t.Errorf("QueueDepth = %d, want %d", depth, txQueueSize)
	}
	if dropped := s.Stats().FramesDropped; dropped != 25 {
		t.Errorf("FramesDropped = %d, want 25", dropped)
	}
}

func TestEnqueueRxDropOldest(t *testing.T) {
	pool := newTestPool(t)
	s, _ := newTestSession(t, pool)

	for i := 0; i < rxQueueSize+5; i++ {
		s.enqueueRx([]int16{int16(i)})
	}

	if dropped := s.Stats().PacketsDropped; dropped != 5 {
		t.Errorf("PacketsDropped = %d, want 5", dropped)
	}
	// The oldest frames were evicted; the head of the queue moved on.
	first := <-s.Receive()
	if first[0] != 5 {
		t.Errorf("head frame = %d, want 5 (oldest evicted first)", first[0])
	}
	if len(s.Receive()) != rxQueueSize-1 {
		t.Errorf("queue depth = %d, want %d", len(s.Receive()), rxQueueSize-1)
	}
}

func TestClearPlayback(t *testing.T) {
	pool := newTestPool(t)
	s, _ := newTestSession(t, pool)

	frame := make([]int16, audio.SamplesPerFrame(audio.RateBridge))
	for i := 0; i < 10; i++ {
		s.EnqueuePlayback(frame)
	}

	if cleared := s.ClearPlayback(); cleared != 10 {
		t.Errorf("ClearPlayback = %d, want 10", cleared)
	}
	if depth := s.QueueDepth(); depth != 0 {
		t.Errorf("QueueDepth after clear = %d, want 0", depth)
	}
}

func TestEnqueueToneFraming(t *testing.T) {
	pool := newTestPool(t)
	s, _ := newTestSession(t, pool)

	// 2.5 frames worth of samples must queue as 3 frames.
	frame := audio.SamplesPerFrame(audio.RateBridge)
	s.EnqueueTone(make([]int16, frame*5/2))

	if depth := s.QueueDepth(); depth != 3 {
		t.Errorf("QueueDepth = %d, want 3", depth)
	}
}

// TestSessionLoopback exercises the full receive and playback paths over
// localhost UDP with a PCMU peer.
func TestSessionLoopback(t *testing.T) {
	pool := newTestPool(t)
	s, pair := newTestSession(t, pool)

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("peer listen: %v", err)
	}
	defer peer.Close()

	s.Start()
	defer s.Stop()

	// Send one PCMU packet (160 bytes of u-law silence) to the session.
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    PayloadPCMU,
			SequenceNumber: 1000,
			Timestamp:      160,
			SSRC:           0xdecafbad,
		},
		Payload: make([]byte, 160),
	}
	for i := range pkt.Payload {
		pkt.Payload[i] = 0xFF
	}
	data, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	sessionAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: pair.Ports.RTP}
	if _, err := peer.WriteToUDP(data, sessionAddr); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	// The decoded frame must arrive at 48 kHz length.
	select {
	case frame := <-s.Receive():
		if len(frame) != audio.SamplesPerFrame(audio.RateBridge) {
			t.Errorf("frame len = %d, want %d", len(frame), audio.SamplesPerFrame(audio.RateBridge))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received within 2s")
	}

	// Symmetric RTP must have replaced the bogus signaled address with the
	// peer's real source address, so playback reaches the peer.
	if s.RemoteAddr().Port == 9 {
		t.Fatal("remote address not learned from inbound packet")
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, maxRTPPacket)
	n, _, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}

	var got rtp.Packet
	if err := got.Unmarshal(buf[:n]); err != nil {
		t.Fatalf("unmarshal outbound packet: %v", err)
	}
	if got.PayloadType != PayloadPCMU {
		t.Errorf("outbound payload type = %d, want %d", got.PayloadType, PayloadPCMU)
	}
	if len(got.Payload) != 160 {
		t.Errorf("outbound payload len = %d, want 160", len(got.Payload))
	}

	stats := s.Stats()
	if stats.PacketsIn != 1 {
		t.Errorf("PacketsIn = %d, want 1", stats.PacketsIn)
	}
	if stats.PacketsOut == 0 {
		t.Error("PacketsOut = 0, want > 0")
	}
}

func TestSessionDropsWrongPayloadType(t *testing.T) {
	pool := newTestPool(t)
	s, pair := newTestSession(t, pool)

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("peer listen: %v", err)
	}
	defer peer.Close()

	s.Start()
	defer s.Stop()

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: PayloadPCMA, // session negotiated PCMU
			SSRC:        1,
		},
		Payload: make([]byte, 160),
	}
	data, _ := pkt.Marshal()
	sessionAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: pair.Ports.RTP}
	if _, err := peer.WriteToUDP(data, sessionAddr); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	select {
	case <-s.Receive():
		t.Fatal("frame delivered for wrong payload type")
	case <-time.After(300 * time.Millisecond):
	}

	if dropped := s.Stats().PacketsDropped; dropped != 1 {
		t.Errorf("PacketsDropped = %d, want 1", dropped)
	}
}
