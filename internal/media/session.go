package media

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/voxgate/voxgate/internal/audio"
)

const (
	// maxRTPPacket is the maximum UDP packet size we handle.
	// Standard Ethernet MTU minus IP/UDP headers gives ~1472 bytes,
	// but we allow larger for jumbo frames or aggregation.
	maxRTPPacket = 1500

	// readTimeout is the read deadline for the RTP socket. It lets the
	// receive goroutine periodically check the stopped flag.
	readTimeout = 100 * time.Millisecond

	// txQueueSize is the playback queue capacity in 20 ms frames (10 s).
	// The AI delivers audio faster than real time, so the queue absorbs
	// the burst while the ticker drains it at wall-clock pace.
	txQueueSize = 500

	// rxQueueSize is the receive channel capacity in 20 ms frames (1 s).
	rxQueueSize = 50
)

// Stats holds packet counters for a media session.
type Stats struct {
	PacketsIn      uint64
	PacketsOut     uint64
	BytesIn        uint64
	BytesOut       uint64
	PacketsDropped uint64 // non-RTP, wrong payload type, or rx overflow
	FramesDropped  uint64 // playback frames evicted by drop-oldest
}

// atomicAddr provides thread-safe storage for a UDP address.
// Used for symmetric RTP where the remote address is learned from the
// first incoming packet rather than relying solely on the SDP-signaled address.
type atomicAddr struct {
	v atomic.Pointer[net.UDPAddr]
}

func newAtomicAddr(addr *net.UDPAddr) *atomicAddr {
	a := &atomicAddr{}
	a.v.Store(addr)
	return a
}

func (a *atomicAddr) load() *net.UDPAddr {
	return a.v.Load()
}

// update atomically replaces the stored address and returns true if it changed.
func (a *atomicAddr) update(addr *net.UDPAddr) bool {
	old := a.v.Load()
	if old.IP.Equal(addr.IP) && old.Port == addr.Port {
		return false
	}
	a.v.Store(addr)
	return true
}

// Session is the RTP media leg of one call. It decodes inbound packets to
// 20 ms 48 kHz PCM frames on the Receive channel, and plays queued frames
// back to the peer on a 20 ms ticker, substituting silence when the queue
// runs dry.
//
// Symmetric RTP: the remote address is initialized from SDP and replaced by
// the source of the first valid inbound packet, which handles peers behind
// NAT whose signaled address differs from the real one.
type Session struct {
	ID     string
	pair   *SocketPair
	codec  *Transcoder
	remote *atomicAddr
	logger *slog.Logger

	rxCh    chan []int16
	txQueue chan []int16

	mu sync.Mutex // serializes queue eviction against enqueue

	seq       uint16
	timestamp uint32
	ssrc      uint32

	packetsIn      atomic.Uint64
	packetsOut     atomic.Uint64
	bytesIn        atomic.Uint64
	bytesOut       atomic.Uint64
	packetsDropped atomic.Uint64
	framesDropped  atomic.Uint64

	lastActivity atomic.Int64 // unix nanos of the last inbound packet
	queueWarned  atomic.Bool
	stopped      atomic.Bool
	wg           sync.WaitGroup
}

// NewSession creates a media session on an allocated socket pair. remote is
// the peer's RTP address from SDP negotiation; it is the initial send target
// and is replaced once symmetric RTP learns the real source.
func NewSession(id string, pair *SocketPair, codec *Transcoder, remote *net.UDPAddr, logger *slog.Logger) *Session {
	s := &Session{
		ID:     id,
		pair:   pair,
		codec:  codec,
		remote: newAtomicAddr(remote),
		logger: logger.With("subsystem", "rtp-session", "session_id", id),

		rxCh:    make(chan []int16, rxQueueSize),
		txQueue: make(chan []int16, txQueueSize),

		seq:       uint16(rand.Uint32()),
		timestamp: rand.Uint32(),
		ssrc:      rand.Uint32(),
	}
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// Start launches the receive and playback goroutines. Non-blocking.
func (s *Session) Start() {
	s.wg.Add(2)
	go s.receiveLoop()
	go s.playbackLoop()

	s.logger.Info("media session started",
		"local_port", s.pair.Ports.RTP,
		"remote", s.remote.load().String(),
		"codec", s.codec.Name(),
		"payload_type", s.codec.PayloadType(),
	)
}

// Stop signals both goroutines to stop and waits for them to finish.
// The socket pair is not closed here; the owner releases it to the pool.
func (s *Session) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.wg.Wait()

	stats := s.Stats()
	s.logger.Info("media session stopped",
		"packets_in", stats.PacketsIn,
		"packets_out", stats.PacketsOut,
		"packets_dropped", stats.PacketsDropped,
		"frames_dropped", stats.FramesDropped,
	)
}

// Receive returns the channel of decoded 20 ms 48 kHz frames from the peer.
func (s *Session) Receive() <-chan []int16 {
	return s.rxCh
}

// EnqueuePlayback queues one 20 ms 48 kHz frame for transmission. When the
// queue is full the oldest frame is evicted so playback stays near real time
// instead of lagging further and further behind.
func (s *Session) EnqueuePlayback(frame []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		select {
		case s.txQueue <- frame:
			s.checkQueueDepth()
			return
		default:
		}
		select {
		case <-s.txQueue:
			s.framesDropped.Add(1)
		default:
		}
	}
}

// EnqueueTone splits a PCM clip into 20 ms frames and queues them,
// zero-padding the final partial frame.
func (s *Session) EnqueueTone(samples []int16) {
	frame := audio.SamplesPerFrame(audio.RateBridge)
	for off := 0; off < len(samples); off += frame {
		end := off + frame
		if end > len(samples) {
			padded := make([]int16, frame)
			copy(padded, samples[off:])
			s.EnqueuePlayback(padded)
			break
		}
		s.EnqueuePlayback(samples[off:end])
	}
}

// ClearPlayback drops all queued playback frames. Called on interruption so
// stale speech does not keep playing after the caller starts talking.
func (s *Session) ClearPlayback() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for {
		select {
		case <-s.txQueue:
			cleared++
		default:
			s.queueWarned.Store(false)
			return cleared
		}
	}
}

// QueueDepth returns the number of frames waiting for playback.
func (s *Session) QueueDepth() int {
	return len(s.txQueue)
}

// RemoteAddr returns the current peer RTP address. After symmetric RTP
// learning this may differ from the SDP-signaled address.
func (s *Session) RemoteAddr() *net.UDPAddr {
	return s.remote.load()
}

// LastActivity returns the time of the last inbound packet.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Stats returns a snapshot of the session packet counters.
func (s *Session) Stats() Stats {
	return Stats{
		PacketsIn:      s.packetsIn.Load(),
		PacketsOut:     s.packetsOut.Load(),
		BytesIn:        s.bytesIn.Load(),
		BytesOut:       s.bytesOut.Load(),
		PacketsDropped: s.packetsDropped.Load(),
		FramesDropped:  s.framesDropped.Load(),
	}
}

// checkQueueDepth logs one warning when the playback queue crosses half
// capacity. The flag re-arms once the queue drains below a quarter.
func (s *Session) checkQueueDepth() {
	depth := len(s.txQueue)
	switch {
	case depth >= txQueueSize/2:
		if s.queueWarned.CompareAndSwap(false, true) {
			s.logger.Warn("playback queue past half capacity",
				"depth", depth,
				"capacity", txQueueSize,
			)
		}
	case depth < txQueueSize/4:
		s.queueWarned.Store(false)
	}
}

// receiveLoop reads RTP from the socket, filters on the negotiated payload
// type, decodes to 48 kHz frames and delivers them on the receive channel.
func (s *Session) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxRTPPacket)
	learned := false
	var pkt rtp.Packet

	for {
		if s.stopped.Load() {
			return
		}

		s.pair.RTPConn.SetReadDeadline(time.Now().Add(readTimeout))
		n, srcAddr, err := s.pair.RTPConn.ReadFromUDP(buf)
		if err != nil {
			if s.stopped.Load() {
				return
			}
			// Timeout is expected; loop to re-check the stopped flag.
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			s.logger.Debug("rtp read error", "error", err)
			continue
		}

		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.packetsDropped.Add(1)
			continue
		}
		if pkt.PayloadType != s.codec.PayloadType() {
			s.packetsDropped.Add(1)
			continue
		}

		// Symmetric RTP: learn the actual remote address from the first
		// valid packet.
		if !learned {
			if s.remote.update(srcAddr) {
				s.logger.Info("symmetric rtp: learned remote address",
					"address", srcAddr.String(),
				)
			}
			learned = true
		}

		s.lastActivity.Store(time.Now().UnixNano())
		s.packetsIn.Add(1)
		s.bytesIn.Add(uint64(n))

		frame, err := s.codec.Decode(pkt.Payload)
		if err != nil {
			s.logger.Debug("payload decode failed", "error", err)
			s.packetsDropped.Add(1)
			continue
		}

		s.enqueueRx(frame)
	}
}

// enqueueRx hands a decoded frame to the consumer. When the queue is
// full the oldest frame is evicted so the stream stays as current as
// possible; the socket is never stalled.
func (s *Session) enqueueRx(frame []int16) {
	select {
	case s.rxCh <- frame:
		return
	default:
	}

	select {
	case <-s.rxCh:
	default:
	}
	s.packetsDropped.Add(1)

	select {
	case s.rxCh <- frame:
	default:
	}
}

// playbackLoop sends one frame toward the peer every 20 ms, pulling from
// the playback queue and substituting silence when it is empty. A steady
// outbound stream keeps NAT bindings open and gives the peer a continuous
// jitter-buffer feed.
func (s *Session) playbackLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(audio.FrameMs * time.Millisecond)
	defer ticker.Stop()

	silence := make([]int16, audio.SamplesPerFrame(audio.RateBridge))

	for range ticker.C {
		if s.stopped.Load() {
			return
		}

		var frame []int16
		select {
		case frame = <-s.txQueue:
		default:
			frame = silence
		}

		if err := s.sendFrame(frame); err != nil {
			if s.stopped.Load() {
				return
			}
			s.logger.Debug("rtp write error", "error", err)
		}
	}
}

// sendFrame encodes one 48 kHz frame and writes it as a single RTP packet.
func (s *Session) sendFrame(frame []int16) error {
	payload, err := s.codec.Encode(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.codec.PayloadType(),
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.seq++
	s.timestamp += s.codec.TimestampStep()

	data, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling rtp packet: %w", err)
	}

	n, err := s.pair.RTPConn.WriteToUDP(data, s.remote.load())
	if err != nil {
		return err
	}
	s.packetsOut.Add(1)
	s.bytesOut.Add(uint64(n))
	return nil
}
