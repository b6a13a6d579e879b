package sip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/media"
)

// ErrCallerBlocked is returned by a Delegate to reject a caller with
// 403 Forbidden.
var ErrCallerBlocked = errors.New("caller blocked")

// Delegate receives call lifecycle events from the SIP server.
type Delegate interface {
	// AuthorizeCall decides whether an inbound call may be answered.
	// Return ErrCallerBlocked to reject with 403; any other error
	// rejects with 500.
	AuthorizeCall(ctx context.Context, callerID string) error

	// HandleCall runs the answered call. Invoked in its own goroutine;
	// it should return when the call's Done channel closes.
	HandleCall(call *ActiveCall)
}

// Server wraps the sipgo SIP stack: it keeps the upstream registration
// alive and answers inbound INVITEs, negotiating a media session per call.
type Server struct {
	cfg       *config.Config
	ua        *sipgo.UserAgent
	srv       *sipgo.Server
	client    *sipgo.Client
	registrar *Registrar
	ports     *media.PortPool
	delegate  Delegate
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger

	mu    sync.Mutex
	calls map[string]*ActiveCall // keyed by SIP Call-ID
}

// NewServer creates a SIP server with all handlers registered. The
// upstream registrar is only created when SIP credentials are configured.
func NewServer(cfg *config.Config, ports *media.PortPool, delegate Delegate) (*Server, error) {
	logger := slog.Default().With("component", "sip")

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("VoxGate"),
		sipgo.WithUserAgentHostname(cfg.MediaIP()),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sip user agent: %w", err)
	}

	srv, err := sipgo.NewServer(ua,
		sipgo.WithServerLogger(logger),
	)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("creating sip server: %w", err)
	}

	client, err := sipgo.NewClient(ua,
		sipgo.WithClientLogger(logger),
	)
	if err != nil {
		srv.Close()
		ua.Close()
		return nil, fmt.Errorf("creating sip client: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		ua:       ua,
		srv:      srv,
		client:   client,
		ports:    ports,
		delegate: delegate,
		logger:   logger,
		calls:    make(map[string]*ActiveCall),
	}

	if cfg.SIPConfigured() {
		registrar, err := NewRegistrar(ua, cfg, logger)
		if err != nil {
			client.Close()
			srv.Close()
			ua.Close()
			return nil, fmt.Errorf("creating registrar: %w", err)
		}
		s.registrar = registrar
	} else {
		logger.Warn("sip credentials not configured, upstream registration disabled")
	}

	s.registerHandlers()
	return s, nil
}

// registerHandlers attaches SIP method handlers to the server.
func (s *Server) registerHandlers() {
	s.srv.OnInvite(s.handleInvite)
	s.srv.OnAck(s.handleACK)
	s.srv.OnBye(s.handleBye)
	s.srv.OnOptions(s.handleOptions)
}

// Registrar returns the upstream registrar, or nil when SIP credentials
// are not configured.
func (s *Server) Registrar() *Registrar {
	return s.registrar
}

// ActiveCallCount returns the number of calls currently in progress.
func (s *Server) ActiveCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// ActiveCalls returns a snapshot of the calls in progress.
func (s *Server) ActiveCalls() []*ActiveCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	calls := make([]*ActiveCall, 0, len(s.calls))
	for _, c := range s.calls {
		calls = append(calls, c)
	}
	return calls
}

// Start begins listening on the configured transports and starts the
// upstream registration loop. Non-blocking.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	udpAddr := fmt.Sprintf("0.0.0.0:%d", s.cfg.SIPListenPort)
	tcpAddr := fmt.Sprintf("0.0.0.0:%d", s.cfg.SIPListenPort)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("sip udp listener starting", "addr", udpAddr)
		if err := s.srv.ListenAndServe(ctx, "udp", udpAddr); err != nil {
			s.logger.Error("sip udp listener stopped", "error", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("sip tcp listener starting", "addr", tcpAddr)
		if err := s.srv.ListenAndServe(ctx, "tcp", tcpAddr); err != nil {
			s.logger.Error("sip tcp listener stopped", "error", err)
		}
	}()

	if s.registrar != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.registrar.Run(ctx)
		}()
	}

	return nil
}

// Stop hangs up remaining calls, drops the upstream registration and shuts
// down the listeners.
func (s *Server) Stop() {
	s.logger.Info("stopping sip server")

	for _, call := range s.ActiveCalls() {
		call.Hangup("shutdown")
	}

	if s.registrar != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.registrar.Unregister(ctx)
		cancel()
		s.registrar.Close()
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.client.Close()
	s.srv.Close()
	s.ua.Close()
	s.logger.Info("sip server stopped")
}

// handleInvite answers an inbound call: authorize the caller, negotiate a
// codec from the SDP offer, answer with our media address and hand the
// call to the delegate.
func (s *Server) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	callerID := CallerIDFromRequest(req)

	s.logger.Info("inbound invite",
		"call_id", callID,
		"caller_id", callerID,
		"source", req.Source(),
	)

	trying := sip.NewResponseFromRequest(req, 100, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		s.logger.Error("failed to send 100 trying", "call_id", callID, "error", err)
		return
	}

	// One call at a time; a second caller gets busy.
	if s.ActiveCallCount() > 0 {
		s.logger.Info("rejecting invite, call already in progress", "caller_id", callerID)
		s.respondError(req, tx, 486, "Busy Here")
		return
	}

	authCtx, authCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := s.delegate.AuthorizeCall(authCtx, callerID)
	authCancel()
	if err != nil {
		if errors.Is(err, ErrCallerBlocked) {
			s.logger.Info("rejecting blocked caller", "caller_id", callerID)
			s.respondError(req, tx, 403, "Forbidden")
		} else {
			s.logger.Error("call authorization failed", "caller_id", callerID, "error", err)
			s.respondError(req, tx, 500, "Server Internal Error")
		}
		return
	}

	offer, err := media.ParseSDP(req.Body())
	if err != nil {
		s.logger.Warn("invalid sdp offer", "call_id", callID, "error", err)
		s.respondError(req, tx, 488, "Not Acceptable Here")
		return
	}
	audioMedia := offer.AudioMedia()
	if audioMedia == nil {
		s.logger.Warn("sdp offer without audio media", "call_id", callID)
		s.respondError(req, tx, 488, "Not Acceptable Here")
		return
	}

	codec, err := media.SelectCodec(audioMedia)
	if err != nil {
		s.logger.Warn("no supported codec in offer", "call_id", callID, "error", err)
		s.respondError(req, tx, 488, "Not Acceptable Here")
		return
	}

	remoteIP := net.ParseIP(offer.ConnectionAddress(audioMedia))
	if remoteIP == nil {
		s.logger.Warn("sdp offer without connection address", "call_id", callID)
		s.respondError(req, tx, 488, "Not Acceptable Here")
		return
	}
	remoteAddr := &net.UDPAddr{IP: remoteIP, Port: audioMedia.Port}

	pair, err := s.ports.Allocate()
	if err != nil {
		s.logger.Error("rtp port allocation failed", "call_id", callID, "error", err)
		s.respondError(req, tx, 503, "Service Unavailable")
		return
	}

	transcoder, err := media.NewTranscoder(*codec)
	if err != nil {
		s.ports.Release(pair)
		s.logger.Error("transcoder setup failed", "call_id", callID, "codec", codec.Name, "error", err)
		s.respondError(req, tx, 488, "Not Acceptable Here")
		return
	}

	answer := media.BuildAnswer(offer, s.cfg.MediaIP(), pair.Ports.RTP, codec)
	body := answer.Marshal()

	ok := sip.NewResponseFromRequest(req, 200, "OK", body)
	ok.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	contact := fmt.Sprintf("<sip:voxgate@%s:%d>", s.cfg.MediaIP(), s.cfg.SIPListenPort)
	ok.AppendHeader(sip.NewHeader("Contact", contact))

	if err := tx.Respond(ok); err != nil {
		s.ports.Release(pair)
		s.logger.Error("failed to send 200 ok", "call_id", callID, "error", err)
		return
	}

	call := &ActiveCall{
		ID:        uuid.NewString(),
		SIPCallID: callID,
		CallerID:  callerID,
		StartedAt: time.Now(),
		server:    s,
		pair:      pair,
		inviteReq: req,
		okRes:     ok,
		done:      make(chan struct{}),
	}
	call.Media = media.NewSession(call.ID, pair, transcoder, remoteAddr, s.logger)
	call.Media.Start()

	s.mu.Lock()
	s.calls[callID] = call
	s.mu.Unlock()

	s.logger.Info("call answered",
		"call_id", call.ID,
		"sip_call_id", callID,
		"caller_id", callerID,
		"codec", codec.Name,
		"rtp_port", pair.Ports.RTP,
		"remote", remoteAddr.String(),
	)

	go s.delegate.HandleCall(call)
}

// handleACK confirms the dialog. RTP already flows at this point, so the
// ACK only needs acknowledging in the log.
func (s *Server) handleACK(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	s.logger.Debug("sip ack received", "sip_call_id", callID, "source", req.Source())
}

// handleBye tears down the call when the caller hangs up.
func (s *Server) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}

	s.mu.Lock()
	call, ok := s.calls[callID]
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("bye for unknown dialog", "sip_call_id", callID)
		res := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		if err := tx.Respond(res); err != nil {
			s.logger.Error("failed to respond to bye", "error", err)
		}
		return
	}

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		s.logger.Error("failed to respond to bye", "error", err)
	}

	s.logger.Info("remote hangup", "call_id", call.ID, "caller_id", call.CallerID)
	s.endCall(call, "remote_bye")
}

// handleOptions responds to OPTIONS keepalive pings from the provider.
func (s *Server) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	s.logger.Debug("sip options received", "source", req.Source())

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, OPTIONS"))

	if err := tx.Respond(res); err != nil {
		s.logger.Error("failed to respond to options", "error", err)
	}
}

// hangupCall sends the in-dialog BYE and tears the call down. Invoked via
// ActiveCall.Hangup.
func (s *Server) hangupCall(c *ActiveCall, reason string) {
	s.mu.Lock()
	_, active := s.calls[c.SIPCallID]
	s.mu.Unlock()
	if !active {
		return
	}

	bye := c.buildBYE()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.client.TransactionRequest(ctx, bye, sipgo.ClientRequestAddVia)
	if err != nil {
		s.logger.Warn("failed to send bye", "call_id", c.ID, "error", err)
	} else {
		if res, err := getResponse(ctx, tx); err != nil {
			s.logger.Warn("no response to bye", "call_id", c.ID, "error", err)
		} else if res.StatusCode != 200 {
			s.logger.Warn("bye rejected", "call_id", c.ID, "status", res.StatusCode)
		}
		tx.Terminate()
	}

	s.endCall(c, reason)
}

// endCall releases call resources exactly once and signals Done.
func (s *Server) endCall(c *ActiveCall, reason string) {
	s.mu.Lock()
	delete(s.calls, c.SIPCallID)
	s.mu.Unlock()

	c.endOnce.Do(func() {
		c.endReason = reason
		c.Media.Stop()
		s.ports.Release(c.pair)
		close(c.done)

		s.logger.Info("call ended",
			"call_id", c.ID,
			"caller_id", c.CallerID,
			"reason", reason,
			"duration_s", int(c.Duration().Seconds()),
		)
	})
}

func (s *Server) respondError(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		s.logger.Error("failed to send error response",
			"code", code,
			"error", err,
		)
	}
}
