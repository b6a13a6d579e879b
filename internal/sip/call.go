package sip

import (
	"fmt"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/voxgate/voxgate/internal/media"
)

// ActiveCall is one answered inbound call. It owns the media session and
// the SIP dialog state needed to tear the call down from either side.
type ActiveCall struct {
	// ID is the internal call identifier used across the system
	// (database rows, dashboard events, logs).
	ID string

	// SIPCallID is the Call-ID header value of the dialog.
	SIPCallID string

	// CallerID is the caller's number extracted from the From header.
	CallerID string

	// Media is the RTP session for this call.
	Media *media.Session

	// StartedAt is when the INVITE was answered.
	StartedAt time.Time

	server *Server
	pair   *media.SocketPair

	// Dialog state for building the in-dialog BYE.
	inviteReq *sip.Request
	okRes     *sip.Response
	byeCSeq   uint32

	endOnce   sync.Once
	done      chan struct{}
	endReason string
}

// Done is closed when the call has ended, from either side.
func (c *ActiveCall) Done() <-chan struct{} {
	return c.done
}

// EndReason returns why the call ended. Valid after Done is closed.
func (c *ActiveCall) EndReason() string {
	return c.endReason
}

// Duration returns the elapsed call time.
func (c *ActiveCall) Duration() time.Duration {
	return time.Since(c.StartedAt)
}

// Hangup terminates the call from our side: sends BYE to the caller, stops
// media and records the reason. Safe to call multiple times.
func (c *ActiveCall) Hangup(reason string) {
	c.server.hangupCall(c, reason)
}

// buildBYE creates the in-dialog BYE for a call we answered as UAS. The
// dialog fields come from the original INVITE and our 200 OK: local and
// remote swap roles, so our To (with the local tag) becomes From.
func (c *ActiveCall) buildBYE() *sip.Request {
	recipient := &c.inviteReq.Recipient
	if contact := c.inviteReq.Contact(); contact != nil {
		recipient = &contact.Address
	}

	bye := sip.NewRequest(sip.BYE, *recipient.Clone())
	bye.SipVersion = c.inviteReq.SipVersion

	// From: our To header from the 200 OK, carrying the local tag.
	if h := c.okRes.To(); h != nil {
		bye.AppendHeader(sip.NewHeader("From", h.Value()))
	}

	// To: the caller's From header, carrying the remote tag.
	if h := c.inviteReq.From(); h != nil {
		bye.AppendHeader(sip.NewHeader("To", h.Value()))
	}

	if h := c.inviteReq.CallID(); h != nil {
		bye.AppendHeader(sip.HeaderClone(h))
	}

	// Our own CSeq space as UAS, independent of the caller's.
	c.byeCSeq++
	bye.AppendHeader(sip.NewHeader("CSeq", fmt.Sprintf("%d BYE", c.byeCSeq)))

	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	bye.SetTransport(c.inviteReq.Transport())
	bye.SetDestination(c.inviteReq.Source())

	return bye
}
