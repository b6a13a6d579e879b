package sip

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/voxgate/voxgate/internal/config"
)

// RegistrarStatus represents the state of the upstream registration.
type RegistrarStatus string

const (
	StatusRegistered   RegistrarStatus = "registered"
	StatusRegistering  RegistrarStatus = "registering"
	StatusFailed       RegistrarStatus = "failed"
	StatusUnregistered RegistrarStatus = "unregistered"
)

// FailureKind classifies why a registration attempt failed, so operators
// can tell a credential problem from a network outage at a glance.
type FailureKind string

const (
	FailureNone    FailureKind = ""
	FailureNetwork FailureKind = "network"
	FailureAuth    FailureKind = "auth"
	FailureTimeout FailureKind = "timeout"
)

// RegistrarState is a snapshot of the upstream registration.
type RegistrarState struct {
	Status       RegistrarStatus
	LastError    string
	FailureKind  FailureKind
	RetryAttempt int
	RegisteredAt *time.Time
	ExpiresAt    *time.Time
}

// Registrar maintains the REGISTER binding with the configured SIP
// provider: initial registration with digest auth, refresh at 80% of the
// server-granted expiry, and exponential backoff with jitter on failure.
type Registrar struct {
	cfg    *config.Config
	client *sipgo.Client
	logger *slog.Logger

	mu       sync.RWMutex
	state    RegistrarState
	onChange func(RegistrarState)
}

// NewRegistrar creates the upstream registrar. It does not send anything
// until Run is called.
func NewRegistrar(ua *sipgo.UserAgent, cfg *config.Config, logger *slog.Logger) (*Registrar, error) {
	l := logger.With("subsystem", "registrar")

	client, err := sipgo.NewClient(ua, sipgo.WithClientLogger(l))
	if err != nil {
		return nil, fmt.Errorf("creating sip client: %w", err)
	}

	return &Registrar{
		cfg:    cfg,
		client: client,
		logger: l,
		state:  RegistrarState{Status: StatusUnregistered},
	}, nil
}

// SetOnChange installs a callback invoked with a state snapshot after
// every status transition. Must be called before Run.
func (r *Registrar) SetOnChange(fn func(RegistrarState)) {
	r.onChange = fn
}

// State returns the current registration state.
func (r *Registrar) State() RegistrarState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Run maintains the registration until the context is cancelled: register,
// sleep until refresh, re-register; on failure retry with backoff. Blocks.
func (r *Registrar) Run(ctx context.Context) {
	expiry := r.cfg.RegisterExpiry

	r.logger.Info("starting upstream registration",
		"server", r.cfg.SIPServer,
		"port", r.cfg.SIPPort,
		"username", r.cfg.SIPUsername,
		"expiry", expiry,
	)

	r.setRegistering()
	backoff := newBackoff()

	for {
		grantedExpiry, err := r.sendRegister(ctx, expiry)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			kind := classifyFailure(err)

			// Rejected credentials will not fix themselves; retrying would
			// hammer the provider with the same bad password. Stay failed
			// until reconfiguration.
			if !shouldRetry(kind) {
				r.logger.Error("upstream registration rejected, giving up",
					"server", r.cfg.SIPServer,
					"kind", kind,
					"error", err,
				)
				r.setFailed(err, kind, 0)
				return
			}

			retryDelay := backoff.next()
			r.logger.Error("upstream registration failed",
				"server", r.cfg.SIPServer,
				"kind", kind,
				"error", err,
				"attempt", backoff.attempt,
				"retry_in", retryDelay.String(),
			)
			r.setFailed(err, kind, backoff.attempt)

			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
				continue
			}
		}

		// Registration succeeded. The server may have shortened the
		// requested expiry (RFC 3261 §10.2.4); its value drives the timer.
		backoff.reset()
		r.setRegistered(grantedExpiry)

		if grantedExpiry != expiry {
			r.logger.Info("registered (server adjusted expiry)",
				"requested_expiry", expiry,
				"granted_expiry", grantedExpiry,
			)
		} else {
			r.logger.Info("registered", "expires_in", grantedExpiry)
		}

		// Refresh at 80% of the granted expiry to absorb network delays.
		refreshInterval := time.Duration(float64(grantedExpiry)*0.8) * time.Second

		select {
		case <-ctx.Done():
			return
		case <-time.After(refreshInterval):
			r.logger.Debug("refreshing registration")
		}
	}
}

// Unregister sends a REGISTER with expiry 0 to drop the binding.
// Best effort, used during shutdown.
func (r *Registrar) Unregister(ctx context.Context) {
	if r.State().Status != StatusRegistered {
		return
	}
	if _, err := r.sendRegister(ctx, 0); err != nil {
		r.logger.Warn("failed to unregister", "error", err)
		return
	}
	r.mu.Lock()
	r.state = RegistrarState{Status: StatusUnregistered}
	snapshot := r.state
	r.mu.Unlock()
	r.notify(snapshot)
	r.logger.Info("unregistered from provider")
}

// Close releases the SIP client.
func (r *Registrar) Close() {
	r.client.Close()
}

// sendRegister sends one REGISTER with digest auth handling. On success it
// returns the server-granted expiry, falling back to the requested value
// when the server omits one.
func (r *Registrar) sendRegister(ctx context.Context, expiry int) (int, error) {
	recipientStr := fmt.Sprintf("sip:%s:%d", r.cfg.SIPServer, r.cfg.SIPPort)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return 0, fmt.Errorf("parsing recipient uri: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.SetTransport("UDP")

	aor := fmt.Sprintf("<sip:%s@%s>", r.cfg.SIPUsername, r.cfg.SIPServer)
	req.AppendHeader(sip.NewHeader("From", aor))
	req.AppendHeader(sip.NewHeader("To", aor))

	contactURI := fmt.Sprintf("<sip:%s@%s:%d>", r.cfg.SIPUsername, r.cfg.MediaIP(), r.cfg.SIPListenPort)
	req.AppendHeader(sip.NewHeader("Contact", contactURI))
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expiry)))

	tx, err := r.client.TransactionRequest(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return 0, fmt.Errorf("sending register: %w", err)
	}

	res, err := getResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		return 0, fmt.Errorf("waiting for register response: %w", err)
	}

	// 401/407 carries the digest challenge.
	if res.StatusCode == 401 || res.StatusCode == 407 {
		authHeader := "WWW-Authenticate"
		authzHeader := "Authorization"
		if res.StatusCode == 407 {
			authHeader = "Proxy-Authenticate"
			authzHeader = "Proxy-Authorization"
		}

		wwwAuth := res.GetHeader(authHeader)
		if wwwAuth == nil {
			return 0, fmt.Errorf("received %d but no %s header", res.StatusCode, authHeader)
		}

		chal, err := digest.ParseChallenge(wwwAuth.Value())
		if err != nil {
			return 0, fmt.Errorf("parsing auth challenge: %w", err)
		}

		cred, err := digest.Digest(chal, digest.Options{
			Method:   req.Method.String(),
			URI:      recipientStr,
			Username: r.cfg.SIPUsername,
			Password: r.cfg.SIPPassword,
		})
		if err != nil {
			return 0, fmt.Errorf("computing digest: %w", err)
		}

		authReq := req.Clone()
		authReq.RemoveHeader("Via")
		authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))

		tx2, err := r.client.TransactionRequest(ctx, authReq,
			sipgo.ClientRequestIncreaseCSEQ,
			sipgo.ClientRequestAddVia,
		)
		if err != nil {
			return 0, fmt.Errorf("sending authenticated register: %w", err)
		}

		res, err = getResponse(ctx, tx2)
		tx2.Terminate()
		if err != nil {
			return 0, fmt.Errorf("waiting for authenticated register response: %w", err)
		}
	}

	if res.StatusCode == 401 || res.StatusCode == 403 || res.StatusCode == 407 {
		return 0, fmt.Errorf("authentication rejected with status %d %s", res.StatusCode, res.Reason)
	}
	if res.StatusCode != 200 {
		return 0, fmt.Errorf("register failed with status %d %s", res.StatusCode, res.Reason)
	}

	// Contact expires param wins over the Expires header.
	grantedExpiry := expiry
	if contactHdr := res.GetHeader("Contact"); contactHdr != nil {
		if parsed := parseContactExpires(contactHdr.Value()); parsed > 0 {
			grantedExpiry = parsed
		}
	} else if expiresHdr := res.GetHeader("Expires"); expiresHdr != nil {
		if parsed := parseExpiresHeader(expiresHdr.Value()); parsed > 0 {
			grantedExpiry = parsed
		}
	}

	return grantedExpiry, nil
}

func (r *Registrar) setRegistering() {
	r.mu.Lock()
	r.state.Status = StatusRegistering
	snapshot := r.state
	r.mu.Unlock()
	r.notify(snapshot)
}

func (r *Registrar) setRegistered(grantedExpiry int) {
	now := time.Now()
	expiresAt := now.Add(time.Duration(grantedExpiry) * time.Second)

	r.mu.Lock()
	r.state = RegistrarState{
		Status:       StatusRegistered,
		RegisteredAt: &now,
		ExpiresAt:    &expiresAt,
	}
	snapshot := r.state
	r.mu.Unlock()
	r.notify(snapshot)
}

func (r *Registrar) setFailed(err error, kind FailureKind, attempt int) {
	r.mu.Lock()
	r.state.Status = StatusFailed
	r.state.LastError = err.Error()
	r.state.FailureKind = kind
	r.state.RetryAttempt = attempt
	snapshot := r.state
	r.mu.Unlock()
	r.notify(snapshot)
}

func (r *Registrar) notify(state RegistrarState) {
	if r.onChange != nil {
		r.onChange(state)
	}
}

// shouldRetry reports whether a failed registration attempt is worth
// repeating. Network hiccups and timeouts are; rejected credentials are
// terminal.
func shouldRetry(kind FailureKind) bool {
	return kind != FailureAuth
}

// classifyFailure maps a registration error to a failure kind.
func classifyFailure(err error) FailureKind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "authentication rejected"),
		strings.Contains(msg, "auth challenge"),
		strings.Contains(msg, "computing digest"):
		return FailureAuth
	case strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "timeout"):
		return FailureTimeout
	default:
		return FailureNetwork
	}
}

// getResponse waits for the first response from a SIP client transaction.
func getResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tx.Done():
		return nil, fmt.Errorf("transaction terminated: %w", tx.Err())
	case res := <-tx.Responses():
		return res, nil
	}
}

// parseContactExpires extracts the expires parameter from a Contact header
// value such as <sip:user@host>;expires=3600. Returns 0 if absent.
func parseContactExpires(contactValue string) int {
	lower := strings.ToLower(contactValue)
	idx := strings.Index(lower, ";expires=")
	if idx < 0 {
		return 0
	}
	rest := contactValue[idx+len(";expires="):]

	end := strings.IndexAny(rest, ";,> \t")
	if end > 0 {
		rest = rest[:end]
	}

	val, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0
	}
	return val
}

// parseExpiresHeader parses an Expires header value (seconds). Returns 0
// if parsing fails.
func parseExpiresHeader(value string) int {
	val, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return val
}

// backoff implements exponential backoff with jitter for registration
// retries. Jitter avoids hammering the provider in lockstep after outages.
type backoff struct {
	attempt   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newBackoff() *backoff {
	return &backoff{
		baseDelay: 2 * time.Second,
		maxDelay:  60 * time.Second,
	}
}

func (b *backoff) next() time.Duration {
	d := b.current()
	b.attempt++
	return d
}

func (b *backoff) current() time.Duration {
	d := b.baseDelay
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d > b.maxDelay {
			d = b.maxDelay
			break
		}
	}
	// ±20% jitter.
	jitter := float64(d) * 0.2 * (2*rand.Float64() - 1)
	d += time.Duration(jitter)
	if d < 0 {
		d = b.baseDelay
	}
	return d
}

func (b *backoff) reset() {
	b.attempt = 0
}
