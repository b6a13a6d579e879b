package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxgate/voxgate/internal/agent"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/dashboard"
	"github.com/voxgate/voxgate/internal/database"
	"github.com/voxgate/voxgate/internal/sip"
	"github.com/voxgate/voxgate/internal/tasks"
)

// Coordinator is the SIP server's delegate. It authorizes inbound calls
// against the access store and runs one supervisor per accepted call.
type Coordinator struct {
	cfg     *config.Config
	access  *database.AccessStore
	calls   database.CallRepository
	hub     *dashboard.Hub
	tasks   *tasks.Store
	capture *CaptureHandler
	logger  *slog.Logger

	// sipRegistered reports trunk registration for status snapshots; it
	// is installed after the SIP server exists.
	sipRegistered func() bool

	mu     sync.Mutex
	active *Supervisor
}

// NewCoordinator wires the call layer together.
func NewCoordinator(
	cfg *config.Config,
	access *database.AccessStore,
	calls database.CallRepository,
	hub *dashboard.Hub,
	taskStore *tasks.Store,
	capture *CaptureHandler,
	logger *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		access:  access,
		calls:   calls,
		hub:     hub,
		tasks:   taskStore,
		capture: capture,
		logger:  logger.With("component", "call"),
	}
	hub.SetStatusFunc(c.Status)
	return c
}

// SetRegistrationProbe installs the trunk registration check used in
// status snapshots.
func (c *Coordinator) SetRegistrationProbe(fn func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sipRegistered = fn
}

// AuthorizeCall rejects blacklisted callers before any media is set up.
func (c *Coordinator) AuthorizeCall(ctx context.Context, callerID string) error {
	blocked, reason, err := c.access.IsBlacklisted(ctx, callerID)
	if err != nil {
		return fmt.Errorf("checking blacklist: %w", err)
	}
	if blocked {
		c.logger.Info("call rejected", "caller_id", callerID, "reason", reason)
		c.hub.Broadcast(dashboard.NewCallRejected(callerID, "blacklist:"+reason))
		return sip.ErrCallerBlocked
	}
	return nil
}

// HandleCall runs the supervisor for one accepted call. It is invoked on
// its own goroutine by the SIP server and returns when the call is over.
func (c *Coordinator) HandleCall(activeCall *sip.ActiveCall) {
	s := newSupervisor(c, activeCall)

	c.mu.Lock()
	if c.active != nil {
		// The SIP server answers 486 while a call is up, so this is a
		// should-not-happen overlap.
		c.mu.Unlock()
		c.logger.Error("overlapping call, hanging up", "call_id", activeCall.ID)
		activeCall.Hangup("overlap")
		return
	}
	c.active = s
	c.mu.Unlock()

	s.run()

	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
	c.hub.Broadcast(c.Status())
}

// ActiveSupervisor returns the running supervisor, or nil.
func (c *Coordinator) ActiveSupervisor() *Supervisor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// AgentList returns the selectable agents for the dashboard and REST.
func (c *Coordinator) AgentList() []dashboard.AgentInfo {
	reg := c.buildRegistry(nil)
	var out []dashboard.AgentInfo
	for _, d := range reg.Selectable() {
		out = append(out, dashboard.AgentInfo{
			Name:        d.Name,
			DisplayName: d.DisplayName,
			Description: d.Description,
		})
	}
	return out
}

// Status builds the dashboard snapshot.
func (c *Coordinator) Status() dashboard.Status {
	c.mu.Lock()
	active := c.active
	probe := c.sipRegistered
	c.mu.Unlock()

	st := dashboard.Status{
		AvailableAgents: c.AgentList(),
		CurrentModel:    c.cfg.ModelMini,
	}
	if probe != nil {
		st.SIPRegistered = probe()
	}
	if active != nil {
		st.CallActive = true
		st.CallerID = active.CallerID()
		st.ActiveAgent = active.ActiveAgent()
		st.CurrentModel = active.Model()
	}
	return dashboard.NewStatus(st)
}

// buildRegistry creates the per-call agent set. onExhausted fires when
// the gate burns the caller's last unlock attempt.
func (c *Coordinator) buildRegistry(onExhausted func(codesTried []string)) *agent.Registry {
	reg := agent.NewRegistry()
	// Registration of the built-in agents cannot fail: names are unique.
	reg.Register(agent.NewSecurityAgent(c.cfg.UnlockCode, onExhausted))
	reg.Register(agent.NewMainAgent(agent.MainAgentDeps{
		Agents: reg.List,
		Tasks:  c.tasks,
	}))
	return reg
}

// modelForTier maps a descriptor's preferred tier to a model id.
func (c *Coordinator) modelForTier(tier string) string {
	if tier == agent.ModelPremium {
		return c.cfg.ModelPremium
	}
	return c.cfg.ModelMini
}
