package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager holds the mutable agent state of one call: the active
// descriptor and the unlocked flag. It belongs to exactly one supervisor.
type Manager struct {
	registry *Registry
	logger   *slog.Logger

	mu       sync.Mutex
	active   *Descriptor
	unlocked bool
}

// NewManager creates the per-call manager with the security gate active
// and the call locked.
func NewManager(registry *Registry, logger *slog.Logger) (*Manager, error) {
	gate, ok := registry.Get(GateAgentName)
	if !ok {
		return nil, fmt.Errorf("registry has no %s", GateAgentName)
	}
	return &Manager{
		registry: registry,
		logger:   logger.With("component", "agent-manager"),
		active:   gate,
	}, nil
}

// Active returns the currently active descriptor.
func (m *Manager) Active() *Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Unlocked reports whether the call passed the security gate.
func (m *Manager) Unlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked
}

// Registry returns the call's agent registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Unlock skips the gate for whitelisted callers: the call is marked
// unlocked and main_agent becomes active.
func (m *Manager) Unlock() error {
	main, ok := m.registry.Get(MainAgentName)
	if !ok {
		return fmt.Errorf("registry has no %s", MainAgentName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlocked = true
	m.active = main
	return nil
}

// Execute dispatches one tool call against the active agent and parses
// the result into a tagged outcome. While the call is locked, only the
// gate's own tools may run.
func (m *Manager) Execute(ctx context.Context, toolName, rawArgs string) Outcome {
	m.mu.Lock()
	active := m.active
	unlocked := m.unlocked
	m.mu.Unlock()

	if !unlocked && active.Name != GateAgentName {
		m.logger.Warn("tool refused while locked", "tool", toolName, "agent", active.Name)
		return parseSentinel(sentinelBlocked)
	}

	tool := active.Tool(toolName)
	if tool == nil {
		m.logger.Warn("unknown tool", "tool", toolName, "agent", active.Name)
		return Outcome{Kind: OutcomeReply, Reply: fmt.Sprintf(`{"error": "unbekanntes werkzeug: %s"}`, toolName)}
	}

	result, err := tool.Handler(ctx, []byte(rawArgs))
	if err != nil {
		m.logger.Warn("tool failed", "tool", toolName, "agent", active.Name, "error", err)
		return Outcome{Kind: OutcomeReply, Reply: fmt.Sprintf(`{"error": %q}`, err.Error())}
	}

	return parseSentinel(result)
}

// SwitchResult describes a completed agent switch.
type SwitchResult struct {
	From *Descriptor
	To   *Descriptor
	// Unlocked is the post-switch lock state; it flips to true when the
	// gate hands over to main_agent.
	Unlocked bool
}

// Switch activates another agent. Switching to the security gate is
// refused. Leaving the gate for main_agent unlocks the call.
func (m *Manager) Switch(target string) (*SwitchResult, error) {
	if target == GateAgentName {
		return nil, fmt.Errorf("switching to the security gate is not allowed")
	}
	to, ok := m.registry.Get(target)
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", target)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.active
	m.active = to
	if from.Name == GateAgentName && to.Name == MainAgentName {
		m.unlocked = true
	}

	m.logger.Info("agent switched", "from", from.Name, "to", to.Name, "unlocked", m.unlocked)
	return &SwitchResult{From: from, To: to, Unlocked: m.unlocked}, nil
}
