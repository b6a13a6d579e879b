// Package dashboard is the realtime surface for the web dashboard: a
// websocket fan-out hub plus the JSON event and command vocabulary.
package dashboard

import "github.com/voxgate/voxgate/internal/tasks"

// AI speech states shown on the dashboard.
const (
	StateIdle         = "idle"
	StateListening    = "listening"
	StateUserSpeaking = "user_speaking"
	StateThinking     = "thinking"
	StateSpeaking     = "speaking"
)

// Dashboard command types (client to server).
const (
	CommandHangup      = "hangup"
	CommandMuteAI      = "mute_ai"
	CommandUnmuteAI    = "unmute_ai"
	CommandSwitchAgent = "switch_agent"
)

// Command is one client-to-server message.
type Command struct {
	Type      string `json:"type"`
	AgentName string `json:"agent_name,omitempty"`
}

// AgentInfo is the dashboard's view of one selectable agent.
type AgentInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// Status is the full state snapshot sent to every new client and after
// state transitions.
type Status struct {
	Type            string      `json:"type"`
	SIPRegistered   bool        `json:"sip_registered"`
	CallActive      bool        `json:"call_active"`
	CallerID        string      `json:"caller_id,omitempty"`
	ActiveAgent     string      `json:"active_agent,omitempty"`
	AvailableAgents []AgentInfo `json:"available_agents"`
	CurrentModel    string      `json:"current_model"`
}

// NewStatus stamps the event type.
func NewStatus(s Status) Status {
	s.Type = "status"
	return s
}

type CallIncoming struct {
	Type     string `json:"type"`
	CallerID string `json:"caller_id"`
}

func NewCallIncoming(callerID string) CallIncoming {
	return CallIncoming{Type: "call_incoming", CallerID: callerID}
}

type CallActive struct {
	Type     string `json:"type"`
	CallerID string `json:"caller_id"`
	Agent    string `json:"agent"`
}

func NewCallActive(callerID, agent string) CallActive {
	return CallActive{Type: "call_active", CallerID: callerID, Agent: agent}
}

type CallEnded struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func NewCallEnded(reason string) CallEnded {
	return CallEnded{Type: "call_ended", Reason: reason}
}

type CallRejected struct {
	Type     string `json:"type"`
	CallerID string `json:"caller_id"`
	Reason   string `json:"reason"`
}

func NewCallRejected(callerID, reason string) CallRejected {
	return CallRejected{Type: "call_rejected", CallerID: callerID, Reason: reason}
}

type Transcript struct {
	Type    string `json:"type"`
	Role    string `json:"role"` // user, assistant or system
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

func NewTranscript(role, text string, isFinal bool) Transcript {
	return Transcript{Type: "transcript", Role: role, Text: text, IsFinal: isFinal}
}

type FunctionCall struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Args string `json:"args,omitempty"`
}

func NewFunctionCall(name, args string) FunctionCall {
	return FunctionCall{Type: "function_call", Name: name, Args: args}
}

type FunctionResult struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
}

func NewFunctionResult(name, result string) FunctionResult {
	return FunctionResult{Type: "function_result", Name: name, Result: result}
}

type AgentChanged struct {
	Type     string `json:"type"`
	OldAgent string `json:"old_agent"`
	NewAgent string `json:"new_agent"`
}

func NewAgentChanged(oldAgent, newAgent string) AgentChanged {
	return AgentChanged{Type: "agent_changed", OldAgent: oldAgent, NewAgent: newAgent}
}

type AIState struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

func NewAIState(state string) AIState {
	return AIState{Type: "ai_state", State: state}
}

type CallCost struct {
	Type      string  `json:"type"`
	CostCents float64 `json:"cost_cents"`
}

func NewCallCost(cents float64) CallCost {
	return CallCost{Type: "call_cost", CostCents: cents}
}

type ModelChanged struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

func NewModelChanged(model string) ModelChanged {
	return ModelChanged{Type: "model_changed", Model: model}
}

type ListUpdated struct {
	Type string `json:"type"`
}

func NewBlacklistUpdated() ListUpdated { return ListUpdated{Type: "blacklist_updated"} }
func NewWhitelistUpdated() ListUpdated { return ListUpdated{Type: "whitelist_updated"} }

type TaskUpdate struct {
	Type string     `json:"type"`
	Task tasks.Task `json:"task"`
}

func NewTaskUpdate(t tasks.Task) TaskUpdate {
	return TaskUpdate{Type: "task_update", Task: t}
}
