package agent

import "strings"

// Control sentinels a tool handler may return. They are consumed at the
// manager boundary and turned into tagged outcomes; the raw strings never
// reach the model or the supervisor.
const (
	sentinelSwitchPrefix = "__SWITCH__:"
	sentinelModelPrefix  = "__MODEL__:"
	sentinelBeep         = "__BEEP__"
	sentinelHangup       = "__HANGUP__"
	sentinelBlocked      = "__BLOCKED__"
)

// OutcomeKind tags the result of a tool dispatch.
type OutcomeKind int

const (
	// OutcomeReply forwards text back to the model.
	OutcomeReply OutcomeKind = iota
	// OutcomeSwitch asks the supervisor to activate another agent.
	OutcomeSwitch
	// OutcomeModel asks the supervisor to hot-swap the model tier.
	OutcomeModel
	// OutcomeBeep plays the confirmation beep and mutes the next response.
	OutcomeBeep
	// OutcomeHangup ends the call.
	OutcomeHangup
	// OutcomeBlocked means the tool was refused because the call is still
	// locked; the model gets a terse failure.
	OutcomeBlocked
)

// Outcome is the parsed result of one tool dispatch.
type Outcome struct {
	Kind   OutcomeKind
	Reply  string // OutcomeReply, OutcomeBlocked
	Target string // OutcomeSwitch (agent name), OutcomeModel (tier)
}

// parseSentinel classifies a handler result string.
func parseSentinel(result string) Outcome {
	switch {
	case strings.HasPrefix(result, sentinelSwitchPrefix):
		return Outcome{Kind: OutcomeSwitch, Target: strings.TrimPrefix(result, sentinelSwitchPrefix)}
	case strings.HasPrefix(result, sentinelModelPrefix):
		return Outcome{Kind: OutcomeModel, Target: strings.TrimPrefix(result, sentinelModelPrefix)}
	case result == sentinelBeep:
		return Outcome{Kind: OutcomeBeep}
	case result == sentinelHangup:
		return Outcome{Kind: OutcomeHangup}
	case result == sentinelBlocked:
		return Outcome{Kind: OutcomeBlocked, Reply: `{"error": "gesperrt"}`}
	default:
		return Outcome{Kind: OutcomeReply, Reply: result}
	}
}
