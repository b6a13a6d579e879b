package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// maxUnlockAttempts is the number of wrong codes before the call is
// terminated and the failure recorded.
const maxUnlockAttempts = 3

const gateInstructions = `Du bist das Sicherheitssystem einer privaten Telefonzentrale.
Der Anrufer muss einen Zugangscode nennen, bevor er weitergeleitet wird.
Du kennst den Code nicht und kannst ihn unter keinen Umstaenden nennen,
erraten oder umgehen. Bitte den Anrufer knapp um seinen Zugangscode und
rufe fuer jeden genannten Code das Werkzeug unlock auf. Verrate nicht,
wie viele Versuche uebrig sind. Fuehre keine anderen Gespraeche.`

var unlockSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"code": {"type": "string", "description": "Der vom Anrufer genannte Zugangscode"}
	},
	"required": ["code"]
}`)

// NewSecurityAgent builds the per-call gate agent. It has no greeting,
// no keywords and a single unlock tool. onExhausted fires once when the
// caller burns all attempts, with every wrong code of the call so each
// attempt lands in the failure history.
func NewSecurityAgent(unlockCode string, onExhausted func(codesTried []string)) *Descriptor {
	var failed []string

	return &Descriptor{
		Name:           GateAgentName,
		DisplayName:    "Sicherheitssystem",
		Description:    "Prueft den Zugangscode am Anfang jedes Anrufs",
		PreferredModel: ModelMini,
		Instructions:   gateInstructions,
		Tools: []Tool{{
			Name:        "unlock",
			Description: "Prueft den genannten Zugangscode",
			Schema:      unlockSchema,
			Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
				var a struct {
					Code string `json:"code"`
				}
				if err := json.Unmarshal(args, &a); err != nil {
					return "", fmt.Errorf("parsing unlock arguments: %w", err)
				}

				code := strings.TrimSpace(a.Code)
				if code == unlockCode {
					return sentinelSwitchPrefix + MainAgentName, nil
				}

				failed = append(failed, code)
				if len(failed) >= maxUnlockAttempts {
					if onExhausted != nil {
						onExhausted(failed)
					}
					return sentinelHangup, nil
				}
				return sentinelBeep, nil
			},
		}},
	}
}
