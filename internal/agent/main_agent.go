package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxgate/voxgate/internal/tasks"
)

const mainInstructions = `Du bist die Zentrale einer privaten Telefonanlage und sprichst Deutsch.
Der Anrufer ist verifiziert. Antworte kurz und natuerlich, wie am Telefon.
Du kannst zu Spezial-Agenten weiterleiten (wechsel_zu_agent), die
verfuegbaren Optionen nennen (zeige_optionen), laufende Aufgaben pruefen
(check_tasks), das Sprachmodell wechseln (modell_wechseln) und das
Gespraech beenden (auflegen). Leite nur weiter, wenn der Anrufer es will.`

var (
	switchAgentSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent_name": {"type": "string", "description": "Name des Ziel-Agenten"}
		},
		"required": ["agent_name"]
	}`)

	emptySchema = json.RawMessage(`{"type": "object", "properties": {}}`)

	switchModelSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"modell": {"type": "string", "enum": ["mini", "premium"], "description": "Gewuenschte Modellstufe"}
		},
		"required": ["modell"]
	}`)
)

// MainAgentDeps are the collaborators of the hub agent. Agents is lazy
// because the registry is still being populated when the hub is built.
type MainAgentDeps struct {
	Agents func() []*Descriptor
	Tasks  *tasks.Store
}

// NewMainAgent builds the per-call hub agent the gate unlocks into.
func NewMainAgent(deps MainAgentDeps) *Descriptor {
	return &Descriptor{
		Name:           MainAgentName,
		DisplayName:    "Zentrale",
		Description:    "Hauptmenue der Telefonzentrale",
		Keywords:       []string{"zentrale", "hauptmenue", "zurueck"},
		Greeting:       "Willkommen zurueck in der Zentrale.",
		PreferredModel: ModelMini,
		Instructions:   mainInstructions,
		Tools: []Tool{
			{
				Name:        "wechsel_zu_agent",
				Description: "Leitet den Anrufer zu einem anderen Agenten weiter",
				Schema:      switchAgentSchema,
				Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
					var a struct {
						AgentName string `json:"agent_name"`
					}
					if err := json.Unmarshal(args, &a); err != nil {
						return "", fmt.Errorf("parsing switch arguments: %w", err)
					}

					name := strings.TrimSpace(a.AgentName)
					if name == GateAgentName {
						return "", fmt.Errorf("agent %q ist nicht waehlbar", name)
					}
					for _, d := range deps.Agents() {
						if d.Name == name {
							return sentinelSwitchPrefix + name, nil
						}
					}
					return "", fmt.Errorf("unbekannter agent %q", name)
				},
			},
			{
				Name:        "zeige_optionen",
				Description: "Nennt die verfuegbaren Agenten",
				Schema:      emptySchema,
				Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
					var lines []string
					for _, d := range deps.Agents() {
						if d.Name == GateAgentName || d.Name == MainAgentName {
							continue
						}
						lines = append(lines, fmt.Sprintf("%s: %s", d.DisplayName, d.Description))
					}
					if len(lines) == 0 {
						return "Es sind keine weiteren Agenten verfuegbar.", nil
					}
					return "Verfuegbare Agenten: " + strings.Join(lines, ". "), nil
				},
			},
			{
				Name:        "check_tasks",
				Description: "Fasst laufende und erledigte Aufgaben zusammen",
				Schema:      emptySchema,
				Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
					if deps.Tasks == nil {
						return "Es gibt derzeit keine Aufgaben.", nil
					}
					return deps.Tasks.Speech(), nil
				},
			},
			{
				Name:        "modell_wechseln",
				Description: "Wechselt die Modellstufe (mini oder premium)",
				Schema:      switchModelSchema,
				Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
					var a struct {
						Modell string `json:"modell"`
					}
					if err := json.Unmarshal(args, &a); err != nil {
						return "", fmt.Errorf("parsing model arguments: %w", err)
					}
					tier := strings.ToLower(strings.TrimSpace(a.Modell))
					if tier != ModelMini && tier != ModelPremium {
						return "", fmt.Errorf("unbekannte modellstufe %q", tier)
					}
					return sentinelModelPrefix + tier, nil
				},
			},
			{
				Name:        "auflegen",
				Description: "Beendet das Gespraech",
				Schema:      emptySchema,
				Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
					return sentinelHangup, nil
				},
			},
		},
	}
}
