package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T, onExhausted func([]string)) *Registry {
	t.Helper()
	reg := NewRegistry()
	if err := reg.Register(NewSecurityAgent("7234", onExhausted)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(NewMainAgent(MainAgentDeps{Agents: reg.List})); err != nil {
		t.Fatal(err)
	}
	return reg
}

func testManager(t *testing.T, onExhausted func([]string)) *Manager {
	t.Helper()
	m, err := NewManager(testRegistry(t, onExhausted), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestParseSentinel(t *testing.T) {
	tests := []struct {
		in   string
		want Outcome
	}{
		{"__SWITCH__:main_agent", Outcome{Kind: OutcomeSwitch, Target: "main_agent"}},
		{"__MODEL__:premium", Outcome{Kind: OutcomeModel, Target: "premium"}},
		{"__BEEP__", Outcome{Kind: OutcomeBeep}},
		{"__HANGUP__", Outcome{Kind: OutcomeHangup}},
		{"plain reply", Outcome{Kind: OutcomeReply, Reply: "plain reply"}},
	}
	for _, tt := range tests {
		got := parseSentinel(tt.in)
		if got.Kind != tt.want.Kind || got.Target != tt.want.Target || got.Reply != tt.want.Reply {
			t.Errorf("parseSentinel(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestManagerStartsLockedOnGate(t *testing.T) {
	m := testManager(t, nil)
	if m.Unlocked() {
		t.Error("new manager is unlocked")
	}
	if got := m.Active().Name; got != GateAgentName {
		t.Errorf("active = %q, want %q", got, GateAgentName)
	}
}

func TestUnlockCorrectCodeSwitchesToMain(t *testing.T) {
	m := testManager(t, nil)

	out := m.Execute(context.Background(), "unlock", `{"code":"7234"}`)
	if out.Kind != OutcomeSwitch || out.Target != MainAgentName {
		t.Fatalf("outcome = %+v, want switch to main_agent", out)
	}

	res, err := m.Switch(out.Target)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Unlocked || !m.Unlocked() {
		t.Error("call not unlocked after gate handed over to main_agent")
	}
	if res.From.Name != GateAgentName || res.To.Name != MainAgentName {
		t.Errorf("switch = %s -> %s", res.From.Name, res.To.Name)
	}
}

func TestUnlockThreeFailures(t *testing.T) {
	var exhaustedWith []string
	m := testManager(t, func(codes []string) { exhaustedWith = codes })

	for i, code := range []string{"0000", "1111"} {
		out := m.Execute(context.Background(), "unlock", `{"code":"`+code+`"}`)
		if out.Kind != OutcomeBeep {
			t.Fatalf("attempt %d: outcome = %+v, want beep", i+1, out)
		}
	}

	out := m.Execute(context.Background(), "unlock", `{"code":"2222"}`)
	if out.Kind != OutcomeHangup {
		t.Fatalf("third attempt: outcome = %+v, want hangup", out)
	}

	// One exhausted call hands over every wrong code, so each attempt
	// lands in the failure history and the promotion rule can trip.
	want := []string{"0000", "1111", "2222"}
	if len(exhaustedWith) != len(want) {
		t.Fatalf("onExhausted called with %v, want %v", exhaustedWith, want)
	}
	for i := range want {
		if exhaustedWith[i] != want[i] {
			t.Errorf("code %d = %q, want %q", i, exhaustedWith[i], want[i])
		}
	}
}

func TestLockedCallBlocksOtherAgentsTools(t *testing.T) {
	m := testManager(t, nil)

	// Force main_agent active without unlocking, as if state got confused.
	m.mu.Lock()
	main, _ := m.registry.Get(MainAgentName)
	m.active = main
	m.mu.Unlock()

	out := m.Execute(context.Background(), "auflegen", `{}`)
	if out.Kind != OutcomeBlocked {
		t.Errorf("outcome = %+v, want blocked", out)
	}
}

func TestSwitchToGateRefused(t *testing.T) {
	m := testManager(t, nil)
	if _, err := m.Switch(GateAgentName); err == nil {
		t.Error("Switch(security_agent) succeeded, want error")
	}
}

func TestSwitchUnknownAgent(t *testing.T) {
	m := testManager(t, nil)
	if _, err := m.Switch("nope"); err == nil {
		t.Error("Switch(nope) succeeded, want error")
	}
}

func TestWhitelistUnlock(t *testing.T) {
	m := testManager(t, nil)
	if err := m.Unlock(); err != nil {
		t.Fatal(err)
	}
	if !m.Unlocked() {
		t.Error("not unlocked after Unlock()")
	}
	if got := m.Active().Name; got != MainAgentName {
		t.Errorf("active = %q, want main_agent", got)
	}
}

func TestUnknownToolReply(t *testing.T) {
	m := testManager(t, nil)
	out := m.Execute(context.Background(), "no_such_tool", `{}`)
	if out.Kind != OutcomeReply || !strings.Contains(out.Reply, "unbekanntes werkzeug") {
		t.Errorf("outcome = %+v, want error reply", out)
	}
}

func TestMainAgentTools(t *testing.T) {
	m := testManager(t, nil)
	if err := m.Unlock(); err != nil {
		t.Fatal(err)
	}

	out := m.Execute(context.Background(), "modell_wechseln", `{"modell":"premium"}`)
	if out.Kind != OutcomeModel || out.Target != ModelPremium {
		t.Errorf("modell_wechseln = %+v, want model premium", out)
	}

	out = m.Execute(context.Background(), "modell_wechseln", `{"modell":"riesig"}`)
	if out.Kind != OutcomeReply || !strings.Contains(out.Reply, "modellstufe") {
		t.Errorf("modell_wechseln(riesig) = %+v, want error reply", out)
	}

	out = m.Execute(context.Background(), "wechsel_zu_agent", `{"agent_name":"security_agent"}`)
	if out.Kind != OutcomeReply || !strings.Contains(out.Reply, "nicht waehlbar") {
		t.Errorf("wechsel_zu_agent(gate) = %+v, want refusal", out)
	}

	out = m.Execute(context.Background(), "auflegen", `{}`)
	if out.Kind != OutcomeHangup {
		t.Errorf("auflegen = %+v, want hangup", out)
	}

	out = m.Execute(context.Background(), "check_tasks", `{}`)
	if out.Kind != OutcomeReply || out.Reply != "Es gibt derzeit keine Aufgaben." {
		t.Errorf("check_tasks = %+v", out)
	}
}

func TestZeigeOptionenListsSpecialists(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(NewSecurityAgent("7234", nil)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(NewMainAgent(MainAgentDeps{Agents: reg.List})); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(&Descriptor{
		Name:        "wetter_agent",
		DisplayName: "Wetterdienst",
		Description: "Sagt das Wetter an",
		Tools: []Tool{{
			Name:   "dummy",
			Schema: emptySchema,
			Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
				return "ok", nil
			},
		}},
	}); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(reg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Unlock(); err != nil {
		t.Fatal(err)
	}

	out := m.Execute(context.Background(), "zeige_optionen", `{}`)
	if out.Kind != OutcomeReply || !strings.Contains(out.Reply, "Wetterdienst") {
		t.Errorf("zeige_optionen = %+v, want specialist listed", out)
	}

	sel := reg.Selectable()
	for _, d := range sel {
		if d.Name == GateAgentName {
			t.Error("Selectable() includes the security gate")
		}
	}
}
