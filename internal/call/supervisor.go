package call

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/voxgate/voxgate/internal/agent"
	"github.com/voxgate/voxgate/internal/ai"
	"github.com/voxgate/voxgate/internal/audio"
	"github.com/voxgate/voxgate/internal/dashboard"
	"github.com/voxgate/voxgate/internal/database/models"
	"github.com/voxgate/voxgate/internal/sip"
)

const (
	// gateInactivityTimeout hangs up callers who never speak in the gate.
	gateInactivityTimeout = 15 * time.Second
	// teardownJoinTimeout bounds how long teardown waits for the loops.
	teardownJoinTimeout = 2 * time.Second

	connectTimeout = 10 * time.Second
)

type transcriptEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Supervisor owns one call: the AI session, the agent manager, the audio
// pipelines and the dashboard event stream. All mutable call state lives
// in its event loop; the tool handler and hub callbacks only signal it.
type Supervisor struct {
	co     *Coordinator
	call   *sip.ActiveCall
	logger *slog.Logger

	manager *agent.Manager
	costs   ai.CostTracker

	sessMu  sync.Mutex
	session *ai.Session

	outcomeCh chan agent.Outcome
	cmdCh     chan dashboard.Command
	stopCh    chan struct{}
	wg        sync.WaitGroup

	tmu            sync.Mutex
	transcript     []transcriptEntry
	securityFailed bool
}

func newSupervisor(co *Coordinator, activeCall *sip.ActiveCall) *Supervisor {
	return &Supervisor{
		co:        co,
		call:      activeCall,
		logger:    co.logger.With("call_id", activeCall.ID, "caller_id", activeCall.CallerID),
		outcomeCh: make(chan agent.Outcome, 8),
		cmdCh:     make(chan dashboard.Command, 8),
		stopCh:    make(chan struct{}),
	}
}

// CallerID returns the caller's number.
func (s *Supervisor) CallerID() string { return s.call.CallerID }

// ActiveAgent returns the name of the active agent.
func (s *Supervisor) ActiveAgent() string {
	if s.manager == nil {
		return agent.GateAgentName
	}
	return s.manager.Active().Name
}

// Model returns the model id of the current AI session.
func (s *Supervisor) Model() string {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if s.session == nil {
		return s.co.cfg.ModelMini
	}
	return s.session.Model()
}

// Hangup ends the call on behalf of the REST API.
func (s *Supervisor) Hangup(reason string) {
	s.call.Hangup(reason)
}

// run drives the call from accept to finalization. It returns when the
// call is torn down and persisted.
func (s *Supervisor) run() {
	logBuf := s.co.capture.Attach(s.call.ID)
	defer s.co.capture.Detach(s.call.ID)

	s.co.hub.Broadcast(dashboard.NewCallIncoming(s.call.CallerID))

	reg := s.co.buildRegistry(s.onUnlockExhausted)
	manager, err := agent.NewManager(reg, s.logger)
	if err != nil {
		s.logger.Error("building agent manager", "error", err)
		s.call.Hangup("internal_error")
		return
	}
	s.manager = manager

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	whitelisted, err := s.co.access.IsWhitelisted(ctx, s.call.CallerID)
	cancel()
	if err != nil {
		s.logger.Error("checking whitelist", "error", err)
	}
	if whitelisted {
		if err := manager.Unlock(); err != nil {
			s.logger.Error("unlocking whitelisted caller", "error", err)
		} else {
			s.logger.Info("whitelisted caller, gate skipped")
		}
	}

	record := &models.Call{
		ID:        s.call.ID,
		CallerID:  s.call.CallerID,
		StartedAt: s.call.StartedAt,
		Model:     s.co.modelForTier(manager.Active().PreferredModel),
	}
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := s.co.calls.Create(ctx, record); err != nil {
		s.logger.Error("creating call record", "error", err)
	}
	cancel()

	active := manager.Active()
	sess, err := s.connect(s.co.modelForTier(active.PreferredModel))
	if err != nil {
		s.logger.Error("connecting ai session", "error", err)
		s.call.Hangup("ai_connect_failed")
		s.finalize(record, logBuf)
		return
	}
	s.setSession(sess)
	events := sess.Events()

	s.co.hub.SetCommandHandler(s.enqueueCommand)
	defer s.co.hub.SetCommandHandler(nil)

	s.co.hub.Broadcast(dashboard.NewCallActive(s.call.CallerID, active.Name))
	s.co.hub.Broadcast(s.co.Status())
	s.maybeGreet(sess, active)

	s.wg.Add(1)
	go s.uplinkLoop()

	gateTimer := time.NewTimer(gateInactivityTimeout)
	defer gateTimer.Stop()
	if manager.Unlocked() {
		gateTimer.Stop()
	}

	reframer := audio.NewReframer(audio.FrameBytes(24000))
	speaking := false

loop:
	for {
		select {
		case <-s.call.Done():
			break loop

		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch evt.Type {
			case ai.EventAudioDelta:
				if !speaking {
					speaking = true
					s.co.hub.Broadcast(dashboard.NewAIState(dashboard.StateSpeaking))
				}
				for _, frame := range reframer.Push(evt.Audio) {
					pcm := audio.BytesToPCM(frame)
					s.call.Media.EnqueuePlayback(audio.Resample(pcm, 24000, 48000))
				}

			case ai.EventSpeechStarted:
				gateTimer.Stop()
				speaking = false
				dropped := s.call.Media.ClearPlayback()
				reframer.Reset()
				if dropped > 0 {
					s.logger.Debug("playback flushed on interruption", "frames", dropped)
				}
				s.co.hub.Broadcast(dashboard.NewAIState(dashboard.StateUserSpeaking))

			case ai.EventUserTranscript:
				gateTimer.Stop()
				s.addTranscript("user", evt.Text)

			case ai.EventAssistantTranscript:
				s.addTranscript("assistant", evt.Text)

			case ai.EventResponseStarted:
				speaking = false
				s.co.hub.Broadcast(dashboard.NewAIState(dashboard.StateThinking))

			case ai.EventResponseDone:
				speaking = false
				s.costs.Add(s.Model(), evt.Usage)
				s.co.hub.Broadcast(dashboard.NewCallCost(s.costs.Cents()))
				s.co.hub.Broadcast(dashboard.NewAIState(dashboard.StateListening))

			case ai.EventError:
				s.logger.Warn("ai session error", "error", evt.Err)

			case ai.EventClosed:
				if evt.Err != nil {
					s.logger.Error("ai session lost", "error", evt.Err)
					s.call.Hangup("ai_connection_lost")
				}
				events = nil
			}

		case out := <-s.outcomeCh:
			events = s.applyOutcome(out, events)

		case cmd := <-s.cmdCh:
			events = s.applyCommand(cmd, events)

		case <-gateTimer.C:
			if !manager.Unlocked() {
				s.logger.Info("no caller speech in the gate, hanging up")
				s.call.Hangup("gate_timeout")
			}
		}
	}

	s.teardown()
	s.finalize(record, logBuf)
}

// connect opens an AI session for the active agent on the given model.
func (s *Supervisor) connect(model string) (*ai.Session, error) {
	active := s.manager.Active()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	sess, err := ai.Connect(ctx, ai.SessionConfig{
		APIKey:       s.co.cfg.OpenAIKey,
		BaseURL:      s.co.cfg.RealtimeURL,
		Model:        model,
		Voice:        s.co.cfg.Voice,
		Instructions: active.Instructions,
		Tools:        wireTools(active.Tools),
	}, s.logger)
	if err != nil {
		return nil, err
	}
	sess.OnToolCall(s.onToolCall)
	return sess, nil
}

func (s *Supervisor) setSession(sess *ai.Session) {
	s.sessMu.Lock()
	s.session = sess
	s.sessMu.Unlock()
}

func (s *Supervisor) currentSession() *ai.Session {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	return s.session
}

// uplinkLoop forwards caller audio to the AI: 48 kHz frames from the
// media session, downsampled to 16 kHz.
func (s *Supervisor) uplinkLoop() {
	defer s.wg.Done()
	rx := s.call.Media.Receive()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.call.Done():
			return
		case frame := <-rx:
			down := audio.Resample(frame, 48000, 16000)
			if sess := s.currentSession(); sess != nil {
				if err := sess.SendAudio(audio.PCMToBytes(down)); err != nil {
					s.logger.Debug("uplink send failed", "error", err)
				}
			}
		}
	}
}

// onToolCall bridges model tool calls to the agent manager. It runs on
// the AI session's dispatch goroutine; side effects that mutate call
// state are signalled to the event loop instead of applied here.
func (s *Supervisor) onToolCall(name, arguments, callID string) string {
	s.co.hub.Broadcast(dashboard.NewFunctionCall(name, arguments))

	out := s.manager.Execute(context.Background(), name, arguments)

	var reply string
	switch out.Kind {
	case agent.OutcomeReply, agent.OutcomeBlocked:
		reply = out.Reply

	case agent.OutcomeBeep:
		if sess := s.currentSession(); sess != nil {
			sess.MuteUntilResponseDone()
		}
		s.call.Media.EnqueueTone(audio.Beep())
		reply = `{"result": "falscher code"}`

	case agent.OutcomeSwitch:
		s.signal(out)
		reply = `{"result": "einen moment, ich verbinde"}`

	case agent.OutcomeModel:
		s.signal(out)
		reply = `{"result": "modell wird gewechselt"}`

	case agent.OutcomeHangup:
		s.signal(out)
		reply = `{"result": "auf wiederhoeren"}`
	}

	s.co.hub.Broadcast(dashboard.NewFunctionResult(name, reply))
	return reply
}

func (s *Supervisor) signal(out agent.Outcome) {
	select {
	case s.outcomeCh <- out:
	default:
		s.logger.Warn("outcome channel full, dropping", "kind", out.Kind)
	}
}

// enqueueCommand runs on the hub's read goroutine.
func (s *Supervisor) enqueueCommand(cmd dashboard.Command) {
	select {
	case s.cmdCh <- cmd:
	default:
		s.logger.Warn("command channel full, dropping", "command", cmd.Type)
	}
}

// applyOutcome handles sentinel outcomes on the event loop. It returns
// the (possibly replaced) event channel.
func (s *Supervisor) applyOutcome(out agent.Outcome, events <-chan ai.Event) <-chan ai.Event {
	switch out.Kind {
	case agent.OutcomeSwitch:
		return s.switchAgent(out.Target, events)

	case agent.OutcomeModel:
		return s.swapModel(s.co.modelForTier(out.Target), events)

	case agent.OutcomeHangup:
		reason := "user_hangup"
		s.tmu.Lock()
		if s.securityFailed {
			reason = "security_failed"
		}
		s.tmu.Unlock()
		s.call.Hangup(reason)
	}
	return events
}

// applyCommand handles one dashboard command on the event loop.
func (s *Supervisor) applyCommand(cmd dashboard.Command, events <-chan ai.Event) <-chan ai.Event {
	switch cmd.Type {
	case dashboard.CommandHangup:
		s.call.Hangup("dashboard_hangup")

	case dashboard.CommandMuteAI:
		if sess := s.currentSession(); sess != nil {
			sess.SetMuted(true)
		}
		s.addTranscript("system", "KI stummgeschaltet.")

	case dashboard.CommandUnmuteAI:
		if sess := s.currentSession(); sess != nil {
			sess.SetMuted(false)
		}
		s.addTranscript("system", "KI wieder hoerbar.")

	case dashboard.CommandSwitchAgent:
		if cmd.AgentName == agent.GateAgentName {
			s.addTranscript("system", "Wechsel zum Sicherheitssystem ist nicht erlaubt.")
			return events
		}
		if !s.manager.Unlocked() {
			s.addTranscript("system", "Agentenwechsel waehrend der Code-Abfrage ist nicht erlaubt.")
			return events
		}
		return s.switchAgent(cmd.AgentName, events)

	default:
		s.logger.Debug("unknown dashboard command", "command", cmd.Type)
	}
	return events
}

// switchAgent activates another agent, reconfigures the session and
// hot-swaps the model if the new agent prefers a different tier.
func (s *Supervisor) switchAgent(target string, events <-chan ai.Event) <-chan ai.Event {
	res, err := s.manager.Switch(target)
	if err != nil {
		s.logger.Warn("agent switch refused", "target", target, "error", err)
		return events
	}

	s.co.hub.Broadcast(dashboard.NewAgentChanged(res.From.Name, res.To.Name))

	sess := s.currentSession()
	if sess != nil {
		if err := sess.UpdateSession(res.To.Instructions, wireTools(res.To.Tools)); err != nil {
			s.logger.Warn("session update after switch failed", "error", err)
		}
		s.maybeGreet(sess, res.To)
	}

	if res.To.PreferredModel != "" {
		if want := s.co.modelForTier(res.To.PreferredModel); want != s.Model() {
			events = s.swapModel(want, events)
		}
	}

	s.co.hub.Broadcast(s.co.Status())
	return events
}

// swapModel reconnects the AI session on another model. The TX queue is
// owned by the media session and survives the swap untouched.
func (s *Supervisor) swapModel(model string, events <-chan ai.Event) <-chan ai.Event {
	if model == s.Model() {
		return events
	}

	s.logger.Info("hot-swapping model", "model", model)
	newSess, err := s.connect(model)
	if err != nil {
		s.logger.Error("model swap failed, keeping current session", "model", model, "error", err)
		return events
	}

	old := s.currentSession()
	s.setSession(newSess)
	if old != nil {
		old.Close()
		// The old session's queue keeps delivering until its read loop
		// winds down; leave a reader so it can finish.
		go drainEvents(events)
	}

	s.co.hub.Broadcast(dashboard.NewModelChanged(model))
	s.co.hub.Broadcast(s.co.Status())
	return newSess.Events()
}

// drainEvents consumes an abandoned event channel until it closes.
func drainEvents(events <-chan ai.Event) {
	if events == nil {
		return
	}
	for range events {
	}
}

// maybeGreet triggers the spoken greeting of a freshly activated agent.
// The gate is silent; it waits for the caller.
func (s *Supervisor) maybeGreet(sess *ai.Session, d *agent.Descriptor) {
	if d.Greeting == "" || d.Name == agent.GateAgentName {
		return
	}
	if err := sess.InjectText("system", "Begruesse den Anrufer mit: "+d.Greeting); err != nil {
		s.logger.Debug("injecting greeting failed", "error", err)
		return
	}
	if !sess.ResponseActive() {
		if err := sess.CreateResponse(); err != nil {
			s.logger.Debug("greeting response failed", "error", err)
		}
	}
}

// onUnlockExhausted fires when the caller burns the last unlock attempt.
// Every wrong code of the call is recorded, so one exhausted call is
// enough to trip the promotion rule.
func (s *Supervisor) onUnlockExhausted(codesTried []string) {
	s.tmu.Lock()
	s.securityFailed = true
	s.tmu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	promoted := false
	for _, code := range codesTried {
		p, err := s.co.access.RecordFailedUnlock(ctx, s.call.CallerID, code)
		if err != nil {
			s.logger.Error("recording failed unlock", "error", err)
			continue
		}
		promoted = promoted || p
	}
	s.logger.Warn("unlock attempts exhausted", "attempts", len(codesTried), "promoted", promoted)
	if promoted {
		s.co.hub.Broadcast(dashboard.NewBlacklistUpdated())
	}
}

func (s *Supervisor) addTranscript(role, text string) {
	s.tmu.Lock()
	s.transcript = append(s.transcript, transcriptEntry{Role: role, Text: text})
	s.tmu.Unlock()
	s.co.hub.Broadcast(dashboard.NewTranscript(role, text, true))
}

// teardown stops the loops and the AI session with a bounded join.
func (s *Supervisor) teardown() {
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(teardownJoinTimeout):
		s.logger.Warn("call loops did not stop within deadline")
	}

	if sess := s.currentSession(); sess != nil {
		sess.Close()
	}
}

// finalize seals the call record: duration, cost, transcript and the
// captured logs.
func (s *Supervisor) finalize(record *models.Call, logBuf *LogBuffer) {
	reason := s.call.EndReason()
	now := time.Now()

	s.tmu.Lock()
	transcript, err := json.Marshal(s.transcript)
	s.tmu.Unlock()
	if err != nil {
		s.logger.Error("marshaling transcript", "error", err)
		transcript = []byte("[]")
	}

	record.EndedAt = &now
	record.DurationS = int(s.call.Duration().Seconds())
	record.CostCents = s.costs.Cents()
	record.EndReason = reason
	record.Model = s.Model()
	record.FinalAgent = s.ActiveAgent()
	record.Transcript = string(transcript)
	record.Logs = logBuf.String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.co.calls.Finalize(ctx, record); err != nil {
		s.logger.Error("finalizing call record", "error", err)
	}

	s.co.hub.Broadcast(dashboard.NewCallEnded(reason))
	s.logger.Info("call finished",
		"reason", reason,
		"duration_s", record.DurationS,
		"cost_cents", record.CostCents,
		"final_agent", record.FinalAgent,
	)
}

func wireTools(tools []agent.Tool) []ai.Tool {
	out := make([]ai.Tool, len(tools))
	for i, t := range tools {
		out[i] = ai.Tool{Name: t.Name, Description: t.Description, Parameters: t.Schema}
	}
	return out
}
