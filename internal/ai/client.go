package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Server-side voice activity detection tuning. The prefix padding
	// keeps the start of an utterance, the silence duration decides when
	// a turn ends.
	vadThreshold         = 0.4
	vadPrefixPaddingMs   = 200
	vadSilenceDurationMs = 400

	// transcriptionModel transcribes caller audio for the transcript log.
	transcriptionModel = "whisper-1"

	// responseWaitTimeout bounds how long a response.create waits for the
	// previous response to finish.
	responseWaitTimeout = 5 * time.Second

	// activeResponseBackoff is the retry delay after the server rejects a
	// response.create because one is still running.
	activeResponseBackoff = 250 * time.Millisecond

	activeResponseErrorCode = "conversation_already_has_active_response"
)

// Tool describes one function exposed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolHandler produces the JSON output for an invoked tool.
type ToolHandler func(name, arguments, callID string) string

// SessionConfig carries everything needed to open a realtime session.
type SessionConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Voice        string
	Instructions string
	Tools        []Tool
}

// Session is one realtime websocket conversation. Uplink audio goes in
// through SendAudio, downlink events come out of Events. A session is
// bound to one model; switching models means closing and reconnecting.
type Session struct {
	cfg    SessionConfig
	conn   *websocket.Conn
	queue  *eventQueue
	logger *slog.Logger

	writeMu sync.Mutex // gorilla permits a single concurrent writer

	mu             sync.Mutex
	responseCond   *sync.Cond
	responseActive bool
	retryPending   bool
	muted          bool
	unmuteOnDone   bool
	toolHandler    ToolHandler
	closed         bool
}

// Connect dials the realtime endpoint and configures the session: pcm16
// both ways, whisper transcription of caller audio and server-side VAD.
func Connect(ctx context.Context, cfg SessionConfig, logger *slog.Logger) (*Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", cfg.BaseURL, cfg.Model)

	header := http.Header{
		"Authorization": []string{"Bearer " + cfg.APIKey},
		"OpenAI-Beta":   []string{"realtime=v1"},
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing realtime api (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing realtime api: %w", err)
	}

	s := &Session{
		cfg:    cfg,
		conn:   conn,
		queue:  newEventQueue(),
		logger: logger.With("component", "ai", "model", cfg.Model),
	}
	s.responseCond = sync.NewCond(&s.mu)

	if err := s.sendSessionUpdate(cfg.Instructions, cfg.Tools); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configuring session: %w", err)
	}

	go s.readLoop()

	s.logger.Info("realtime session connected", "voice", cfg.Voice, "tools", len(cfg.Tools))
	return s, nil
}

// Model returns the model this session is bound to.
func (s *Session) Model() string { return s.cfg.Model }

// Events returns the downlink event channel. It is closed after the
// session terminates, with a final EventClosed.
func (s *Session) Events() <-chan Event { return s.queue.out }

// OnToolCall installs the handler invoked for model function calls. The
// handler runs off the read loop; its output is submitted back to the
// model followed by a response.create.
func (s *Session) OnToolCall(handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolHandler = handler
}

// SendAudio appends one chunk of 16 kHz PCM16 caller audio to the input
// buffer. Server-side VAD decides turn boundaries.
func (s *Session) SendAudio(pcm []byte) error {
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// InjectText adds a conversation item without speaking it, e.g. system
// context after an agent switch.
func (s *Session) InjectText(role, text string) error {
	partType := "input_text"
	if role == "assistant" {
		partType = "text"
	}
	return s.writeJSON(createItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    role,
			Content: []conversationPart{{Type: partType, Text: text}},
		},
	})
}

// CreateResponse asks the model to speak. If a response is already in
// progress it waits up to responseWaitTimeout for it to finish, then
// sends anyway and lets the server-side retry path handle the race.
func (s *Session) CreateResponse() error {
	if !s.waitResponseIdle(responseWaitTimeout) {
		s.logger.Warn("previous response still active after wait, sending response.create anyway")
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// Interrupt cancels the in-flight model response.
func (s *Session) Interrupt() error {
	return s.writeJSON(map[string]string{"type": "response.cancel"})
}

// UpdateSession replaces the instructions and tool set mid-session.
func (s *Session) UpdateSession(instructions string, tools []Tool) error {
	return s.sendSessionUpdate(instructions, tools)
}

// SetMuted drops downlink audio deltas while true. Transcripts and
// lifecycle events still flow.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
	if !muted {
		s.unmuteOnDone = false
	}
}

// MuteUntilResponseDone suppresses audio until the current response
// finishes, then unmutes automatically. Used to swallow the spoken
// confirmation when a sentinel already decided the outcome.
func (s *Session) MuteUntilResponseDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = true
	s.unmuteOnDone = true
}

// ResponseActive reports whether a model response is in flight.
func (s *Session) ResponseActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseActive
}

// Close terminates the session. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Best-effort close handshake, then drop the connection. The read
	// loop exits on the closed connection and drains the queue.
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *Session) sendSessionUpdate(instructions string, tools []Tool) error {
	params := sessionParams{
		Modalities:        []string{"text", "audio"},
		Voice:             s.cfg.Voice,
		Instructions:      instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &transcriptionConf{
			Model: transcriptionModel,
		},
		TurnDetection: &turnDetectionConf{
			Type:              "server_vad",
			Threshold:         vadThreshold,
			PrefixPaddingMs:   vadPrefixPaddingMs,
			SilenceDurationMs: vadSilenceDurationMs,
		},
	}
	if len(tools) > 0 {
		params.Tools = toWireTools(tools)
		params.ToolChoice = "auto"
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling client event: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing client event: %w", err)
	}
	return nil
}

// readLoop reads downlink events until the connection dies, then emits a
// final EventClosed and closes the queue.
func (s *Session) readLoop() {
	defer close(s.queue.in)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			requested := s.closed
			s.responseActive = false
			s.responseCond.Broadcast()
			s.mu.Unlock()

			closed := Event{Type: EventClosed}
			if !requested {
				closed.Err = err
				s.logger.Warn("realtime connection lost", "error", err)
			}
			s.queue.in <- closed
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Debug("unparseable server event", "error", err)
			continue
		}
		s.handleServerEvent(&evt)
	}
}

func (s *Session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.created":
		s.mu.Lock()
		s.responseActive = true
		s.mu.Unlock()
		s.queue.in <- Event{Type: EventResponseStarted}

	case "response.done":
		var usage Usage
		if evt.Response != nil && evt.Response.Usage != nil {
			usage = Usage{
				InputTextTokens:   evt.Response.Usage.InputTokenDetails.TextTokens,
				InputAudioTokens:  evt.Response.Usage.InputTokenDetails.AudioTokens,
				OutputTextTokens:  evt.Response.Usage.OutputTokenDetails.TextTokens,
				OutputAudioTokens: evt.Response.Usage.OutputTokenDetails.AudioTokens,
			}
		}

		s.mu.Lock()
		s.responseActive = false
		if s.unmuteOnDone {
			s.muted = false
			s.unmuteOnDone = false
		}
		s.responseCond.Broadcast()
		s.mu.Unlock()

		s.queue.in <- Event{Type: EventResponseDone, Usage: usage}

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		muted := s.muted
		s.mu.Unlock()
		if muted {
			return
		}
		audio, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audio) == 0 {
			return
		}
		s.queue.in <- Event{Type: EventAudioDelta, Audio: audio}

	case "response.audio_transcript.done":
		if evt.Transcript == "" {
			return
		}
		s.queue.in <- Event{Type: EventAssistantTranscript, Text: evt.Transcript}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.queue.in <- Event{Type: EventUserTranscript, Text: evt.Transcript}

	case "input_audio_buffer.speech_started":
		// Barge-in cancels whatever the model was saying; waiters must not
		// keep hoping for a response.done that will never arrive.
		s.mu.Lock()
		s.responseActive = false
		s.responseCond.Broadcast()
		s.mu.Unlock()
		s.queue.in <- Event{Type: EventSpeechStarted}

	case "response.function_call_arguments.done":
		go s.dispatchToolCall(evt.Name, evt.Arguments, evt.CallID)

	case "error":
		s.handleErrorEvent(evt)
	}
}

func (s *Session) handleErrorEvent(evt *serverEvent) {
	msg := "unknown error"
	code := ""
	if evt.Error != nil {
		if evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		code = evt.Error.Code
	}

	// The server refuses overlapping responses. Back off briefly and ask
	// again; the retry goes through the normal idle wait.
	if code == activeResponseErrorCode {
		s.mu.Lock()
		pending := s.retryPending
		s.retryPending = true
		s.mu.Unlock()

		if !pending {
			s.logger.Debug("response already active, retrying after backoff")
			go func() {
				time.Sleep(activeResponseBackoff)
				s.mu.Lock()
				s.retryPending = false
				s.mu.Unlock()
				if err := s.CreateResponse(); err != nil {
					s.logger.Warn("response retry failed", "error", err)
				}
			}()
		}
		return
	}

	s.logger.Warn("server error event", "code", code, "message", msg)
	s.queue.in <- Event{Type: EventError, Err: fmt.Errorf("%s", msg)}
}

// dispatchToolCall runs the tool handler and feeds its output back,
// then triggers the next response so the model speaks the result.
func (s *Session) dispatchToolCall(name, arguments, callID string) {
	s.mu.Lock()
	handler := s.toolHandler
	s.mu.Unlock()

	s.logger.Info("tool call", "tool", name, "call_id", callID)

	output := `{"error": "no tool handler installed"}`
	if handler != nil {
		output = handler(name, arguments, callID)
	}

	if err := s.writeJSON(createItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}); err != nil {
		s.logger.Warn("failed to submit tool output", "tool", name, "error", err)
		return
	}

	if err := s.CreateResponse(); err != nil {
		s.logger.Warn("failed to request response after tool call", "tool", name, "error", err)
	}
}

// waitResponseIdle blocks until no response is active or the timeout
// elapses. Returns false on timeout.
func (s *Session) waitResponseIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.responseActive {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.AfterFunc(remaining, func() {
			s.mu.Lock()
			s.responseCond.Broadcast()
			s.mu.Unlock()
		})
		s.responseCond.Wait()
		timer.Stop()
	}
	return true
}

func toWireTools(tools []Tool) []wireTool {
	out := make([]wireTool, len(tools))
	for i, t := range tools {
		out[i] = wireTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}
