package ai

import "encoding/json"

// Client messages for the realtime protocol.

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string           `json:"modalities"`
	Voice                   string             `json:"voice,omitempty"`
	Instructions            string             `json:"instructions,omitempty"`
	InputAudioFormat        string             `json:"input_audio_format"`
	OutputAudioFormat       string             `json:"output_audio_format"`
	InputAudioTranscription *transcriptionConf `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetectionConf `json:"turn_detection,omitempty"`
	Tools                   []wireTool         `json:"tools,omitempty"`
	ToolChoice              string             `json:"tool_choice,omitempty"`
}

type transcriptionConf struct {
	Model string `json:"model"`
}

type turnDetectionConf struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type wireTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Server events.

// serverEvent is the superset of fields we read from downlink events. The
// realtime protocol multiplexes everything over one "type" discriminator.
type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// response.done
	Response *responseBody `json:"response,omitempty"`

	// error
	Error *serverErrorDetail `json:"error,omitempty"`
}

type responseBody struct {
	Status string     `json:"status,omitempty"`
	Usage  *wireUsage `json:"usage,omitempty"`
}

type wireUsage struct {
	InputTokenDetails  wireTokenDetails `json:"input_token_details"`
	OutputTokenDetails wireTokenDetails `json:"output_token_details"`
}

type wireTokenDetails struct {
	TextTokens  int `json:"text_tokens"`
	AudioTokens int `json:"audio_tokens"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// EventType identifies a session event delivered to the consumer.
type EventType string

const (
	// EventAudioDelta carries one chunk of 24 kHz PCM16 speech audio.
	EventAudioDelta EventType = "audio_delta"
	// EventUserTranscript is the completed transcription of caller speech.
	EventUserTranscript EventType = "user_transcript"
	// EventAssistantTranscript is the assistant's completed spoken text.
	EventAssistantTranscript EventType = "assistant_transcript"
	// EventSpeechStarted fires when the caller starts talking over the
	// assistant; the consumer should flush pending playback.
	EventSpeechStarted EventType = "speech_started"
	// EventResponseStarted marks the beginning of a model response.
	EventResponseStarted EventType = "response_started"
	// EventResponseDone marks the end of a model response, with usage.
	EventResponseDone EventType = "response_done"
	// EventError is a non-fatal server-side error.
	EventError EventType = "error"
	// EventClosed means the session terminated; Err carries the cause
	// when the close was not requested.
	EventClosed EventType = "closed"
)

// Event is one session event. Fields are populated per type.
type Event struct {
	Type  EventType
	Audio []byte // EventAudioDelta, raw 24 kHz PCM16
	Text  string // transcripts
	Usage Usage  // EventResponseDone
	Err   error  // EventError, EventClosed
}
