package protocol

import "time"

// ProcessRequest asks the pipeline to translate an uploaded clip over the bus.
type ProcessRequest struct {
	RequestID      string   `json:"request_id,omitempty"`
	Filename       string   `json:"filename"`
	Audio          []byte   `json:"audio"`
	Targets        []string `json:"targets"`
	SourceLanguage string   `json:"source_language,omitempty"`
	CloneVoice     bool     `json:"clone_voice,omitempty"`
	// Synthesize defaults to true when omitted.
	Synthesize *bool `json:"synthesize,omitempty"`
}

// ProcessReply carries either the pipeline response or a classified error.
type ProcessReply struct {
	Response any         `json:"response,omitempty"`
	Error    *ErrorReply `json:"error,omitempty"`
}

type ErrorReply struct {
	Kind    string `json:"kind"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

// StateEvent is published on every pipeline state transition.
type StateEvent struct {
	RequestID   string    `json:"request_id"`
	From        string    `json:"from,omitempty"`
	State       string    `json:"state"`
	Stage       string    `json:"stage,omitempty"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectProcess      = "pipeline.process"
	SubjectRequestState = "pipeline.request.state"
)
