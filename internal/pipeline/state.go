package pipeline

import (
	"fmt"
	"time"
)

// State is the request lifecycle position.
type State string

const (
	StateReceived    State = "received"
	StateIngested    State = "ingested"
	StateTranscribed State = "transcribed"
	StateTranslated  State = "translated"
	StateSynthesized State = "synthesized"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageIngest     Stage = "ingest"
	StageTranscribe Stage = "transcribe"
	StageTranslate  Stage = "translate"
	StageSynthesize Stage = "synthesize"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// translated may move straight to completed when synthesis is disabled.
var transitions = map[State][]State{
	StateReceived:    {StateIngested, StateFailed},
	StateIngested:    {StateTranscribed, StateFailed},
	StateTranscribed: {StateTranslated, StateFailed},
	StateTranslated:  {StateSynthesized, StateCompleted, StateFailed},
	StateSynthesized: {StateCompleted, StateFailed},
}

func isValidTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Stage Stage     `json:"stage,omitempty"`
	At    time.Time `json:"at"`
}

type machine struct {
	state       State
	failedStage Stage
	history     []Transition
	clock       func() time.Time
}

func newMachine(clock func() time.Time) *machine {
	return &machine{state: StateReceived, clock: clock}
}

func (m *machine) advance(to State, stage Stage) (Transition, error) {
	if !isValidTransition(m.state, to) {
		return Transition{}, fmt.Errorf("invalid transition: %s -> %s", m.state, to)
	}
	t := Transition{From: m.state, To: to, Stage: stage, At: m.clock().UTC()}
	m.state = to
	if to == StateFailed {
		m.failedStage = stage
	}
	m.history = append(m.history, t)
	return t, nil
}
