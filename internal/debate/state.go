package debate

import (
	"fmt"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
)

// State is a node of the debate workflow.
type State string

const (
	StateScoping                 State = "scoping"
	StateExploration             State = "exploration"
	StateAnalysis                State = "analysis"
	StateAnalysisFailureDecision State = "analysis_failure_decision"
	StateQuestions               State = "questions"
	StateConsensus               State = "consensus"
	StateApproval                State = "approval"
	StateIncrementRound          State = "increment_round"
	StateCompleted               State = "completed"
	StateCancelled               State = "cancelled"
	StateFailed                  State = "failed"
)

// IsTerminal reports whether no phase runs in s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// IsCheckpoint reports whether s waits on a human.
func (s State) IsCheckpoint() bool {
	return s == StateQuestions || s == StateApproval
}

// Outcome is what a phase reports when it finishes.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeFailed       Outcome = "failed"
	OutcomeSkip         Outcome = "skip"
	OutcomeContinue     Outcome = "continue"
	OutcomeCancel       Outcome = "cancel"
	OutcomeApprove      Outcome = "approve"
	OutcomeRevise       Outcome = "revise"
	OutcomeThresholdMet Outcome = "threshold_met"
	OutcomeFastTrack    Outcome = "fast_track"
)

var transitions = map[State]map[Outcome]State{
	StateScoping: {
		OutcomeOK:        StateExploration,
		OutcomeFastTrack: StateCompleted,
	},
	StateExploration: {
		OutcomeOK:     StateAnalysis,
		OutcomeSkip:   StateAnalysis,
		OutcomeFailed: StateAnalysis,
	},
	StateAnalysis: {
		OutcomeOK:     StateQuestions,
		OutcomeFailed: StateAnalysisFailureDecision,
	},
	StateAnalysisFailureDecision: {
		OutcomeContinue: StateQuestions,
		OutcomeCancel:   StateCancelled,
	},
	StateQuestions: {
		OutcomeOK: StateConsensus,
	},
	StateConsensus: {
		OutcomeOK:           StateApproval,
		OutcomeThresholdMet: StateApproval,
	},
	StateApproval: {
		OutcomeApprove: StateCompleted,
		OutcomeRevise:  StateIncrementRound,
		OutcomeCancel:  StateCancelled,
	},
	StateIncrementRound: {
		OutcomeOK: StateAnalysis,
	},
}

// Transition returns the state that follows from after outcome.
func Transition(from State, outcome Outcome) (State, error) {
	if next, ok := transitions[from][outcome]; ok {
		return next, nil
	}
	return "", fmt.Errorf("%w: %s --%s-->", errors.ErrInvalidTransition, from, outcome)
}

// TaskStatus is the status persisted for a task entering s.
func (s State) TaskStatus() domain.TaskStatus {
	switch s {
	case StateScoping:
		return domain.TaskStatusScoping
	case StateExploration:
		return domain.TaskStatusExploration
	case StateAnalysis, StateAnalysisFailureDecision, StateIncrementRound:
		return domain.TaskStatusAnalysis
	case StateQuestions:
		return domain.TaskStatusQuestions
	case StateConsensus:
		return domain.TaskStatusConsensus
	case StateApproval:
		return domain.TaskStatusApproval
	case StateCancelled:
		return domain.TaskStatusCancelled
	case StateFailed:
		return domain.TaskStatusFailed
	}
	return domain.TaskStatusApproved
}

// ResumeState maps a persisted task status to the state a resumed run
// enters. Tasks that finished debating cannot be resumed.
func ResumeState(status domain.TaskStatus) (State, error) {
	switch status {
	case domain.TaskStatusScoping:
		return StateScoping, nil
	case domain.TaskStatusExploration:
		return StateExploration, nil
	case domain.TaskStatusAnalysis:
		return StateAnalysis, nil
	case domain.TaskStatusQuestions:
		return StateQuestions, nil
	case domain.TaskStatusConsensus:
		return StateConsensus, nil
	case domain.TaskStatusApproval:
		return StateApproval, nil
	}
	return "", fmt.Errorf("%w: status %s", errors.ErrTaskTerminal, status)
}
