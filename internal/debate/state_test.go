package debate

import (
	"testing"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from    State
		outcome Outcome
		want    State
	}{
		{StateScoping, OutcomeOK, StateExploration},
		{StateScoping, OutcomeFastTrack, StateCompleted},
		{StateExploration, OutcomeFailed, StateAnalysis},
		{StateExploration, OutcomeSkip, StateAnalysis},
		{StateAnalysis, OutcomeFailed, StateAnalysisFailureDecision},
		{StateAnalysisFailureDecision, OutcomeContinue, StateQuestions},
		{StateAnalysisFailureDecision, OutcomeCancel, StateCancelled},
		{StateConsensus, OutcomeThresholdMet, StateApproval},
		{StateApproval, OutcomeRevise, StateIncrementRound},
		{StateApproval, OutcomeApprove, StateCompleted},
		{StateIncrementRound, OutcomeOK, StateAnalysis},
	}
	for _, tt := range tests {
		got, err := Transition(tt.from, tt.outcome)
		if err != nil || got != tt.want {
			t.Errorf("Transition(%s, %s) = %s, %v, want %s", tt.from, tt.outcome, got, err, tt.want)
		}
	}
}

func TestTransition_Invalid(t *testing.T) {
	invalid := []struct {
		from    State
		outcome Outcome
	}{
		{StateScoping, OutcomeApprove},
		{StateConsensus, OutcomeRevise},
		{StateCompleted, OutcomeOK},
		{StateQuestions, OutcomeFailed},
	}
	for _, tt := range invalid {
		if _, err := Transition(tt.from, tt.outcome); !errors.Is(err, errors.ErrInvalidTransition) {
			t.Errorf("Transition(%s, %s) error = %v, want ErrInvalidTransition", tt.from, tt.outcome, err)
		}
	}
}

func TestTransition_TerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []State{StateCompleted, StateCancelled, StateFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false", s)
		}
		if _, ok := transitions[s]; ok {
			t.Errorf("terminal state %s has transitions", s)
		}
	}
}

func TestResumeState(t *testing.T) {
	tests := []struct {
		status domain.TaskStatus
		want   State
	}{
		{domain.TaskStatusScoping, StateScoping},
		{domain.TaskStatusExploration, StateExploration},
		{domain.TaskStatusAnalysis, StateAnalysis},
		{domain.TaskStatusQuestions, StateQuestions},
		{domain.TaskStatusConsensus, StateConsensus},
		{domain.TaskStatusApproval, StateApproval},
	}
	for _, tt := range tests {
		got, err := ResumeState(tt.status)
		if err != nil || got != tt.want {
			t.Errorf("ResumeState(%s) = %s, %v, want %s", tt.status, got, err, tt.want)
		}
		if got.TaskStatus() == domain.TaskStatusApproved {
			t.Errorf("resumable state %s maps to approved", got)
		}
	}

	for _, status := range []domain.TaskStatus{
		domain.TaskStatusApproved, domain.TaskStatusCompleted, domain.TaskStatusCancelled, domain.TaskStatusFailed,
	} {
		if _, err := ResumeState(status); !errors.Is(err, errors.ErrTaskTerminal) {
			t.Errorf("ResumeState(%s) error = %v, want ErrTaskTerminal", status, err)
		}
	}
}

func TestState_TaskStatus(t *testing.T) {
	if got := StateIncrementRound.TaskStatus(); got != domain.TaskStatusAnalysis {
		t.Errorf("increment_round status = %s, want analysis", got)
	}
	if got := StateCompleted.TaskStatus(); got != domain.TaskStatusApproved {
		t.Errorf("completed status = %s, want approved", got)
	}
	if !StateApproval.IsCheckpoint() || StateConsensus.IsCheckpoint() {
		t.Error("IsCheckpoint() mismatch")
	}
}
