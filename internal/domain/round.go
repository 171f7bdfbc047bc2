package domain

import (
	"fmt"
	"time"
)

// Participant is one of the two planner seats in a debate round. The set is
// closed; values arriving from job payloads or the CLI go through
// ParseParticipant.
type Participant string

const (
	PlannerPrimary   Participant = "planner_primary"
	PlannerSecondary Participant = "planner_secondary"
)

// Participants returns both seats in a stable order.
func Participants() []Participant {
	return []Participant{PlannerPrimary, PlannerSecondary}
}

// ParseParticipant validates s as a participant name.
func ParseParticipant(s string) (Participant, error) {
	switch Participant(s) {
	case PlannerPrimary, PlannerSecondary:
		return Participant(s), nil
	}
	return "", fmt.Errorf("unknown participant %q", s)
}

// Other returns the opposing seat.
func (p Participant) Other() Participant {
	if p == PlannerPrimary {
		return PlannerSecondary
	}
	return PlannerPrimary
}

// RoundStatus is the aggregate status of a round.
type RoundStatus string

const (
	RoundInProgress RoundStatus = "in_progress"
	RoundCompleted  RoundStatus = "completed"
	RoundFailed     RoundStatus = "failed"
)

// ParticipantStatus is one seat's progress within a round.
type ParticipantStatus string

const (
	ParticipantPending   ParticipantStatus = "pending"
	ParticipantRunning   ParticipantStatus = "running"
	ParticipantCompleted ParticipantStatus = "completed"
	ParticipantFailed    ParticipantStatus = "failed"
)

// IsTerminal reports whether the seat has finished, successfully or not.
func (s ParticipantStatus) IsTerminal() bool {
	return s == ParticipantCompleted || s == ParticipantFailed
}

// ParticipantState is a seat's status plus the agent session it ran in.
type ParticipantState struct {
	Status    ParticipantStatus `json:"status"`
	SessionID string            `json:"session_id,omitempty"`
	AgentKey  string            `json:"agent_key,omitempty"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
}

type Round struct {
	ID            string                           `json:"id"`
	TaskID        string                           `json:"task_id"`
	Number        int                              `json:"round_number"`
	Status        RoundStatus                      `json:"status"`
	Participants  map[Participant]ParticipantState `json:"participants"`
	AgreementRate *float64                         `json:"agreement_rate,omitempty"`
	Breakdown     map[string]float64               `json:"consensus_breakdown,omitempty"`
	StartedAt     time.Time                        `json:"started_at"`
	CompletedAt   *time.Time                       `json:"completed_at,omitempty"`
}

// State returns the seat's state, pending when it has not started.
func (r *Round) State(p Participant) ParticipantState {
	if st, ok := r.Participants[p]; ok {
		return st
	}
	return ParticipantState{Status: ParticipantPending}
}

// AllTerminal reports whether both seats have finished.
func (r *Round) AllTerminal() bool {
	for _, p := range Participants() {
		if !r.State(p).Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Outcome derives the aggregate round status from the seats: completed
// once every seat completed, failed once every seat is terminal with at
// least one failure, in progress otherwise.
func (r *Round) Outcome() RoundStatus {
	if !r.AllTerminal() {
		return RoundInProgress
	}
	for _, p := range Participants() {
		if r.State(p).Status == ParticipantFailed {
			return RoundFailed
		}
	}
	return RoundCompleted
}
