package domain

import "testing"

func TestParseParticipant(t *testing.T) {
	for _, p := range Participants() {
		got, err := ParseParticipant(string(p))
		if err != nil || got != p {
			t.Errorf("ParseParticipant(%q) = %q, %v", p, got, err)
		}
	}
	for _, bad := range []string{"", "gemini", "implementer", "PLANNER_PRIMARY"} {
		if _, err := ParseParticipant(bad); err == nil {
			t.Errorf("ParseParticipant(%q) should fail", bad)
		}
	}
	if PlannerPrimary.Other() != PlannerSecondary || PlannerSecondary.Other() != PlannerPrimary {
		t.Error("Other() should swap seats")
	}
}

func TestRoundOutcome(t *testing.T) {
	tests := []struct {
		name      string
		primary   ParticipantStatus
		secondary ParticipantStatus
		want      RoundStatus
	}{
		{"none started", "", "", RoundInProgress},
		{"one running", ParticipantCompleted, ParticipantRunning, RoundInProgress},
		{"both completed", ParticipantCompleted, ParticipantCompleted, RoundCompleted},
		{"one failed", ParticipantCompleted, ParticipantFailed, RoundFailed},
		{"both failed", ParticipantFailed, ParticipantFailed, RoundFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Round{Participants: map[Participant]ParticipantState{}}
			if tt.primary != "" {
				r.Participants[PlannerPrimary] = ParticipantState{Status: tt.primary}
			}
			if tt.secondary != "" {
				r.Participants[PlannerSecondary] = ParticipantState{Status: tt.secondary}
			}
			if got := r.Outcome(); got != tt.want {
				t.Errorf("Outcome() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	terminal := map[TaskStatus]bool{
		TaskStatusCompleted: true,
		TaskStatusCancelled: true,
		TaskStatusFailed:    true,
		TaskStatusApproval:  false,
		TaskStatusApproved:  false,
		TaskStatusScoping:   false,
	}
	for s, want := range terminal {
		if got := s.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, got, want)
		}
	}
}

func TestImplProgressPercent(t *testing.T) {
	if got := (ImplProgress{}).Percent(); got != 0 {
		t.Errorf("Percent() of empty = %v, want 0", got)
	}
	if got := (ImplProgress{Total: 4, Completed: 1}).Percent(); got != 25 {
		t.Errorf("Percent() = %v, want 25", got)
	}
}
