package approval

import (
	"context"
	"testing"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/event"
	"github.com/Iron-Ham/debate/internal/store"
	"github.com/Iron-Ham/debate/internal/testutil"
)

func newTaskWithConsensus(t *testing.T, st *store.Store, slug string, round, maxRounds int, rate float64) *domain.Task {
	t.Helper()
	ctx := context.Background()
	task := testutil.NewTask(t, st, slug)
	task.CurrentRound = round
	task.MaxRounds = maxRounds
	if err := st.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateTaskStatus(ctx, task.ID, domain.TaskStatusApproval, ""); err != nil {
		t.Fatal(err)
	}
	task.Status = domain.TaskStatusApproval
	if err := st.CreateConsensus(ctx, &domain.Consensus{
		TaskID: task.ID, FinalRound: round, AgreementRate: rate, Summary: "Consensus from 2 analyses",
	}); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestOptions(t *testing.T) {
	if got := Options(true); len(got) != 3 || got[1] != Revise {
		t.Errorf("Options(true) = %v", got)
	}
	if got := Options(false); len(got) != 2 || got[0] != Approve || got[1] != Cancel {
		t.Errorf("Options(false) = %v", got)
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in      string
		want    Decision
		wantErr bool
	}{
		{"approve", Approve, false},
		{" Revise ", Revise, false},
		{"CANCEL", Cancel, false},
		{"maybe", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDecision(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseDecision(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestGate_Request(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	g := NewGate(st, nil)

	tests := []struct {
		name          string
		round, max    int
		rate          float64
		wantRevise    bool
		wantThreshold bool
	}{
		{"rounds remain", 1, 3, 65, true, false},
		{"last round", 2, 2, 91.5, false, true},
		{"exactly threshold", 1, 2, 80, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := newTaskWithConsensus(t, st, "req-"+tt.name[:4], tt.round, tt.max, tt.rate)
			req, err := g.Request(ctx, task)
			if err != nil {
				t.Fatalf("Request() error = %v", err)
			}
			if req.CanRevise() != tt.wantRevise {
				t.Errorf("CanRevise() = %v, want %v", req.CanRevise(), tt.wantRevise)
			}
			if req.ThresholdMet != tt.wantThreshold {
				t.Errorf("ThresholdMet = %v, want %v", req.ThresholdMet, tt.wantThreshold)
			}
		})
	}
}

func TestGate_RequestWithoutConsensus(t *testing.T) {
	st := testutil.NewStore(t)
	task := testutil.NewTask(t, st, "no-consensus")
	_, err := NewGate(st, nil).Request(context.Background(), task)
	if !errors.Is(err, errors.ErrNoConsensus) {
		t.Errorf("Request() error = %v, want ErrNoConsensus", err)
	}
}

func TestGate_Approve(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	bus := event.NewBus(nil)
	var seen []string
	bus.SubscribeAll(func(e event.Event) { seen = append(seen, e.EventType()) })
	g := NewGate(st, bus)

	task := newTaskWithConsensus(t, st, "approve-me", 1, 2, 85)
	if err := g.Apply(ctx, task, Approve, "looks good"); err != nil {
		t.Fatalf("Apply(approve) error = %v", err)
	}

	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != domain.TaskStatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	status, err := g.Check(ctx, got)
	if err != nil || !status.Approved || status.Notes != "looks good" {
		t.Errorf("Check() = %+v, %v", status, err)
	}
	if len(seen) != 2 || seen[0] != "human.decision" || seen[1] != "task.status_changed" {
		t.Errorf("events = %v", seen)
	}

	if err := g.Apply(ctx, task, Cancel, ""); !errors.Is(err, errors.ErrTaskTerminal) {
		t.Errorf("Apply() after approval error = %v, want ErrTaskTerminal", err)
	}
}

func TestGate_Cancel(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	task := newTaskWithConsensus(t, st, "cancel-me", 1, 2, 40)

	if err := NewGate(st, nil).Apply(ctx, task, Cancel, ""); err != nil {
		t.Fatalf("Apply(cancel) error = %v", err)
	}
	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != domain.TaskStatusCancelled || got.ErrorMessage != CancelReason || got.CompletedAt == nil {
		t.Errorf("task = %+v, want cancelled with reason", got)
	}
	c, _ := st.LatestConsensus(ctx, task.ID)
	if c.HumanApproved {
		t.Error("cancel approved the consensus")
	}
}

func TestGate_Revise(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	g := NewGate(st, nil)

	task := newTaskWithConsensus(t, st, "revise-ok", 1, 2, 50)
	if err := g.Apply(ctx, task, Revise, ""); err != nil {
		t.Fatalf("Apply(revise) error = %v", err)
	}
	got, _ := st.GetTask(ctx, task.ID)
	if got.Status != domain.TaskStatusApproval {
		t.Errorf("status = %s, want unchanged", got.Status)
	}

	last := newTaskWithConsensus(t, st, "revise-last", 2, 2, 50)
	err := g.Apply(ctx, last, Revise, "")
	var verr *errors.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Apply(revise) on last round error = %v, want ValidationError", err)
	}
}

func TestGate_CheckWithoutConsensus(t *testing.T) {
	st := testutil.NewStore(t)
	task := testutil.NewTask(t, st, "check-empty")
	status, err := NewGate(st, nil).Check(context.Background(), task)
	if err != nil || status.Approved {
		t.Errorf("Check() = %+v, %v, want not approved", status, err)
	}
}
