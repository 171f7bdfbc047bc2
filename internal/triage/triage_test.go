package triage

import (
	"math"
	"slices"
	"testing"

	"github.com/Iron-Ham/debate/internal/domain"
)

func TestClassify(t *testing.T) {
	tr := New(DefaultHistoryWeight)

	tests := []struct {
		name        string
		title       string
		messages    []string
		want        domain.Complexity
		wantAction  string
		wantReasons []string
	}{
		{
			name:        "typo in single file",
			title:       "Fix typo in readme.md",
			want:        domain.ComplexityTrivial,
			wantAction:  ActionFastTrack,
			wantReasons: []string{ReasonTrivialKeywords, ReasonSingleFileScope},
		},
		{
			name:        "cross-cutting refactor",
			title:       "Refactor authentication across all services",
			want:        domain.ComplexityComplex,
			wantAction:  ActionExtendedDebate,
			wantReasons: []string{ReasonComplexKeywords, ReasonMultiFileScope},
		},
		{
			name:       "plain feature",
			title:      "Add a dark mode toggle",
			want:       domain.ComplexityStandard,
			wantAction: ActionDebate,
		},
		{
			name:        "human message counts",
			title:       "Improve the login page",
			messages:    []string{"this needs a security review everywhere"},
			want:        domain.ComplexityComplex,
			wantAction:  ActionExtendedDebate,
			wantReasons: []string{ReasonComplexKeywords, ReasonMultiFileScope},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tr.Classify(tt.title, tt.messages)
			if got.Complexity != tt.want {
				t.Errorf("Complexity = %q (score %.3f), want %q", got.Complexity, got.Score, tt.want)
			}
			if got.RecommendedAction != tt.wantAction {
				t.Errorf("RecommendedAction = %q, want %q", got.RecommendedAction, tt.wantAction)
			}
			if !slices.Equal(got.Reasons, tt.wantReasons) {
				t.Errorf("Reasons = %v, want %v", got.Reasons, tt.wantReasons)
			}
			if got.Confidence < 0 || got.Confidence > 1 {
				t.Errorf("Confidence = %v out of [0,1]", got.Confidence)
			}
		})
	}
}

func TestClassify_Scores(t *testing.T) {
	got := New(0.3).Classify("Fix typo in readme.md", nil)

	// 0.4*0.1 + 0.3*0.2 + 0.3*0.5 + 0*0.5
	if math.Abs(got.Score-0.25) > 1e-9 {
		t.Errorf("Score = %v, want 0.25", got.Score)
	}
	// spread between keyword 0.1 and history 0.5
	if math.Abs(got.Confidence-0.6) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.6", got.Confidence)
	}
	if !got.RequiresConfirmation {
		t.Error("low confidence should require confirmation")
	}
}

func TestClassify_HistoryWeight(t *testing.T) {
	// With no history weight the history term is replaced by the 0.5 prior,
	// so the final score is unchanged for the placeholder history.
	a := New(0).Classify("Add a dark mode toggle", nil)
	b := New(0.3).Classify("Add a dark mode toggle", nil)
	if math.Abs(a.Score-b.Score) > 1e-9 {
		t.Errorf("Score with weight 0 = %v, with 0.3 = %v; want equal", a.Score, b.Score)
	}
	if got := New(5).historyWeight; got != 0.3 {
		t.Errorf("historyWeight clamp = %v, want 0.3", got)
	}
}

func TestKeywordScore(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"fix a typo", 0.1},
		{"improve performance", 0.9},
		{"rename for performance and security", 0.7},
		{"rename docs and fix typos for security", 0.3},
		{"rename for security", 0.5},
		{"add a button", 0.5},
	}
	for _, tt := range tests {
		if got := keywordScore(tt.text); got != tt.want {
			t.Errorf("keywordScore(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestScopeScore(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"fix bug in main.go", 0.2},
		{"fix login", 0.2},
		{"please fix login", 0.5},
		{"update all test files", 0.9},
		{"rename in main.go and throughout", 0.9},
		{"add a button", 0.5},
	}
	for _, tt := range tests {
		if got := scopeScore(tt.text); got != tt.want {
			t.Errorf("scopeScore(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
