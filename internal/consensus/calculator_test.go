package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Iron-Ham/debate/internal/domain"
)

func findings(specs ...[3]string) []*domain.Finding {
	out := make([]*domain.Finding, 0, len(specs))
	for _, s := range specs {
		out = append(out, &domain.Finding{Category: s[0], FilePath: s[1], Severity: s[2], Finding: "x"})
	}
	return out
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.01
}

func TestCalculate_EmptyInputs(t *testing.T) {
	c := NewCalculator(nil, nil)
	b := c.Calculate(context.Background(), Input{Round: 1})

	if b.Category != 100 || b.FilePath != 100 || b.Severity != 100 {
		t.Errorf("category/file/severity = %v/%v/%v, want 100 each", b.Category, b.FilePath, b.Severity)
	}
	if b.Semantic != 100 {
		t.Errorf("Semantic = %v, want 100", b.Semantic)
	}
	if b.Explicit != 50 {
		t.Errorf("Explicit = %v, want 50", b.Explicit)
	}
	if !almostEqual(b.Total(), 90) {
		t.Errorf("Total() = %v, want 90", b.Total())
	}
}

func TestCategoryScore(t *testing.T) {
	a := findings([3]string{"security", "", ""}, [3]string{"performance", "", ""})
	b := findings([3]string{"security", "", ""}, [3]string{"", "", ""})

	if got := categoryScore(a, b); !almostEqual(got, 50) {
		t.Errorf("categoryScore() = %v, want 50", got)
	}
	if got := categoryScore(a, nil); got != 0 {
		t.Errorf("categoryScore(one empty) = %v, want 0", got)
	}
}

func TestFilePathScore(t *testing.T) {
	tests := []struct {
		name string
		a, b []*domain.Finding
		want float64
	}{
		{"both empty", nil, nil, 100},
		{"one empty", findings([3]string{"", "a/x.go", ""}), nil, 0},
		{"identical", findings([3]string{"", "a/x.go", ""}), findings([3]string{"", "a/x.go", ""}), 100},
		{
			"partial exact, disjoint dirs",
			findings([3]string{"", "a/x.go", ""}, [3]string{"", "a/y.go", ""}),
			findings([3]string{"", "a/x.go", ""}, [3]string{"", "b/z.go", ""}),
			100.0 / 3,
		},
		{
			"same directory only",
			findings([3]string{"", "pkg/a.go", ""}),
			findings([3]string{"", "pkg/b.go", ""}),
			25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filePathScore(tt.a, tt.b); !almostEqual(got, tt.want) {
				t.Errorf("filePathScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeverityScore(t *testing.T) {
	tests := []struct {
		name string
		a, b []*domain.Finding
		want float64
	}{
		{"both critical", findings([3]string{"", "", "critical"}), findings([3]string{"", "", "critical"}), 100},
		{"critical vs info", findings([3]string{"", "", "critical"}), findings([3]string{"", "", "info"}), 0},
		{"two high vs one high", findings([3]string{"", "", "high"}, [3]string{"", "", "high"}), findings([3]string{"", "", "high"}), 200.0 / 3},
		{"unknown severities ignored", findings([3]string{"", "", "blocker"}), nil, 100},
		{"case insensitive", findings([3]string{"", "", "HIGH"}), findings([3]string{"", "", "high"}), 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := severityScore(tt.a, tt.b); !almostEqual(got, tt.want) {
				t.Errorf("severityScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSemanticScore_Tokens(t *testing.T) {
	c := NewCalculator(nil, nil)
	ctx := context.Background()

	got, method := c.semanticScore(ctx, []string{"Add a lock"}, []string{"add lock"})
	if !almostEqual(got, 200.0/3) || method != MethodTokens {
		t.Errorf("semanticScore() = %v (%s), want 66.67 (tokens)", got, method)
	}
	if got, _ := c.semanticScore(ctx, []string{"x"}, nil); got != 0 {
		t.Errorf("semanticScore(one empty) = %v, want 0", got)
	}
	if got, _ := c.semanticScore(ctx, []string{" "}, []string{""}); got != 100 {
		t.Errorf("semanticScore(blank texts) = %v, want 100", got)
	}
}

type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, nil
}

func TestSemanticScore_Embedding(t *testing.T) {
	ctx := context.Background()
	e := &fakeEmbedder{vectors: map[string][]float64{
		"a": {1, 0},
		"b": {0, 1},
		"c": {1, 1},
	}}
	c := NewCalculator(e, nil)

	got, method := c.semanticScore(ctx, []string{"a", "b"}, []string{"c"})
	if !almostEqual(got, 100) || method != MethodEmbedding {
		t.Errorf("semanticScore() = %v (%s), want 100 (embedding)", got, method)
	}
	got, _ = c.semanticScore(ctx, []string{"a"}, []string{"b"})
	if !almostEqual(got, 0) {
		t.Errorf("orthogonal semanticScore() = %v, want 0", got)
	}

	failing := NewCalculator(&fakeEmbedder{err: errors.New("unavailable")}, nil)
	got, method = failing.semanticScore(ctx, []string{"add lock"}, []string{"add lock"})
	if got != 100 || method != MethodTokens {
		t.Errorf("fallback semanticScore() = %v (%s), want 100 (tokens)", got, method)
	}
}

func TestMeanVectorAndCosine(t *testing.T) {
	mean := meanVector([][]float64{{1, 2}, {3, 4}, {9}})
	if len(mean) != 2 || mean[0] != 2 || mean[1] != 3 {
		t.Errorf("meanVector() = %v, want [2 3] (mismatched vector skipped)", mean)
	}
	if got := cosine([]float64{0, 0}, []float64{1, 1}); got != 0 {
		t.Errorf("cosine(zero vector) = %v, want 0", got)
	}
	if got := cosine([]float64{1}, []float64{1, 1}); got != 0 {
		t.Errorf("cosine(length mismatch) = %v, want 0", got)
	}
}

func TestExplicitScore(t *testing.T) {
	primary := &domain.Finding{Finding: "p", AgreedBy: []string{"planner_secondary"}}
	secondary := &domain.Finding{Finding: "s", DisputedBy: []string{"gemini"}}
	in := Input{
		Round:     2,
		Primary:   Side{Findings: []*domain.Finding{primary}, Aliases: []string{"planner_primary", "gemini"}},
		Secondary: Side{Findings: []*domain.Finding{secondary}, Aliases: []string{"planner_secondary", "claude"}},
	}

	if got := explicitScore(in); got != 50 {
		t.Errorf("explicitScore() = %v, want 50 (one agreement, one dispute)", got)
	}

	secondary.DisputedBy = nil
	secondary.AgreedBy = []string{"GEMINI"}
	if got := explicitScore(in); got != 100 {
		t.Errorf("explicitScore() = %v, want 100", got)
	}

	in.Round = 1
	if got := explicitScore(in); got != 50 {
		t.Errorf("explicitScore(round 1) = %v, want 50", got)
	}

	in.Round = 3
	primary.AgreedBy, secondary.AgreedBy = nil, nil
	if got := explicitScore(in); got != 50 {
		t.Errorf("explicitScore(no references) = %v, want 50", got)
	}
}

func TestCalculate_Bounds(t *testing.T) {
	c := NewCalculator(nil, nil)
	sides := [][]*domain.Finding{
		nil,
		findings([3]string{"security", "a/b.go", "critical"}),
		findings([3]string{"perf", "c.go", "info"}, [3]string{"perf", "d/e/f.go", "low"}),
	}
	recs := [][]string{nil, {"one"}, {"two words", "three more words"}}

	for i, fa := range sides {
		for j, fb := range sides {
			for round := 1; round <= 2; round++ {
				b := c.Calculate(context.Background(), Input{
					Round:     round,
					Primary:   Side{Findings: fa, Recommendations: recs[i]},
					Secondary: Side{Findings: fb, Recommendations: recs[j]},
				})
				for name, v := range b.Rounded() {
					if v < 0 || v > 100 {
						t.Errorf("case %d/%d round %d: %s = %v out of [0,100]", i, j, round, name, v)
					}
				}
			}
		}
	}
}

func TestBreakdown_RoundedAndThreshold(t *testing.T) {
	b := Breakdown{Category: 100, FilePath: 66.666666, Severity: 80, Semantic: 79.994, Explicit: 50}

	r := b.Rounded()
	if r["file_path"] != 66.67 || r["semantic"] != 79.99 {
		t.Errorf("Rounded() = %v", r)
	}
	want := 0.15*100 + 0.25*66.666666 + 0.15*80 + 0.25*79.994 + 0.20*50
	if !almostEqual(b.Total(), want) {
		t.Errorf("Total() = %v, want %v", b.Total(), want)
	}

	above := Breakdown{Category: 90, FilePath: 90, Severity: 90, Semantic: 90, Explicit: 90}
	if !above.MeetsThreshold(80) {
		t.Errorf("MeetsThreshold(80) with total %v should be true", above.Total())
	}
	below := Breakdown{Category: 79.99, FilePath: 79.99, Severity: 79.99, Semantic: 79.99, Explicit: 80}
	if below.MeetsThreshold(80) {
		t.Errorf("MeetsThreshold(80) with raw total %v should be false", below.Total())
	}
}

func TestBuildInputAndAgreedItems(t *testing.T) {
	analyses := []*domain.Analysis{
		{Agent: "planner_primary", Status: domain.AnalysisCompleted, Recommendations: []string{"a", "b"}},
		{Agent: "claude", Status: domain.AnalysisCompleted, Recommendations: []string{"b", "c"}},
		{Agent: "planner_secondary", Status: domain.AnalysisFailed, Recommendations: []string{"ignored"}},
	}
	fs := []*domain.Finding{
		{Agent: "planner_primary", Finding: "1"},
		{Agent: "planner_secondary", Finding: "2"},
		{Agent: "codex", Finding: "3"},
	}
	in := BuildInput(2, analyses, fs, map[domain.Participant][]string{
		domain.PlannerSecondary: {"claude"},
	})

	if len(in.Primary.Findings) != 1 || len(in.Secondary.Findings) != 1 {
		t.Errorf("findings split %d/%d, want 1/1", len(in.Primary.Findings), len(in.Secondary.Findings))
	}
	if len(in.Secondary.Recommendations) != 2 || in.Secondary.Recommendations[0] != "b" {
		t.Errorf("secondary recommendations = %v, want [b c]", in.Secondary.Recommendations)
	}

	items := AgreedItems(analyses[:2], 10)
	if len(items) != 3 {
		t.Errorf("AgreedItems() = %v, want 3 unique items", items)
	}
	if got := AgreedItems(analyses, 2); len(got) != 2 {
		t.Errorf("AgreedItems(limit 2) = %v", got)
	}
}

func TestBuildInput_SharedAgentIsNotAnAlias(t *testing.T) {
	fs := []*domain.Finding{
		{Agent: "planner_primary", Finding: "p", AgreedBy: []string{"gemini"}},
		{Agent: "planner_secondary", Finding: "s", AgreedBy: []string{"debate_gemini"}},
	}
	in := BuildInput(2, nil, fs, map[domain.Participant][]string{
		domain.PlannerPrimary:   {"debate_gemini", "gemini"},
		domain.PlannerSecondary: {"DEBATE_GEMINI", "gemini"},
	})

	for _, side := range []Side{in.Primary, in.Secondary} {
		if len(side.Aliases) != 1 {
			t.Errorf("aliases = %v, want only the seat name", side.Aliases)
		}
	}
	if got := explicitScore(in); got != neutralScore {
		t.Errorf("explicitScore() = %v, want %v when agreements only name the shared agent", got, neutralScore)
	}
}

func TestHTTPEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]any{}
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{"index": i, "embedding": []float64{float64(i), 1}})
		}
		resp["data"] = data
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL+"/v1/", "test-model", "")
	vecs, err := e.Embed(context.Background(), []string{"x", "y"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 1 {
		t.Errorf("Embed() = %v, want vectors ordered by index", vecs)
	}

	bad := NewHTTPEmbedder(srv.URL+"/missing", "", "")
	if _, err := bad.Embed(context.Background(), []string{"x"}); err == nil {
		t.Error("Embed() against 404 should fail")
	}
}

func TestAgreedItems_ExactDedupeKeepsOrder(t *testing.T) {
	analyses := []*domain.Analysis{
		{Recommendations: []string{"Add a cache", " add a cache ", ""}},
		{Recommendations: []string{"add a cache", "Add a cache", "Split the handler"}},
	}
	got := AgreedItems(analyses, 10)
	want := []string{"Add a cache", "add a cache", "Split the handler"}
	if len(got) != len(want) {
		t.Fatalf("AgreedItems() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AgreedItems()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
