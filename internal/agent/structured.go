package agent

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/Iron-Ham/debate/internal/domain"
)

var (
	taggedBlock = regexp.MustCompile("(?s)```json:structured_output\\s*(.*?)\\s*```")
	jsonBlock   = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
)

// Output is the structured block an agent ends its answer with. Planners
// fill the analysis fields; the explorer fills the exploration fields.
type Output struct {
	Summary         looseString      `json:"summary"`
	Recommendations looseStrings     `json:"recommendations"`
	Concerns        looseStrings     `json:"concerns"`
	Findings        []FindingOutput  `json:"findings"`
	Questions       []QuestionOutput `json:"questions"`

	RelevantFiles      looseStrings   `json:"relevant_files"`
	TechStack          map[string]any `json:"tech_stack"`
	ExistingPatterns   map[string]any `json:"existing_patterns"`
	Dependencies       map[string]any `json:"dependencies"`
	SchemaSummary      looseString    `json:"schema_summary"`
	DirectoryStructure looseString    `json:"directory_structure"`
}

// FindingOutput is one finding as an agent reports it.
type FindingOutput struct {
	Category       looseString `json:"category"`
	Finding        looseString `json:"finding"`
	FilePath       looseString `json:"file_path"`
	LineStart      looseInt    `json:"line_start"`
	LineEnd        looseInt    `json:"line_end"`
	CodeSnippet    looseString `json:"code_snippet"`
	Severity       looseString `json:"severity"`
	Confidence     looseString `json:"confidence"`
	Recommendation looseString `json:"recommendation"`
}

// QuestionOutput is one question as an agent asks it. A bare string is
// accepted as the question text.
type QuestionOutput struct {
	Question string `json:"question"`
	Context  string `json:"context"`
	Category string `json:"category"`
}

// UnmarshalJSON accepts an object or a string.
func (q *QuestionOutput) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*q = QuestionOutput{Question: s}
		return nil
	}
	type plain QuestionOutput
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*q = QuestionOutput(p)
	return nil
}

// ParseOutput extracts the structured block from raw agent text. It prefers
// a block fenced as json:structured_output and falls back to the first
// plain json block. It reports false when neither parses.
func ParseOutput(raw string) (*Output, bool) {
	for _, re := range []*regexp.Regexp{taggedBlock, jsonBlock} {
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		var out Output
		if err := json.Unmarshal([]byte(m[1]), &out); err == nil {
			return &out, true
		}
	}
	return nil, false
}

// DomainFindings converts reported findings, dropping ones with no text.
func (o *Output) DomainFindings(agent string) []domain.Finding {
	out := make([]domain.Finding, 0, len(o.Findings))
	for _, f := range o.Findings {
		if strings.TrimSpace(string(f.Finding)) == "" {
			continue
		}
		out = append(out, domain.Finding{
			Agent:          agent,
			Category:       string(f.Category),
			Finding:        string(f.Finding),
			FilePath:       string(f.FilePath),
			LineStart:      int(f.LineStart),
			LineEnd:        int(f.LineEnd),
			CodeSnippet:    string(f.CodeSnippet),
			Severity:       string(f.Severity),
			Confidence:     string(f.Confidence),
			Recommendation: string(f.Recommendation),
		})
	}
	return out
}

// DomainQuestions converts asked questions, dropping empty ones.
func (o *Output) DomainQuestions(agent string) []domain.Question {
	out := make([]domain.Question, 0, len(o.Questions))
	for _, q := range o.Questions {
		if strings.TrimSpace(q.Question) == "" {
			continue
		}
		out = append(out, domain.Question{
			Agent:    agent,
			Question: q.Question,
			Context:  q.Context,
			Category: q.Category,
		})
	}
	return out
}

// Exploration converts the exploration fields.
func (o *Output) Exploration(taskID, agent, raw string) *domain.Exploration {
	return &domain.Exploration{
		TaskID:             taskID,
		Agent:              agent,
		RelevantFiles:      []string(o.RelevantFiles),
		TechStack:          o.TechStack,
		ExistingPatterns:   o.ExistingPatterns,
		Dependencies:       o.Dependencies,
		SchemaSummary:      string(o.SchemaSummary),
		DirectoryStructure: string(o.DirectoryStructure),
		RawOutput:          raw,
	}
}

// looseString accepts any JSON scalar and keeps its text.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	*s = looseString(b)
	return nil
}

// looseInt accepts a number or a numeric string; anything else is zero.
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = looseInt(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			*n = looseInt(v)
			return nil
		}
	}
	*n = 0
	return nil
}

// looseStrings accepts a list of scalars or a single string.
type looseStrings []string

func (l *looseStrings) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one == "" {
			*l = nil
		} else {
			*l = looseStrings{one}
		}
		return nil
	}
	var many []looseString
	if err := json.Unmarshal(b, &many); err != nil {
		*l = nil
		return nil
	}
	out := make(looseStrings, 0, len(many))
	for _, s := range many {
		if s != "" {
			out = append(out, string(s))
		}
	}
	*l = out
	return nil
}
