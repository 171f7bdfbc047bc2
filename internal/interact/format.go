package interact

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/debate/internal/approval"
	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/triage"
	"github.com/Iron-Ham/debate/internal/util"
)

const maxLineWidth = 76

// FormatTriage describes a classification.
func FormatTriage(r triage.Result) string {
	lines := []string{
		fmt.Sprintf("Complexity: %s (confidence %s)", r.Complexity, util.FormatPercent(r.Confidence*100)),
		fmt.Sprintf("Recommended: %s", r.RecommendedAction),
	}
	if len(r.Reasons) > 0 {
		lines = append(lines, "Reasons: "+strings.Join(r.Reasons, ", "))
	}
	return strings.Join(lines, "\n")
}

// FormatSeats lists the planner seats of a round with their status.
func FormatSeats(round *domain.Round) string {
	var lines []string
	for _, p := range domain.Participants() {
		st := round.State(p)
		status := string(st.Status)
		switch st.Status {
		case domain.ParticipantCompleted:
			status = successStyle.Render(status)
		case domain.ParticipantFailed:
			status = errorStyle.Render(status)
		}
		line := fmt.Sprintf("%-18s %s", p, status)
		if st.AgentKey != "" {
			line += mutedStyle.Render("  " + st.AgentKey)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// FormatConsensus summarises the consensus under review.
func FormatConsensus(req *approval.Request) string {
	c := req.Consensus
	rate := util.FormatPercent(c.AgreementRate)
	if req.ThresholdMet {
		rate = successStyle.Render(rate + " (threshold met)")
	} else {
		rate = warningStyle.Render(rate)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Agreement: %s\n", rate)
	fmt.Fprintf(&b, "%s\n", c.Summary)
	if len(c.AgreedItems) > 0 {
		b.WriteString("\nAgreed:\n")
		for _, item := range c.AgreedItems {
			b.WriteString(util.TruncateANSI("  • "+item, maxLineWidth))
			b.WriteString("\n")
		}
	}
	if !req.CanRevise() {
		b.WriteString(mutedStyle.Render("\nLast round: revise is not available."))
	}
	return strings.TrimRight(b.String(), "\n")
}
