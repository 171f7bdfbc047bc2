package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/debate/internal/domain"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	headCellStyle = cellStyle.Bold(true)
)

func checkFormat(format string) error {
	if !slices.Contains([]string{formatText, formatJSON, formatYAML}, format) {
		return fmt.Errorf("invalid format %q: expected text, json or yaml", format)
	}
	return nil
}

// writeStructured encodes v as JSON or YAML. It reports false for the text
// format, which callers render themselves.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		// Go through JSON so YAML keys follow the json tags.
		raw, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

// renderTable draws rows under headers with a rounded border.
func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(labelStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headCellStyle
			}
			return cellStyle
		})
	return t.Render()
}

// statusStyle colours a task status by how it ended.
func statusStyle(s domain.TaskStatus) string {
	switch s {
	case domain.TaskStatusApproved, domain.TaskStatusCompleted:
		return okStyle.Render(string(s))
	case domain.TaskStatusFailed:
		return failStyle.Render(string(s))
	case domain.TaskStatusCancelled:
		return labelStyle.Render(string(s))
	case domain.TaskStatusQuestions, domain.TaskStatusApproval:
		return warnStyle.Render(string(s))
	}
	return string(s)
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", label+":")), value)
}

func section(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render(strings.ToUpper(title)))
}
