package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nexusops/triaged/internal/thread"
)

var (
	styleUser      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	styleAssistant = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	styleTool      = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleDeclined  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleCall      = lipgloss.NewStyle().Faint(true)
	stylePrompt    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("3")).
			Padding(0, 1)
)

// renderTranscript prints the thread history, one block per turn.
func renderTranscript(t *thread.Thread) string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "thread %s\n", t.ID)
	for _, turn := range t.Turns {
		switch turn.Role {
		case thread.RoleUser:
			fmt.Fprintf(&b, "%s %s\n", styleUser.Render("user:"), turn.Content)
		case thread.RoleAssistant:
			if turn.Content != "" {
				fmt.Fprintf(&b, "%s %s\n", styleAssistant.Render("assistant:"), turn.Content)
			}
			for _, call := range turn.Calls {
				fmt.Fprintf(&b, "  %s\n", styleCall.Render(fmt.Sprintf("→ %s %v", call.Name, call.Arguments)))
			}
		case thread.RoleTool:
			style := styleTool
			if turn.Outcome == thread.OutcomeDeclined {
				style = styleDeclined
			}
			label := style.Render(fmt.Sprintf("[%s]", turn.Outcome))
			fmt.Fprintf(&b, "  %s %s\n", label, indent(turn.Content, "  "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderPrompt boxes the approval prompt for the operator.
func renderPrompt(threadID, prompt string) string {
	body := fmt.Sprintf("Approval required (thread %s)\n%s", threadID, prompt)
	return stylePrompt.Render(body)
}

func resumeHint(threadID string) string {
	return fmt.Sprintf("approve with `triaged approve %s` or `triaged deny %s`, then `triaged resume %s`",
		threadID, threadID, threadID)
}

// indent continues multi-line content under its label.
func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i := 1; i < len(lines); i++ {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}
