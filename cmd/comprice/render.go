package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nevindra/comprice"
)

// renderer prints outcomes for a terminal.
type renderer struct {
	w       io.Writer
	noColor bool
}

func newRenderer(w io.Writer, noColor bool) *renderer {
	return &renderer{w: w, noColor: noColor}
}

func (r *renderer) outcome(n int, question string, out comprice.Outcome, trace bool) {
	fmt.Fprintln(r.w, r.style(fmt.Sprintf("Query %d: %s", n, question), lipgloss.Color("33"), true))
	if trace {
		for _, st := range out.Trace {
			mark := "ok"
			color := lipgloss.Color("242")
			if !st.Succeeded {
				mark = "failed"
				color = lipgloss.Color("208")
			}
			line := fmt.Sprintf("  %s(%s) %s in %s", st.Tool, st.Input, mark, st.Duration.Round(time.Millisecond))
			fmt.Fprintln(r.w, r.style(line, color, false))
			for _, l := range strings.Split(truncate(st.Output, 400), "\n") {
				fmt.Fprintln(r.w, r.style("    "+l, lipgloss.Color("240"), false))
			}
		}
	}
	if out.Answered() {
		fmt.Fprintln(r.w, out.Text)
	} else {
		msg := "No answer: " + out.Reason
		if out.Err != nil {
			msg += " (" + out.Err.Error() + ")"
		}
		fmt.Fprintln(r.w, r.style(msg, lipgloss.Color("196"), true))
	}
	summary := fmt.Sprintf("steps %d, tool calls %d, malformed %d, tokens %d in / %d out",
		out.Steps, out.ToolCalls, out.Malformed, out.Usage.InputTokens, out.Usage.OutputTokens)
	fmt.Fprintln(r.w, r.style(summary, lipgloss.Color("244"), false))
	fmt.Fprintln(r.w)
}

// style applies optional color styling.
func (r *renderer) style(text string, color lipgloss.Color, bold bool) string {
	if r.noColor {
		return text
	}
	return lipgloss.NewStyle().Foreground(color).Bold(bold).Render(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
