package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Asker answers one question.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Renderer formats an answer for the terminal.
type Renderer func(answer string) string

// MarkdownRenderer renders answers as terminal markdown. Rendering failures
// fall back to the raw answer.
func MarkdownRenderer(width int) (Renderer, error) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}
	return func(answer string) string {
		out, err := r.Render(answer)
		if err != nil {
			return answer
		}
		return strings.TrimRight(out, "\n")
	}, nil
}

// Repl reads questions line by line until EOF or "exit". Blank lines are
// skipped. A failed question is reported and the loop goes on.
func Repl(ctx context.Context, in io.Reader, out io.Writer, asker Asker, render Renderer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, promptStyle.Render(">>>")+" ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" {
			return nil
		}

		answer, err := asker.Ask(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintln(out, errorStyle.Render("error: "+err.Error()))
			continue
		}
		if render != nil {
			answer = render(answer)
		}
		fmt.Fprintln(out, answer)
	}
}
