package app

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// TerminalPrompter implements browse.Prompter on stdin/stderr.
// Passwords are read with echo disabled.
type TerminalPrompter struct {
	in *bufio.Reader
}

func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(os.Stdin)}
}

func (p *TerminalPrompter) PromptText(title, message string) (string, bool) {
	fmt.Fprintf(os.Stderr, "%s: %s ", title, message)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(line), true
}

func (p *TerminalPrompter) PromptPassword(title, message string) (string, bool) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", false
	}

	fmt.Fprintf(os.Stderr, "%s: %s ", title, message)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", false
	}
	return string(pw), true
}

func (p *TerminalPrompter) PromptYesNo(title, message string) bool {
	fmt.Fprintf(os.Stderr, "%s: %s [y/N] ", title, message)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
