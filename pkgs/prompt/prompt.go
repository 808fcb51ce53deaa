// Package prompt abstracts the two interactive decision points (spam-folder
// choice and first-run forwarding confirmation) behind a small capability
// interface so the engine can be driven by a scripted responder in tests.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Prompter answers operator questions.
type Prompter interface {
	// Confirm asks a yes/no question and returns the answer.
	Confirm(question string) (bool, error)

	// Choose presents numbered options and returns the chosen index.
	// def is the index offered when the operator just presses enter.
	Choose(question string, options []string, def int) (int, error)
}

// Terminal is a line-based Prompter reading answers from in and writing
// questions to out.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminal creates a Terminal prompter.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

func (t *Terminal) Confirm(question string) (bool, error) {
	for {
		fmt.Fprintf(t.out, "%s (yes/no): ", question)
		line, err := t.in.ReadString('\n')
		if err != nil && line == "" {
			return false, fmt.Errorf("reading answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "yes", "y":
			return true, nil
		case "no", "n":
			return false, nil
		}
		fmt.Fprintln(t.out, "Please enter 'yes' or 'no'.")
	}
}

func (t *Terminal) Choose(question string, options []string, def int) (int, error) {
	if def < 0 || def >= len(options) {
		def = 0
	}
	fmt.Fprintln(t.out, question)
	for i, opt := range options {
		fmt.Fprintf(t.out, "  %d. %s\n", i+1, opt)
	}
	for {
		fmt.Fprintf(t.out, "Choice [%d]: ", def+1)
		line, err := t.in.ReadString('\n')
		if err != nil && line == "" {
			return 0, fmt.Errorf("reading answer: %w", err)
		}
		answer := strings.TrimSpace(line)
		if answer == "" {
			return def, nil
		}
		n, convErr := strconv.Atoi(answer)
		if convErr == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		fmt.Fprintf(t.out, "Please enter a number between 1 and %d.\n", len(options))
	}
}

// Script is a Prompter that replays canned answers, for tests and
// non-interactive runs. Confirm answers are matched against yes/y; Choose
// answers are 1-based numbers, with "" meaning the default.
type Script struct {
	Answers []string
	next    int
}

func (s *Script) pop() (string, error) {
	if s.next >= len(s.Answers) {
		return "", fmt.Errorf("scripted prompter: no answer left (asked %d)", s.next+1)
	}
	a := s.Answers[s.next]
	s.next++
	return a, nil
}

func (s *Script) Confirm(string) (bool, error) {
	a, err := s.pop()
	if err != nil {
		return false, err
	}
	a = strings.ToLower(strings.TrimSpace(a))
	return a == "yes" || a == "y", nil
}

func (s *Script) Choose(_ string, options []string, def int) (int, error) {
	a, err := s.pop()
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(a) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil || n < 1 || n > len(options) {
		return 0, fmt.Errorf("scripted prompter: bad choice %q", a)
	}
	return n - 1, nil
}
