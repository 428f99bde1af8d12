package permission

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Answer is a configured platform response for a capability.
type Answer string

const (
	AnswerGranted Answer = "granted"
	AnswerDenied  Answer = "denied"
	AnswerPrompt  Answer = "prompt"
)

// Prompter asks a human to grant a capability.
type Prompter interface {
	Prompt(ctx context.Context, c Capability, r Rationale) (bool, error)
}

// StaticPlatform answers from configuration. Capabilities configured as
// AnswerPrompt start unknown and are decided once by the Prompter; the
// decision is then remembered for the life of the platform, as an OS would.
type StaticPlatform struct {
	answers  map[Capability]Answer
	split    bool
	prompter Prompter

	mu      sync.Mutex
	decided map[Capability]State
}

// NewStaticPlatform creates a platform. prompter may be nil, in which case
// AnswerPrompt capabilities stay unknown.
func NewStaticPlatform(answers map[Capability]Answer, splitBackground bool, prompter Prompter) *StaticPlatform {
	copied := make(map[Capability]Answer, len(answers))
	for c, a := range answers {
		copied[c] = a
	}
	return &StaticPlatform{
		answers:  copied,
		split:    splitBackground,
		prompter: prompter,
		decided:  make(map[Capability]State),
	}
}

// Check implements Platform.
func (p *StaticPlatform) Check(_ context.Context, c Capability) (State, error) {
	switch p.answers[c] {
	case AnswerGranted:
		return StateGranted, nil
	case AnswerDenied:
		return StateDenied, nil
	case AnswerPrompt, "":
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.decided[c], nil
	default:
		return StateUnknown, fmt.Errorf("permission: unsupported answer %q for %s", p.answers[c], c)
	}
}

// Request implements Platform.
func (p *StaticPlatform) Request(ctx context.Context, c Capability, r Rationale) (State, error) {
	state, err := p.Check(ctx, c)
	if err != nil || state != StateUnknown {
		return state, err
	}
	if p.prompter == nil {
		return StateUnknown, nil
	}

	granted, err := p.prompter.Prompt(ctx, c, r)
	if err != nil {
		return StateUnknown, err
	}

	state = StateDenied
	if granted {
		state = StateGranted
	}
	p.mu.Lock()
	p.decided[c] = state
	p.mu.Unlock()
	return state, nil
}

// SplitsBackgroundLocation implements Platform.
func (p *StaticPlatform) SplitsBackgroundLocation() bool {
	return p.split
}

// TerminalPrompter asks on a line-oriented terminal.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	once  sync.Once
	lines chan string
	mu    sync.Mutex
}

// readLines feeds input lines to prompts; one reader outlives abandoned
// prompts so a late answer is never read twice.
func (t *TerminalPrompter) readLines() {
	scanner := bufio.NewScanner(t.In)
	for scanner.Scan() {
		t.lines <- scanner.Text()
	}
	close(t.lines)
}

// Prompt writes the rationale and waits for a y/n answer.
func (t *TerminalPrompter) Prompt(ctx context.Context, c Capability, r Rationale) (bool, error) {
	t.once.Do(func() {
		t.lines = make(chan string)
		go t.readLines()
	})

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := fmt.Fprintf(t.Out, "%s\n%s\nAllow %s? [y/N]: ", r.Title, r.Message, c); err != nil {
		return false, err
	}

	select {
	case line, ok := <-t.lines:
		if !ok {
			return false, io.EOF
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
