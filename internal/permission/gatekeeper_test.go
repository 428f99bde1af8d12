package permission

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakePlatform struct {
	states   map[Capability]State
	answers  map[Capability]State
	split    bool
	checkErr error
	requests []Capability
	block    bool
}

func (p *fakePlatform) Check(_ context.Context, c Capability) (State, error) {
	if p.checkErr != nil {
		return StateUnknown, p.checkErr
	}
	return p.states[c], nil
}

func (p *fakePlatform) Request(ctx context.Context, c Capability, _ Rationale) (State, error) {
	p.requests = append(p.requests, c)
	if p.block {
		<-ctx.Done()
		return StateUnknown, ctx.Err()
	}
	state := p.answers[c]
	p.states[c] = state
	return state, nil
}

func (p *fakePlatform) SplitsBackgroundLocation() bool { return p.split }

func TestCheckPlatformErrorIsUnknown(t *testing.T) {
	gk := NewGatekeeper(&fakePlatform{checkErr: errors.New("boom")}, 0, zerolog.Nop())
	if got := gk.Check(context.Background(), Camera); got != StateUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}

func TestRequestOnlyPromptsWhenUnknown(t *testing.T) {
	platform := &fakePlatform{
		states:  map[Capability]State{ForegroundLocation: StateDenied},
		answers: map[Capability]State{Camera: StateGranted},
	}
	gk := NewGatekeeper(platform, 0, zerolog.Nop())

	if got := gk.Request(context.Background(), ForegroundLocation); got != StateDenied {
		t.Fatalf("expected denied, got %s", got)
	}
	if got := gk.Request(context.Background(), Camera); got != StateGranted {
		t.Fatalf("expected granted, got %s", got)
	}
	if len(platform.requests) != 1 || platform.requests[0] != Camera {
		t.Fatalf("expected a single camera prompt, got %v", platform.requests)
	}
}

func TestRequestPromptTimeout(t *testing.T) {
	platform := &fakePlatform{states: map[Capability]State{}, block: true}
	gk := NewGatekeeper(platform, 20*time.Millisecond, zerolog.Nop())

	start := time.Now()
	if got := gk.Request(context.Background(), ForegroundLocation); got != StateUnknown {
		t.Fatalf("expected unknown after timeout, got %s", got)
	}
	if time.Since(start) > time.Second {
		t.Fatal("prompt timeout not honoured")
	}
}

func TestEnsureLocation(t *testing.T) {
	tests := []struct {
		name       string
		split      bool
		states     map[Capability]State
		answers    map[Capability]State
		wantDenied Capability
	}{
		{
			name:   "both granted",
			split:  true,
			states: map[Capability]State{ForegroundLocation: StateGranted, BackgroundLocation: StateGranted},
		},
		{
			name:       "background denied",
			split:      true,
			states:     map[Capability]State{ForegroundLocation: StateGranted, BackgroundLocation: StateDenied},
			wantDenied: BackgroundLocation,
		},
		{
			name:       "foreground prompt refused",
			split:      true,
			states:     map[Capability]State{},
			answers:    map[Capability]State{ForegroundLocation: StateDenied},
			wantDenied: ForegroundLocation,
		},
		{
			name:    "background prompted and granted",
			split:   true,
			states:  map[Capability]State{ForegroundLocation: StateGranted},
			answers: map[Capability]State{BackgroundLocation: StateGranted},
		},
		{
			name:   "single grant platform ignores background",
			split:  false,
			states: map[Capability]State{ForegroundLocation: StateGranted, BackgroundLocation: StateDenied},
		},
		{
			name:       "unanswered prompt is a denial",
			split:      false,
			states:     map[Capability]State{},
			answers:    map[Capability]State{ForegroundLocation: StateUnknown},
			wantDenied: ForegroundLocation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.answers == nil {
				tt.answers = map[Capability]State{}
			}
			gk := NewGatekeeper(&fakePlatform{states: tt.states, answers: tt.answers, split: tt.split}, 0, zerolog.Nop())
			err := gk.EnsureLocation(context.Background())

			if tt.wantDenied == 0 {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			var denied *DeniedError
			if !errors.As(err, &denied) {
				t.Fatalf("expected DeniedError, got %v", err)
			}
			if denied.Capability != tt.wantDenied {
				t.Errorf("expected %s denied, got %s", tt.wantDenied, denied.Capability)
			}
			if denied.Message() == "" {
				t.Error("expected user-facing message")
			}
		})
	}
}

func TestEnsureCamera(t *testing.T) {
	platform := NewStaticPlatform(map[Capability]Answer{Camera: AnswerDenied}, true, nil)
	gk := NewGatekeeper(platform, 0, zerolog.Nop())

	var denied *DeniedError
	if err := gk.EnsureCamera(context.Background()); !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
}

func TestStaticPlatformPromptIsRemembered(t *testing.T) {
	var out bytes.Buffer
	prompter := &TerminalPrompter{In: strings.NewReader("y\nn\n"), Out: &out}
	platform := NewStaticPlatform(map[Capability]Answer{
		ForegroundLocation: AnswerPrompt,
		BackgroundLocation: AnswerPrompt,
	}, true, prompter)
	gk := NewGatekeeper(platform, time.Second, zerolog.Nop())

	if got := gk.Check(context.Background(), ForegroundLocation); got != StateUnknown {
		t.Fatalf("expected unknown before prompt, got %s", got)
	}

	err := gk.EnsureLocation(context.Background())
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Capability != BackgroundLocation {
		t.Fatalf("expected background denial, got %v", err)
	}

	if got := gk.Check(context.Background(), ForegroundLocation); got != StateGranted {
		t.Fatalf("expected remembered grant, got %s", got)
	}
	if !strings.Contains(out.String(), LocationRationale.Message) {
		t.Errorf("expected location rationale in prompt, got %q", out.String())
	}
	if !strings.Contains(out.String(), BackgroundLocationRationale.Message) {
		t.Errorf("expected background rationale in prompt, got %q", out.String())
	}
}

func TestStaticPlatformWithoutPrompter(t *testing.T) {
	platform := NewStaticPlatform(map[Capability]Answer{Camera: AnswerPrompt}, false, nil)
	state, err := platform.Request(context.Background(), Camera, CameraRationale)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if state != StateUnknown {
		t.Fatalf("expected unknown without prompter, got %s", state)
	}
}
