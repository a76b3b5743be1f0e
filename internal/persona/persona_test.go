package persona

import (
	"strings"
	"testing"

	"github.com/agalue/voice-companion/internal/tts"
)

func TestLookup(t *testing.T) {
	t.Parallel()

	for _, name := range Names() {
		p, err := Lookup(strings.ToUpper(name))
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if p.Name != name {
			t.Errorf("Name = %q, want %q", p.Name, name)
		}
		if !tts.ValidOpenAIVoice(p.Voice) {
			t.Errorf("%s voice %q is not a hosted voice", name, p.Voice)
		}
		if p.Greeting == "" || p.LocalVoice == "" {
			t.Errorf("%s is missing a fallback greeting or local voice", name)
		}
	}
	if _, err := Lookup("dolphin"); err == nil {
		t.Error("Lookup(dolphin) succeeded")
	}
}

func TestSystemPromptCarriesProfile(t *testing.T) {
	t.Parallel()

	p, _ := Lookup("bonobo")
	got := p.SystemPrompt(Profile{BondLevel: 90, Answers: []string{"my back hurts", "I hate phone calls"}})
	for _, want := range []string{"You are Bonobo", "1. my back hurts", "2. I hate phone calls", "very deep"} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}

	got = p.SystemPrompt(Profile{BondLevel: DefaultBondLevel})
	if !strings.Contains(got, "No onboarding context available.") {
		t.Error("system prompt without answers lacks the empty-context line")
	}
}

func TestGreetingPrompt(t *testing.T) {
	t.Parallel()

	p, _ := Lookup("krea")
	got := p.GreetingPrompt(Profile{Answers: []string{"busy", "forgetful"}})
	if !strings.Contains(got, `"busy forgetful"`) {
		t.Errorf("greeting prompt does not quote answers: %q", got)
	}
	if !strings.Contains(got, "handle the health-related things") {
		t.Errorf("greeting prompt lacks persona welcome: %q", got)
	}
}

func TestBondDescription(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level int
		want  string
	}{
		{0, "still forming"},
		{29, "still forming"},
		{30, "growing"},
		{59, "growing"},
		{60, "strong bond"},
		{85, "very deep"},
		{100, "very deep"},
	}
	for _, tt := range tests {
		if got := BondDescription(tt.level); !strings.Contains(got, tt.want) {
			t.Errorf("BondDescription(%d) = %q, want it to mention %q", tt.level, got, tt.want)
		}
	}
	if ClampBond(-5) != 0 || ClampBond(140) != 100 || ClampBond(42) != 42 {
		t.Error("ClampBond does not clamp to 0..100")
	}
}
