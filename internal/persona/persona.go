// Package persona describes the two companions: how they sound, how they
// greet, and the system prompt that shapes their replies.
package persona

import (
	"fmt"
	"strings"
)

// Persona is one companion personality.
type Persona struct {
	Name        string
	DisplayName string
	Voice       string // Hosted speech voice
	LocalVoice  string // Kokoro speaker for on-device speech
	Greeting    string // Spoken when the greeting cannot be generated
	character   string
	welcome     string
}

// Profile is the per-user context passed through to generation.
type Profile struct {
	BondLevel int // 0..100
	Answers   []string
}

// DefaultBondLevel is the bond of a new user.
const DefaultBondLevel = 50

var personas = map[string]Persona{
	"krea": {
		Name:        "krea",
		DisplayName: "Krea",
		Voice:       "shimmer",
		LocalVoice:  "af_heart",
		Greeting:    "Hello... I'm glad you're here. I'll be taking care of the little things so you don't have to worry.",
		character: `You are Krea, a calm and quietly competent healthcare companion who lightens the user's load around health matters.
You are concise and reassuring, you nudge gently and never alarm, and you offer to handle the fiddly bits.
Use phrases like "I'll take care of that" or "Let me handle the details".`,
		welcome: "reassure them that you're here to handle the health-related things they find difficult",
	},
	"bonobo": {
		Name:        "bonobo",
		DisplayName: "Bonobo",
		Voice:       "nova",
		LocalVoice:  "af_bella",
		Greeting:    "Hi there! I'm so happy to meet you. I think we're going to be great friends.",
		character: `You are Bonobo, a warm and playful healthcare companion. The relationship is reciprocal: the user cares for you and you look after them in return.
You are gentle, a little vulnerable, appreciative, and you mirror the user's emotional tone.
Frame health suggestions as giving back after being cared for.`,
		welcome: "express that you're happy to have a new friend to share this journey with",
	},
}

// Names lists the known personas.
func Names() []string { return []string{"krea", "bonobo"} }

// Lookup returns the persona called name.
func Lookup(name string) (Persona, error) {
	p, ok := personas[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Persona{}, fmt.Errorf("unknown persona %q (want %s)", name, strings.Join(Names(), " or "))
	}
	return p, nil
}

// SystemPrompt builds the instructions for a reply.
func (p Persona) SystemPrompt(prof Profile) string {
	var sb strings.Builder
	sb.WriteString(p.character)
	sb.WriteString(`

Rules:
1. You simulate healthcare actions. You never book appointments or access real systems.
2. Focus on preventative care: vaccinations, checkups, screenings.
3. Never give medical advice or diagnoses.
4. If the user mentions serious distress or an emergency, respond with care and suggest contacting a healthcare professional.
5. Your reply is spoken aloud. Keep it to two or three conversational sentences with no lists or markdown.

Context from onboarding:
`)
	if len(prof.Answers) == 0 {
		sb.WriteString("No onboarding context available.\n")
	} else {
		sb.WriteString("The user shared these thoughts during onboarding:\n")
		for i, a := range prof.Answers {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, a)
		}
	}
	sb.WriteString("\nBond level:\n")
	sb.WriteString(BondDescription(prof.BondLevel))
	return sb.String()
}

// GreetingPrompt is sent in place of a user message for the first meeting.
func (p Persona) GreetingPrompt(prof Profile) string {
	return fmt.Sprintf(`This is your first time meeting the user. Based on what they shared during onboarding: "%s"

Give a warm, personalized greeting of two or three sentences. Acknowledge something specific they mentioned and %s. Don't suggest actions yet, just welcome them.`,
		strings.Join(prof.Answers, " "), p.welcome)
}

// BondDescription turns a bond level into guidance on tone.
func BondDescription(level int) string {
	switch {
	case level < 30:
		return "The user is new and the bond is still forming. Be gentle and welcoming."
	case level < 60:
		return "There is a growing connection. Show warmth and familiarity."
	case level < 85:
		return "There is a strong bond. Be affectionate and show that you care deeply."
	default:
		return "The bond is very deep. Show profound care and emotional closeness."
	}
}

// ClampBond limits level to 0..100.
func ClampBond(level int) int {
	return min(max(level, 0), 100)
}
