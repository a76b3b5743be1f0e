package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agalue/voice-companion/internal/persona"
)

// Role is the author of a turn.
type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
)

// Turn is one utterance of the conversation.
type Turn struct {
	Role Role
	Text string
	At   time.Time
}

// Transcript is the append-only conversation log. It is safe for
// concurrent use.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
}

// Append adds a turn.
func (t *Transcript) Append(turn Turn) {
	t.mu.Lock()
	t.turns = append(t.turns, turn)
	t.mu.Unlock()
}

// Turns returns a copy of all turns.
func (t *Transcript) Turns() []Turn {
	return t.Last(0)
}

// Last returns a copy of the newest n turns, or all of them when n <= 0.
func (t *Transcript) Last(n int) []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	start := 0
	if n > 0 && len(t.turns) > n {
		start = len(t.turns) - n
	}
	return append([]Turn(nil), t.turns[start:]...)
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Profile is the state of one user's session with a companion.
type Profile struct {
	SessionID string
	Persona   persona.Persona
	BondLevel int
	Answers   []string
	Greeted   bool
}

// NewProfile starts a session with p.
func NewProfile(p persona.Persona, bondLevel int, answers []string) *Profile {
	return &Profile{
		SessionID: uuid.NewString(),
		Persona:   p,
		BondLevel: persona.ClampBond(bondLevel),
		Answers:   answers,
	}
}

func (p *Profile) context() persona.Profile {
	return persona.Profile{BondLevel: p.BondLevel, Answers: p.Answers}
}
