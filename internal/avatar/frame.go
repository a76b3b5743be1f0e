// Package avatar derives the avatar's activity and mouth level from the
// conversation and streams it to connected viewers.
package avatar

import (
	"github.com/agalue/voice-companion/internal/conversation"
)

// Activity is what the avatar is animating.
type Activity string

const (
	Idle      Activity = "idle"
	Listening Activity = "listening"
	Thinking  Activity = "thinking"
	Speaking  Activity = "speaking"
)

// Frame is one avatar update.
type Frame struct {
	Activity Activity `json:"activityState"`
	Level    float64  `json:"audioLevel"`
}

// Snapshot is the view of every component a frame is computed from.
type Snapshot struct {
	Recording    bool
	MicLevel     float64
	Cycle        conversation.Machine
	Playing      bool
	SpeakerLevel float64
}

// Compute picks the activity by precedence: recording, then any pending
// transcription, reply or synthesis, then playback. The level follows the
// microphone while recording and the speaker while speaking.
func Compute(s Snapshot) Frame {
	switch {
	case s.Recording:
		return Frame{Activity: Listening, Level: clamp(s.MicLevel)}
	case s.Cycle.Transcribing,
		s.Cycle.State == conversation.AwaitingReply,
		s.Cycle.State == conversation.Speaking && !s.Playing:
		return Frame{Activity: Thinking}
	case s.Playing:
		return Frame{Activity: Speaking, Level: clamp(s.SpeakerLevel)}
	default:
		return Frame{Activity: Idle}
	}
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
