package dialogue

import "time"

type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerSystem Speaker = "system"
)

type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an append-only log of turns. The only permitted mutation
// of an existing turn is ReplaceLastSystemTurn.
type Conversation struct {
	turns []Turn
}

func (c *Conversation) Append(speaker Speaker, text string, at time.Time) {
	c.turns = append(c.turns, Turn{Speaker: speaker, Text: text, Timestamp: at})
}

// ReplaceLastSystemTurn rewrites the text of the most recent turn when it was
// spoken by the system. It reports whether a turn was replaced.
func (c *Conversation) ReplaceLastSystemTurn(text string, at time.Time) bool {
	if len(c.turns) == 0 {
		return false
	}
	last := &c.turns[len(c.turns)-1]
	if last.Speaker != SpeakerSystem {
		return false
	}
	last.Text = text
	last.Timestamp = at
	return true
}

func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}
