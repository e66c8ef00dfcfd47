package core

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
)

// Message represents a single conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// AudioResponse records one synthesized agent reply. AudioURL is empty when
// synthesis or publication was unavailable for that turn.
type AudioResponse struct {
	Text      string    `json:"text"`
	AudioURL  string    `json:"audio_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
