package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// VoiceSession holds the in-memory conversational state for one active call.
// History and audio responses are append-only and insertion-ordered; a
// session never survives call termination.
type VoiceSession struct {
	ID           string
	AgentUserID  string
	Instructions string

	inFlight    atomic.Bool
	terminating atomic.Bool

	mu      sync.Mutex
	history []Message
	audio   []AudioResponse
}

// NewVoiceSession creates an empty session for the given call.
func NewVoiceSession(id, agentUserID, instructions string) *VoiceSession {
	return &VoiceSession{
		ID:           id,
		AgentUserID:  agentUserID,
		Instructions: instructions,
	}
}

// BeginTurn attempts to claim the session for a single turn. It returns
// false when another turn is already executing; callers must drop the
// utterance rather than queue it.
func (s *VoiceSession) BeginTurn() bool {
	return s.inFlight.CompareAndSwap(false, true)
}

// EndTurn releases the single-flight guard. It must run on every exit path
// of a turn, including failures.
func (s *VoiceSession) EndTurn() {
	s.inFlight.Store(false)
}

// InFlight reports whether a turn is currently executing.
func (s *VoiceSession) InFlight() bool {
	return s.inFlight.Load()
}

// MarkTerminating flags the session so an in-flight turn stops recording
// results. Termination itself does not cancel the turn.
func (s *VoiceSession) MarkTerminating() {
	s.terminating.Store(true)
}

// Terminating reports whether termination was requested.
func (s *VoiceSession) Terminating() bool {
	return s.terminating.Load()
}

// AppendUser appends a user utterance to the conversation history.
func (s *VoiceSession) AppendUser(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Message{Role: User, Content: text})
}

// AppendAssistant appends an agent reply to the conversation history.
func (s *VoiceSession) AppendAssistant(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Message{Role: Assistant, Content: text})
}

// History returns a copy of the conversation history in insertion order.
func (s *VoiceSession) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// AppendAudio records the outcome of one turn's synthesis step.
func (s *VoiceSession) AppendAudio(text, audioURL string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, AudioResponse{Text: text, AudioURL: audioURL, Timestamp: at})
}

// AudioResponses returns a copy of the recorded audio responses.
func (s *VoiceSession) AudioResponses() []AudioResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AudioResponse, len(s.audio))
	copy(out, s.audio)
	return out
}
