package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/voiceloop/voiceloop/core"
	"github.com/voiceloop/voiceloop/meeting"
)

// Provisioner registers the agent's participant identity with the call
// provider before the agent appears in a call. Upserts are idempotent.
type Provisioner interface {
	UpsertIdentity(ctx context.Context, userID, name string) error
}

// Manager lazily creates, reuses, and terminates voice sessions. Creation
// and termination for one call are serialized by a per-call lock so
// concurrent webhook deliveries cannot race a session into existence twice.
type Manager struct {
	store       *Store
	meetings    meeting.Store
	provisioner Provisioner

	locks sync.Map // meeting id -> *sync.Mutex
}

// NewManager wires the lifecycle manager. provisioner may be nil, in which
// case identity provisioning is skipped on the lazy path.
func NewManager(store *Store, meetings meeting.Store, provisioner Provisioner) *Manager {
	return &Manager{store: store, meetings: meetings, provisioner: provisioner}
}

func (m *Manager) lock(id string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Ensure lazily creates a session for the meeting. It is idempotent: an
// existing session short-circuits before any external lookup. It returns
// false only when the meeting or its agent cannot be resolved.
func (m *Manager) Ensure(ctx context.Context, meetingID string) bool {
	if m.store.Exists(meetingID) {
		return true
	}

	mu := m.lock(meetingID)
	mu.Lock()
	defer mu.Unlock()

	if m.store.Exists(meetingID) {
		return true
	}

	mtg, err := m.meetings.Meeting(ctx, meetingID)
	if err != nil {
		slog.WarnContext(ctx, "cannot resolve meeting for session", "meeting_id", meetingID, "error", err)
		return false
	}
	agent, err := m.meetings.Agent(ctx, mtg.AgentID)
	if err != nil {
		slog.WarnContext(ctx, "cannot resolve agent for session", "meeting_id", meetingID, "agent_id", mtg.AgentID, "error", err)
		return false
	}

	// Provisioning is best-effort: the session starts regardless.
	if m.provisioner != nil {
		if err := m.provisioner.UpsertIdentity(ctx, agent.UserID, agent.Name); err != nil {
			slog.WarnContext(ctx, "agent identity provisioning failed, starting session anyway",
				"meeting_id", meetingID, "agent_user_id", agent.UserID, "error", err)
		}
	}

	m.store.Create(meetingID, core.NewVoiceSession(meetingID, agent.UserID, agent.Instructions))
	slog.InfoContext(ctx, "voice session started", "meeting_id", meetingID, "agent_user_id", agent.UserID)
	return true
}

// StartExplicit eagerly creates a session from identifiers the caller has
// already verified, bypassing the meeting/agent lookup.
func (m *Manager) StartExplicit(meetingID, agentUserID, instructions string) {
	mu := m.lock(meetingID)
	mu.Lock()
	defer mu.Unlock()

	if m.store.Exists(meetingID) {
		return
	}
	m.store.Create(meetingID, core.NewVoiceSession(meetingID, agentUserID, instructions))
	slog.Info("voice session started", "meeting_id", meetingID, "agent_user_id", agentUserID)
}

// Terminate removes the session; safe to call when absent. An in-flight
// turn observes the terminating flag and stops recording results.
func (m *Manager) Terminate(meetingID string) {
	mu := m.lock(meetingID)
	mu.Lock()
	defer mu.Unlock()

	if sess := m.store.Get(meetingID); sess != nil {
		sess.MarkTerminating()
	}
	m.store.Remove(meetingID)
	m.locks.Delete(meetingID)
	slog.Info("voice session terminated", "meeting_id", meetingID)
}
