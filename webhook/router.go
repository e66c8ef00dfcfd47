// Package webhook receives signed call-provider events and drives the
// session lifecycle and turn pipeline. The router applies the meeting
// status state machine; the handler owns the HTTP boundary.
package webhook

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/voiceloop/voiceloop/caption"
	"github.com/voiceloop/voiceloop/core"
	"github.com/voiceloop/voiceloop/meeting"
	"github.com/voiceloop/voiceloop/notify"
	"github.com/voiceloop/voiceloop/obs"
	"github.com/voiceloop/voiceloop/session"
	"github.com/voiceloop/voiceloop/turn"
)

// Event type vocabulary of the call provider.
const (
	EventSessionStarted       = "call.session_started"
	EventSessionEnded         = "call.session_ended"
	EventParticipantLeft      = "call.session_participant_left"
	EventTranscriptionReady   = "call.transcription_ready"
	EventRecordingReady       = "call.recording_ready"
	EventClosedCaption        = "call.closed_caption"
	EventClosedCaptionsStart  = "call.closed_captions_started"
	EventTranscriptionStarted = "call.transcription_started"
)

// Ack values returned to the caller in the response body.
const (
	AckOK      = "ok"
	AckIgnored = "ignored"
)

const fallbackSpeaker = "participant"

// Event is one parsed webhook delivery.
type Event struct {
	Type    string
	Payload map[string]any
}

// ParseEvent decodes a raw body into an Event. It rejects malformed JSON
// and a missing type discriminator.
func ParseEvent(body []byte) (Event, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return Event{}, core.WrapError(err, core.ErrParse)
	}
	typ, _ := payload["type"].(string)
	if typ == "" {
		return Event{}, core.NewError(core.ErrValidation, "event type missing")
	}
	return Event{Type: typ, Payload: payload}, nil
}

// ArtifactFetcher retrieves transcript/recording artifacts by signed URL.
type ArtifactFetcher interface {
	FetchArtifact(ctx context.Context, url string) ([]byte, error)
}

// Router dispatches events against the meeting state machine.
type Router struct {
	meetings    meeting.Store
	sessions    *session.Store
	lifecycle   *session.Manager
	turns       *turn.Processor
	provisioner session.Provisioner
	artifacts   ArtifactFetcher
	notifier    *notify.Notifier

	retryBackoff time.Duration
}

// NewRouter wires the dispatcher. provisioner, artifacts, and notifier
// may be nil; the corresponding steps degrade to no-ops.
func NewRouter(meetings meeting.Store, sessions *session.Store, lifecycle *session.Manager, turns *turn.Processor, provisioner session.Provisioner, artifacts ArtifactFetcher, notifier *notify.Notifier) *Router {
	return &Router{
		meetings:     meetings,
		sessions:     sessions,
		lifecycle:    lifecycle,
		turns:        turns,
		provisioner:  provisioner,
		artifacts:    artifacts,
		notifier:     notifier,
		retryBackoff: 2 * time.Second,
	}
}

// Route applies one event. The returned ack is always valid; a non-nil
// error is returned only for validation failures the boundary surfaces as
// client errors. Integration and lookup failures are logged and acked.
func (r *Router) Route(ctx context.Context, evt Event) (string, error) {
	obs.RecordEvent(evt.Type)

	switch evt.Type {
	case EventSessionStarted:
		return r.sessionStarted(ctx, evt)
	case EventSessionEnded:
		return r.sessionEnded(ctx, evt)
	case EventParticipantLeft:
		// A participant leaving does not end the call.
		return AckOK, nil
	case EventTranscriptionReady:
		return r.transcriptionReady(ctx, evt)
	case EventRecordingReady:
		return r.recordingReady(ctx, evt)
	case EventClosedCaption:
		return r.closedCaption(ctx, evt)
	case EventClosedCaptionsStart, EventTranscriptionStarted:
		return r.primeSession(ctx, evt)
	default:
		slog.DebugContext(ctx, "unrecognized event type acknowledged", "type", evt.Type)
		return AckIgnored, nil
	}
}

func (r *Router) sessionStarted(ctx context.Context, evt Event) (string, error) {
	meetingID := meetingIDFrom(evt.Payload)
	if meetingID == "" {
		return "", core.NewError(core.ErrValidation, "meeting id missing from session_started event")
	}

	applied, err := r.meetings.TransitionUnless(ctx, meetingID, meeting.StatusActive,
		meeting.StatusActive, meeting.StatusCompleted, meeting.StatusCancelled, meeting.StatusProcessing)
	if err != nil {
		slog.WarnContext(ctx, "session_started for unknown meeting", "meeting_id", meetingID, "error", err)
		return AckIgnored, nil
	}
	if !applied {
		slog.InfoContext(ctx, "duplicate session_started ignored", "meeting_id", meetingID)
		return AckIgnored, nil
	}

	mtg, err := r.meetings.Meeting(ctx, meetingID)
	if err != nil {
		slog.ErrorContext(ctx, "meeting vanished after activation", "meeting_id", meetingID, "error", err)
		return AckIgnored, nil
	}
	agent, err := r.meetings.Agent(ctx, mtg.AgentID)
	if err != nil {
		slog.ErrorContext(ctx, "agent not found for activated meeting", "meeting_id", meetingID, "agent_id", mtg.AgentID, "error", err)
		return AckIgnored, nil
	}

	r.provisionIdentity(ctx, meetingID, agent)
	r.lifecycle.StartExplicit(meetingID, agent.UserID, agent.Instructions)
	return AckOK, nil
}

// provisionIdentity upserts the agent's participant identity with one
// bounded retry. The session starts whether or not it succeeds.
func (r *Router) provisionIdentity(ctx context.Context, meetingID string, agent *meeting.Agent) {
	if r.provisioner == nil {
		return
	}
	backoff := retry.WithMaxRetries(1, retry.NewConstant(r.retryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := r.provisioner.UpsertIdentity(ctx, agent.UserID, agent.Name); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		slog.WarnContext(ctx, "agent identity provisioning failed, starting session anyway",
			"meeting_id", meetingID, "agent_user_id", agent.UserID, "error", err)
	}
}

func (r *Router) sessionEnded(ctx context.Context, evt Event) (string, error) {
	meetingID := meetingIDFrom(evt.Payload)
	if meetingID == "" {
		return AckIgnored, nil
	}

	// Terminate first: the session must not outlive the call even when
	// the status transition below is rejected.
	r.lifecycle.Terminate(meetingID)

	applied, err := r.meetings.TransitionFrom(ctx, meetingID, meeting.StatusActive, meeting.StatusProcessing)
	if err != nil {
		slog.WarnContext(ctx, "session_ended for unknown meeting", "meeting_id", meetingID, "error", err)
	} else if !applied {
		slog.InfoContext(ctx, "session_ended without active meeting, transition skipped", "meeting_id", meetingID)
	}
	return AckOK, nil
}

func (r *Router) transcriptionReady(ctx context.Context, evt Event) (string, error) {
	meetingID := meetingIDFrom(evt.Payload)
	if meetingID == "" {
		return "", core.NewError(core.ErrValidation, "meeting id missing from transcription_ready event")
	}
	url := stringAt(evt.Payload, "call_transcription", "url")
	if url == "" {
		return "", core.NewError(core.ErrValidation, "transcript url missing from transcription_ready event")
	}

	if err := r.meetings.SetTranscriptURL(ctx, meetingID, url); err != nil {
		slog.WarnContext(ctx, "cannot record transcript url", "meeting_id", meetingID, "error", err)
	}

	if r.sessions.Exists(meetingID) {
		r.feedTranscript(ctx, meetingID, url)
	}

	r.notifier.MeetingNeedsProcessing(ctx, meetingID, url)
	return AckOK, nil
}

// feedTranscript fetches the artifact and replays every well-formed line
// through the turn pipeline in file order. Malformed lines are skipped.
func (r *Router) feedTranscript(ctx context.Context, meetingID, url string) {
	if r.artifacts == nil {
		return
	}
	raw, err := r.artifacts.FetchArtifact(ctx, url)
	if err != nil {
		slog.ErrorContext(ctx, "transcript fetch failed", "meeting_id", meetingID, "error", err)
		return
	}

	var fed, skipped int
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry struct {
			Text      string `json:"text"`
			SpeakerID string `json:"speaker_id"`
		}
		if err := json.Unmarshal(line, &entry); err != nil || strings.TrimSpace(entry.Text) == "" {
			skipped++
			continue
		}
		r.turns.ProcessTurn(ctx, meetingID, entry.Text, entry.SpeakerID)
		fed++
	}
	if err := scanner.Err(); err != nil {
		slog.WarnContext(ctx, "transcript scan aborted", "meeting_id", meetingID, "error", err)
	}
	slog.InfoContext(ctx, "transcript replayed", "meeting_id", meetingID, "turns", fed, "skipped", skipped)
}

func (r *Router) recordingReady(ctx context.Context, evt Event) (string, error) {
	meetingID := meetingIDFrom(evt.Payload)
	url := stringAt(evt.Payload, "call_recording", "url")
	if meetingID == "" || url == "" {
		return AckIgnored, nil
	}
	if err := r.meetings.SetRecordingURL(ctx, meetingID, url); err != nil {
		slog.WarnContext(ctx, "cannot record recording url", "meeting_id", meetingID, "error", err)
	}
	return AckOK, nil
}

func (r *Router) closedCaption(ctx context.Context, evt Event) (string, error) {
	meetingID := meetingIDFrom(evt.Payload)
	if meetingID == "" {
		return AckIgnored, nil
	}
	if !r.lifecycle.Ensure(ctx, meetingID) {
		return AckIgnored, nil
	}

	text := caption.Extract(evt.Payload)
	if text == "" {
		return AckIgnored, nil
	}

	speaker := firstString(evt.Payload,
		[]string{"closed_caption", "speaker_id"},
		[]string{"closed_caption", "user", "id"},
		[]string{"user", "id"},
	)
	if speaker == "" {
		speaker = fallbackSpeaker
	}

	r.turns.ProcessTurn(ctx, meetingID, text, speaker)
	return AckOK, nil
}

// primeSession lazily starts a session ahead of the first caption.
func (r *Router) primeSession(ctx context.Context, evt Event) (string, error) {
	meetingID := meetingIDFrom(evt.Payload)
	if meetingID == "" {
		return AckIgnored, nil
	}
	r.lifecycle.Ensure(ctx, meetingID)
	return AckOK, nil
}

// meetingIDFrom resolves the meeting identifier carried by an event:
// call.custom.meetingId first, then the call_cid suffix after the call
// type prefix ("default:abc" -> "abc").
func meetingIDFrom(payload map[string]any) string {
	if id := stringAt(payload, "call", "custom", "meetingId"); id != "" {
		return id
	}
	if cid, ok := payload["call_cid"].(string); ok {
		if _, id, found := strings.Cut(cid, ":"); found && id != "" {
			return id
		}
	}
	return ""
}

func stringAt(payload map[string]any, path ...string) string {
	current := payload
	for i, key := range path {
		value, ok := current[key]
		if !ok {
			return ""
		}
		if i == len(path)-1 {
			s, _ := value.(string)
			return strings.TrimSpace(s)
		}
		current, ok = value.(map[string]any)
		if !ok {
			return ""
		}
	}
	return ""
}

func firstString(payload map[string]any, paths ...[]string) string {
	for _, path := range paths {
		if s := stringAt(payload, path...); s != "" {
			return s
		}
	}
	return ""
}
