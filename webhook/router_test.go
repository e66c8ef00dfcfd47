package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voiceloop/voiceloop/core"
	"github.com/voiceloop/voiceloop/meeting"
	"github.com/voiceloop/voiceloop/meeting/memstore"
	"github.com/voiceloop/voiceloop/session"
	"github.com/voiceloop/voiceloop/tts"
	"github.com/voiceloop/voiceloop/turn"
)

type echoModel struct{}

func (echoModel) Complete(ctx context.Context, prompt string) (string, error) {
	return "understood", nil
}

type fakeProvisioner struct {
	mu       sync.Mutex
	calls    int
	failures int // fail the first N calls
}

func (f *fakeProvisioner) UpsertIdentity(ctx context.Context, userID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("provider unavailable")
	}
	return nil
}

type fakeArtifacts struct {
	data map[string][]byte
	err  error
}

func (f *fakeArtifacts) FetchArtifact(ctx context.Context, url string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.data[url]
	if !ok {
		return nil, errors.New("artifact not found")
	}
	return data, nil
}

type fixture struct {
	meetings    *memstore.Store
	sessions    *session.Store
	lifecycle   *session.Manager
	provisioner *fakeProvisioner
	artifacts   *fakeArtifacts
	router      *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	meetings := memstore.New()
	meetings.PutAgent(&meeting.Agent{ID: "a1", UserID: "agent-user", Name: "Scheduler", Instructions: "Assist the call."})
	meetings.PutMeeting(&meeting.Meeting{ID: "m1", AgentID: "a1", Status: meeting.StatusUpcoming})

	sessions := session.NewStore()
	provisioner := &fakeProvisioner{}
	lifecycle := session.NewManager(sessions, meetings, provisioner)
	turns := turn.NewProcessor(sessions, echoModel{}, nil, nil, tts.Options{})
	artifacts := &fakeArtifacts{data: map[string][]byte{}}

	router := NewRouter(meetings, sessions, lifecycle, turns, provisioner, artifacts, nil)
	router.retryBackoff = time.Millisecond

	return &fixture{
		meetings:    meetings,
		sessions:    sessions,
		lifecycle:   lifecycle,
		provisioner: provisioner,
		artifacts:   artifacts,
		router:      router,
	}
}

func event(t *testing.T, raw string) Event {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("bad test payload: %v", err)
	}
	typ, _ := payload["type"].(string)
	return Event{Type: typ, Payload: payload}
}

func mustStatus(t *testing.T, store *memstore.Store, id string, want meeting.Status) {
	t.Helper()
	mtg, err := store.Meeting(context.Background(), id)
	if err != nil {
		t.Fatalf("meeting %s: %v", id, err)
	}
	if mtg.Status != want {
		t.Fatalf("meeting %s status = %s, want %s", id, mtg.Status, want)
	}
}

func TestSessionStartedActivatesAndStartsSession(t *testing.T) {
	f := newFixture(t)

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.session_started","call":{"custom":{"meetingId":"m1"}}}`))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if ack != AckOK {
		t.Fatalf("ack = %s, want %s", ack, AckOK)
	}
	mustStatus(t, f.meetings, "m1", meeting.StatusActive)
	if !f.sessions.Exists("m1") {
		t.Fatal("session not created")
	}
	sess := f.sessions.Get("m1")
	if sess.AgentUserID != "agent-user" || sess.Instructions != "Assist the call." {
		t.Fatalf("session carries wrong agent identity: %+v", sess)
	}
	if f.provisioner.calls != 1 {
		t.Fatalf("provisioner calls = %d, want 1", f.provisioner.calls)
	}
}

func TestSessionStartedMeetingIDFromCallCID(t *testing.T) {
	f := newFixture(t)

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.session_started","call_cid":"default:m1"}`))
	if err != nil || ack != AckOK {
		t.Fatalf("Route = (%s, %v), want (ok, nil)", ack, err)
	}
	mustStatus(t, f.meetings, "m1", meeting.StatusActive)
}

func TestSessionStartedMissingMeetingID(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.Route(context.Background(), event(t, `{"type":"call.session_started"}`))
	if !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	mustStatus(t, f.meetings, "m1", meeting.StatusUpcoming)
}

func TestSessionStartedDuplicateIgnored(t *testing.T) {
	for _, status := range []meeting.Status{meeting.StatusActive, meeting.StatusProcessing, meeting.StatusCompleted, meeting.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			f.meetings.PutMeeting(&meeting.Meeting{ID: "m1", AgentID: "a1", Status: status})

			ack, err := f.router.Route(context.Background(), event(t,
				`{"type":"call.session_started","call":{"custom":{"meetingId":"m1"}}}`))
			if err != nil {
				t.Fatalf("Route: %v", err)
			}
			if ack != AckIgnored {
				t.Fatalf("ack = %s, want %s", ack, AckIgnored)
			}
			mustStatus(t, f.meetings, "m1", status)
			if f.sessions.Exists("m1") {
				t.Fatal("duplicate start must not create a session")
			}
		})
	}
}

func TestSessionStartedUnknownMeetingIgnored(t *testing.T) {
	f := newFixture(t)

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.session_started","call":{"custom":{"meetingId":"nope"}}}`))
	if err != nil || ack != AckIgnored {
		t.Fatalf("Route = (%s, %v), want (ignored, nil)", ack, err)
	}
}

func TestSessionStartedProvisioningRetriesOnce(t *testing.T) {
	f := newFixture(t)
	f.provisioner.failures = 1

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.session_started","call":{"custom":{"meetingId":"m1"}}}`))
	if err != nil || ack != AckOK {
		t.Fatalf("Route = (%s, %v), want (ok, nil)", ack, err)
	}
	if f.provisioner.calls != 2 {
		t.Fatalf("provisioner calls = %d, want 2 (one retry)", f.provisioner.calls)
	}
	if !f.sessions.Exists("m1") {
		t.Fatal("session must start after retry succeeds")
	}
}

func TestSessionStartedProvisioningFailureStillStartsSession(t *testing.T) {
	f := newFixture(t)
	f.provisioner.failures = 2 // both the call and its retry fail

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.session_started","call":{"custom":{"meetingId":"m1"}}}`))
	if err != nil || ack != AckOK {
		t.Fatalf("Route = (%s, %v), want (ok, nil)", ack, err)
	}
	if f.provisioner.calls != 2 {
		t.Fatalf("provisioner calls = %d, want 2", f.provisioner.calls)
	}
	if !f.sessions.Exists("m1") {
		t.Fatal("session must start even when provisioning fails twice")
	}
}

func TestSessionEndedTerminatesBeforeTransition(t *testing.T) {
	f := newFixture(t)
	f.meetings.PutMeeting(&meeting.Meeting{ID: "m1", AgentID: "a1", Status: meeting.StatusActive})
	f.lifecycle.StartExplicit("m1", "agent-user", "x")

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.session_ended","call":{"custom":{"meetingId":"m1"}}}`))
	if err != nil || ack != AckOK {
		t.Fatalf("Route = (%s, %v), want (ok, nil)", ack, err)
	}
	if f.sessions.Exists("m1") {
		t.Fatal("session must be removed")
	}
	mustStatus(t, f.meetings, "m1", meeting.StatusProcessing)
}

func TestSessionEndedRemovesSessionWhenTransitionRejected(t *testing.T) {
	f := newFixture(t)
	f.meetings.PutMeeting(&meeting.Meeting{ID: "m1", AgentID: "a1", Status: meeting.StatusCompleted})
	f.lifecycle.StartExplicit("m1", "agent-user", "x")

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.session_ended","call":{"custom":{"meetingId":"m1"}}}`))
	if err != nil || ack != AckOK {
		t.Fatalf("Route = (%s, %v), want (ok, nil)", ack, err)
	}
	if f.sessions.Exists("m1") {
		t.Fatal("session must be removed even when the transition is rejected")
	}
	mustStatus(t, f.meetings, "m1", meeting.StatusCompleted)
}

func TestParticipantLeftDoesNotEndSession(t *testing.T) {
	f := newFixture(t)
	f.lifecycle.StartExplicit("m1", "agent-user", "x")

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.session_participant_left","call":{"custom":{"meetingId":"m1"}}}`))
	if err != nil || ack != AckOK {
		t.Fatalf("Route = (%s, %v), want (ok, nil)", ack, err)
	}
	if !f.sessions.Exists("m1") {
		t.Fatal("a participant leaving must not end the session")
	}
}

func TestTranscriptionReadyFeedsWellFormedLinesInOrder(t *testing.T) {
	f := newFixture(t)
	f.lifecycle.StartExplicit("m1", "agent-user", "x")
	f.artifacts.data["https://cdn.example.com/t.jsonl"] = []byte(
		`{"text":"first line","speaker_id":"s1"}
not json at all
{"text":"second line","speaker_id":"s2"}
`)

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.transcription_ready","call":{"custom":{"meetingId":"m1"}},"call_transcription":{"url":"https://cdn.example.com/t.jsonl"}}`))
	if err != nil || ack != AckOK {
		t.Fatalf("Route = (%s, %v), want (ok, nil)", ack, err)
	}

	mtg, _ := f.meetings.Meeting(context.Background(), "m1")
	if mtg.TranscriptURL != "https://cdn.example.com/t.jsonl" {
		t.Fatalf("transcript url not recorded: %q", mtg.TranscriptURL)
	}

	history := f.sessions.Get("m1").History()
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4 (two turns, malformed line skipped)", len(history))
	}
	if history[0].Content != "first line" || history[2].Content != "second line" {
		t.Fatalf("turns out of order: %+v", history)
	}
}

func TestTranscriptionReadyWithoutSessionStillRecordsURL(t *testing.T) {
	f := newFixture(t)

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.transcription_ready","call":{"custom":{"meetingId":"m1"}},"call_transcription":{"url":"https://cdn.example.com/t.jsonl"}}`))
	if err != nil || ack != AckOK {
		t.Fatalf("Route = (%s, %v), want (ok, nil)", ack, err)
	}
	mtg, _ := f.meetings.Meeting(context.Background(), "m1")
	if mtg.TranscriptURL == "" {
		t.Fatal("transcript url must be recorded without a live session")
	}
	if f.sessions.Exists("m1") {
		t.Fatal("transcription_ready must not lazily create a session")
	}
}

func TestTranscriptionReadyMissingURL(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.transcription_ready","call":{"custom":{"meetingId":"m1"}}}`))
	if !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTranscriptionReadyFetchFailureStillAcks(t *testing.T) {
	f := newFixture(t)
	f.lifecycle.StartExplicit("m1", "agent-user", "x")
	f.artifacts.err = errors.New("cdn down")

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.transcription_ready","call":{"custom":{"meetingId":"m1"}},"call_transcription":{"url":"https://cdn.example.com/t.jsonl"}}`))
	if err != nil || ack != AckOK {
		t.Fatalf("fetch failure must not surface to the caller: (%s, %v)", ack, err)
	}
}

func TestRecordingReady(t *testing.T) {
	f := newFixture(t)

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.recording_ready","call":{"custom":{"meetingId":"m1"}},"call_recording":{"url":"https://cdn.example.com/rec.mp4"}}`))
	if err != nil || ack != AckOK {
		t.Fatalf("Route = (%s, %v), want (ok, nil)", ack, err)
	}
	mtg, _ := f.meetings.Meeting(context.Background(), "m1")
	if mtg.RecordingURL != "https://cdn.example.com/rec.mp4" {
		t.Fatalf("recording url not recorded: %q", mtg.RecordingURL)
	}
	if f.sessions.Exists("m1") {
		t.Fatal("recording_ready must not touch sessions")
	}
}

func TestClosedCaptionLazyStartAndTurn(t *testing.T) {
	f := newFixture(t)

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.closed_caption","call":{"custom":{"meetingId":"m1"}},"closed_caption":{"text":"hello there","speaker_id":"s1"}}`))
	if err != nil || ack != AckOK {
		t.Fatalf("Route = (%s, %v), want (ok, nil)", ack, err)
	}
	if !f.sessions.Exists("m1") {
		t.Fatal("closed_caption must lazily create the session")
	}
	history := f.sessions.Get("m1").History()
	if len(history) != 2 || history[0].Content != "hello there" {
		t.Fatalf("caption turn not processed: %+v", history)
	}
}

func TestClosedCaptionNoMeetingID(t *testing.T) {
	f := newFixture(t)

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.closed_caption","closed_caption":{"text":"hello"}}`))
	if err != nil || ack != AckIgnored {
		t.Fatalf("Route = (%s, %v), want (ignored, nil)", ack, err)
	}
	if f.sessions.Len() != 0 {
		t.Fatal("no session mutation allowed without a meeting id")
	}
}

func TestClosedCaptionUnresolvableMeetingIgnored(t *testing.T) {
	f := newFixture(t)

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.closed_caption","call":{"custom":{"meetingId":"nope"}},"closed_caption":{"text":"hello"}}`))
	if err != nil || ack != AckIgnored {
		t.Fatalf("Route = (%s, %v), want (ignored, nil)", ack, err)
	}
}

func TestClosedCaptionAgentEchoIgnored(t *testing.T) {
	f := newFixture(t)

	ack, err := f.router.Route(context.Background(), event(t,
		`{"type":"call.closed_caption","call":{"custom":{"meetingId":"m1"}},"closed_caption":{"text":"I am the agent","speaker_id":"agent-user"}}`))
	if err != nil || ack != AckOK {
		t.Fatalf("Route = (%s, %v), want (ok, nil)", ack, err)
	}
	if history := f.sessions.Get("m1").History(); len(history) != 0 {
		t.Fatalf("agent caption must not mutate history: %+v", history)
	}
}

func TestCaptionsStartedPrimesSession(t *testing.T) {
	for _, typ := range []string{"call.closed_captions_started", "call.transcription_started"} {
		t.Run(typ, func(t *testing.T) {
			f := newFixture(t)

			ack, err := f.router.Route(context.Background(), event(t,
				`{"type":"`+typ+`","call":{"custom":{"meetingId":"m1"}}}`))
			if err != nil || ack != AckOK {
				t.Fatalf("Route = (%s, %v), want (ok, nil)", ack, err)
			}
			if !f.sessions.Exists("m1") {
				t.Fatal("session must be primed before captions arrive")
			}
		})
	}
}

func TestUnknownEventTypeAcknowledged(t *testing.T) {
	f := newFixture(t)

	ack, err := f.router.Route(context.Background(), event(t, `{"type":"call.reaction_added"}`))
	if err != nil || ack != AckIgnored {
		t.Fatalf("Route = (%s, %v), want (ignored, nil)", ack, err)
	}
}
