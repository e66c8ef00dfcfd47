// Package turn executes one conversational turn for a voice session:
// transcript in, model reply out, synthesized audio published.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/voiceloop/voiceloop/assets"
	"github.com/voiceloop/voiceloop/core"
	"github.com/voiceloop/voiceloop/llm"
	"github.com/voiceloop/voiceloop/obs"
	"github.com/voiceloop/voiceloop/session"
	"github.com/voiceloop/voiceloop/tts"
)

// fallbackReply is spoken when the model returns nothing; a turn is never
// aborted solely because the model came back empty.
const fallbackReply = "I'm sorry, I didn't catch that. Could you say that again?"

// Processor runs the turn pipeline. Synthesis and publication are optional:
// a nil tts provider or publisher degrades the turn to text-only.
type Processor struct {
	sessions  *session.Store
	model     llm.Provider
	voice     tts.Provider
	publisher assets.Publisher
	voiceOpts tts.Options
}

// NewProcessor wires the pipeline. voice and publisher may be nil.
func NewProcessor(sessions *session.Store, model llm.Provider, voice tts.Provider, publisher assets.Publisher, voiceOpts tts.Options) *Processor {
	return &Processor{
		sessions:  sessions,
		model:     model,
		voice:     voice,
		publisher: publisher,
		voiceOpts: voiceOpts,
	}
}

// ProcessTurn runs one turn for the session identified by meetingID.
//
// The call is a silent no-op when the session is absent, when a turn is
// already in flight (overlapping captions are dropped, not queued), and
// when the utterance was authored by the agent itself. The single-flight
// guard is released on every exit path.
func (p *Processor) ProcessTurn(ctx context.Context, meetingID, text, speakerID string) {
	sess := p.sessions.Get(meetingID)
	if sess == nil {
		return
	}
	if speakerID != "" && speakerID == sess.AgentUserID {
		return
	}
	if !sess.BeginTurn() {
		obs.RecordTurn("dropped")
		slog.DebugContext(ctx, "turn dropped, session busy", "meeting_id", meetingID)
		return
	}
	defer sess.EndTurn()

	ctx, recorder := obs.StartRequest(ctx, "turn.ProcessTurn",
		attribute.String("meeting.id", meetingID),
	)
	defer func() { recorder.End(nil) }()

	sess.AppendUser(text)

	reply := p.generateReply(ctx, sess)
	sess.AppendAssistant(reply)

	audioURL := p.synthesizeAndPublish(ctx, meetingID, reply)

	if sess.Terminating() {
		// The call ended mid-turn; drop the result instead of writing to a
		// session that is already gone from the registry.
		obs.RecordTurn("terminated")
		return
	}
	sess.AppendAudio(reply, audioURL, time.Now())
	obs.RecordTurn("processed")
}

func (p *Processor) generateReply(ctx context.Context, sess *core.VoiceSession) string {
	prompt := renderPrompt(sess.Instructions, sess.History())
	reply, err := p.model.Complete(ctx, prompt)
	if err != nil {
		slog.ErrorContext(ctx, "language model call failed", "meeting_id", sess.ID, "error", err)
		reply = ""
	}
	if strings.TrimSpace(reply) == "" {
		return fallbackReply
	}
	return strings.TrimSpace(reply)
}

func (p *Processor) synthesizeAndPublish(ctx context.Context, meetingID, reply string) string {
	if p.voice == nil {
		return ""
	}
	audio, err := p.voice.Synthesize(ctx, reply, p.voiceOpts)
	if err != nil {
		slog.WarnContext(ctx, "speech synthesis failed, continuing text-only", "meeting_id", meetingID, "error", err)
		return ""
	}
	if p.publisher == nil {
		return ""
	}
	key := fmt.Sprintf("responses/%s/%s.%s", meetingID, uuid.NewString(), audio.Format)
	url, err := p.publisher.Publish(ctx, key, audio.Data, audio.MIME())
	if err != nil {
		slog.WarnContext(ctx, "audio publish failed, continuing text-only", "meeting_id", meetingID, "error", err)
		return ""
	}
	return url
}

// renderPrompt flattens the instructions and full ordered history into a
// single completion prompt.
func renderPrompt(instructions string, history []core.Message) string {
	var b strings.Builder
	if instructions != "" {
		b.WriteString(instructions)
		b.WriteString("\n\n")
	}
	for _, m := range history {
		switch m.Role {
		case core.User:
			b.WriteString("User: ")
		case core.Assistant:
			b.WriteString("Assistant: ")
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString("Assistant:")
	return b.String()
}
