// Package notify emits fire-and-forget notifications to the downstream
// post-processing pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voiceloop/voiceloop/internal/httpclient"
)

// Notifier posts processing notifications to a configured endpoint. A nil
// Notifier is valid and drops every notification.
type Notifier struct {
	httpClient *http.Client
	endpoint   string
}

// New creates a Notifier for the endpoint. Empty endpoint returns nil.
func New(endpoint string) *Notifier {
	if endpoint == "" {
		return nil
	}
	return &Notifier{
		httpClient: httpclient.New(httpclient.WithTimeout(15 * time.Second)),
		endpoint:   endpoint,
	}
}

type processingNotification struct {
	MeetingID     string `json:"meeting_id"`
	TranscriptURL string `json:"transcript_url"`
}

// MeetingNeedsProcessing tells the downstream pipeline a transcript is
// ready. Failures are logged, never returned: the caller does not depend
// on the outcome.
func (n *Notifier) MeetingNeedsProcessing(ctx context.Context, meetingID, transcriptURL string) {
	if n == nil {
		return
	}
	if err := n.post(ctx, processingNotification{MeetingID: meetingID, TranscriptURL: transcriptURL}); err != nil {
		slog.WarnContext(ctx, "post-processing notification failed", "meeting_id", meetingID, "error", err)
	}
}

func (n *Notifier) post(ctx context.Context, payload any) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notify: %s: %s", resp.Status, data)
	}
	return nil
}
