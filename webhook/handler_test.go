package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const (
	testSecret = "wh-secret"
	testAPIKey = "api-key-1"
)

func newTestServer(t *testing.T) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(f.router, testSecret, testAPIKey)
	srv := httptest.NewServer(h.Mux())
	t.Cleanup(srv.Close)
	return srv, f
}

func postEvent(t *testing.T, srv *httptest.Server, body string, mutate func(*http.Request)) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhook", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", testAPIKey)
	req.Header.Set("X-Signature", Sign(testSecret, []byte(body)))
	if mutate != nil {
		mutate(req)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeStatus(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out["status"]
}

func TestHandlerAcceptsSignedEvent(t *testing.T) {
	srv, f := newTestServer(t)

	resp := postEvent(t, srv, `{"type":"call.session_started","call":{"custom":{"meetingId":"m1"}}}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := decodeStatus(t, resp); got != AckOK {
		t.Fatalf("ack = %s, want %s", got, AckOK)
	}
	if !f.sessions.Exists("m1") {
		t.Fatal("session not created through the HTTP boundary")
	}
}

func TestHandlerRejectsMissingAPIKey(t *testing.T) {
	srv, f := newTestServer(t)

	resp := postEvent(t, srv, `{"type":"call.session_started","call":{"custom":{"meetingId":"m1"}}}`,
		func(r *http.Request) { r.Header.Del("X-Api-Key") })
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if f.sessions.Len() != 0 {
		t.Fatal("unauthenticated request must not mutate state")
	}
}

func TestHandlerRejectsBadSignature(t *testing.T) {
	srv, f := newTestServer(t)

	resp := postEvent(t, srv, `{"type":"call.session_started","call":{"custom":{"meetingId":"m1"}}}`,
		func(r *http.Request) { r.Header.Set("X-Signature", "deadbeef") })
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if f.sessions.Len() != 0 {
		t.Fatal("forged request must not mutate state")
	}
}

func TestHandlerRejectsMalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postEvent(t, srv, `{not json`, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandlerRejectsMissingEventType(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postEvent(t, srv, `{"call":{}}`, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandlerRejectsSessionStartedWithoutMeetingID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postEvent(t, srv, `{"type":"call.session_started"}`, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandlerAcksIgnoredCaption(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postEvent(t, srv, `{"type":"call.closed_caption","closed_caption":{"text":"hi"}}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := decodeStatus(t, resp); got != AckIgnored {
		t.Fatalf("ack = %s, want %s", got, AckIgnored)
	}
}

func TestHandlerAcksUnknownEventType(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postEvent(t, srv, `{"type":"call.some_future_event"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := decodeStatus(t, resp); got != AckIgnored {
		t.Fatalf("ack = %s, want %s", got, AckIgnored)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := decodeStatus(t, resp); got != "ok" {
		t.Fatalf("healthz status = %s, want ok", got)
	}
}
