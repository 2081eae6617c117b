package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/companion/internal/config"
	"github.com/ent0n29/companion/internal/memory"
	"github.com/ent0n29/companion/internal/protocol"
	"github.com/ent0n29/companion/internal/reliability"
	"github.com/ent0n29/companion/internal/report"
	"github.com/ent0n29/companion/internal/session"
)

type echoOrchestrator struct{}

func (echoOrchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	outbound <- protocol.AIMessage{Type: protocol.TypeAIMessage, SessionID: s.ID, Text: "hello"}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if m, ok := msg.(protocol.ClientText); ok {
				outbound <- protocol.AIMessage{Type: protocol.TypeAIMessage, SessionID: s.ID, Turn: 1, Text: "echo: " + m.Text}
			}
		}
	}
}

type fakeMemories struct {
	scored []memory.Scored
	err    error
}

func (f fakeMemories) Retrieve(context.Context, string, string) ([]memory.Scored, error) {
	return f.scored, f.err
}

type fakeLive struct {
	rep     report.Report
	created bool
}

func (f fakeLive) MaybeGenerate(context.Context, string) (report.Report, bool, error) {
	return f.rep, f.created, nil
}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(2 * time.Minute)
	}
	srv := New(config.Config{}, deps)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestCreateAndEndSession(t *testing.T) {
	ts := newTestServer(t, Deps{})

	body, _ := json.Marshal(map[string]string{"user_id": "user-1"})
	res, err := http.Post(ts.URL+"/v1/voice/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	created := decodeBody(t, res)
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	if created["inactivity_ttl_ms"].(float64) != float64((2 * time.Minute).Milliseconds()) {
		t.Fatalf("inactivity_ttl_ms = %v", created["inactivity_ttl_ms"])
	}

	endRes, err := http.Post(ts.URL+"/v1/voice/session/"+sessionID+"/end", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}

	missing, err := http.Post(ts.URL+"/v1/voice/session/nope/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end missing request error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("end missing status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestCreateSessionRequiresUserID(t *testing.T) {
	ts := newTestServer(t, Deps{})
	res, err := http.Post(ts.URL+"/v1/voice/session", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestSessionWebsocketRoundTrip(t *testing.T) {
	sessions := session.NewManager(2 * time.Minute)
	ts := newTestServer(t, Deps{Sessions: sessions, Orchestrator: echoOrchestrator{}})
	sess := sessions.Create("user-1")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/session/ws?session_id=" + sess.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var greeting protocol.AIMessage
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if greeting.Text != "hello" {
		t.Fatalf("greeting = %+v", greeting)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nope"}`)); err != nil {
		t.Fatalf("write invalid: %v", err)
	}
	var invalid protocol.ErrorEvent
	if err := conn.ReadJSON(&invalid); err != nil {
		t.Fatalf("read error event: %v", err)
	}
	if invalid.Code != "invalid_client_message" {
		t.Fatalf("error event = %+v", invalid)
	}

	msg := `{"type":"client_text","session_id":"` + sess.ID + `","text":"hi"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write text: %v", err)
	}
	var reply protocol.AIMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Text != "echo: hi" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestSessionWebsocketRejectsUnknownSession(t *testing.T) {
	ts := newTestServer(t, Deps{Orchestrator: echoOrchestrator{}})
	res, err := http.Get(ts.URL + "/v1/voice/session/ws?session_id=missing")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestSearchMemories(t *testing.T) {
	ts := newTestServer(t, Deps{Memories: fakeMemories{scored: []memory.Scored{
		{Candidate: memory.Candidate{ID: "m1", Text: "likes tea", Similarity: 0.9}, Recency: 1, Score: 0.93},
	}}})

	res, err := http.Get(ts.URL + "/v1/users/u1/memories?q=tea")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	body := decodeBody(t, res)
	memories, _ := body["memories"].([]any)
	if len(memories) != 1 {
		t.Fatalf("memories = %+v", body["memories"])
	}
	first := memories[0].(map[string]any)
	if first["text"] != "likes tea" || first["score"].(float64) != 0.93 {
		t.Fatalf("memory = %+v", first)
	}

	missing, err := http.Get(ts.URL + "/v1/users/u1/memories")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing q status = %d, want %d", missing.StatusCode, http.StatusBadRequest)
	}
}

func TestSearchMemoriesMapsGatewayError(t *testing.T) {
	ts := newTestServer(t, Deps{Memories: fakeMemories{err: reliability.Gateway("embed query", errors.New("quota"))}})
	res, err := http.Get(ts.URL + "/v1/users/u1/memories?q=tea")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	body := decodeBody(t, res)
	if res.StatusCode != http.StatusBadGateway || body["code"] != "gateway_error" {
		t.Fatalf("status = %d body = %+v", res.StatusCode, body)
	}
}

func TestListReports(t *testing.T) {
	store := report.NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := store.Insert(ctx, report.Report{
			UserID:    "u1",
			Kind:      report.KindLive,
			PeriodKey: base.Add(time.Duration(i) * time.Hour).Format("2006-01-02T15:04"),
			Summary:   "summary",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	ts := newTestServer(t, Deps{Reports: store})

	res, err := http.Get(ts.URL + "/v1/users/u1/reports?limit=2")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	body := decodeBody(t, res)
	reports, _ := body["reports"].([]any)
	if len(reports) != 2 {
		t.Fatalf("reports = %+v", body["reports"])
	}
	if reports[0].(map[string]any)["period_key"] != "2026-03-01T11:00" {
		t.Fatalf("reports not newest first: %+v", reports)
	}

	bad, err := http.Get(ts.URL + "/v1/users/u1/reports?kind=weekly")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid kind status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}

func TestRunLiveReport(t *testing.T) {
	ts := newTestServer(t, Deps{Live: fakeLive{
		created: true,
		rep:     report.Report{UserID: "u1", Kind: report.KindLive, PeriodKey: "p", Summary: "ok"},
	}})
	res, err := http.Post(ts.URL+"/v1/users/u1/reports/run", "application/json", nil)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	body := decodeBody(t, res)
	if body["created"] != true {
		t.Fatalf("body = %+v", body)
	}
	if body["report"].(map[string]any)["summary"] != "ok" {
		t.Fatalf("report = %+v", body["report"])
	}
}

func TestReadyzReportsBackendFailure(t *testing.T) {
	ts := newTestServer(t, Deps{Ready: func(context.Context) error { return errors.New("db down") }})
	res, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestUnconfiguredRoutesAnswerNotImplemented(t *testing.T) {
	ts := newTestServer(t, Deps{})
	for _, path := range []string{"/v1/users/u1/memories?q=x", "/v1/users/u1/reports"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusNotImplemented {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusNotImplemented)
		}
	}
}
