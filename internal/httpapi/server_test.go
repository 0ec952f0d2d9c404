package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rahulved/mockboard/internal/auth"
	"github.com/rahulved/mockboard/internal/config"
	"github.com/rahulved/mockboard/internal/interview"
	"github.com/rahulved/mockboard/internal/observability"
	"github.com/rahulved/mockboard/internal/orchestrator"
	"github.com/rahulved/mockboard/internal/pipeline"
	"github.com/rahulved/mockboard/internal/room"
	"github.com/rahulved/mockboard/internal/session"
)

func newTestServer(t *testing.T) (*httptest.Server, interview.Store) {
	t.Helper()
	cfg := config.Config{
		DefaultDurationMinutes: 30,
		MaxQuestionCeiling:     15,
		AllowAnyOrigin:         true,
	}
	store := interview.NewInMemoryStore()
	metrics := observability.NewMetrics(fmt.Sprintf("mockboard_api_test_%d", time.Now().UnixNano()))
	orch := orchestrator.New(
		session.NewManager(time.Minute),
		store,
		room.NewHub(),
		pipeline.NewMockProvider(),
		metrics,
		pipeline.VoiceProfile{Voice: "alloy"},
		nil,
	)
	srv := New(cfg, store, orch, auth.NewVerifier(""), metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthAndReady(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/readyz", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("readyz = %d %v", resp.StatusCode, body)
	}
}

func TestCreateInterviewAppliesDefaults(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/interviews", "u1", map[string]any{
		"max_questions": 40,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if body["duration_minutes"].(float64) != 30 {
		t.Fatalf("duration_minutes = %v, want default 30", body["duration_minutes"])
	}
	if body["max_questions"].(float64) != 15 {
		t.Fatalf("max_questions = %v, want clamped to 15", body["max_questions"])
	}
	if body["status"] != string(interview.StatusInProgress) {
		t.Fatalf("status = %v, want in_progress", body["status"])
	}
	if body["id"] == "" {
		t.Fatalf("id should be assigned")
	}
}

func TestCreateInterviewRequiresAuth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/interviews", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestListInterviewsScopedToUser(t *testing.T) {
	ts, _ := newTestServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/v1/interviews", "u1", nil)
	doJSON(t, http.MethodPost, ts.URL+"/v1/interviews", "u2", nil)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/interviews", nil)
	req.Header.Set("Authorization", "Bearer u1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var list []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("list length = %d, want 1", len(list))
	}
	if list[0]["user_id"] != "u1" {
		t.Fatalf("user_id = %v, want u1", list[0]["user_id"])
	}
}

func TestEndInterviewOverREST(t *testing.T) {
	ts, store := newTestServer(t)
	_, created := doJSON(t, http.MethodPost, ts.URL+"/v1/interviews", "u1", nil)
	id := created["id"].(string)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/interviews/"+id+"/end", "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != string(interview.StatusCompleted) {
		t.Fatalf("status = %v, want completed", body["status"])
	}

	// Ending again is a no-op.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/v1/interviews/"+id+"/end", "u1", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != string(interview.StatusCompleted) {
		t.Fatalf("repeat end = %d %v", resp.StatusCode, body["status"])
	}

	iv, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if iv.Status != interview.StatusCompleted {
		t.Fatalf("stored status = %q, want completed", iv.Status)
	}
}

func TestGetInterviewHidesOtherUsers(t *testing.T) {
	ts, _ := newTestServer(t)
	_, created := doJSON(t, http.MethodPost, ts.URL+"/v1/interviews", "u1", nil)
	id := created["id"].(string)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/interviews/"+id, "u2", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func dialWS(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/interviews/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", wantType, err)
		}
		if msg["type"] == wantType {
			return msg
		}
	}
	t.Fatalf("no %s message before deadline", wantType)
	return nil
}

func TestWebsocketInterviewFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	_, created := doJSON(t, http.MethodPost, ts.URL+"/v1/interviews", "u1", nil)
	id := created["id"].(string)

	conn := dialWS(t, ts, "u1")

	if err := conn.WriteJSON(map[string]any{"type": "join_interview", "interview_id": id}); err != nil {
		t.Fatalf("join: %v", err)
	}
	state := readUntil(t, conn, "interview_state")
	if state["interview_id"] != id {
		t.Fatalf("interview_id = %v, want %s", state["interview_id"], id)
	}
	first := readUntil(t, conn, "first_question")
	question := first["question"].(map[string]any)
	if question["question_number"].(float64) != 1 {
		t.Fatalf("question_number = %v, want 1", question["question_number"])
	}

	answer := base64.StdEncoding.EncodeToString([]byte("a structured answer with several words"))
	if err := conn.WriteJSON(map[string]any{
		"type":             "audio_response",
		"interview_id":     id,
		"question_id":      question["question_id"],
		"audio_base64":     answer,
		"response_time_ms": 3000,
	}); err != nil {
		t.Fatalf("audio_response: %v", err)
	}
	next := readUntil(t, conn, "next_question")
	if next["previous_response"] == nil {
		t.Fatalf("next_question should carry the previous response summary")
	}

	if err := conn.WriteJSON(map[string]any{"type": "end_interview", "interview_id": id}); err != nil {
		t.Fatalf("end_interview: %v", err)
	}
	ended := readUntil(t, conn, "interview_ended")
	if ended["reason"] != "requested" {
		t.Fatalf("reason = %v, want requested", ended["reason"])
	}
}

func TestWebsocketRejectsUnknownInterview(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts, "u1")

	if err := conn.WriteJSON(map[string]any{"type": "join_interview", "interview_id": "missing"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	errEvt := readUntil(t, conn, "error_event")
	if errEvt["code"] != "interview_not_found" {
		t.Fatalf("code = %v, want interview_not_found", errEvt["code"])
	}
}
