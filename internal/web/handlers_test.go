package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/cjeanneret/MiMo/internal/logic/motion"
)

// ---------- ValidateLine ----------

func TestValidateLine(t *testing.T) {
	cases := []struct {
		line    string
		wantErr bool
	}{
		{"GET_POS", false},
		{"ALT:10 AZ:20", false},
		{"  LED_ON  ", false},
		{"", true},
		{"   ", true},
		{"GET_POS\nLED_ON", true},
		{"GET_POS\r", true},
		{strings.Repeat("A", maxLineLength+1), true},
	}
	for _, tc := range cases {
		err := ValidateLine(tc.line)
		if tc.wantErr && err == nil {
			t.Errorf("ValidateLine(%q): expected error, got nil", tc.line)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("ValidateLine(%q): unexpected error: %v", tc.line, err)
		}
	}
}

// ---------- Handler helpers ----------

type fakeQueue struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (q *fakeQueue) Inject(line string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.lines = append(q.lines, line)
	return nil
}

func (q *fakeQueue) Lines() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.lines...)
}

var testConsole = ConsoleConfig{
	Instance:       "MiMo test",
	MinSpeed:       motion.MinSpeed,
	MaxSpeed:       motion.MaxSpeed,
	Speed:          motion.DefaultSpeed,
	AltStepsPerRev: 2048,
	AzStepsPerRev:  2048,
}

func newTestHandlers(q Enqueuer) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
		"app.js":     &fstest.MapFile{Data: []byte("// app")},
	}
	pos := func() motion.AngularPosition { return motion.AngularPosition{Alt: 17.578125, Az: -3} }
	return NewHandlers(NewStatusBroadcaster(), q, pos, testConsole, staticFS)
}

func commandBody(line string) *bytes.Reader {
	data, _ := json.Marshal(CommandRequest{Line: line})
	return bytes.NewReader(data)
}

// ---------- HandleCommand ----------

func TestHandleCommand_ValidPost(t *testing.T) {
	q := &fakeQueue{}
	h := newTestHandlers(q)
	req := httptest.NewRequest(http.MethodPost, "/command", commandBody(" ALT:90 AZ:0 "))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleCommand(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "queued" {
		t.Errorf("response status = %q, want \"queued\"", resp["status"])
	}
	if diff := cmp.Diff([]string{"ALT:90 AZ:0"}, q.Lines()); diff != "" {
		t.Errorf("queued lines mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleCommand_PreservesOrder(t *testing.T) {
	q := &fakeQueue{}
	h := newTestHandlers(q)
	lines := []string{"ALT:90 AZ:0", "LED_ON", "ABORT", "GET_POS"}
	for _, line := range lines {
		w := httptest.NewRecorder()
		h.HandleCommand(w, httptest.NewRequest(http.MethodPost, "/command", commandBody(line)))
		if w.Code != http.StatusAccepted {
			t.Fatalf("%s: status = %d", line, w.Code)
		}
	}
	if diff := cmp.Diff(lines, q.Lines()); diff != "" {
		t.Errorf("queued lines mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleCommand_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(&fakeQueue{})
	w := httptest.NewRecorder()

	h.HandleCommand(w, httptest.NewRequest(http.MethodGet, "/command", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleCommand_InvalidJSON(t *testing.T) {
	h := newTestHandlers(&fakeQueue{})
	w := httptest.NewRecorder()

	h.HandleCommand(w, httptest.NewRequest(http.MethodPost, "/command", strings.NewReader("not json")))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleCommand_InvalidLine(t *testing.T) {
	q := &fakeQueue{}
	h := newTestHandlers(q)
	for _, line := range []string{"", "GET_POS\nABORT"} {
		w := httptest.NewRecorder()
		h.HandleCommand(w, httptest.NewRequest(http.MethodPost, "/command", commandBody(line)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%q: status = %d, want %d", line, w.Code, http.StatusBadRequest)
		}
	}
	if len(q.Lines()) != 0 {
		t.Errorf("invalid lines were queued: %q", q.Lines())
	}
}

func TestHandleCommand_OversizedBody(t *testing.T) {
	h := newTestHandlers(&fakeQueue{})
	big := `{"line":"` + strings.Repeat("x", 2<<20) + `"}`
	w := httptest.NewRecorder()

	h.HandleCommand(w, httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(big)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d (oversized body)", w.Code, http.StatusBadRequest)
	}
}

func TestHandleCommand_NilQueue(t *testing.T) {
	h := newTestHandlers(nil)
	w := httptest.NewRecorder()

	h.HandleCommand(w, httptest.NewRequest(http.MethodPost, "/command", commandBody("GET_POS")))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleCommand_QueueFull(t *testing.T) {
	h := newTestHandlers(&fakeQueue{err: errors.New("link: command queue full")})
	w := httptest.NewRecorder()

	h.HandleCommand(w, httptest.NewRequest(http.MethodPost, "/command", commandBody("GET_POS")))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ---------- HandlePosition / HandleConfig ----------

func TestHandleConfig_LiveSpeed(t *testing.T) {
	h := newTestHandlers(&fakeQueue{})
	speed := motion.DefaultSpeed
	h.Speed = func() int { return speed }

	get := func() ConsoleConfig {
		w := httptest.NewRecorder()
		h.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/config", nil))
		var got ConsoleConfig
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return got
	}

	if got := get().Speed; got != motion.DefaultSpeed {
		t.Errorf("speed = %d, want %d", got, motion.DefaultSpeed)
	}
	speed = 3
	got := get()
	if got.Speed != 3 {
		t.Errorf("speed after change = %d, want 3", got.Speed)
	}
	if got.Instance != testConsole.Instance || got.MaxSpeed != testConsole.MaxSpeed {
		t.Errorf("static fields changed: %+v", got)
	}
	if h.Console.Speed != motion.DefaultSpeed {
		t.Errorf("stored console speed mutated to %d", h.Console.Speed)
	}
}

func TestServer_SetSpeedFunc(t *testing.T) {
	srv, _ := newTestServer(&fakeQueue{})
	srv.SetSpeedFunc(func() int { return 12 })

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/config", nil))
	var got ConsoleConfig
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Speed != 12 {
		t.Errorf("speed = %d, want 12", got.Speed)
	}
}

func TestHandlePosition(t *testing.T) {
	h := newTestHandlers(&fakeQueue{})
	w := httptest.NewRecorder()

	h.HandlePosition(w, httptest.NewRequest(http.MethodGet, "/position", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got PositionResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := PositionResponse{Alt: 17.578125, Az: -3, Text: "ALT: 17.58 AZ: -3.00"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("position mismatch (-want +got):\n%s", diff)
	}
}

func TestHandlePosition_NoSource(t *testing.T) {
	h := NewHandlers(NewStatusBroadcaster(), nil, nil, testConsole, fstest.MapFS{})
	w := httptest.NewRecorder()

	h.HandlePosition(w, httptest.NewRequest(http.MethodGet, "/position", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(&fakeQueue{})
	w := httptest.NewRecorder()

	h.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got ConsoleConfig
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(testConsole, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(&fakeQueue{})
	w := httptest.NewRecorder()

	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

func TestServeIndex_Missing(t *testing.T) {
	h := NewHandlers(NewStatusBroadcaster(), nil, nil, testConsole, fstest.MapFS{})
	w := httptest.NewRecorder()

	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ---------- Router ----------

func newTestServer(q Enqueuer) (*Server, *StatusBroadcaster) {
	b := NewStatusBroadcaster()
	pos := func() motion.AngularPosition { return motion.AngularPosition{Alt: 90} }
	return NewServer("127.0.0.1:0", b, q, pos, testConsole), b
}

func TestRouter_Routes(t *testing.T) {
	srv, _ := newTestServer(&fakeQueue{})
	router := srv.Router()

	cases := []struct {
		method, path string
		body         string
		want         int
	}{
		{http.MethodGet, "/", "", http.StatusOK},
		{http.MethodGet, "/position", "", http.StatusOK},
		{http.MethodGet, "/config", "", http.StatusOK},
		{http.MethodGet, "/static/style.css", "", http.StatusOK},
		{http.MethodGet, "/static/app.js", "", http.StatusOK},
		{http.MethodPost, "/command", `{"line":"GET_POS"}`, http.StatusAccepted},
		{http.MethodGet, "/command", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/position", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestStatusStream_DeliversResponses(t *testing.T) {
	srv, b := newTestServer(&fakeQueue{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status/stream")
	if err != nil {
		t.Fatalf("GET /status/stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	waitSubscribers(t, b, 1)
	BroadcastWriter(b, LevelResponse).Write([]byte("HELLO!\n"))

	buf := make([]byte, 4096)
	var got string
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(got, "HELLO!") && time.Now().Before(deadline) {
		n, err := resp.Body.Read(buf)
		got += string(buf[:n])
		if err != nil {
			break
		}
	}
	if !strings.Contains(got, `"msg":"HELLO!"`) || !strings.Contains(got, `"l":"response"`) {
		t.Errorf("stream = %q, want a response event with HELLO!", got)
	}
}

// ---------- Websocket console ----------

func waitSubscribers(t *testing.T, b *StatusBroadcaster, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d subscribers", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) StatusEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt StatusEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return evt
}

func TestConsole_QueuesLinesAndStreamsEvents(t *testing.T) {
	q := &fakeQueue{}
	srv, b := newTestServer(q)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := readEvent(t, conn)
	if !strings.HasPrefix(hello.Msg, "session ") || len(hello.Msg) != len("session ")+36 {
		t.Errorf("hello = %q, want a session uuid", hello.Msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("LED_ON\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(q.Lines()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if diff := cmp.Diff([]string{"LED_ON"}, q.Lines()); diff != "" {
		t.Errorf("queued lines mismatch (-want +got):\n%s", diff)
	}

	waitSubscribers(t, b, 1)
	BroadcastWriter(b, LevelResponse).Write([]byte("LED ON\n"))
	if evt := readEvent(t, conn); evt.Msg != "LED ON" || evt.Level != LevelResponse {
		t.Errorf("event = %+v, want LED ON response", evt)
	}
}

func TestConsole_RejectsInvalidLine(t *testing.T) {
	q := &fakeQueue{}
	srv, _ := newTestServer(q)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readEvent(t, conn) // session

	conn.WriteMessage(websocket.TextMessage, []byte("   "))
	if evt := readEvent(t, conn); evt.Level != LevelError {
		t.Errorf("event = %+v, want an error event", evt)
	}
	if len(q.Lines()) != 0 {
		t.Errorf("queued %q, want nothing", q.Lines())
	}
}
