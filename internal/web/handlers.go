package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cjeanneret/MiMo/internal/debug"
	"github.com/cjeanneret/MiMo/internal/logic/motion"
)

const (
	maxBodyBytes  = 4 << 10
	maxLineLength = 128

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Enqueuer accepts command lines for the single command processor.
type Enqueuer interface {
	Inject(line string) error
}

// PositionFunc returns the current mount position; it must be safe to call
// from any goroutine.
type PositionFunc func() motion.AngularPosition

// SpeedFunc returns the current shared speed in rpm; it must be safe to call
// from any goroutine.
type SpeedFunc func() int

// ConsoleConfig is what the console page needs to render its controls.
type ConsoleConfig struct {
	Instance       string `json:"instance"`
	MinSpeed       int    `json:"min_speed"`
	MaxSpeed       int    `json:"max_speed"`
	Speed          int    `json:"speed"`
	AltStepsPerRev int    `json:"alt_steps_per_rev"`
	AzStepsPerRev  int    `json:"az_steps_per_rev"`
}

// CommandRequest is the body of POST /command.
type CommandRequest struct {
	Line string `json:"line"`
}

// PositionResponse is the body of GET /position.
type PositionResponse struct {
	Alt  float64 `json:"alt"`
	Az   float64 `json:"az"`
	Text string  `json:"text"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Commands    Enqueuer
	Position    PositionFunc
	Console     ConsoleConfig
	Speed       SpeedFunc // overrides Console.Speed when set
	staticFS    fs.FS
	upgrader    websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
// If commands is nil, POST /command returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, commands Enqueuer, position PositionFunc, console ConsoleConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Commands:    commands,
		Position:    position,
		Console:     console,
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ValidateLine checks a command line submitted over HTTP or the websocket.
func ValidateLine(line string) error {
	switch {
	case strings.TrimSpace(line) == "":
		return errors.New("line is empty")
	case len(line) > maxLineLength:
		return errors.New("line is too long")
	case strings.ContainsAny(line, "\r\n"):
		return errors.New("line must not contain newlines")
	}
	return nil
}

// HandleConfig returns the console settings as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.Console
	if h.Speed != nil {
		cfg.Speed = h.Speed()
	}
	writeJSON(w, http.StatusOK, cfg)
}

// HandlePosition returns the current position as JSON.
func (h *Handlers) HandlePosition(w http.ResponseWriter, r *http.Request) {
	if h.Position == nil {
		http.Error(w, "position not available", http.StatusServiceUnavailable)
		return
	}
	p := h.Position()
	writeJSON(w, http.StatusOK, PositionResponse{Alt: p.Alt, Az: p.Az, Text: p.String()})
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCommand handles POST /command. The line joins the same queue as
// serial input; its responses arrive on /status/stream.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateLine(req.Line); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Commands == nil {
		http.Error(w, "command channel not configured", http.StatusServiceUnavailable)
		return
	}
	line := strings.TrimSpace(req.Line)
	if err := h.Commands.Inject(line); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	debug.Live("Web: queued %q", line)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "line": line})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// HandleConsole upgrades GET /ws to a websocket console. Every text frame
// from the client is one command line; every broadcast event is sent back
// as a JSON text frame.
func (h *Handlers) HandleConsole(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Verbose("Web: websocket upgrade failed: %v", err)
		return
	}
	session := uuid.New().String()
	debug.Live("Web: console %s connected from %s", session, r.RemoteAddr)

	events, unsub := h.Broadcaster.Subscribe()
	local := make(chan string, 8)
	done := make(chan struct{})

	go h.consoleReader(conn, session, local, done)

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		unsub()
		conn.Close()
		debug.Live("Web: console %s closed", session)
	}()

	if hello, err := encodeEvent(LevelInfo, "session "+session); err == nil {
		local <- hello
	}
	for {
		var msg string
		select {
		case msg = <-local:
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg = ev
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case <-done:
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
	}
}

// consoleReader turns incoming frames into queued command lines. Rejections
// go back to this session only.
func (h *Handlers) consoleReader(conn *websocket.Conn, session string, local chan<- string, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxBodyBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				debug.Verbose("Web: console %s read: %v", session, err)
			}
			return
		}
		line := strings.TrimSpace(string(data))
		err = ValidateLine(line)
		if err == nil {
			if h.Commands == nil {
				err = errors.New("command channel not configured")
			} else {
				err = h.Commands.Inject(line)
			}
		}
		if err != nil {
			if ev, encErr := encodeEvent(LevelError, err.Error()); encErr == nil {
				select {
				case local <- ev:
				default:
				}
			}
			continue
		}
		debug.Live("Web: console %s queued %q", session, line)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
