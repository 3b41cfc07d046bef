package events

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 64
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
)

// WSMessage is the JSON frame sent to clients.
type WSMessage struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
	TS    int64          `json:"ts"`
}

// WSHandler streams a user's events over a websocket.
type WSHandler struct {
	emitter  *Emitter
	upgrader websocket.Upgrader
	logger   *log.Logger
	userID   func(c *gin.Context) string
}

// NewWSHandler returns a handler. userID extracts the authenticated user from the request.
func NewWSHandler(emitter *Emitter, userID func(c *gin.Context) string, logger *log.Logger) *WSHandler {
	return &WSHandler{
		emitter:  emitter,
		userID:   userID,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// Handle upgrades the connection and forwards the caller's events.
// Query param events filters by name (comma-separated, empty = all).
func (h *WSHandler) Handle(c *gin.Context) {
	user := h.userID(c)
	if user == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var filter map[string]bool
	if names := c.Query("events"); names != "" {
		filter = make(map[string]bool)
		for _, name := range strings.Split(names, ",") {
			if name = strings.TrimSpace(name); name != "" {
				filter[name] = true
			}
		}
	}

	sendCh := make(chan WSMessage, sendBuffer)
	done := make(chan struct{})

	unsubscribe := h.emitter.Subscribe(func(ev Event) {
		if ev.Owner() != user || (filter != nil && !filter[ev.EventName()]) {
			return
		}
		select {
		case sendCh <- WSMessage{Event: ev.EventName(), Data: eventData(ev), TS: time.Now().UnixMilli()}:
		default:
			h.logger.Printf("Events: dropped %s for %s (buffer full)", ev.EventName(), user)
		}
	})
	defer unsubscribe()

	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func eventData(ev Event) map[string]any {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
