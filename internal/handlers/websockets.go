package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12 // 4 KB
)

// Envelope used for WebSocket messages.
type wsEnvelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsToken takes the session from the Authorization header, falling back to
// ?token= since browsers cannot set headers on the upgrade request.
func wsToken(c *gin.Context) string {
	if tok, ok := bearerToken(c.GetHeader("Authorization")); ok {
		return tok
	}
	return c.Query("token")
}

// @Summary      Live stream
// @Description  WebSocket upgrade. Pushes {"type":"live","data":{status,samples}} on connect and then periodically.
// @Tags         live
// @Param        token  query  string  false  "session token when no Authorization header is sent"
// @Success      101  {string}  string  "switching protocols"
// @Failure      401  {object}  map[string]string
// @Router       /ws [get]
func (h *Handler) wsConnect(c *gin.Context) {
	tok := wsToken(c)
	if tok == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session token"})
		return
	}
	email, err := h.services.ParseSession(tok)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	connID := uuid.NewString()
	if h.log != nil {
		h.log.Infow("ws_connected", "conn", connID, "email", email)
	}

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go h.startReader(conn, connID, done)

	ticker := time.NewTicker(h.pushInterval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ping.Stop()
	}()

	if err := h.sendLive(conn); err != nil {
		if h.log != nil {
			h.log.Infow("ws_write_failed_initial", "conn", connID, "err", err)
		}
		return
	}

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if h.log != nil {
					h.log.Infow("ws_ping_failed", "conn", connID, "err", err)
				}
				return
			}
		case <-ticker.C:
			if err := h.sendLive(conn); err != nil {
				if h.log != nil {
					h.log.Infow("ws_write_failed", "conn", connID, "err", err)
				}
				return
			}
		}
	}
}

// startReader drains incoming messages to handle control frames and detect closure.
func (h *Handler) startReader(conn *websocket.Conn, connID string, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if h.log != nil {
				h.log.Infow("ws_read_closed", "conn", connID, "err", err)
			}
			return
		}
	}
}

func (h *Handler) sendLive(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(wsEnvelope{Type: "live", Data: h.liveView()})
}
