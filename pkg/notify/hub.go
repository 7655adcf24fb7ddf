// Package notify рассылает события звонков подключенным WebSocket клиентам.
// Рассылка не блокирует отправителя: медленный клиент отключается.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
)

// Типы событий
const (
	EventCallStatus    = "call_status"
	EventNewMessage    = "new_message"
	EventTranscription = "transcription"
	EventSIPStatus     = "sip_status"
)

// Статусы звонка
const (
	StatusRinging   = "ringing"
	StatusConnected = "connected"
	StatusEnded     = "ended"
	StatusIdle      = "idle"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
)

// Event конверт события
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// CallStatusData данные call_status
type CallStatusData struct {
	Status   string `json:"status"`
	CallID   string `json:"call_id,omitempty"`
	CallerID string `json:"caller_id,omitempty"`
}

// MessageData данные new_message
type MessageData struct {
	CallID  string `json:"call_id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// TranscriptionData данные transcription
type TranscriptionData struct {
	CallID  string `json:"call_id"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// SIPStatusData данные sip_status
type SIPStatusData struct {
	Running bool           `json:"running"`
	Details map[string]any `json:"details,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub реестр клиентов и рассылка
type Hub struct {
	upgrader websocket.Upgrader
	logger   logrus.FieldLogger
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub создает хаб
func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// панель управления открывается с другого порта
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		now:     time.Now,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP переводит запрос в WebSocket и регистрирует клиента
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("Ошибка upgrade WebSocket")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{"remote": r.RemoteAddr, "clients": total}).Info("WebSocket клиент подключен")

	go h.writePump(c)
	h.readPump(c)
}

// readPump читает до ошибки, входящие сообщения игнорируются
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("WebSocket закрыт неожиданно")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// unregister канал закрывается под блокировкой, Broadcast не пишет в закрытый канал
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// Broadcast отправляет событие всем клиентам
func (h *Hub) Broadcast(eventType string, data any) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data, Timestamp: h.now().UTC()})
	if err != nil {
		h.logger.WithError(err).WithField("event", eventType).Error("Ошибка сериализации события")
		return
	}

	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("WebSocket клиент не успевает, отключаем")
		h.unregister(c)
	}
}

// CallStatus событие call_status
func (h *Hub) CallStatus(status, callID, callerID string) {
	h.Broadcast(EventCallStatus, CallStatusData{Status: status, CallID: callID, CallerID: callerID})
}

// NewMessage событие new_message
func (h *Hub) NewMessage(callID string, role pipeline.Role, content, model string) {
	h.Broadcast(EventNewMessage, MessageData{CallID: callID, Role: string(role), Content: content, Model: model})
}

// Transcription событие transcription с окончательным текстом
func (h *Hub) Transcription(callID, text string) {
	h.Broadcast(EventTranscription, TranscriptionData{CallID: callID, Text: text, IsFinal: true})
}

// SIPStatus событие sip_status
func (h *Hub) SIPStatus(running bool, details map[string]any) {
	h.Broadcast(EventSIPStatus, SIPStatusData{Running: running, Details: details})
}

// Clients количество подключенных клиентов
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close отключает всех клиентов и перестает принимать новых
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		c.close()
	}
	h.clients = make(map[*client]struct{})
}
