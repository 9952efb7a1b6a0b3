// Package status 通过 WebSocket 推送会话状态与解封倒计时。
package status

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/handler/common"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// DefaultInterval 是状态推送周期。
const DefaultInterval = time.Second

// WebSocketHandler WebSocket状态推送处理器
type WebSocketHandler struct {
	chatSvc  *chatservice.Service
	interval time.Duration
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器；checkOrigin 为 nil 时允许任意来源。
func NewWebSocketHandler(chatSvc *chatservice.Service, interval time.Duration, checkOrigin func(*http.Request) bool) *WebSocketHandler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WebSocketHandler{
		chatSvc:  chatSvc,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{deviceID}/ws", h.handleWebSocket)
}

// Update 是推送给客户端的一帧状态。
type Update struct {
	Type              string          `json:"type"`
	DeviceID          string          `json:"deviceId"`
	Status            chat.UserStatus `json:"status"`
	SuspensionEndTime int64           `json:"suspensionEndTime,omitempty"`
	Countdown         string          `json:"countdown,omitempty"`
	Title             string          `json:"title,omitempty"`
	Body              string          `json:"body,omitempty"`
	TranslatingID     string          `json:"translatingId,omitempty"`
	SynthesizingID    string          `json:"synthesizingId,omitempty"`
	Timestamp         int64           `json:"timestamp"`
}

// BuildUpdate 根据快照生成推送帧。
func BuildUpdate(deviceID string, snap chat.Snapshot, now time.Time) Update {
	u := Update{
		Type:              "status",
		DeviceID:          deviceID,
		Status:            snap.Status,
		SuspensionEndTime: snap.SuspensionEndTime,
		TranslatingID:     snap.TranslatingID,
		SynthesizingID:    snap.SynthesizingID,
		Timestamp:         now.UnixMilli(),
	}
	if snap.Status == chat.StatusSuspended {
		u.Countdown = snap.Countdown
		u.Title = chat.SuspendedTitle
		u.Body = chat.SuspendedBody
	}
	return u
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := common.Session(w, r, h.chatSvc)
	if !ok {
		return
	}
	deviceID := common.DeviceID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] new connection for device: %s", deviceID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 客户端只发控制帧；读循环负责处理 pong 与关闭
	go h.readLoop(conn, cancel)

	h.pushLoop(ctx, conn, deviceID, sess)
	log.Printf("[ws] connection closed for device: %s", deviceID)
}

func (h *WebSocketHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}
	}
}

func (h *WebSocketHandler) pushLoop(ctx context.Context, conn *websocket.Conn, deviceID string, sess *chatservice.Session) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()

	var last Update
	send := func(force bool) bool {
		u := BuildUpdate(deviceID, sess.Snapshot(ctx), time.Now())
		if !force && u.Status == last.Status && u.Countdown == last.Countdown &&
			u.TranslatingID == last.TranslatingID && u.SynthesizingID == last.SynthesizingID {
			return true
		}
		last = u
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(u); err != nil {
			log.Printf("[ws] write failed for device=%s: %v", deviceID, err)
			return false
		}
		return true
	}

	if !send(true) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if !send(false) {
				return
			}
		case <-pinger.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
