package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/core/services"
	"github.com/reclive/backend/internal/infrastructure/logger"
	"github.com/reclive/backend/internal/transport/http/dto"
	httpmw "github.com/reclive/backend/internal/transport/http/middleware"
)

const wsWriteTimeout = 10 * time.Second

// WSHandler serves the live task stream. Clients send subscribe, unsubscribe
// and input frames; everything the hub publishes is written back as JSON.
type WSHandler struct {
	hub      ports.SubscriptionHub
	recorder ports.RecordingService
	logger   *logger.Logger
}

func NewWSHandler(hub ports.SubscriptionHub, recorder ports.RecordingService, logger *logger.Logger) *WSHandler {
	return &WSHandler{hub: hub, recorder: recorder, logger: logger}
}

// wsSubscriber adapts a websocket connection to ports.Subscriber. Writes are
// serialized because both the hub writer and the read loop reply on it.
type wsSubscriber struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSubscriber) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}

func (h *WSHandler) Handle(c *websocket.Conn) {
	username, _ := c.Locals(httpmw.UsernameLocal).(string)
	sub := &wsSubscriber{id: uuid.NewString(), conn: c}

	c.SetPongHandler(func(string) error {
		h.hub.MarkAlive(sub.id)
		return nil
	})

	h.hub.Register(sub)
	defer h.hub.DropConnection(sub)
	h.logger.Infow("ws_connected", "conn_id", sub.id, "username", username)

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debugw("ws_read_failed", "conn_id", sub.id, "error", err)
			}
			break
		}
		// any inbound traffic proves the peer is alive
		h.hub.MarkAlive(sub.id)

		var frame dto.WSClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.reply(sub, dto.WSErrorFrame{Type: "error", Error: "invalid frame"})
			continue
		}
		h.handleFrame(sub, username, frame)
	}

	h.logger.Infow("ws_disconnected", "conn_id", sub.id)
}

func (h *WSHandler) handleFrame(sub *wsSubscriber, username string, frame dto.WSClientFrame) {
	switch frame.Action {
	case dto.WSActionSubscribe:
		if !h.owns(username, frame.TaskID) {
			h.reply(sub, dto.WSErrorFrame{Type: "error", TaskID: frame.TaskID, Error: "task not found"})
			return
		}
		h.hub.Subscribe(sub, frame.TaskID)
		h.logger.Debugw("ws_subscribed", "conn_id", sub.id, "task_id", frame.TaskID)
	case dto.WSActionUnsubscribe:
		h.hub.Unsubscribe(sub, frame.TaskID)
	case dto.WSActionInput:
		if !h.owns(username, frame.TaskID) {
			h.reply(sub, dto.WSErrorFrame{Type: "error", TaskID: frame.TaskID, Error: "task not found"})
			return
		}
		h.recorder.SendInput(frame.TaskID, frame.Data)
	default:
		h.reply(sub, dto.WSErrorFrame{Type: "error", TaskID: frame.TaskID, Error: "unknown action"})
	}
}

func (h *WSHandler) owns(username, taskID string) bool {
	if taskID == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := h.recorder.GetTask(ctx, taskID)
	if err != nil {
		if !errors.Is(err, services.ErrTaskNotFound) {
			h.logger.Warnw("ws_task_lookup_failed", "task_id", taskID, "error", err)
		}
		return false
	}
	return task.Username == username
}

func (h *WSHandler) reply(sub *wsSubscriber, frame dto.WSErrorFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := sub.Send(payload); err != nil {
		h.logger.Debugw("ws_reply_failed", "conn_id", sub.id, "error", err)
	}
}
