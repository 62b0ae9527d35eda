package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/domain"
	"github.com/reclive/backend/internal/infrastructure/logger"
)

// HistorySource supplies the buffered output a new subscriber is shown first,
// along with the sequence number of its last line.
type HistorySource interface {
	HistorySnapshot(taskID string) ([]string, uint64)
}

type BroadcastHubConfig struct {
	History       HistorySource
	Logger        *logger.Logger
	FlushInterval time.Duration
	PingInterval  time.Duration
	SendBuffer    int
}

// BroadcastHub maps subscriber connections to tasks and fans task messages out
// to them. All hub state is owned by the Run goroutine; every public method
// posts a closure to it.
type BroadcastHub struct {
	history       HistorySource
	logger        *logger.Logger
	flushInterval time.Duration
	pingInterval  time.Duration
	sendBuffer    int

	ops     chan func()
	stopped chan struct{}
	writers sync.WaitGroup

	clients     map[string]*hubClient
	subscribers map[string]map[string]*hubClient
	pending     map[string]domain.Message
}

type hubFrame struct {
	ping    bool
	payload []byte
}

type hubClient struct {
	conn   ports.Subscriber
	taskID string
	alive  bool
	send   chan hubFrame
	quit   chan struct{}

	// seen is the last output sequence number covered by the history sent.
	seen uint64
}

func NewBroadcastHub(cfg BroadcastHubConfig) *BroadcastHub {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 50 * time.Millisecond
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &BroadcastHub{
		history:       cfg.History,
		logger:        cfg.Logger,
		flushInterval: cfg.FlushInterval,
		pingInterval:  cfg.PingInterval,
		sendBuffer:    cfg.SendBuffer,
		ops:           make(chan func(), 1024),
		stopped:       make(chan struct{}),
		clients:       make(map[string]*hubClient),
		subscribers:   make(map[string]map[string]*hubClient),
		pending:       make(map[string]domain.Message),
	}
}

// Run owns the hub until ctx is cancelled, then closes every connection.
func (h *BroadcastHub) Run(ctx context.Context) error {
	flush := time.NewTicker(h.flushInterval)
	defer flush.Stop()
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	h.logger.Infow("hub_started", "flush_interval", h.flushInterval, "ping_interval", h.pingInterval)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case fn := <-h.ops:
			fn()
		case <-flush.C:
			h.flush()
		case <-ping.C:
			h.heartbeat()
		}
	}
}

// Register starts tracking a connection before it subscribes to anything so
// liveness checks apply to it.
func (h *BroadcastHub) Register(conn ports.Subscriber) {
	h.call(func() { h.client(conn) })
}

// Subscribe points conn at taskID, replacing any earlier subscription. If the
// task has buffered output it is sent as one history message ahead of any
// live message.
func (h *BroadcastHub) Subscribe(conn ports.Subscriber, taskID string) {
	h.call(func() {
		c := h.client(conn)
		h.detach(c)
		c.taskID = taskID
		subs := h.subscribers[taskID]
		if subs == nil {
			subs = make(map[string]*hubClient)
			h.subscribers[taskID] = subs
		}
		subs[conn.ID()] = c
		c.seen = 0

		if h.history == nil {
			return
		}
		lines, seq := h.history.HistorySnapshot(taskID)
		c.seen = seq
		if len(lines) > 0 {
			h.deliverTo(c, domain.HistoryMessage(taskID, lines))
		}
	})
}

func (h *BroadcastHub) Unsubscribe(conn ports.Subscriber, taskID string) {
	h.call(func() {
		if c := h.clients[conn.ID()]; c != nil && c.taskID == taskID {
			h.detach(c)
		}
	})
}

// DropConnection forgets conn and closes it. Nothing buffered is kept for it.
func (h *BroadcastHub) DropConnection(conn ports.Subscriber) {
	h.call(func() {
		if c := h.clients[conn.ID()]; c != nil {
			h.drop(c)
		}
	})
}

// MarkAlive records a pong from the connection.
func (h *BroadcastHub) MarkAlive(connID string) {
	h.post(func() {
		if c := h.clients[connID]; c != nil {
			c.alive = true
		}
	})
}

// Publish queues msg for the next flush. Only the last message queued for a
// task within one flush interval is delivered.
func (h *BroadcastHub) Publish(taskID string, msg domain.Message) {
	h.post(func() {
		h.pending[taskID] = msg
	})
}

// PublishStatus delivers msg immediately. A pending coalesced message for the
// task goes out first so subscribers see events in publish order.
func (h *BroadcastHub) PublishStatus(taskID string, msg domain.Message) {
	h.post(func() {
		if prev, ok := h.pending[taskID]; ok {
			delete(h.pending, taskID)
			h.deliver(taskID, prev)
		}
		h.deliver(taskID, msg)
	})
}

// Flush delivers pending messages now instead of waiting for the ticker.
func (h *BroadcastHub) Flush() {
	h.call(h.flush)
}

// CheckLiveness runs one heartbeat round now.
func (h *BroadcastHub) CheckLiveness() {
	h.call(h.heartbeat)
}

func (h *BroadcastHub) SubscriberCount(taskID string) int {
	n := 0
	h.call(func() { n = len(h.subscribers[taskID]) })
	return n
}

// ==================== Run goroutine only ====================

func (h *BroadcastHub) client(conn ports.Subscriber) *hubClient {
	if c := h.clients[conn.ID()]; c != nil {
		return c
	}
	c := &hubClient{
		conn:  conn,
		alive: true,
		send:  make(chan hubFrame, h.sendBuffer),
		quit:  make(chan struct{}),
	}
	h.clients[conn.ID()] = c
	h.writers.Add(1)
	go h.writeLoop(c)
	h.logger.Debugw("hub_client_registered", "conn_id", conn.ID())
	return c
}

func (h *BroadcastHub) detach(c *hubClient) {
	if c.taskID == "" {
		return
	}
	if subs := h.subscribers[c.taskID]; subs != nil {
		delete(subs, c.conn.ID())
		if len(subs) == 0 {
			delete(h.subscribers, c.taskID)
		}
	}
	c.taskID = ""
}

func (h *BroadcastHub) drop(c *hubClient) {
	id := c.conn.ID()
	if h.clients[id] != c {
		return
	}
	h.detach(c)
	delete(h.clients, id)
	close(c.quit)
	if err := c.conn.Close(); err != nil {
		h.logger.Debugw("hub_client_close_failed", "conn_id", id, "error", err)
	}
	h.logger.Infow("hub_client_dropped", "conn_id", id)
}

func (h *BroadcastHub) flush() {
	if len(h.pending) == 0 {
		return
	}
	pending := h.pending
	h.pending = make(map[string]domain.Message)
	for taskID, msg := range pending {
		h.deliver(taskID, msg)
	}
}

func (h *BroadcastHub) deliver(taskID string, msg domain.Message) {
	subs := h.subscribers[taskID]
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("hub_encode_failed", "task_id", taskID, "type", msg.Type, "error", err)
		return
	}
	for _, c := range subs {
		if msg.Seq != 0 && msg.Seq <= c.seen {
			continue
		}
		h.enqueue(c, hubFrame{payload: payload})
	}
}

func (h *BroadcastHub) deliverTo(c *hubClient, msg domain.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("hub_encode_failed", "task_id", msg.TaskID, "type", msg.Type, "error", err)
		return
	}
	h.enqueue(c, hubFrame{payload: payload})
}

// enqueue never blocks; a client that cannot keep up is dropped.
func (h *BroadcastHub) enqueue(c *hubClient, f hubFrame) {
	select {
	case c.send <- f:
	default:
		h.logger.Warnw("hub_client_slow", "conn_id", c.conn.ID())
		h.drop(c)
	}
}

// heartbeat closes connections that did not answer the previous ping and
// pings the rest.
func (h *BroadcastHub) heartbeat() {
	for _, c := range h.clients {
		if !c.alive {
			h.logger.Infow("hub_client_unresponsive", "conn_id", c.conn.ID())
			h.drop(c)
			continue
		}
		c.alive = false
		h.enqueue(c, hubFrame{ping: true})
	}
}

func (h *BroadcastHub) shutdown() {
	for _, c := range h.clients {
		h.drop(c)
	}
	h.pending = make(map[string]domain.Message)
	close(h.stopped)
	h.writers.Wait()
	h.logger.Infow("hub_stopped")
}

// ==================== plumbing ====================

func (h *BroadcastHub) writeLoop(c *hubClient) {
	defer h.writers.Done()
	for {
		select {
		case <-c.quit:
			return
		case f := <-c.send:
			var err error
			if f.ping {
				err = c.conn.Ping()
			} else {
				err = c.conn.Send(f.payload)
			}
			if err != nil {
				h.logger.Debugw("hub_write_failed", "conn_id", c.conn.ID(), "error", err)
				h.post(func() { h.drop(c) })
				return
			}
		}
	}
}

// post hands fn to the Run goroutine without waiting for it.
func (h *BroadcastHub) post(fn func()) {
	select {
	case h.ops <- fn:
	case <-h.stopped:
	}
}

// call hands fn to the Run goroutine and waits until it ran.
func (h *BroadcastHub) call(fn func()) bool {
	done := make(chan struct{})
	select {
	case h.ops <- func() { fn(); close(done) }:
	case <-h.stopped:
		return false
	}
	select {
	case <-done:
		return true
	case <-h.stopped:
		return false
	}
}
