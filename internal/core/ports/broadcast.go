package ports

import "github.com/reclive/backend/internal/domain"

// Broadcaster fans task messages out to subscribers. Publish may coalesce
// messages; PublishStatus never drops.
type Broadcaster interface {
	Publish(taskID string, msg domain.Message)
	PublishStatus(taskID string, msg domain.Message)
}

// Subscriber is one observer connection. Send and Ping may block; the hub
// calls them from a per-connection writer goroutine only.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
	Ping() error
	Close() error
}

// SubscriptionHub is the connection-facing side of the broadcaster.
type SubscriptionHub interface {
	Register(conn Subscriber)
	Subscribe(conn Subscriber, taskID string)
	Unsubscribe(conn Subscriber, taskID string)
	DropConnection(conn Subscriber)
	MarkAlive(connID string)
}
