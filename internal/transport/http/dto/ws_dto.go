package dto

const (
	WSActionSubscribe   = "subscribe"
	WSActionUnsubscribe = "unsubscribe"
	WSActionInput       = "input"
)

// WSClientFrame is what browsers send over /ws.
type WSClientFrame struct {
	Action string `json:"action"`
	TaskID string `json:"taskId"`
	Data   string `json:"data,omitempty"`
}

type WSErrorFrame struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId,omitempty"`
	Error  string `json:"error"`
}
