package domain

type MessageType string

const (
	MessageHistory  MessageType = "history"
	MessageOutput   MessageType = "output"
	MessageStatus   MessageType = "status"
	MessageFileSize MessageType = "filesize"
)

// Message is what subscribers of a task receive. Every message carries the
// owning task id; which other fields are set depends on Type.
type Message struct {
	Type       MessageType `json:"type"`
	TaskID     string      `json:"taskId"`
	Data       string      `json:"data,omitempty"`
	Lines      []string    `json:"lines,omitempty"`
	Status     TaskStatus  `json:"status,omitempty"`
	FileSize   int64       `json:"fileSize,omitempty"`
	OutputFile string      `json:"outputFile,omitempty"`

	// Seq orders output lines of one task. It is never sent.
	Seq uint64 `json:"-"`
}

func HistoryMessage(taskID string, lines []string) Message {
	return Message{Type: MessageHistory, TaskID: taskID, Lines: lines}
}

func OutputMessage(taskID, line string, fileSize int64) Message {
	return Message{Type: MessageOutput, TaskID: taskID, Data: line, FileSize: fileSize}
}

// SequencedOutputMessage is OutputMessage for the line with sequence number seq.
func SequencedOutputMessage(taskID, line string, fileSize int64, seq uint64) Message {
	msg := OutputMessage(taskID, line, fileSize)
	msg.Seq = seq
	return msg
}

func StatusMessage(taskID string, status TaskStatus, outputFile string, fileSize int64) Message {
	return Message{Type: MessageStatus, TaskID: taskID, Status: status, OutputFile: outputFile, FileSize: fileSize}
}

func FileSizeMessage(taskID string, fileSize int64, outputFile string) Message {
	return Message{Type: MessageFileSize, TaskID: taskID, FileSize: fileSize, OutputFile: outputFile}
}
