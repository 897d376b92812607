package queue

import (
	"encoding/json"
	"time"
)

// CurrentVersion is the message schema version written by Send.
const CurrentVersion = 1

// Message asks a worker to run one analysis process.
type Message struct {
	ProcessID  string `json:"processId"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// NewMessage stamps a message for processID with the current time and version.
func NewMessage(processID, requestID string, now time.Time) Message {
	return Message{
		ProcessID:  processID,
		RequestID:  requestID,
		EnqueuedAt: now.UTC().Format(time.RFC3339),
		Version:    CurrentVersion,
	}
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
