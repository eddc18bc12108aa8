package models

import (
	"strings"
	"time"
)

// Command is the raw line a user asked quill to act on.
type Command struct {
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

func NewCommand(text string) Command {
	return Command{
		Text:       strings.TrimSpace(text),
		ReceivedAt: time.Now(),
	}
}
