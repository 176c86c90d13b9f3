package model

import (
	"fmt"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of persisted chat history. Only user and
// assistant turns are ever stored; synthetic tool/function turns live
// inside one gateway invocation and never reach persistence.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (m Message) Validate() error {
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return fmt.Errorf("role must be either %q or %q, got %q", RoleUser, RoleAssistant, m.Role)
	}
	return nil
}

// UserContext is the full personalization and history record for one user.
// Field names match the stored document schema.
type UserContext struct {
	ChatHistory  []Message `json:"chatHistory"`
	ChatInterest string    `json:"chatInterest,omitempty"`
	UserSummary  string    `json:"userSummary"`
	Birthdate    string    `json:"birthdate,omitempty"`
	Topics       []string  `json:"topics"`
}

// NewUserContext returns a fresh context for a first-time user.
func NewUserContext(interestTopic string) *UserContext {
	return &UserContext{
		ChatHistory:  []Message{},
		ChatInterest: strings.TrimSpace(interestTopic),
		Topics:       []string{},
	}
}

// AppendTurn records one completed request/response cycle.
func (c *UserContext) AppendTurn(userMessage, assistantMessage string) {
	c.ChatHistory = append(c.ChatHistory,
		Message{Role: RoleUser, Content: userMessage},
		Message{Role: RoleAssistant, Content: assistantMessage},
	)
}

// RecentHistory returns up to max of the most recent messages, oldest first.
func (c *UserContext) RecentHistory(max int) []Message {
	if max <= 0 || len(c.ChatHistory) <= max {
		return c.ChatHistory
	}
	return c.ChatHistory[len(c.ChatHistory)-max:]
}
