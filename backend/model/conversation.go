package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

var ErrInvalidConversation = errors.New("invalid conversation")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type ContentBlockType string

const (
	ContentBlockTypeText ContentBlockType = "text"
)

type ContentBlock struct {
	Type ContentBlockType `json:"type"`
	Text string           `json:"text"`
}

func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentBlockTypeText, Text: text}
}

type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	var text string
	for _, block := range m.Content {
		if block.Type == ContentBlockTypeText {
			text += block.Text
		}
	}
	return text
}

// Conversation is an append-only message history. Once handed to the engine
// it is treated as read-only.
type Conversation struct {
	Messages []Message `json:"messages"`
}

func NewConversation(role Role, text string) Conversation {
	var c Conversation
	c.AddMessage(role, text)
	return c
}

func (c *Conversation) AddMessage(role Role, text string) {
	c.Messages = append(c.Messages, Message{
		Role:    role,
		Content: []ContentBlock{NewTextBlock(text)},
	})
}

// Clone returns a deep copy so providers can reshape messages without
// touching the caller's conversation.
func (c Conversation) Clone() Conversation {
	messages := make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		messages[i] = Message{Role: m.Role, Content: slices.Clone(m.Content)}
	}
	return Conversation{Messages: messages}
}

func (c Conversation) Validate() error {
	if len(c.Messages) == 0 {
		return fmt.Errorf("%w: at least one message is required", ErrInvalidConversation)
	}

	for i, m := range c.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidConversation, i, m.Role)
		}
		if len(m.Content) == 0 {
			return fmt.Errorf("%w: message %d has no content", ErrInvalidConversation, i)
		}
		for j, block := range m.Content {
			if block.Type != ContentBlockTypeText {
				return fmt.Errorf("%w: message %d block %d has unsupported type %q", ErrInvalidConversation, i, j, block.Type)
			}
		}
	}

	return nil
}

// Completion is an opaque provider response, kept as the exact bytes the
// provider returned. A nil *Completion marks a failed request.
type Completion struct {
	Body json.RawMessage
}

func NewCompletion(body []byte) *Completion {
	return &Completion{Body: slices.Clone(body)}
}

func (c *Completion) Decode(v any) error {
	if c == nil {
		return errors.New("nil completion")
	}
	return json.Unmarshal(c.Body, v)
}

func (c *Completion) MarshalJSON() ([]byte, error) {
	if c == nil || len(c.Body) == 0 {
		return []byte("null"), nil
	}
	return c.Body, nil
}

func (c *Completion) UnmarshalJSON(data []byte) error {
	c.Body = slices.Clone(data)
	return nil
}
