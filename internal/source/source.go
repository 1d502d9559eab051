// Package source defines the boundary to the per-platform readers and the
// contact directory. Implementations live outside this module; the pipeline
// only depends on these interfaces.
package source

import "context"

// RawMessage is one message as the platform reader emits it, already ordered
// by timestamp within its conversation.
type RawMessage struct {
	ID             string `json:"id"`
	SenderHandle   string `json:"sender_handle"`
	IsOwner        bool   `json:"is_owner"`
	Text           string `json:"text"`
	Timestamp      int64  `json:"timestamp"` // unix seconds
	ConversationID string `json:"conversation_id"`
	GroupName      string `json:"group_name,omitempty"`
	IsGroupHint    bool   `json:"is_group_hint,omitempty"`
	HasAttachment  bool   `json:"has_attachment,omitempty"`
	HasImage       bool   `json:"has_image,omitempty"`
}

// MessageSource streams raw messages per conversation.
type MessageSource interface {
	// Conversations lists the conversation ids available in the archive.
	Conversations(ctx context.Context) ([]string, error)
	// Messages returns the time-ordered messages of one conversation.
	Messages(ctx context.Context, conversationID string) ([]RawMessage, error)
}

// NameResolver resolves a raw handle to a display name. Best effort: an
// unknown handle resolves to the raw handle itself, never an error.
type NameResolver interface {
	ResolveDisplayName(handle string) string
}

// NameResolverFunc adapts a function to the NameResolver interface.
type NameResolverFunc func(handle string) string

func (f NameResolverFunc) ResolveDisplayName(handle string) string { return f(handle) }
