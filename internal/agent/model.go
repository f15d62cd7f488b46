package agent

import (
	"context"
	"encoding/json"
)

// Message roles exchanged with the chat model.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single turn in a model conversation.
type Message struct {
	Role    string
	Content string

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []ToolCall

	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string
}

// ToolCall is a tool invocation proposed by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolSpec describes a callable tool to the model. Parameters is a JSON
// Schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ChatModel produces the next assistant message for a conversation.
type ChatModel interface {
	Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error)
}
