// Package llm is a provider-neutral chat completion client with tool calling.
package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/config"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model request to invoke a tool. Arguments is the raw JSON
// text the model produced; callers decode it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is one conversation entry. ToolCalls is only set on assistant
// messages and ToolCallID only on tool messages.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	// IsError marks a tool result that reports a failed call.
	IsError bool
}

func System(content string) Message { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message   { return Message{Role: RoleUser, Content: content} }

// ToolResult answers the tool call with the given id.
func ToolResult(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// ToolError answers the tool call with the given id with a failure.
func ToolError(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, IsError: true}
}

// Tool is a function offered to the model. Parameters is a JSON schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type Request struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	Temperature *float64
	MaxTokens   int
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

type Response struct {
	Message    Message
	StopReason string
	Usage      Usage
}

// Client sends one completion round-trip.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Temperature returns a pointer for Request.Temperature.
func Temperature(t float64) *float64 { return &t }

// New builds the client for the configured provider.
func New(cfg config.ProviderConfig, logger *zap.Logger) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("provider api key is required")
	}
	switch cfg.Type {
	case config.ProviderAnthropic:
		return NewAnthropic(cfg, logger), nil
	case config.ProviderOpenAI, "":
		return NewOpenAI(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Type)
	}
}
