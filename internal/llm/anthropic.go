package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/config"
	"github.com/stellarlinkco/factubot/internal/logging"
)

const anthropicDefaultMaxTokens = 1024

type messagesAPI interface {
	New(ctx context.Context, body anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// Anthropic implements Client over the Messages API.
type Anthropic struct {
	msgs   messagesAPI
	logger *zap.Logger
}

func NewAnthropic(cfg config.ProviderConfig, logger *zap.Logger, extra ...option.RequestOption) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)
	client := anthropicsdk.NewClient(opts...)
	return &Anthropic{
		msgs:   &client.Messages,
		logger: logging.OrNop(logger).Named("anthropic"),
	}
}

func (c *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	system, messages := toAnthropicMessages(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := toAnthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	msg, err := c.msgs.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	out := Message{Role: RoleAssistant}
	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			args := strings.TrimSpace(string(block.Input))
			if args == "" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		case "text":
			text = append(text, block.Text)
		}
	}
	out.Content = strings.Join(text, "")

	resp := &Response{
		Message:    out,
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	c.logger.Debug("completion",
		zap.String("model", req.Model),
		zap.String("stop_reason", resp.StopReason),
		zap.Int("tool_calls", len(out.ToolCalls)),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

// toAnthropicMessages lifts system messages into the system prompt and folds
// consecutive tool results into a single user turn.
func toAnthropicMessages(msgs []Message) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam) {
	var system []anthropicsdk.TextBlockParam
	out := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, anthropicsdk.TextBlockParam{Text: s})
			}
		case RoleAssistant:
			out = append(out, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleAssistant,
				Content: assistantBlocks(m),
			})
		case RoleTool:
			block := anthropicsdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)
			if n := len(out); n > 0 && out[n-1].Role == anthropicsdk.MessageParamRoleUser && isToolResults(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{block},
			})
		default:
			text := m.Content
			if strings.TrimSpace(text) == "" {
				text = "."
			}
			out = append(out, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(text)},
			})
		}
	}
	return system, out
}

func isToolResults(m anthropicsdk.MessageParam) bool {
	for _, block := range m.Content {
		if block.OfToolResult == nil {
			return false
		}
	}
	return len(m.Content) > 0
}

func assistantBlocks(m Message) []anthropicsdk.ContentBlockParamUnion {
	blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
	if strings.TrimSpace(m.Content) != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(m.Content))
	}
	for _, call := range m.ToolCalls {
		var input any = map[string]any{}
		if call.Arguments != "" {
			var decoded map[string]any
			if err := json.Unmarshal([]byte(call.Arguments), &decoded); err == nil && decoded != nil {
				input = decoded
			}
		}
		blocks = append(blocks, anthropicsdk.NewToolUseBlock(call.ID, input, call.Name))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropicsdk.NewTextBlock("."))
	}
	return blocks
}

func toAnthropicTools(tools []Tool) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema, err := encodeSchema(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
		}
		tool := anthropicsdk.ToolParam{Name: t.Name, InputSchema: schema}
		if t.Description != "" {
			tool.Description = anthropicsdk.String(t.Description)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

func encodeSchema(raw map[string]any) (anthropicsdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return anthropicsdk.ToolInputSchemaParam{Type: "object"}, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	var schema anthropicsdk.ToolInputSchemaParam
	if err := json.Unmarshal(data, &schema); err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}
