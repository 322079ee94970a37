package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/becomeliminal/memory-agent/core"
	"github.com/becomeliminal/memory-agent/tools"
)

// AnthropicModel calls the Anthropic Messages API.
type AnthropicModel struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicClient returns a client. Without WithAPIKey the SDK reads
// ANTHROPIC_API_KEY from the environment.
func NewAnthropicClient(opts ...option.RequestOption) *anthropic.Client {
	c := anthropic.NewClient(opts...)
	return &c
}

// NewAnthropicModel creates a model bound to one Anthropic model name.
func NewAnthropicModel(client *anthropic.Client, model string, maxTokens int64) *AnthropicModel {
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &AnthropicModel{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}
}

// AnthropicFactory returns a Factory sharing one client across model names.
func AnthropicFactory(client *anthropic.Client, maxTokens int64) Factory {
	return func(name string) (ChatModel, error) {
		return NewAnthropicModel(client, name, maxTokens), nil
	}
}

// Invoke sends the conversation to Claude.
func (m *AnthropicModel) Invoke(ctx context.Context, messages []core.Message, available []tools.Definition) (core.Message, error) {
	system, params := toAnthropicMessages(messages)

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: m.maxTokens,
		Messages:  params,
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(available) > 0 {
		req.Tools = toAnthropicTools(available)
	}

	resp, err := m.client.Messages.New(ctx, req)
	if err != nil {
		return core.Message{}, fmt.Errorf("claude API error: %w", err)
	}

	out := core.Message{Role: core.RoleAssistant}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			})
		}
	}
	out.Content = text.String()

	log.Printf("[ANTHROPIC] %s: %d input / %d output tokens, %d tool calls",
		m.model, resp.Usage.InputTokens, resp.Usage.OutputTokens, len(out.ToolCalls))
	return out, nil
}

// unansweredToolResult answers a tool call that has no tool message, which
// happens when a failed turn was checkpointed before its results were stored.
const unansweredToolResult = "not executed"

// toAnthropicMessages splits out system text and converts the rest.
// Consecutive tool results are merged into one user message because the API
// expects every tool_result for an assistant turn in the following message.
// Calls left unanswered get an error tool_result before the next message.
func toAnthropicMessages(messages []core.Message) (string, []anthropic.MessageParam) {
	var (
		system  []string
		out     []anthropic.MessageParam
		results []anthropic.ContentBlockParamUnion
		pending []string
	)

	closePending := func() {
		for _, id := range pending {
			results = append(results, anthropic.NewToolResultBlock(id, unansweredToolResult, true))
		}
		pending = nil
	}
	flush := func() {
		closePending()
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			system = append(system, msg.Content)

		case core.RoleTool:
			pending = slices.DeleteFunc(pending, func(id string) bool { return id == msg.ToolCallID })
			results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))

		case core.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var input any = map[string]any{}
				if len(call.Arguments) > 0 {
					input = call.Arguments
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
				pending = append(pending, call.ID)
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		default:
			// A user message right after tool calls shares their results'
			// message so roles keep alternating.
			closePending()
			results = append(results, anthropic.NewTextBlock(msg.Content))
			flush()
		}
	}
	flush()

	return strings.Join(system, "\n\n"), out
}

func toAnthropicTools(defs []tools.Definition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := anthropic.ToolInputSchemaParam{}
		if d.InputSchema != nil {
			schema.Properties = d.InputSchema.Properties
			schema.Required = d.InputSchema.Required
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: schema,
		}})
	}
	return out
}
