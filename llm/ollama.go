package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/memory-agent/core"
	"github.com/becomeliminal/memory-agent/tools"
)

// OllamaClient is a client for the Ollama chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // Large models with tools need time
		},
	}
}

// OllamaFactory returns a Factory sharing one client across model names.
func OllamaFactory(client *OllamaClient) Factory {
	return func(name string) (ChatModel, error) {
		return &OllamaModel{client: client, model: name}, nil
	}
}

// OllamaModel binds an Ollama client to one model.
type OllamaModel struct {
	client *OllamaClient
	model  string
}

// ollamaMessage is the wire format of a chat message.
type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"` // Ollama returns an object, not a string
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// Invoke sends a non-streaming chat request. Ollama does not assign tool
// call IDs, so one is generated per call for result correlation.
func (m *OllamaModel) Invoke(ctx context.Context, messages []core.Message, available []tools.Definition) (core.Message, error) {
	req := ollamaChatRequest{
		Model:    m.model,
		Messages: toOllamaMessages(messages),
		Tools:    toOllamaTools(available),
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return core.Message{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.client.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return core.Message{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.httpClient.Do(httpReq)
	if err != nil {
		return core.Message{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return core.Message{}, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return core.Message{}, fmt.Errorf("decode response: %w", err)
	}

	out := core.Message{Role: core.RoleAssistant, Content: chatResp.Message.Content}
	for _, tc := range chatResp.Message.ToolCalls {
		args, err := json.Marshal(tc.Function.Arguments)
		if err != nil {
			return core.Message{}, fmt.Errorf("marshal tool arguments for %s: %w", tc.Function.Name, err)
		}
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	log.Printf("[OLLAMA] %s: %d prompt / %d eval tokens, %d tool calls",
		m.model, chatResp.PromptEvalCount, chatResp.EvalCount, len(out.ToolCalls))
	return out, nil
}

func toOllamaMessages(messages []core.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		om := ollamaMessage{Role: string(msg.Role), Content: msg.Content}
		for _, call := range msg.ToolCalls {
			var tc ollamaToolCall
			tc.Function.Name = call.Name
			if len(call.Arguments) > 0 {
				_ = json.Unmarshal(call.Arguments, &tc.Function.Arguments)
			}
			om.ToolCalls = append(om.ToolCalls, tc)
		}
		out = append(out, om)
	}
	return out
}

func toOllamaTools(defs []tools.Definition) []map[string]any {
	if len(defs) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters(),
			},
		})
	}
	return out
}
