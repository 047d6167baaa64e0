package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	maxRetries          = 3
	initialBackoff      = 2 * time.Second
	defaultTimeout      = 120 * time.Second
)

// AnthropicClient is a minimal, retrying client for the Anthropic Messages
// API, grounded on internal/ai/providers/anthropic.go's structure.
type AnthropicClient struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// NewAnthropicClient builds a client for the given model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: anthropicAPIURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicToolUseBlock struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	Messages  []anthropicMessage  `json:"messages"`
	System    string              `json:"system,omitempty"`
	MaxTokens int                 `json:"max_tokens"`
	Tools     []anthropicTool     `json:"tools,omitempty"`
}

type anthropicResponseContent struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicResponseContent `json:"content"`
	StopReason string                     `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func toAnthropicMessages(messages []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		var content []any
		switch {
		case len(m.ToolResults) > 0:
			for _, tr := range m.ToolResults {
				content = append(content, anthropicToolResultBlock{
					Type:      "tool_result",
					ToolUseID: tr.ToolUseID,
					Content:   tr.Content,
					IsError:   tr.IsError,
				})
			}
		case len(m.ToolCalls) > 0:
			if m.Text != "" {
				content = append(content, anthropicTextBlock{Type: "text", Text: m.Text})
			}
			for _, tc := range m.ToolCalls {
				content = append(content, anthropicToolUseBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Input})
			}
		default:
			content = append(content, anthropicTextBlock{Type: "text", Text: m.Text})
		}
		out = append(out, anthropicMessage{Role: string(m.Role), Content: content})
	}
	return out
}

// Chat sends one round-trip request, retrying any failed attempt (transport
// error, non-200 status, or API error body) with exponential backoff, up to
// maxRetries attempts in total, matching the teacher's retry shape.
func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	tools := make([]anthropicTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	payload := anthropicRequest{
		Model:     c.model,
		Messages:  toAnthropicMessages(req.Messages),
		System:    req.System,
		MaxTokens: maxTokens,
		Tools:     tools,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshaling anthropic request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * initialBackoff
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ChatResponse{}, ctx.Err()
			}
		}

		resp, err := c.doOnce(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("anthropic: chat request failed, retrying")
	}

	return ChatResponse{}, fmt.Errorf("anthropic: exhausted retries: %w", lastErr)
}

func (c *AnthropicClient) doOnce(ctx context.Context, body []byte) (ChatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return ChatResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatResponse{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return ChatResponse{}, fmt.Errorf("anthropic API %d: %s", resp.StatusCode, string(raw))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ChatResponse{}, fmt.Errorf("parsing anthropic response: %w", err)
	}
	if parsed.Error != nil {
		return ChatResponse{}, fmt.Errorf("anthropic API error: %s", parsed.Error.Message)
	}

	out := ChatResponse{StopReason: parsed.StopReason}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}
	return out, nil
}

var _ Provider = (*AnthropicClient)(nil)
