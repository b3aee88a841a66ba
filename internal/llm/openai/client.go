package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/agentichat/agentichat/internal/agenterr"
	"github.com/agentichat/agentichat/internal/llm"
	openailib "github.com/sashabaranov/go-openai"
)

// Client implements llm.Backend using the OpenAI-compatible protocol. Works
// with any endpoint that supports the OpenAI chat completions API.
type Client struct {
	client     *openailib.Client
	config     *Config
	httpClient *http.Client
}

// GetConfig returns the client's configuration.
func (c *Client) GetConfig() *Config {
	return c.config
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, agenterr.New(agenterr.Unknown, "config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	clientConfig := openailib.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	// Prevent indefinite hangs when the API is unresponsive. Configurable
	// via LLM_HTTP_TIMEOUT (seconds); default 300s to accommodate slow
	// reasoning models.
	httpTimeout := time.Duration(config.HTTPTimeout) * time.Second
	clientConfig.HTTPClient = &http.Client{Timeout: httpTimeout}

	return &Client{
		client:     openailib.NewClientWithConfig(clientConfig),
		config:     config,
		httpClient: clientConfig.HTTPClient,
	}, nil
}

// NewClientFromEnv creates a client using environment variables.
func NewClientFromEnv() (*Client, error) {
	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	return NewClient(config)
}

func (c *Client) retryPolicy() llm.RetryPolicy {
	return llm.RetryPolicy{MaxRetries: c.config.MaxRetries, BaseDelay: llm.DefaultRetryPolicy.BaseDelay}
}

func toOpenAIMessages(messages []llm.Message) []openailib.ChatCompletionMessage {
	out := make([]openailib.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		out[i] = openailib.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == llm.RoleTool && msg.ToolCallID != "" {
			out[i].ToolCallID = msg.ToolCallID
			if msg.Name != "" {
				out[i].Name = msg.Name
			}
		}
		if msg.Role == llm.RoleAssistant && len(msg.ToolCalls) > 0 {
			tcs := make([]openailib.ToolCall, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				tcs[j] = openailib.ToolCall{
					ID:   tc.ID,
					Type: openailib.ToolTypeFunction,
					Function: openailib.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
			out[i].ToolCalls = tcs
		}
	}
	return out
}

// toFinishReason maps the go-openai SDK's wire finish-reason string into the
// llm.FinishReason enum. Unrecognized or empty values (some proxies omit the
// field entirely) fall back to FinishStop rather than leaving it blank, since
// callers branch on it to decide whether a response was truncated.
func toFinishReason(s string) llm.FinishReason {
	switch llm.FinishReason(s) {
	case llm.FinishLength:
		return llm.FinishLength
	case llm.FinishToolCalls:
		return llm.FinishToolCalls
	default:
		return llm.FinishStop
	}
}

func toUsage(u openailib.Usage) llm.Usage {
	return llm.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// classifyCompletionErr maps an error from the go-openai client into the
// taxonomy so the retry loop and callers can branch on Kind instead of
// string-matching transport errors.
func classifyCompletionErr(err error) error {
	var apiErr *openailib.APIError
	if errors.As(err, &apiErr) {
		return llm.ClassifyHTTPError(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openailib.RequestError
	if errors.As(err, &reqErr) {
		return llm.ClassifyHTTPError(reqErr.HTTPStatusCode, err)
	}
	return agenterr.Wrap(agenterr.Timeout, err, "request failed")
}

// CallLLM sends messages to the LLM and returns the response.
func (c *Client) CallLLM(ctx context.Context, messages []llm.Message) (llm.Message, error) {
	if len(messages) == 0 {
		return llm.Message{}, agenterr.New(agenterr.Unknown, "no messages to send")
	}

	req := openailib.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: toOpenAIMessages(messages),
	}
	if c.config.Temperature != nil {
		req.Temperature = *c.config.Temperature
	}
	if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	if c.config.ResolveThinkingMode() == "native" {
		req.ReasoningEffort = c.config.ReasoningEffort
	}

	resp, err := llm.Do(ctx, c.retryPolicy(), func(info llm.RetryInfo) {
		log.Printf("[LLM] retry %d/%d, error: %v", info.Attempt, info.MaxRetries, info.Err)
	}, func() (openailib.ChatCompletionResponse, error) {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return resp, classifyCompletionErr(err)
		}
		return resp, nil
	})
	if err != nil {
		return llm.Message{}, fmt.Errorf("LLM call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Message{}, agenterr.New(agenterr.ServerError, "no choices returned from LLM")
	}

	return llm.Message{
		Role:             llm.RoleAssistant,
		Content:          resp.Choices[0].Message.Content,
		ReasoningContent: resp.Choices[0].Message.ReasoningContent,
		FinishReason:     toFinishReason(string(resp.Choices[0].FinishReason)),
		Usage:            toUsage(resp.Usage),
	}, nil
}

// CallLLMStream sends messages and streams the response token-by-token.
// Each delta chunk triggers onChunk. Returns the full assembled message
// once streaming finishes.
func (c *Client) CallLLMStream(ctx context.Context, messages []llm.Message, onChunk llm.StreamCallback) (llm.Message, error) {
	if onChunk == nil {
		return c.CallLLM(ctx, messages)
	}
	if len(messages) == 0 {
		return llm.Message{}, agenterr.New(agenterr.Unknown, "no messages to send")
	}

	req := openailib.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	}
	if c.config.Temperature != nil {
		req.Temperature = *c.config.Temperature
	}
	if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	if c.config.ResolveThinkingMode() == "native" {
		req.ReasoningEffort = c.config.ReasoningEffort
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		log.Printf("[LLM] stream creation failed, falling back to sync: %v", err)
		return c.CallLLM(ctx, messages)
	}
	defer stream.Close()

	var sb, reasoningSB strings.Builder
	var finish llm.FinishReason
	for {
		chunkResp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if sb.Len() > 0 {
				log.Printf("[LLM] stream interrupted after %d chars: %v", sb.Len(), err)
				break
			}
			return llm.Message{}, classifyCompletionErr(err)
		}
		if len(chunkResp.Choices) > 0 {
			if rc := chunkResp.Choices[0].Delta.ReasoningContent; rc != "" {
				reasoningSB.WriteString(rc)
			}
			if delta := chunkResp.Choices[0].Delta.Content; delta != "" {
				sb.WriteString(delta)
				onChunk(delta)
			}
			if fr := chunkResp.Choices[0].FinishReason; fr != "" {
				finish = toFinishReason(string(fr))
			}
		}
	}

	return llm.Message{
		Role:             llm.RoleAssistant,
		Content:          sb.String(),
		ReasoningContent: reasoningSB.String(),
		FinishReason:     finish,
	}, nil
}

// CallLLMWithTools sends messages with tool definitions for native function
// calling. Always uses non-streaming mode. The model may return ToolCalls
// or direct text.
func (c *Client) CallLLMWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, error) {
	if len(messages) == 0 {
		return llm.Message{}, agenterr.New(agenterr.Unknown, "no messages to send")
	}

	openaiTools := make([]openailib.Tool, len(tools))
	for i, t := range tools {
		openaiTools[i] = openailib.Tool{
			Type: openailib.ToolTypeFunction,
			Function: &openailib.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}

	req := openailib.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: toOpenAIMessages(messages),
		Tools:    openaiTools,
	}
	if c.config.Temperature != nil {
		req.Temperature = *c.config.Temperature
	}
	if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}

	resp, err := llm.Do(ctx, c.retryPolicy(), func(info llm.RetryInfo) {
		log.Printf("[LLM] FC retry %d/%d, error: %v", info.Attempt, info.MaxRetries, info.Err)
	}, func() (openailib.ChatCompletionResponse, error) {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return resp, classifyCompletionErr(err)
		}
		return resp, nil
	})
	if err != nil {
		return llm.Message{}, fmt.Errorf("FC call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Message{}, agenterr.New(agenterr.ServerError, "no choices returned from LLM (FC)")
	}

	choice := resp.Choices[0].Message
	result := llm.Message{
		Role:             llm.RoleAssistant,
		Content:          choice.Content,
		ReasoningContent: choice.ReasoningContent,
		FinishReason:     toFinishReason(string(resp.Choices[0].FinishReason)),
		Usage:            toUsage(resp.Usage),
	}

	if len(choice.ToolCalls) > 0 {
		result.ToolCalls = make([]llm.ToolCall, len(choice.ToolCalls))
		for i, tc := range choice.ToolCalls {
			result.ToolCalls[i] = llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			}
		}
		names := make([]string, len(result.ToolCalls))
		for i, tc := range result.ToolCalls {
			names[i] = tc.Name
		}
		log.Printf("[LLM] FC returned %d tool call(s): %s", len(result.ToolCalls), strings.Join(names, ", "))
	}

	return result, nil
}

// IsToolCallingEnabled reports whether function calling is enabled for this client.
func (c *Client) IsToolCallingEnabled() bool {
	return c.config.ResolveToolCallMode() == "fc"
}

// GetName returns the provider name.
func (c *Client) GetName() string {
	return fmt.Sprintf("openai-compatible (%s)", c.config.Model)
}

// HealthCheck verifies the backend is reachable and authenticated by calling
// list_models, the same probe used in ListModels but with errors classified
// for a yes/no caller rather than returned model data.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.client.ListModels(ctx)
	if err != nil {
		return classifyCompletionErr(err)
	}
	return nil
}

// ListModels returns the models the backend currently serves.
func (c *Client) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	resp, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, classifyCompletionErr(err)
	}
	out := make([]llm.ModelInfo, len(resp.Models))
	for i, m := range resp.Models {
		out[i] = llm.ModelInfo{ID: m.ID}
	}
	return out, nil
}

// Close releases the client's idle HTTP connections.
func (c *Client) Close() error {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}
