package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Every provider here except Claude speaks the OpenAI chat-completions wire
// format, so its constructor returns a plain *Client with hooks set to the
// client itself and only the provider's own defaults differing. Claude gets
// its own ClaudeClient type that overrides the hooks.
const (
	ProviderDeepSeek = "deepseek"
	ProviderQwen     = "qwen"
	ProviderKimi     = "kimi"
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderGrok     = "grok"
	ProviderClaude   = "claude"
)

const (
	defaultDeepSeekBaseURL = "https://api.deepseek.com"
	defaultDeepSeekModel   = "deepseek-chat"

	defaultQwenBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	defaultQwenModel   = "qwen-plus"

	defaultKimiBaseURL = "https://api.moonshot.cn/v1"
	defaultKimiModel   = "moonshot-v1-32k"

	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o"

	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	defaultGeminiModel   = "gemini-2.0-flash"

	defaultGrokBaseURL = "https://api.x.ai/v1"
	defaultGrokModel   = "grok-2-latest"

	defaultClaudeBaseURL = "https://api.anthropic.com/v1"
	defaultClaudeModel   = "claude-3-5-sonnet-latest"
)

func NewDeepSeek(opts ...Option) *Client {
	c := newBase(ProviderDeepSeek, defaultDeepSeekBaseURL, defaultDeepSeekModel, opts...)
	c.hooks = c
	return c
}

func NewQwen(opts ...Option) *Client {
	c := newBase(ProviderQwen, defaultQwenBaseURL, defaultQwenModel, opts...)
	c.hooks = c
	return c
}

func NewKimi(opts ...Option) *Client {
	c := newBase(ProviderKimi, defaultKimiBaseURL, defaultKimiModel, opts...)
	c.hooks = c
	return c
}

func NewOpenAI(opts ...Option) *Client {
	c := newBase(ProviderOpenAI, defaultOpenAIBaseURL, defaultOpenAIModel, opts...)
	c.hooks = c
	return c
}

func NewGemini(opts ...Option) *Client {
	c := newBase(ProviderGemini, defaultGeminiBaseURL, defaultGeminiModel, opts...)
	c.hooks = c
	return c
}

func NewGrok(opts ...Option) *Client {
	c := newBase(ProviderGrok, defaultGrokBaseURL, defaultGrokModel, opts...)
	c.hooks = c
	return c
}

// NewCustom wires an OpenAI-compatible endpoint under a caller-supplied
// provider name, mirroring mcp.Client.SetAPIKey's "custom API" path: a
// base URL ending in "#" is used verbatim without appending
// "/chat/completions".
func NewCustom(provider, baseURL, model string, opts ...Option) *Client {
	c := newBase(provider, baseURL, model, opts...)
	c.hooks = c
	return c
}

// ClaudeClient overrides the three hooks that differ from the OpenAI wire
// format: auth header, endpoint path, request/response envelope.
type ClaudeClient struct {
	*Client
}

func NewClaude(opts ...Option) *ClaudeClient {
	base := newBase(ProviderClaude, defaultClaudeBaseURL, defaultClaudeModel, opts...)
	cc := &ClaudeClient{Client: base}
	base.hooks = cc
	return cc
}

func (c *ClaudeClient) setAuthHeader(h http.Header) {
	h.Set("x-api-key", c.APIKey)
	h.Set("anthropic-version", "2023-06-01")
}

func (c *ClaudeClient) buildURL() string {
	return c.BaseURL + "/messages"
}

func (c *ClaudeClient) buildRequestBody(systemPrompt, userPrompt string) map[string]any {
	return map[string]any{
		"model":      c.Model,
		"max_tokens": c.MaxTokens,
		"system":     systemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": userPrompt},
		},
	}
}

func (c *ClaudeClient) parseResponse(body []byte) (string, error) {
	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llm claude: malformed response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm claude: API error: %s - %s", parsed.Error.Type, parsed.Error.Message)
	}
	c.reportUsage(parsed.Usage.InputTokens, parsed.Usage.OutputTokens)
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("llm claude: no text content in response")
}
