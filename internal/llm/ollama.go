package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// OllamaProvider implements the Provider interface for a local or remote
// Ollama server. Council model ids of the form "ollama/<model>" route here
// with the prefix stripped.
type OllamaProvider struct {
	baseProvider
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(cfg *ProviderConfig) *OllamaProvider {
	p := &OllamaProvider{
		baseProvider: newBaseProvider(cfg, "ollama"),
	}
	// Remote servers get a longer timeout: cold-start model loading for
	// large models can exceed the local default.
	if isRemoteEndpoint(p.config.Endpoint) && cfg != nil && cfg.Timeout == 0 {
		p.config.Timeout = 5 * time.Minute
		p.client.Timeout = p.config.Timeout
	}
	return p
}

// Available reports true when an endpoint is configured; Ollama needs no key.
func (p *OllamaProvider) Available() bool {
	return p.config.Endpoint != ""
}

// isRemoteEndpoint checks if the Ollama endpoint is a remote server.
func isRemoteEndpoint(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "host.docker.internal":
		return false
	}
	return true
}

// Chat sends a non-streaming chat request to Ollama.
func (p *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	olReq := ollamaChatRequest{
		Model:  req.Model,
		Stream: false,
	}

	if req.SystemPrompt != "" {
		olReq.Messages = append(olReq.Messages, ollamaMessage{
			Role:    "system",
			Content: req.SystemPrompt,
		})
	}
	for _, msg := range req.Messages {
		olReq.Messages = append(olReq.Messages, ollamaMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	temp := req.Temperature
	if temp == 0 {
		temp = p.config.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	olReq.Options = &ollamaOptions{
		Temperature: temp,
		NumPredict:  maxTokens,
	}

	body, err := json.Marshal(olReq)
	if err != nil {
		return nil, &CallError{Provider: "ollama", Kind: KindMalformed, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.config.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Provider: "ollama", Kind: KindNetwork, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr("ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, classifyStatus("ollama", resp.StatusCode, bodyBytes)
	}

	var olResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&olResp); err != nil {
		return nil, &CallError{Provider: "ollama", Kind: KindMalformed, Err: err}
	}

	return &ChatResponse{
		Content:          olResp.Message.Content,
		Model:            olResp.Model,
		PromptTokens:     olResp.PromptEvalCount,
		CompletionTokens: olResp.EvalCount,
		TokensUsed:       olResp.PromptEvalCount + olResp.EvalCount,
		Duration:         time.Since(start),
		FinishReason:     olResp.DoneReason,
	}, nil
}

// Ollama API types
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}
